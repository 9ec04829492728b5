package clock

import (
	"testing"
	"time"
)

func TestVirtualAfterFires(t *testing.T) {
	start := time.Unix(0, 0)
	v := NewVirtual(start)
	ch := v.After(10 * time.Millisecond)

	select {
	case <-ch:
		t.Fatal("After fired before Advance")
	default:
	}

	v.Advance(5 * time.Millisecond)
	select {
	case <-ch:
		t.Fatal("After fired early")
	default:
	}

	v.Advance(5 * time.Millisecond)
	select {
	case <-ch:
	default:
		t.Fatal("After did not fire after deadline passed")
	}
}

func TestVirtualTickerRepeats(t *testing.T) {
	start := time.Unix(0, 0)
	v := NewVirtual(start)
	ticker := v.NewTicker(time.Second)

	v.Advance(2500 * time.Millisecond)

	fired := 0
	draining := true
	for draining {
		select {
		case <-ticker.C():
			fired++
		default:
			draining = false
		}
	}
	if fired == 0 {
		t.Fatal("ticker never fired")
	}
}

func TestVirtualNowAdvances(t *testing.T) {
	start := time.Unix(100, 0)
	v := NewVirtual(start)
	v.Advance(time.Minute)
	if !v.Now().Equal(start.Add(time.Minute)) {
		t.Fatalf("Now() = %v, want %v", v.Now(), start.Add(time.Minute))
	}
}
