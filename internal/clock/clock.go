// Package clock abstracts time so the TTL sweep, stale-upload GC, and
// RPC-ack timeout can be exercised deterministically in tests instead of
// sleeping on the wall clock, per the "Implicit timing" redesign flag.
package clock

import "time"

// Clock is the capability the core depends on instead of calling time.Now
// and time.After directly.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker mirrors time.Ticker so a virtual clock can supply one under test.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Real is the production Clock, backed directly by the time package.
type Real struct{}

func (Real) Now() time.Time                         { return time.Now() }
func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (Real) NewTicker(d time.Duration) Ticker        { return realTicker{time.NewTicker(d)} }

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }
