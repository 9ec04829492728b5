package cleanup

import (
	"testing"
	"time"

	"github.com/zulfikawr/fabricd/internal/clock"
	"github.com/zulfikawr/fabricd/internal/store"
	"github.com/zulfikawr/fabricd/internal/upload"
)

type fakeNotifier struct {
	expired []string
	reasons []string
}

func (f *fakeNotifier) BroadcastSessionExpired(sessionID, reason string) {
	f.expired = append(f.expired, sessionID)
	f.reasons = append(f.reasons, reason)
}

func newTestScheduler(t *testing.T, limits store.Limits, cfg Config) (*Scheduler, *store.MemoryStore, *fakeNotifier, *clock.Virtual) {
	t.Helper()
	vc := clock.NewVirtual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	st := store.New(limits, vc)
	asm := upload.New(5, 30*time.Minute, vc)
	n := &fakeNotifier{}
	s := New(st, asm, n, vc, cfg)
	return s, st, n, vc
}

// TestTickExpiresSessionsPastTTL mirrors S3.
func TestTickExpiresSessionsPastTTL(t *testing.T) {
	limits := store.Limits{
		SessionTTL:            time.Hour,
		MaxFileSizeBytes:      1024,
		MaxTotalBytes:         1 << 20,
		MaxFilesPerSession:    10,
		MaxMessagesPerSession: 10,
		MaxMessageLength:      100,
	}
	s, st, n, vc := newTestScheduler(t, limits, Config{
		Interval:          time.Minute,
		MaxTotalBytes:     limits.MaxTotalBytes,
		CriticalThreshold: 0.95,
		WarningThreshold:  0.80,
		EvictionCount:     5,
	})

	sess, err := st.CreateSession()
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	id := sess.ID()

	vc.Advance(30 * time.Minute)
	s.Tick()
	if st.SessionCount() != 1 {
		t.Fatalf("session evicted too early, count = %d", st.SessionCount())
	}
	if len(n.expired) != 0 {
		t.Fatalf("unexpected expiry notification before TTL: %v", n.expired)
	}

	vc.Advance(31 * time.Minute) // now 61 min past creation, TTL was 60 min
	s.Tick()

	if st.SessionCount() != 0 {
		t.Fatalf("session should have expired, count = %d", st.SessionCount())
	}
	if len(n.expired) != 1 || n.expired[0] != id {
		t.Fatalf("expired notifications = %v, want [%s]", n.expired, id)
	}
	if n.reasons[0] != "ttl" {
		t.Fatalf("reason = %q, want ttl", n.reasons[0])
	}
	if _, err := st.GetSession(id); err == nil {
		t.Fatalf("expected session %s to be gone after eviction", id)
	}
}

// TestTickEvictsOldestUnderCriticalPressure mirrors S4.
func TestTickEvictsOldestUnderCriticalPressure(t *testing.T) {
	limits := store.Limits{
		SessionTTL:            time.Hour,
		MaxFileSizeBytes:      2048,
		MaxTotalBytes:         4096,
		MaxFilesPerSession:    10,
		MaxMessagesPerSession: 10,
		MaxMessageLength:      100,
	}
	s, st, n, vc := newTestScheduler(t, limits, Config{
		Interval:          time.Minute,
		MaxTotalBytes:     limits.MaxTotalBytes,
		CriticalThreshold: 0.90,
		WarningThreshold:  0.50,
		EvictionCount:     1,
	})

	var ids []string
	for i := 0; i < 3; i++ {
		sess, err := st.CreateSession()
		if err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
		ids = append(ids, sess.ID())
		if _, err := st.AddFile(sess.ID(), store.FileRecord{
			ID:         string(rune('a' + i)) + "000000000000000000000000000000",
			Payload:    make([]byte, 1024),
			MimeType:   "application/octet-stream",
			Filename:   "f.bin",
			UploadedAt: vc.Now(),
			UploadedBy: "uploader",
		}); err != nil {
			t.Fatalf("AddFile: %v", err)
		}
		vc.Advance(time.Second) // stagger CreatedAt so OldestSessions has a clear order
	}

	// 3 * 1024 = 3072 bytes of 4096 budget = 0.75, below critical (0.90) and
	// above warning (0.50): expect a warning log, no eviction.
	s.Tick()
	if st.SessionCount() != 3 {
		t.Fatalf("no session should be evicted yet, count = %d", st.SessionCount())
	}
	if len(n.expired) != 0 {
		t.Fatalf("unexpected eviction at warning level: %v", n.expired)
	}

	// Push past the critical threshold with a fourth session's file.
	sess4, err := st.CreateSession()
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := st.AddFile(sess4.ID(), store.FileRecord{
		ID:         "d000000000000000000000000000000",
		Payload:    make([]byte, 1024),
		MimeType:   "application/octet-stream",
		Filename:   "f.bin",
		UploadedAt: vc.Now(),
		UploadedBy: "uploader",
	}); err != nil {
		t.Fatalf("AddFile: %v", err)
	}

	s.Tick()

	if st.SessionCount() != 3 {
		t.Fatalf("expected exactly one eviction, session count = %d", st.SessionCount())
	}
	if len(n.expired) != 1 || n.expired[0] != ids[0] {
		t.Fatalf("expected oldest session %s evicted, got %v", ids[0], n.expired)
	}
	if n.reasons[0] != "memory_pressure" {
		t.Fatalf("reason = %q, want memory_pressure", n.reasons[0])
	}
}
