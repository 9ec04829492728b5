// Package cleanup implements the CleanupScheduler: the single background
// loop that sweeps expired sessions, delegates stale-upload eviction to the
// assembler, and watches the global byte budget for memory pressure.
// Grounded on the teacher's Start() background-goroutine pattern
// (ticker + select on a shutdown context) in internal/server/server.go,
// generalized from one stale-session ticker into three sweep concerns on a
// single tick, and driven by clock.Clock instead of time.Ticker directly so
// tests can step time deterministically.
package cleanup

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/zulfikawr/fabricd/internal/clock"
	"github.com/zulfikawr/fabricd/internal/logging"
	"github.com/zulfikawr/fabricd/internal/metrics"
	"github.com/zulfikawr/fabricd/internal/store"
	"github.com/zulfikawr/fabricd/internal/upload"
)

// Notifier is the one capability the scheduler needs from the realtime
// layer: telling every member of a session it is about to disappear before
// its bytes are freed (spec.md §4.5).
type Notifier interface {
	BroadcastSessionExpired(sessionID, reason string)
}

// Scheduler owns the periodic tick that keeps MemoryStore bounded.
type Scheduler struct {
	store     *store.MemoryStore
	assembler *upload.Assembler
	notifier  Notifier
	clk       clock.Clock

	interval          time.Duration
	maxTotalBytes     int64
	criticalThreshold float64
	warningThreshold  float64
	evictionCount     int
}

// Config bundles the tunables Scheduler needs beyond the collaborators it
// drives — config.Config's cleanup-relevant fields, narrowed the same way
// store.Limits narrows config.Config for the store.
type Config struct {
	Interval          time.Duration
	MaxTotalBytes     int64
	CriticalThreshold float64
	WarningThreshold  float64
	EvictionCount     int
}

// New constructs a Scheduler. notifier is typically a *realtime.Dispatcher.
func New(st *store.MemoryStore, asm *upload.Assembler, notifier Notifier, clk clock.Clock, cfg Config) *Scheduler {
	return &Scheduler{
		store:             st,
		assembler:         asm,
		notifier:          notifier,
		clk:               clk,
		interval:          cfg.Interval,
		maxTotalBytes:     cfg.MaxTotalBytes,
		criticalThreshold: cfg.CriticalThreshold,
		warningThreshold:  cfg.WarningThreshold,
		evictionCount:     cfg.EvictionCount,
	}
}

// Run blocks, running Tick every interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := s.clk.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			s.Tick()
		case <-ctx.Done():
			logging.Info("stopping cleanup scheduler")
			return
		}
	}
}

// Tick runs one full sweep pass. Exported so tests can invoke it directly
// instead of waiting on the ticker.
func (s *Scheduler) Tick() {
	s.sweepExpiredSessions()
	s.assembler.Sweep()
	s.checkPressure()
	metrics.SweepTicksTotal.Inc()
}

// sweepExpiredSessions implements spec.md §4.5's TTL sweep: every member of
// an expired session learns session:expired before its storage disappears.
func (s *Scheduler) sweepExpiredSessions() {
	now := s.clk.Now()
	for _, code := range s.store.ExpiredSessionIDs(now) {
		s.notifier.BroadcastSessionExpired(code, "ttl")
		if s.store.DeleteSession(code) {
			metrics.SessionsExpiredTotal.Inc()
		}
	}
}

// checkPressure samples total_bytes/MAX_TOTAL_BYTES and, once it reaches
// CRITICAL_THRESHOLD, evicts the EvictionCount oldest sessions regardless of
// their remaining TTL. Below that but at or above WARNING_THRESHOLD it only
// logs — spec.md §4.5 treats the warning band as observability, not action.
func (s *Scheduler) checkPressure() {
	ratio := float64(s.store.TotalBytes()) / float64(s.maxTotalBytes)
	metrics.MemoryPressureRatio.Set(ratio)

	switch {
	case ratio >= s.criticalThreshold:
		victims := s.store.OldestSessions(s.evictionCount)
		for _, code := range victims {
			s.notifier.BroadcastSessionExpired(code, "memory_pressure")
			if s.store.DeleteSession(code) {
				metrics.SessionsEvictedTotal.Inc()
			}
		}
		if len(victims) > 0 {
			logging.Warn("memory pressure critical, evicted oldest sessions",
				zap.Float64("ratio", ratio), zap.Int("evicted", len(victims)))
		}
	case ratio >= s.warningThreshold:
		logging.Warn("memory pressure warning", zap.Float64("ratio", ratio))
	}
}
