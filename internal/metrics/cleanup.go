package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CleanupScheduler metrics.
//
// These track what each sweep tick actually did: how many sessions expired
// naturally vs. were evicted under pressure, and how close the store is to
// its global byte budget.

var (
	// SweepTicksTotal counts completed cleanup ticks.
	SweepTicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fabric_cleanup_ticks_total",
		Help: "Total cleanup scheduler ticks run",
	})

	// SessionsExpiredTotal counts sessions removed because their TTL elapsed.
	SessionsExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fabric_sessions_expired_total",
		Help: "Total sessions removed by the TTL sweep",
	})

	// SessionsEvictedTotal counts sessions removed by emergency eviction
	// under memory pressure.
	SessionsEvictedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fabric_sessions_evicted_total",
		Help: "Total sessions removed by emergency eviction",
	})

	// MemoryPressureRatio is total_bytes / MAX_TOTAL_BYTES, sampled each tick.
	MemoryPressureRatio = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fabric_memory_pressure_ratio",
		Help: "Fraction of the global byte budget currently in use",
	})
)
