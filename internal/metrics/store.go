package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MemoryStore metrics.
//
// These track the live state of the in-RAM registry: how many sessions,
// files, and messages exist right now, and how much of the global byte
// budget is in use. Unlike counters, these are gauges — they go down as
// well as up, since sessions and files are evicted, not merely created.

var (
	// SessionsActive is the number of live (non-expired) sessions.
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fabric_sessions_active",
		Help: "Number of currently live sessions",
	})

	// FilesStored is the number of FileRecords across all live sessions.
	FilesStored = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fabric_files_stored",
		Help: "Number of files currently stored across all sessions",
	})

	// MessagesStored is the number of MessageRecords across all live sessions.
	MessagesStored = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fabric_messages_stored",
		Help: "Number of messages currently stored across all sessions",
	})

	// BytesStored is the GlobalMemoryAccount's total_bytes.
	BytesStored = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fabric_bytes_stored",
		Help: "Total payload bytes currently held across all sessions",
	})

	// MembersActive is the number of bound connection-to-session entries.
	MembersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fabric_members_active",
		Help: "Number of connections currently bound to a session",
	})

	// StoreOperationsTotal counts MemoryStore calls by operation and outcome.
	// Labels: operation (add_file, delete_file, add_message, ...), outcome (ok, error_kind)
	StoreOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabric_store_operations_total",
			Help: "Total MemoryStore operations by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)
)

// RecordStoreOp records the outcome of a MemoryStore operation.
func RecordStoreOp(operation, outcome string) {
	StoreOperationsTotal.WithLabelValues(operation, outcome).Inc()
}
