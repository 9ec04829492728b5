package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RealtimeDispatcher metrics.
//
// These track websocket connection churn and RPC request/ack timing,
// split by the named operation (session:join, file:upload, ...) so slow
// operations are easy to spot on a dashboard.

var (
	// ActiveWebSocketConnections is the number of live dispatcher connections.
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fabric_websocket_connections_active",
		Help: "Number of currently connected websocket clients",
	})

	// WebSocketMessagesTotal counts frames by direction and event.
	// Labels: direction (in, out), event
	WebSocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabric_websocket_messages_total",
			Help: "Total websocket frames by direction and event name",
		},
		[]string{"direction", "event"},
	)

	// RPCDuration tracks time from request receipt to ack sent.
	// Labels: operation
	RPCDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fabric_rpc_duration_seconds",
			Help:    "RPC duration from request receipt to ack",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// RPCTimeoutsTotal counts RPCs that were never acked within RPC_TIMEOUT.
	// Labels: operation
	RPCTimeoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabric_rpc_timeouts_total",
			Help: "Total RPCs that exceeded the client-side ack deadline",
		},
		[]string{"operation"},
	)

	// BroadcastsTotal counts room broadcasts sent.
	// Labels: event
	BroadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabric_broadcasts_total",
			Help: "Total broadcast events delivered to session rooms",
		},
		[]string{"event"},
	)
)
