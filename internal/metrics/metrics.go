// Package metrics provides Prometheus metrics for the fabric's core
// components.
//
// The metrics package is organized into logical modules:
//
//   - store.go: MemoryStore gauges — sessions, files, messages, bytes stored
//   - upload.go: Chunked upload lifecycle counters and duration histograms
//   - realtime.go: Dispatcher RPC and websocket connection metrics
//   - cleanup.go: Cleanup scheduler sweep and eviction counters
//
// Usage example, recording a chunked upload:
//
//	start := time.Now()
//	metrics.ActiveUploads.Inc()
//	defer metrics.ActiveUploads.Dec()
//	// ... assemble chunks ...
//	metrics.ChunkUploadDuration.Observe(time.Since(start).Seconds())
//	metrics.ChunkUploadsTotal.WithLabelValues("accepted").Inc()
//
// All metrics are registered with the default Prometheus registry and
// exposed via /metrics when the server starts.
package metrics
