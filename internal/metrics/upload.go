package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Chunked upload metrics.
//
// These track the ChunkedUploadAssembler's per-chunk and per-upload
// lifecycle: how many chunks land, how long assembly takes, and how often
// uploads are abandoned or fail validation.

var (
	// ActiveUploads is the number of uploads the assembler currently tracks:
	// those still receiving chunks plus completed ones inside their
	// post-completion retention window.
	ActiveUploads = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fabric_uploads_active",
		Help: "Number of chunked uploads currently tracked by the assembler",
	})

	// ChunkUploadsTotal counts accepted chunk deliveries (first and repeated
	// deliveries alike) and uploads refused at Start for the concurrency cap.
	// Labels: outcome (accepted, rejected_cap)
	ChunkUploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabric_chunk_uploads_total",
			Help: "Total chunk deliveries by outcome",
		},
		[]string{"outcome"},
	)

	// ChunkUploadDuration tracks how long a single Chunk() call takes.
	ChunkUploadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fabric_chunk_upload_duration_seconds",
		Help:    "Duration of a single chunk delivery",
		Buckets: prometheus.DefBuckets,
	})

	// UploadCompletionsTotal counts Complete() outcomes.
	// Labels: outcome (ok, incomplete, missing_chunk, size_mismatch)
	UploadCompletionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabric_upload_completions_total",
			Help: "Total upload completion attempts by outcome",
		},
		[]string{"outcome"},
	)

	// StaleUploadsEvictedTotal counts uploads dropped by the sweep for
	// exceeding STALE_UPLOAD_THRESHOLD without activity.
	StaleUploadsEvictedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fabric_stale_uploads_evicted_total",
		Help: "Total chunked uploads evicted for inactivity",
	})
)
