// Package upload implements the ChunkedUploadAssembler: the per-upload state
// machine that accepts chunks in any order, assembles them into one
// contiguous payload on Complete, and hands the result to the MemoryStore.
// Unlike the teacher's disk-backed session.go, chunks are kept in RAM —
// nothing here ever touches a filesystem.
package upload

import (
	"sync"
	"time"

	"github.com/zulfikawr/fabricd/internal/apperrors"
	"github.com/zulfikawr/fabricd/internal/clock"
	"github.com/zulfikawr/fabricd/internal/ids"
	"github.com/zulfikawr/fabricd/internal/metrics"
)

// Declared is the client-declared shape of an upload, supplied to Start.
type Declared struct {
	Filename    string
	MimeType    string
	Size        int64
	TotalChunks int
}

// Result is what Complete returns: the assembled payload plus its declared
// metadata, ready for MemoryStore.AddFile.
type Result struct {
	Filename string
	MimeType string
	Payload  []byte
}

// ChunkResult is what Chunk returns on acceptance.
type ChunkResult struct {
	Received   int
	Total      int
	IsComplete bool
}

const completedRetention = 60 * time.Second

// uploadState is one in-flight (or recently-completed) upload.
type uploadState struct {
	mu sync.Mutex

	sessionID string
	filename  string
	mimeType  string
	size      int64
	total     int

	chunks        map[int][]byte
	receivedCount int

	completed      bool
	startedAt      time.Time
	lastActivityAt time.Time
	completedAt    time.Time
}

// Assembler owns every in-flight upload, keyed by upload id, plus the
// per-session count of uploads still in RECEIVING state (for the
// TooManyConcurrentUploads cap).
type Assembler struct {
	maxConcurrentPerSession int
	staleThreshold          time.Duration
	clk                     clock.Clock

	mu       sync.Mutex
	uploads  map[string]*uploadState
	inFlight map[string]int // sessionID -> count of RECEIVING uploads
}

// New constructs an Assembler. maxConcurrentPerSession and staleThreshold
// come from config.Config (MAX_CONCURRENT_UPLOADS_PER_SESSION and the
// stale-upload sweep threshold).
func New(maxConcurrentPerSession int, staleThreshold time.Duration, clk clock.Clock) *Assembler {
	return &Assembler{
		maxConcurrentPerSession: maxConcurrentPerSession,
		staleThreshold:          staleThreshold,
		clk:                     clk,
		uploads:                 make(map[string]*uploadState),
		inFlight:                make(map[string]int),
	}
}

// Start opens a new upload for sessionID, failing with
// TooManyConcurrentUploads if the session already has
// maxConcurrentPerSession uploads in RECEIVING state.
func (a *Assembler) Start(sessionID string, d Declared) (string, error) {
	if d.TotalChunks <= 0 {
		metrics.RecordStoreOp("upload_start", "invalid_total_chunks")
		return "", apperrors.Newf(apperrors.Internal, "upload: total_chunks must be positive, got %d", d.TotalChunks)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.inFlight[sessionID] >= a.maxConcurrentPerSession {
		metrics.ChunkUploadsTotal.WithLabelValues("rejected_cap").Inc()
		return "", apperrors.New(apperrors.TooManyConcurrentUploads)
	}

	id, err := ids.NewFileID()
	if err != nil {
		return "", apperrors.Wrap(apperrors.Internal, err)
	}

	now := a.clk.Now()
	st := &uploadState{
		sessionID:      sessionID,
		filename:       d.Filename,
		mimeType:       d.MimeType,
		size:           d.Size,
		total:          d.TotalChunks,
		chunks:         make(map[int][]byte, d.TotalChunks),
		startedAt:      now,
		lastActivityAt: now,
	}
	a.uploads[id] = st
	a.inFlight[sessionID]++
	metrics.ActiveUploads.Set(float64(len(a.uploads)))
	return id, nil
}

// Chunk accepts one chunk. Redelivering the same (uploadID, index) leaves
// the stored chunk and the received count unchanged and reports the
// upload's current counts — chunk idempotence.
func (a *Assembler) Chunk(uploadID string, index int, data []byte) (ChunkResult, error) {
	start := a.clk.Now()
	defer func() {
		metrics.ChunkUploadDuration.Observe(a.clk.Now().Sub(start).Seconds())
	}()

	a.mu.Lock()
	st, ok := a.uploads[uploadID]
	a.mu.Unlock()
	if !ok {
		return ChunkResult{}, apperrors.New(apperrors.UploadNotFound)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.completed {
		return ChunkResult{}, apperrors.New(apperrors.AlreadyCompleted)
	}
	if index < 0 || index >= st.total {
		return ChunkResult{}, apperrors.New(apperrors.InvalidChunkIndex)
	}

	if _, already := st.chunks[index]; !already {
		buf := make([]byte, len(data))
		copy(buf, data)
		st.chunks[index] = buf
		st.receivedCount++
	}
	st.lastActivityAt = a.clk.Now()

	metrics.ChunkUploadsTotal.WithLabelValues("accepted").Inc()
	return ChunkResult{
		Received:   st.receivedCount,
		Total:      st.total,
		IsComplete: st.receivedCount == st.total,
	}, nil
}

// Complete assembles every chunk in ascending index order into one payload.
// The upload stays reachable (for duplicate Complete calls) for
// completedRetention after this call, then is dropped by the next Sweep.
func (a *Assembler) Complete(uploadID string) (Result, error) {
	a.mu.Lock()
	st, ok := a.uploads[uploadID]
	a.mu.Unlock()
	if !ok {
		return Result{}, apperrors.New(apperrors.UploadNotFound)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.completed {
		// Duplicate Complete within the retention window: the chunks are
		// already cleared, so report AlreadyCompleted rather than
		// UploadNotFound.
		return Result{}, apperrors.New(apperrors.AlreadyCompleted)
	}
	if st.receivedCount != st.total {
		metrics.UploadCompletionsTotal.WithLabelValues("incomplete").Inc()
		return Result{}, apperrors.New(apperrors.Incomplete)
	}

	payload := make([]byte, 0, st.size)
	for i := 0; i < st.total; i++ {
		chunk, ok := st.chunks[i]
		if !ok {
			metrics.UploadCompletionsTotal.WithLabelValues("missing_chunk").Inc()
			return Result{}, apperrors.Newf(apperrors.MissingChunk, "upload: missing chunk %d", i)
		}
		payload = append(payload, chunk...)
	}
	if st.size > 0 && int64(len(payload)) != st.size {
		metrics.UploadCompletionsTotal.WithLabelValues("size_mismatch").Inc()
		return Result{}, apperrors.New(apperrors.SizeMismatch)
	}

	st.completed = true
	st.completedAt = a.clk.Now()
	st.chunks = nil // eagerly free per-chunk memory

	a.mu.Lock()
	if a.inFlight[st.sessionID] > 0 {
		a.inFlight[st.sessionID]--
	}
	a.mu.Unlock()

	metrics.UploadCompletionsTotal.WithLabelValues("ok").Inc()
	return Result{Filename: st.filename, MimeType: st.mimeType, Payload: payload}, nil
}

// Cancel drops an upload's state and chunks immediately, freeing its slot
// in the per-session concurrency count.
func (a *Assembler) Cancel(uploadID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.uploads[uploadID]
	if !ok {
		return false
	}
	delete(a.uploads, uploadID)

	st.mu.Lock()
	wasReceiving := !st.completed
	st.mu.Unlock()

	if wasReceiving && a.inFlight[st.sessionID] > 0 {
		a.inFlight[st.sessionID]--
	}
	metrics.ActiveUploads.Set(float64(len(a.uploads)))
	return true
}

// Sweep drops any RECEIVING upload idle longer than staleThreshold and any
// completed upload older than completedRetention. Returns the number of
// uploads evicted for staleness (not counting completed-retention expiry).
func (a *Assembler) Sweep() int {
	now := a.clk.Now()

	a.mu.Lock()
	defer a.mu.Unlock()

	evicted := 0
	for id, st := range a.uploads {
		st.mu.Lock()
		var drop, wasStale bool
		switch {
		case st.completed:
			drop = now.Sub(st.completedAt) > completedRetention
		default:
			drop = now.Sub(st.lastActivityAt) > a.staleThreshold
			wasStale = drop
		}
		sessionID := st.sessionID
		st.mu.Unlock()

		if !drop {
			continue
		}
		delete(a.uploads, id)
		if wasStale {
			if a.inFlight[sessionID] > 0 {
				a.inFlight[sessionID]--
			}
			evicted++
		}
	}
	if evicted > 0 {
		metrics.StaleUploadsEvictedTotal.Add(float64(evicted))
	}
	metrics.ActiveUploads.Set(float64(len(a.uploads)))
	return evicted
}

// InFlightCount returns the number of RECEIVING uploads for sessionID.
func (a *Assembler) InFlightCount(sessionID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inFlight[sessionID]
}
