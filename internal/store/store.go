// Package store implements the MemoryStore: the single process-wide owner
// of every session's files, messages, members, and the global byte budget.
// Nothing here ever touches disk — a Session and everything it owns lives
// only as long as it stays reachable from MemoryStore's registry.
package store

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zulfikawr/fabricd/internal/apperrors"
	"github.com/zulfikawr/fabricd/internal/clock"
	"github.com/zulfikawr/fabricd/internal/ids"
	"github.com/zulfikawr/fabricd/internal/metrics"
)

// Limits bundles the per-session and global caps the store enforces. It is
// deliberately narrower than config.Config so this package doesn't import
// the config package (avoids a dependency cycle and keeps the store
// testable with ad-hoc limits).
type Limits struct {
	SessionTTL          time.Duration
	MaxFileSizeBytes    int64
	MaxTotalBytes       int64
	MaxFilesPerSession  int
	MaxMessagesPerSession int
	MaxMessageLength    int
}

// MemoryStore is the authoritative in-RAM registry described by spec.md §4.2.
type MemoryStore struct {
	limits Limits
	clock  clock.Clock

	mu            sync.RWMutex
	sessions      map[string]*Session
	connToSession map[string]string

	totalBytes atomic.Int64
}

// New constructs an empty MemoryStore.
func New(limits Limits, c clock.Clock) *MemoryStore {
	return &MemoryStore{
		limits:        limits,
		clock:         c,
		sessions:      make(map[string]*Session),
		connToSession: make(map[string]string),
	}
}

// CreateSession generates a fresh, non-colliding code and registers a new
// session expiring SessionTTL from now.
func (m *MemoryStore) CreateSession() (*Session, error) {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	var code string
	for attempt := 0; ; attempt++ {
		c, err := ids.NewSessionCode()
		if err != nil {
			return nil, apperrors.Wrap(apperrors.Internal, err)
		}
		if _, exists := m.sessions[c]; !exists {
			code = c
			break
		}
		if attempt > 1000 {
			return nil, apperrors.Newf(apperrors.Internal, "store: could not find a free session code")
		}
	}

	sess := &Session{
		id:        code,
		createdAt: now,
		expiresAt: now.Add(m.limits.SessionTTL),
		files:     make(map[string]*FileRecord),
		messages:  make([]*MessageRecord, 0),
		members:   make(map[string]struct{}),
	}
	m.sessions[code] = sess
	metrics.SessionsActive.Set(float64(len(m.sessions)))
	metrics.RecordStoreOp("create_session", "ok")
	return sess, nil
}

// GetSession performs a case-insensitive lookup, transparently deleting and
// reporting NotFound for a session whose TTL has elapsed.
func (m *MemoryStore) GetSession(id string) (*Session, error) {
	code := ids.CanonicalSessionCode(id)

	m.mu.RLock()
	sess, ok := m.sessions[code]
	m.mu.RUnlock()
	if !ok {
		return nil, apperrors.New(apperrors.NotFound)
	}

	now := m.clock.Now()
	sess.mu.RLock()
	expired := sess.isExpired(now)
	sess.mu.RUnlock()
	if expired {
		m.mu.Lock()
		m.deleteSessionLocked(code)
		m.mu.Unlock()
		return nil, apperrors.New(apperrors.NotFound)
	}
	return sess, nil
}

// DeleteSession frees all payload bytes owned by the session, drops its
// message list, and unbinds every member. Returns false if the session did
// not exist.
func (m *MemoryStore) DeleteSession(id string) bool {
	code := ids.CanonicalSessionCode(id)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteSessionLocked(code)
}

// deleteSessionLocked requires m.mu held for writing.
func (m *MemoryStore) deleteSessionLocked(code string) bool {
	sess, ok := m.sessions[code]
	if !ok {
		return false
	}

	sess.mu.Lock()
	var freed int64
	for _, f := range sess.files {
		freed += f.Size()
	}
	memberConns := make([]string, 0, len(sess.members))
	for connID := range sess.members {
		memberConns = append(memberConns, connID)
	}
	removedFiles := len(sess.files)
	removedMessages := len(sess.messages)
	sess.files = nil
	sess.fileOrder = nil
	sess.messages = nil
	sess.members = nil
	sess.mu.Unlock()

	if freed > 0 {
		m.totalBytes.Add(-freed)
	}
	for _, connID := range memberConns {
		delete(m.connToSession, connID)
	}
	delete(m.sessions, code)

	metrics.SessionsActive.Set(float64(len(m.sessions)))
	metrics.FilesStored.Sub(float64(removedFiles))
	metrics.MessagesStored.Sub(float64(removedMessages))
	metrics.BytesStored.Set(float64(m.totalBytes.Load()))
	metrics.MembersActive.Set(float64(len(m.connToSession)))
	metrics.RecordStoreOp("delete_session", "ok")
	return true
}

// ExpiredSessionIDs returns the canonical codes of every session whose TTL
// has elapsed as of now, without deleting them — the caller (CleanupScheduler)
// broadcasts session:expired before calling DeleteSession.
func (m *MemoryStore) ExpiredSessionIDs(now time.Time) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var expired []string
	for code, sess := range m.sessions {
		sess.mu.RLock()
		isExp := sess.isExpired(now)
		sess.mu.RUnlock()
		if isExp {
			expired = append(expired, code)
		}
	}
	return expired
}

// OldestSessions returns up to n session codes ordered by ascending
// CreatedAt, for CleanupScheduler's emergency eviction.
func (m *MemoryStore) OldestSessions(n int) []string {
	type entry struct {
		code    string
		created time.Time
	}

	m.mu.RLock()
	entries := make([]entry, 0, len(m.sessions))
	for code, sess := range m.sessions {
		sess.mu.RLock()
		entries = append(entries, entry{code: code, created: sess.createdAt})
		sess.mu.RUnlock()
	}
	m.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].created.Before(entries[j].created)
	})

	if n > len(entries) {
		n = len(entries)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = entries[i].code
	}
	return out
}

// TotalBytes returns the GlobalMemoryAccount's current total_bytes.
func (m *MemoryStore) TotalBytes() int64 { return m.totalBytes.Load() }

// SessionCount returns the number of live sessions.
func (m *MemoryStore) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// FileCount returns the number of files across all live sessions.
func (m *MemoryStore) FileCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, sess := range m.sessions {
		sess.mu.RLock()
		n += len(sess.files)
		sess.mu.RUnlock()
	}
	return n
}

// Snapshot returns a point-in-time copy of the session's public state.
func (m *MemoryStore) Snapshot(sessionID string) (Snapshot, error) {
	sess, err := m.GetSession(sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	sess.mu.RLock()
	defer sess.mu.RUnlock()
	return sess.snapshotLocked(), nil
}
