package store

import (
	"github.com/zulfikawr/fabricd/internal/apperrors"
	"github.com/zulfikawr/fabricd/internal/metrics"
)

// AddMember binds connID to sessionID. The first connection to join a
// session becomes its creator, recorded for DeleteMessage's fallback
// authorization rule. AddMember is idempotent for a connID already bound
// to sessionID. A connection may only be in one session at a time: if
// connID was previously bound to a different session, that binding is
// replaced (mirroring RemoveMember) before it joins sessionID.
func (m *MemoryStore) AddMember(sessionID, connID string) (Snapshot, error) {
	sess, err := m.GetSession(sessionID)
	if err != nil {
		return Snapshot{}, err
	}

	m.mu.Lock()
	existing, hadPrior := m.connToSession[connID]
	m.connToSession[connID] = sess.id
	m.mu.Unlock()

	if hadPrior && existing != sess.id {
		m.detachMember(existing, connID)
	}

	sess.mu.Lock()
	if sess.members == nil {
		sess.mu.Unlock()
		m.mu.Lock()
		delete(m.connToSession, connID)
		m.mu.Unlock()
		metrics.RecordStoreOp("add_member", "session_expired")
		return Snapshot{}, apperrors.New(apperrors.SessionExpired)
	}
	if _, already := sess.members[connID]; !already {
		if len(sess.members) == 0 {
			sess.creatorConnID = connID
		}
		sess.members[connID] = struct{}{}
	}
	snap := sess.snapshotLocked()
	sess.mu.Unlock()

	metrics.MembersActive.Set(float64(m.memberCount()))
	metrics.RecordStoreOp("add_member", "ok")
	return snap, nil
}

// RemoveMember unbinds connID from whatever session it was joined to, if
// any. If connID was the session's creator, creatorConnID is cleared —
// from that point DeleteMessage falls back to sender-only authorization.
// Returns the session code the connection was removed from, or "" if it
// was not a member of any session.
func (m *MemoryStore) RemoveMember(connID string) string {
	m.mu.Lock()
	code, ok := m.connToSession[connID]
	if !ok {
		m.mu.Unlock()
		return ""
	}
	delete(m.connToSession, connID)
	m.mu.Unlock()

	m.detachMember(code, connID)
	metrics.RecordStoreOp("remove_member", "ok")
	return code
}

// detachMember removes connID from sessionID's member table and clears its
// creatorConnID if it was the creator. It does not touch connToSession;
// callers are responsible for that half of the binding.
func (m *MemoryStore) detachMember(sessionID, connID string) {
	m.mu.RLock()
	sess, exists := m.sessions[sessionID]
	m.mu.RUnlock()
	if !exists {
		return
	}

	sess.mu.Lock()
	if sess.members != nil {
		delete(sess.members, connID)
		if sess.creatorConnID == connID {
			sess.creatorConnID = ""
		}
	}
	sess.mu.Unlock()

	metrics.MembersActive.Set(float64(m.memberCount()))
}

// SessionOf returns the session code connID is currently bound to, if any.
func (m *MemoryStore) SessionOf(connID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	code, ok := m.connToSession[connID]
	return code, ok
}

// CreatorOf reports whether connID is sessionID's current creator
// connection (false once the creator has left, even if the session
// persists).
func (m *MemoryStore) CreatorOf(sessionID, connID string) bool {
	sess, err := m.GetSession(sessionID)
	if err != nil {
		return false
	}
	sess.mu.RLock()
	defer sess.mu.RUnlock()
	return sess.creatorConnID != "" && sess.creatorConnID == connID
}

func (m *MemoryStore) memberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connToSession)
}
