package store

import (
	"strings"
	"unicode/utf8"

	"github.com/zulfikawr/fabricd/internal/apperrors"
	"github.com/zulfikawr/fabricd/internal/metrics"
)

// AddMessage appends rec to sessionID's ordered message log after validating
// content (trimmed, non-empty, within MaxMessageLength code points).
func (m *MemoryStore) AddMessage(sessionID string, rec MessageRecord) (MessageRecord, error) {
	sess, err := m.GetSession(sessionID)
	if err != nil {
		return MessageRecord{}, apperrors.New(apperrors.SessionExpired)
	}

	rec.Content = strings.TrimSpace(rec.Content)
	if rec.Content == "" {
		metrics.RecordStoreOp("add_message", "empty")
		return MessageRecord{}, apperrors.New(apperrors.Empty)
	}
	if utf8.RuneCountInString(rec.Content) > m.limits.MaxMessageLength {
		metrics.RecordStoreOp("add_message", "too_long")
		return MessageRecord{}, apperrors.New(apperrors.TooLong)
	}
	if rec.SentByName == "" {
		rec.SentByName = "Anonymous"
	}

	sess.mu.Lock()
	if sess.messages == nil {
		sess.mu.Unlock()
		metrics.RecordStoreOp("add_message", "session_expired")
		return MessageRecord{}, apperrors.New(apperrors.SessionExpired)
	}
	if len(sess.messages) >= m.limits.MaxMessagesPerSession {
		sess.mu.Unlock()
		metrics.RecordStoreOp("add_message", "cap_reached")
		return MessageRecord{}, apperrors.New(apperrors.MessageCapReached)
	}
	stored := rec
	sess.messages = append(sess.messages, &stored)
	sess.mu.Unlock()

	metrics.MessagesStored.Add(1)
	metrics.RecordStoreOp("add_message", "ok")
	return stored, nil
}

// DeleteMessage removes messageID from sessionID iff caller was its sender
// or the session's creator. Once the creator's connection binding has been
// cleared (RemoveMember on the creator), deletion falls back to sender-only
// — spec.md §9 Open Question resolution.
func (m *MemoryStore) DeleteMessage(sessionID, messageID, caller string) error {
	sess, err := m.GetSession(sessionID)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.messages == nil {
		return apperrors.New(apperrors.SessionExpired)
	}

	idx := -1
	for i, msg := range sess.messages {
		if msg.ID == messageID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return apperrors.New(apperrors.NotFound)
	}

	msg := sess.messages[idx]
	allowed := msg.SentBy == caller || (sess.creatorConnID != "" && sess.creatorConnID == caller)
	if !allowed {
		metrics.RecordStoreOp("delete_message", "forbidden")
		return apperrors.New(apperrors.Forbidden)
	}

	sess.messages = append(sess.messages[:idx], sess.messages[idx+1:]...)
	metrics.MessagesStored.Add(-1)
	metrics.RecordStoreOp("delete_message", "ok")
	return nil
}
