package store

import (
	"sync"
	"time"
)

// FileRecord is one stored binary blob plus metadata, owned by its session.
type FileRecord struct {
	ID         string
	Payload    []byte
	MimeType   string
	Filename   string
	UploadedAt time.Time
	UploadedBy string
}

// Size returns the payload length.
func (f *FileRecord) Size() int64 { return int64(len(f.Payload)) }

// Metadata returns the FileRecord without its payload bytes, suitable for
// session snapshots and file:added/file:deleted event payloads.
func (f *FileRecord) Metadata() FileMetadata {
	return FileMetadata{
		ID:         f.ID,
		MimeType:   f.MimeType,
		Filename:   f.Filename,
		Size:       f.Size(),
		UploadedAt: f.UploadedAt,
		UploadedBy: f.UploadedBy,
	}
}

// FileMetadata is a FileRecord without its payload bytes.
type FileMetadata struct {
	ID         string
	MimeType   string
	Filename   string
	Size       int64
	UploadedAt time.Time
	UploadedBy string
}

// MessageRecord is one chat message within a session.
type MessageRecord struct {
	ID         string
	Content    string
	SentBy     string
	SentByName string
	SentAt     time.Time
}

// Session is an ephemeral shared room, identified by a 5-character code.
// All fields below ID/CreatedAt/ExpiresAt are guarded by mu; callers outside
// the store package only ever see copies produced by Snapshot/ListFiles/etc.
type Session struct {
	mu sync.RWMutex

	id        string
	createdAt time.Time
	expiresAt time.Time

	files     map[string]*FileRecord
	fileOrder []string

	messages []*MessageRecord

	members       map[string]struct{}
	creatorConnID string
}

// ID returns the session's canonical (upper-case) code.
func (s *Session) ID() string { return s.id }

// CreatedAt returns the session's creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// ExpiresAt returns the session's expiry time.
func (s *Session) ExpiresAt() time.Time { return s.expiresAt }

func (s *Session) isExpired(now time.Time) bool {
	return now.After(s.expiresAt)
}

// Snapshot is the payload returned by session:create and session:join.
type Snapshot struct {
	ID          string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Files       []FileMetadata
	Messages    []MessageRecord
	MemberCount int
}

func (s *Session) snapshotLocked() Snapshot {
	files := make([]FileMetadata, 0, len(s.fileOrder))
	for _, id := range s.fileOrder {
		if f, ok := s.files[id]; ok {
			files = append(files, f.Metadata())
		}
	}
	messages := make([]MessageRecord, len(s.messages))
	for i, m := range s.messages {
		messages[i] = *m
	}
	return Snapshot{
		ID:          s.id,
		CreatedAt:   s.createdAt,
		ExpiresAt:   s.expiresAt,
		Files:       files,
		Messages:    messages,
		MemberCount: len(s.members),
	}
}

// MemberCount returns the current number of bound connections.
func (s *Session) MemberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.members)
}
