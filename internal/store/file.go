package store

import (
	"fmt"
	"path"

	"github.com/zulfikawr/fabricd/internal/apperrors"
	"github.com/zulfikawr/fabricd/internal/ids"
	"github.com/zulfikawr/fabricd/internal/metrics"
)

// AddFile atomically registers f under sessionID: the file only becomes
// observable to readers once every check below has passed.
func (m *MemoryStore) AddFile(sessionID string, f FileRecord) (FileMetadata, error) {
	sess, err := m.GetSession(sessionID)
	if err != nil {
		metrics.RecordStoreOp("add_file", "session_expired")
		return FileMetadata{}, apperrors.New(apperrors.SessionExpired)
	}

	size := int64(len(f.Payload))
	if size <= 0 {
		metrics.RecordStoreOp("add_file", "empty_file")
		return FileMetadata{}, apperrors.New(apperrors.EmptyFile)
	}
	if size > m.limits.MaxFileSizeBytes {
		metrics.RecordStoreOp("add_file", "file_too_large")
		return FileMetadata{}, apperrors.New(apperrors.FileTooLarge)
	}
	if f.MimeType == "" {
		f.MimeType = "application/octet-stream"
	}
	f.Filename = sanitizeOrFallback(f.Filename, f.ID)

	sess.mu.Lock()
	if sess.files == nil {
		sess.mu.Unlock()
		metrics.RecordStoreOp("add_file", "session_expired")
		return FileMetadata{}, apperrors.New(apperrors.SessionExpired)
	}
	if len(sess.files) >= m.limits.MaxFilesPerSession {
		sess.mu.Unlock()
		metrics.RecordStoreOp("add_file", "session_file_cap")
		return FileMetadata{}, apperrors.New(apperrors.SessionFileCapReached)
	}

	// Reserve the byte budget before publishing the file so a concurrent
	// AddFile on another session can't push total_bytes past the cap between
	// our check and our commit.
	if !m.reserveBytes(size) {
		sess.mu.Unlock()
		metrics.RecordStoreOp("add_file", "out_of_memory")
		return FileMetadata{}, apperrors.New(apperrors.OutOfMemory)
	}

	sess.files[f.ID] = &f
	sess.fileOrder = append(sess.fileOrder, f.ID)
	sess.mu.Unlock()

	metrics.FilesStored.Set(float64(m.FileCount()))
	metrics.BytesStored.Set(float64(m.totalBytes.Load()))
	metrics.RecordStoreOp("add_file", "ok")
	return f.Metadata(), nil
}

// reserveBytes atomically increments total_bytes by size iff the result
// would not exceed MaxTotalBytes.
func (m *MemoryStore) reserveBytes(size int64) bool {
	for {
		current := m.totalBytes.Load()
		next := current + size
		if next > m.limits.MaxTotalBytes {
			return false
		}
		if m.totalBytes.CompareAndSwap(current, next) {
			return true
		}
	}
}

// sanitizeOrFallback sanitizes filename and, if nothing of it survived,
// falls back to "file-<id><ext>" (spec.md §3 FileRecord invariant), keeping
// the original extension when one was present.
func sanitizeOrFallback(filename, fileID string) string {
	ext := path.Ext(filename)
	sanitized := ids.SanitizeFilename(filename)
	if sanitized != "unnamed" {
		return sanitized
	}
	return fmt.Sprintf("file-%s%s", fileID, ext)
}

// GetFileMetadata returns f's metadata without its payload.
func (m *MemoryStore) GetFileMetadata(sessionID, fileID string) (FileMetadata, error) {
	sess, err := m.GetSession(sessionID)
	if err != nil {
		return FileMetadata{}, err
	}
	sess.mu.RLock()
	defer sess.mu.RUnlock()
	f, ok := sess.files[fileID]
	if !ok {
		return FileMetadata{}, apperrors.New(apperrors.NotFound)
	}
	return f.Metadata(), nil
}

// GetFilePayload returns f's bytes. The returned slice is the store's own
// buffer; callers that hand it to a transport must not retain it past the
// point a concurrent DeleteFile could free it — the realtime dispatcher
// copies it at the egress edge before acking (see handleFileRequest).
func (m *MemoryStore) GetFilePayload(sessionID, fileID string) (FileRecord, error) {
	sess, err := m.GetSession(sessionID)
	if err != nil {
		return FileRecord{}, err
	}
	sess.mu.RLock()
	defer sess.mu.RUnlock()
	f, ok := sess.files[fileID]
	if !ok {
		return FileRecord{}, apperrors.New(apperrors.NotFound)
	}
	return *f, nil
}

// ListFiles returns every file's metadata in upload order.
func (m *MemoryStore) ListFiles(sessionID string) ([]FileMetadata, error) {
	sess, err := m.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	sess.mu.RLock()
	defer sess.mu.RUnlock()
	out := make([]FileMetadata, 0, len(sess.fileOrder))
	for _, id := range sess.fileOrder {
		if f, ok := sess.files[id]; ok {
			out = append(out, f.Metadata())
		}
	}
	return out, nil
}

// DeleteFile removes fileID from sessionID and frees its bytes from the
// global account. Returns false if the session or file did not exist.
func (m *MemoryStore) DeleteFile(sessionID, fileID string) bool {
	sess, err := m.GetSession(sessionID)
	if err != nil {
		return false
	}

	sess.mu.Lock()
	f, ok := sess.files[fileID]
	if !ok {
		sess.mu.Unlock()
		return false
	}
	delete(sess.files, fileID)
	for i, id := range sess.fileOrder {
		if id == fileID {
			sess.fileOrder = append(sess.fileOrder[:i], sess.fileOrder[i+1:]...)
			break
		}
	}
	freed := f.Size()
	sess.mu.Unlock()

	m.totalBytes.Add(-freed)
	metrics.FilesStored.Set(float64(m.FileCount()))
	metrics.BytesStored.Set(float64(m.totalBytes.Load()))
	metrics.RecordStoreOp("delete_file", "ok")
	return true
}
