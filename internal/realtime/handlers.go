package realtime

import (
	"encoding/json"

	"github.com/zulfikawr/fabricd/internal/apperrors"
	"github.com/zulfikawr/fabricd/internal/ids"
	"github.com/zulfikawr/fabricd/internal/metrics"
	"github.com/zulfikawr/fabricd/internal/store"
	"github.com/zulfikawr/fabricd/internal/upload"
)

// handlerFunc executes one operation and returns the ack's structured
// payload fields (merged with success:true by the caller), any binary bytes
// to attach to the ack frame, or an error to translate into a failure ack.
type handlerFunc func(d *Dispatcher, c *conn, f frame) (json.RawMessage, []byte, error)

var operationTable = map[Op]handlerFunc{
	OpSessionCreate:      handleSessionCreate,
	OpSessionJoin:        handleSessionJoin,
	OpSessionLeave:       handleSessionLeave,
	OpFileUpload:         handleFileUpload,
	OpFileUploadStart:    handleFileUploadStart,
	OpFileUploadChunk:    handleFileUploadChunk,
	OpFileUploadComplete: handleFileUploadComplete,
	OpFileRequest:        handleFileRequest,
	OpFileDelete:         handleFileDelete,
	OpMessageSend:        handleMessageSend,
	OpMessageDelete:      handleMessageDelete,
}

func requireJoined(c *conn) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateJoined {
		return "", apperrors.New(apperrors.NotJoined)
	}
	return c.sessionID, nil
}

func snapshotPayload(snap store.Snapshot) map[string]any {
	return map[string]any{
		"id":           snap.ID,
		"created_at":   snap.CreatedAt.UnixMilli(),
		"expires_at":   snap.ExpiresAt.UnixMilli(),
		"files":        snap.Files,
		"messages":     snap.Messages,
		"member_count": snap.MemberCount,
	}
}

func metadataPayload(m store.FileMetadata) map[string]any {
	return map[string]any{
		"id":         m.ID,
		"mimeType":   m.MimeType,
		"filename":   m.Filename,
		"size":       m.Size,
		"uploadedAt": m.UploadedAt.UnixMilli(),
		"uploadedBy": m.UploadedBy,
	}
}

func marshal(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

func handleSessionCreate(d *Dispatcher, c *conn, f frame) (json.RawMessage, []byte, error) {
	sess, err := d.store.CreateSession()
	if err != nil {
		return nil, nil, err
	}
	d.joinRoom(c, sess.ID())
	if _, err := d.store.AddMember(sess.ID(), c.id); err != nil {
		return nil, nil, err
	}

	payload := map[string]any{
		"event":      EventSessionCreated,
		"id":         sess.ID(),
		"created_at": sess.CreatedAt().UnixMilli(),
		"expires_at": sess.ExpiresAt().UnixMilli(),
	}
	metrics.RecordStoreOp("session_create", "ok")
	return marshal(payload), nil, nil
}

func handleSessionJoin(d *Dispatcher, c *conn, f frame) (json.RawMessage, []byte, error) {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(f.Payload, &req); err != nil {
		return nil, nil, apperrors.New(apperrors.InvalidCode)
	}
	if !ids.ValidSessionCode(req.ID) {
		return nil, nil, apperrors.New(apperrors.InvalidCode)
	}

	snap, err := d.store.AddMember(req.ID, c.id)
	if err != nil {
		return nil, nil, err
	}

	// A connection may only be in one session at a time: if it was already
	// joined elsewhere, drop it from that room's local fan-out index before
	// joining the new one, mirroring the store's own binding replacement.
	if prior, err := requireJoined(c); err == nil && prior != snap.ID {
		d.leaveRoom(c, prior)
	}
	d.joinRoom(c, snap.ID)

	d.broadcast(snap.ID, EventMemberJoined, map[string]any{"member_count": snap.MemberCount})

	reply := snapshotPayload(snap)
	reply["event"] = EventSessionJoined
	return marshal(reply), nil, nil
}

func handleSessionLeave(d *Dispatcher, c *conn, f frame) (json.RawMessage, []byte, error) {
	sessionID, err := requireJoined(c)
	if err != nil {
		return nil, nil, nil // leaving while not joined is a harmless no-op
	}

	d.leaveRoom(c, sessionID)
	d.store.RemoveMember(c.id)
	c.mu.Lock()
	c.sessionID = ""
	c.state = stateConnected
	c.mu.Unlock()

	if snap, err := d.store.Snapshot(sessionID); err == nil {
		d.broadcast(sessionID, EventMemberLeft, map[string]any{"member_count": snap.MemberCount})
	}
	return marshal(map[string]any{"ok": true}), nil, nil
}

func handleFileUpload(d *Dispatcher, c *conn, f frame) (json.RawMessage, []byte, error) {
	sessionID, err := requireJoined(c)
	if err != nil {
		return nil, nil, err
	}
	var meta struct {
		MimeType string `json:"mimeType"`
		Filename string `json:"filename"`
		Size     int64  `json:"size"`
	}
	if err := json.Unmarshal(f.Payload, &meta); err != nil {
		return nil, nil, apperrors.Wrap(apperrors.Internal, err)
	}

	id, err := ids.NewFileID()
	if err != nil {
		return nil, nil, apperrors.Wrap(apperrors.Internal, err)
	}

	fm, err := d.store.AddFile(sessionID, store.FileRecord{
		ID:         id,
		Payload:    f.Binary,
		MimeType:   meta.MimeType,
		Filename:   meta.Filename,
		UploadedAt: d.clk.Now(),
		UploadedBy: c.id,
	})
	if err != nil {
		return nil, nil, err
	}

	d.broadcast(sessionID, EventFileAdded, map[string]any{"file": metadataPayload(fm)})
	return marshal(map[string]any{"file": metadataPayload(fm)}), nil, nil
}

func handleFileUploadStart(d *Dispatcher, c *conn, f frame) (json.RawMessage, []byte, error) {
	sessionID, err := requireJoined(c)
	if err != nil {
		return nil, nil, err
	}
	var req struct {
		Filename    string `json:"filename"`
		MimeType    string `json:"mimeType"`
		Size        int64  `json:"size"`
		TotalChunks int    `json:"totalChunks"`
	}
	if err := json.Unmarshal(f.Payload, &req); err != nil {
		return nil, nil, apperrors.Wrap(apperrors.Internal, err)
	}

	id, err := d.assembler.Start(sessionID, upload.Declared{
		Filename:    req.Filename,
		MimeType:    req.MimeType,
		Size:        req.Size,
		TotalChunks: req.TotalChunks,
	})
	if err != nil {
		return nil, nil, err
	}
	return marshal(map[string]any{"upload_id": id}), nil, nil
}

func handleFileUploadChunk(d *Dispatcher, c *conn, f frame) (json.RawMessage, []byte, error) {
	if _, err := requireJoined(c); err != nil {
		return nil, nil, err
	}
	var req struct {
		UploadID string `json:"uploadId"`
		Index    int    `json:"index"`
	}
	if err := json.Unmarshal(f.Payload, &req); err != nil {
		return nil, nil, apperrors.Wrap(apperrors.Internal, err)
	}

	res, err := d.assembler.Chunk(req.UploadID, req.Index, f.Binary)
	if err != nil {
		return nil, nil, err
	}

	d.notifyOne(c, EventChunkReceived, map[string]any{
		"upload_id": req.UploadID,
		"index":     req.Index,
		"received":  res.Received,
		"total":     res.Total,
		"progress":  float64(res.Received) / float64(res.Total),
	})
	return marshal(map[string]any{"received": res.Received, "total": res.Total, "is_complete": res.IsComplete}), nil, nil
}

func handleFileUploadComplete(d *Dispatcher, c *conn, f frame) (json.RawMessage, []byte, error) {
	sessionID, err := requireJoined(c)
	if err != nil {
		return nil, nil, err
	}
	var req struct {
		UploadID string `json:"uploadId"`
	}
	if err := json.Unmarshal(f.Payload, &req); err != nil {
		return nil, nil, apperrors.Wrap(apperrors.Internal, err)
	}

	assembled, err := d.assembler.Complete(req.UploadID)
	if err != nil {
		return nil, nil, err
	}

	id, err := ids.NewFileID()
	if err != nil {
		return nil, nil, apperrors.Wrap(apperrors.Internal, err)
	}
	fm, err := d.store.AddFile(sessionID, store.FileRecord{
		ID:         id,
		Payload:    assembled.Payload,
		MimeType:   assembled.MimeType,
		Filename:   assembled.Filename,
		UploadedAt: d.clk.Now(),
		UploadedBy: c.id,
	})
	if err != nil {
		return nil, nil, err
	}

	d.broadcast(sessionID, EventFileAdded, map[string]any{"file": metadataPayload(fm)})
	return marshal(map[string]any{"file": metadataPayload(fm)}), nil, nil
}

func handleFileRequest(d *Dispatcher, c *conn, f frame) (json.RawMessage, []byte, error) {
	sessionID, err := requireJoined(c)
	if err != nil {
		return nil, nil, err
	}
	var req struct {
		FileID string `json:"fileId"`
	}
	if err := json.Unmarshal(f.Payload, &req); err != nil {
		return nil, nil, apperrors.Wrap(apperrors.Internal, err)
	}
	if !ids.ValidFileID(req.FileID) {
		return nil, nil, apperrors.New(apperrors.InvalidFileID)
	}

	rec, err := d.store.GetFilePayload(sessionID, req.FileID)
	if err != nil {
		return nil, nil, err
	}

	// Copy at the egress edge: a concurrent DeleteFile must not be able to
	// mutate bytes still in flight to this connection (spec.md §9 buffer note).
	out := make([]byte, len(rec.Payload))
	copy(out, rec.Payload)

	meta := map[string]any{
		"id":       rec.ID,
		"mimeType": rec.MimeType,
		"filename": rec.Filename,
		"size":     rec.Size(),
	}
	return marshal(map[string]any{"file": meta}), out, nil
}

func handleFileDelete(d *Dispatcher, c *conn, f frame) (json.RawMessage, []byte, error) {
	sessionID, err := requireJoined(c)
	if err != nil {
		return nil, nil, err
	}
	var req struct {
		FileID string `json:"fileId"`
	}
	if err := json.Unmarshal(f.Payload, &req); err != nil {
		return nil, nil, apperrors.Wrap(apperrors.Internal, err)
	}
	if !ids.ValidFileID(req.FileID) {
		return nil, nil, apperrors.New(apperrors.InvalidFileID)
	}

	if !d.store.DeleteFile(sessionID, req.FileID) {
		return nil, nil, apperrors.New(apperrors.NotFound)
	}

	d.broadcast(sessionID, EventFileDeleted, map[string]any{"file_id": req.FileID})
	return marshal(map[string]any{"ok": true}), nil, nil
}

func handleMessageSend(d *Dispatcher, c *conn, f frame) (json.RawMessage, []byte, error) {
	sessionID, err := requireJoined(c)
	if err != nil {
		return nil, nil, err
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(f.Payload, &req); err != nil {
		return nil, nil, apperrors.Wrap(apperrors.Internal, err)
	}

	msgID, err := ids.NewMessageID(d.clk.Now())
	if err != nil {
		return nil, nil, apperrors.Wrap(apperrors.Internal, err)
	}

	msg, err := d.store.AddMessage(sessionID, store.MessageRecord{
		ID:      msgID,
		Content: req.Content,
		SentBy:  c.id,
		SentAt:  d.clk.Now(),
	})
	if err != nil {
		return nil, nil, err
	}

	payload := map[string]any{
		"id":      msg.ID,
		"content": msg.Content,
		"sentBy":  msg.SentBy,
		"sentAt":  msg.SentAt.UnixMilli(),
	}
	d.broadcast(sessionID, EventMessageAdded, map[string]any{"message": payload})
	return marshal(map[string]any{"message": payload}), nil, nil
}

func handleMessageDelete(d *Dispatcher, c *conn, f frame) (json.RawMessage, []byte, error) {
	sessionID, err := requireJoined(c)
	if err != nil {
		return nil, nil, err
	}
	var req struct {
		MessageID string `json:"messageId"`
	}
	if err := json.Unmarshal(f.Payload, &req); err != nil {
		return nil, nil, apperrors.Wrap(apperrors.Internal, err)
	}

	if err := d.store.DeleteMessage(sessionID, req.MessageID, c.id); err != nil {
		return nil, nil, err
	}

	d.broadcast(sessionID, EventMessageDeleted, map[string]any{"message_id": req.MessageID})
	return marshal(map[string]any{"ok": true}), nil, nil
}
