// Package realtime implements the RealtimeDispatcher: a bidirectional
// request/ack and room-broadcast layer over gorilla/websocket, generalized
// from the teacher's one-way progress-push socket into the full spec.md
// §4.4 operation/event surface.
package realtime

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zulfikawr/fabricd/internal/apperrors"
	"github.com/zulfikawr/fabricd/internal/clock"
	"github.com/zulfikawr/fabricd/internal/ids"
	"github.com/zulfikawr/fabricd/internal/logging"
	"github.com/zulfikawr/fabricd/internal/metrics"
	"github.com/zulfikawr/fabricd/internal/store"
	"github.com/zulfikawr/fabricd/internal/upload"
)

// Notifier is the adapter hook a caller outside this package can use to
// observe session events; the Dispatcher's own room broadcast already
// satisfies it, so cmd/fabricd wires nothing extra here.
type Notifier interface {
	Notify(sessionID string, event Event, payload any)
}

// ShareTargetAdapter is the boundary for an external share-target HTTP
// endpoint: it turns a dropped file into a FileRecord for sessionID. Only
// the interface lives here; no HTTP handler in this module implements it.
type ShareTargetAdapter interface {
	SynthesizeUpload(sessionID, filename, mime string, r io.Reader) (store.FileRecord, error)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  32 * 1024,
	WriteBufferSize: 32 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// conn wraps one websocket connection plus its dispatcher-visible state.
type conn struct {
	id string
	ws *websocket.Conn

	writeMu sync.Mutex

	mu        sync.Mutex
	state     connState
	sessionID string
}

func (c *conn) send(f frame) error {
	raw, err := encodeFrame(f)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.BinaryMessage, raw)
}

// Dispatcher owns every live connection, the session-room membership (backed
// by store.MemoryStore's own connection↔session binding so there is a single
// source of truth), and the per-operation RPC timeout.
type Dispatcher struct {
	store      *store.MemoryStore
	assembler  *upload.Assembler
	clk        clock.Clock
	rpcTimeout time.Duration

	mu    sync.RWMutex
	conns map[string]*conn
	rooms map[string]map[string]*conn // sessionID -> connID -> conn
}

// New constructs a Dispatcher. rpcTimeout is config.Config.RPCTimeout
// (RPC_TIMEOUT, default 30s).
func New(st *store.MemoryStore, asm *upload.Assembler, clk clock.Clock, rpcTimeout time.Duration) *Dispatcher {
	return &Dispatcher{
		store:      st,
		assembler:  asm,
		clk:        clk,
		rpcTimeout: rpcTimeout,
		conns:      make(map[string]*conn),
		rooms:      make(map[string]map[string]*conn),
	}
}

// ServeHTTP upgrades the request to a websocket and runs the connection's
// read pump until it disconnects.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	connID, err := ids.NewFileID()
	if err != nil {
		logging.Error("failed to mint connection id", zap.Error(err))
		_ = ws.Close()
		return
	}

	c := &conn{id: connID, ws: ws, state: stateConnected}
	d.mu.Lock()
	d.conns[connID] = c
	d.mu.Unlock()
	metrics.ActiveWebSocketConnections.Inc()

	defer d.handleDisconnect(c)

	for {
		mt, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.BinaryMessage && mt != websocket.TextMessage {
			continue
		}
		f, err := decodeFrame(raw)
		if err != nil {
			logging.Warn("dropping malformed frame", zap.String("conn", connID), zap.Error(err))
			continue
		}
		metrics.WebSocketMessagesTotal.WithLabelValues("in", f.Event).Inc()
		d.dispatch(c, f)
	}
}

// dispatch runs one request to completion (or to RPC_TIMEOUT) and writes
// its ack. Requests on a single connection are handled one at a time by the
// read pump's call site, preserving per-connection send/ack ordering.
func (d *Dispatcher) dispatch(c *conn, f frame) {
	handler, ok := operationTable[Op(f.Event)]
	if !ok {
		d.ackError(c, f.AckID, apperrors.New(apperrors.Internal))
		return
	}

	type outcome struct {
		payload json.RawMessage
		binary  []byte
		err     error
	}
	done := make(chan outcome, 1)
	start := d.clk.Now()

	go func() {
		p, b, err := handler(d, c, f)
		done <- outcome{payload: p, binary: b, err: err}
	}()

	select {
	case out := <-done:
		metrics.RPCDuration.WithLabelValues(f.Event).Observe(d.clk.Now().Sub(start).Seconds())
		if out.err != nil {
			d.ackError(c, f.AckID, out.err)
			return
		}
		d.ackOK(c, f.AckID, out.payload, out.binary)
	case <-d.clk.After(d.rpcTimeout):
		metrics.RPCTimeoutsTotal.WithLabelValues(f.Event).Inc()
		d.ackError(c, f.AckID, apperrors.New(apperrors.Timeout))
		// The handler goroutine keeps running; its eventual result (if any)
		// is simply discarded — no silent state corruption, since every
		// store/assembler mutation it performs is already durably applied
		// by the time it would have acked.
	}
}

func (d *Dispatcher) ackOK(c *conn, ackID string, payload json.RawMessage, binary []byte) {
	if ackID == "" {
		return
	}
	merged := mergeSuccess(payload)
	if err := c.send(frame{Event: "ack", AckID: ackID, Payload: merged, Binary: binary}); err != nil {
		logging.Warn("ack write failed", zap.String("conn", c.id), zap.Error(err))
	}
}

func (d *Dispatcher) ackError(c *conn, ackID string, err error) {
	if ackID == "" {
		return
	}
	ae := apperrors.KindOf(err)
	body, _ := json.Marshal(map[string]any{
		"success": false,
		"error":   apperrors.MessageOf(err),
		"code":    string(ae),
	})
	if werr := c.send(frame{Event: "ack", AckID: ackID, Payload: body}); werr != nil {
		logging.Warn("ack write failed", zap.String("conn", c.id), zap.Error(werr))
	}
}

func mergeSuccess(payload json.RawMessage) json.RawMessage {
	fields := map[string]any{}
	if len(payload) > 0 {
		_ = json.Unmarshal(payload, &fields)
	}
	fields["success"] = true
	out, _ := json.Marshal(fields)
	return out
}

// broadcast sends event to every connection currently bound to sessionID.
func (d *Dispatcher) broadcast(sessionID string, event Event, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		logging.Error("failed to marshal broadcast payload", zap.String("event", string(event)), zap.Error(err))
		return
	}

	d.mu.RLock()
	room := d.rooms[sessionID]
	targets := make([]*conn, 0, len(room))
	for _, c := range room {
		targets = append(targets, c)
	}
	d.mu.RUnlock()

	for _, c := range targets {
		if err := c.send(frame{Event: string(event), Payload: body}); err != nil {
			logging.Warn("broadcast delivery failed", zap.String("conn", c.id), zap.String("event", string(event)), zap.Error(err))
			continue
		}
		metrics.WebSocketMessagesTotal.WithLabelValues("out", string(event)).Inc()
	}
	metrics.BroadcastsTotal.WithLabelValues(string(event)).Inc()
}

// notifyOne sends event to a single connection (used for the uploader-only
// file:chunk-received progress event).
func (d *Dispatcher) notifyOne(c *conn, event Event, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := c.send(frame{Event: string(event), Payload: body}); err != nil {
		logging.Warn("notify delivery failed", zap.String("conn", c.id), zap.Error(err))
		return
	}
	metrics.WebSocketMessagesTotal.WithLabelValues("out", string(event)).Inc()
}

// joinRoom binds c to sessionID in the dispatcher's room index. The
// connection↔session source of truth is store.MemoryStore.AddMember;
// joinRoom/leaveRoom just keep the local fan-out index in sync with it.
func (d *Dispatcher) joinRoom(c *conn, sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rooms[sessionID] == nil {
		d.rooms[sessionID] = make(map[string]*conn)
	}
	d.rooms[sessionID][c.id] = c
	c.mu.Lock()
	c.sessionID = sessionID
	c.state = stateJoined
	c.mu.Unlock()
}

func (d *Dispatcher) leaveRoom(c *conn, sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if room, ok := d.rooms[sessionID]; ok {
		delete(room, c.id)
		if len(room) == 0 {
			delete(d.rooms, sessionID)
		}
	}
}

func (d *Dispatcher) handleDisconnect(c *conn) {
	c.mu.Lock()
	sessionID := c.sessionID
	c.state = stateDisconnected
	c.mu.Unlock()

	if sessionID != "" {
		d.leaveRoom(c, sessionID)
		if code := d.store.RemoveMember(c.id); code != "" {
			if snap, err := d.store.Snapshot(code); err == nil {
				d.broadcast(code, EventMemberLeft, map[string]any{"member_count": snap.MemberCount})
			}
		}
	}

	d.mu.Lock()
	delete(d.conns, c.id)
	d.mu.Unlock()
	metrics.ActiveWebSocketConnections.Dec()
	_ = c.ws.Close()
}

// BroadcastSessionExpired is called by the CleanupScheduler before deleting
// an expired or evicted session, per spec.md §4.5: every member learns
// session:expired before its storage disappears.
func (d *Dispatcher) BroadcastSessionExpired(sessionID, reason string) {
	d.broadcast(sessionID, EventSessionExpired, map[string]any{"id": sessionID, "reason": reason})

	d.mu.Lock()
	room := d.rooms[sessionID]
	delete(d.rooms, sessionID)
	d.mu.Unlock()
	for _, c := range room {
		c.mu.Lock()
		c.sessionID = ""
		c.state = stateConnected
		c.mu.Unlock()
	}
}

// Notify implements Notifier.
func (d *Dispatcher) Notify(sessionID string, event Event, payload any) {
	d.broadcast(sessionID, event, payload)
}
