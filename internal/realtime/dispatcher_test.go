package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zulfikawr/fabricd/internal/clock"
	"github.com/zulfikawr/fabricd/internal/store"
	"github.com/zulfikawr/fabricd/internal/upload"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *clock.Virtual, *httptest.Server) {
	t.Helper()
	vc := clock.NewVirtual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	st := store.New(store.Limits{
		SessionTTL:            time.Hour,
		MaxFileSizeBytes:      10 << 20,
		MaxTotalBytes:         100 << 20,
		MaxFilesPerSession:    50,
		MaxMessagesPerSession: 50,
		MaxMessageLength:      1000,
	}, vc)
	asm := upload.New(5, 30*time.Minute, vc)
	d := New(st, asm, vc, 200*time.Millisecond)

	mux := http.NewServeMux()
	mux.Handle("/ws", d)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return d, vc, srv
}

type testClient struct {
	t     *testing.T
	ws    *websocket.Conn
	ackID int
}

func dial(t *testing.T, srv *httptest.Server) *testClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return &testClient{t: t, ws: ws}
}

// call sends a request and blocks until the matching ack arrives, returning
// the ack frame. Any broadcast/notify frames received meanwhile are read
// and discarded.
func (c *testClient) call(event string, payload any, binary []byte) frame {
	c.t.Helper()
	c.ackID++
	ackID := string(rune('a' + c.ackID))
	body, err := json.Marshal(payload)
	if err != nil {
		c.t.Fatalf("marshal payload: %v", err)
	}
	raw, err := encodeFrame(frame{Event: event, AckID: ackID, Payload: body, Binary: binary})
	if err != nil {
		c.t.Fatalf("encodeFrame: %v", err)
	}
	if err := c.ws.WriteMessage(websocket.BinaryMessage, raw); err != nil {
		c.t.Fatalf("write: %v", err)
	}

	for i := 0; i < 50; i++ {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			c.t.Fatalf("read: %v", err)
		}
		f, err := decodeFrame(raw)
		if err != nil {
			c.t.Fatalf("decodeFrame: %v", err)
		}
		if f.Event == "ack" && f.AckID == ackID {
			return f
		}
	}
	c.t.Fatalf("no ack received for %s within 50 frames", event)
	return frame{}
}

// next reads the next frame unconditionally (used to assert a broadcast or
// notify arrives).
func (c *testClient) next() frame {
	c.t.Helper()
	_, raw, err := c.ws.ReadMessage()
	if err != nil {
		c.t.Fatalf("read: %v", err)
	}
	f, err := decodeFrame(raw)
	if err != nil {
		c.t.Fatalf("decodeFrame: %v", err)
	}
	return f
}

func ackOK(t *testing.T, f frame) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(f.Payload, &m); err != nil {
		t.Fatalf("unmarshal ack payload: %v", err)
	}
	if ok, _ := m["success"].(bool); !ok {
		t.Fatalf("ack was not success: %+v", m)
	}
	return m
}

func ackErr(t *testing.T, f frame) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(f.Payload, &m); err != nil {
		t.Fatalf("unmarshal ack payload: %v", err)
	}
	if ok, _ := m["success"].(bool); ok {
		t.Fatalf("expected failure ack, got success: %+v", m)
	}
	return m
}

// TestCreateJoinUploadDownload mirrors S1.
func TestCreateJoinUploadDownload(t *testing.T) {
	_, _, srv := newTestDispatcher(t)
	a := dial(t, srv)

	created := ackOK(t, a.call(string(OpSessionCreate), map[string]any{}, nil))
	sessionID, _ := created["id"].(string)
	if sessionID == "" {
		t.Fatalf("session:create returned no id: %+v", created)
	}

	uploaded := ackOK(t, a.call(string(OpFileUpload), map[string]any{
		"mimeType": "text/plain",
		"filename": "hello.txt",
		"size":     5,
	}, []byte("Hello")))

	file, ok := uploaded["file"].(map[string]any)
	if !ok {
		t.Fatalf("file:upload ack missing file: %+v", uploaded)
	}
	if size, _ := file["size"].(float64); size != 5 {
		t.Fatalf("uploaded file size = %v, want 5", file["size"])
	}
	fileID, _ := file["id"].(string)
	if fileID == "" {
		t.Fatalf("uploaded file missing id: %+v", file)
	}

	// file:added was also broadcast to A (the only member) as part of the
	// upload; drain it before requesting the file back.
	added := a.next()
	if added.Event != string(EventFileAdded) {
		t.Fatalf("expected file:added broadcast, got %q", added.Event)
	}

	got := ackOK(t, a.call(string(OpFileRequest), map[string]any{"fileId": fileID}, nil))
	_ = got
	// The last frame read by call() is the ack itself; re-fetch its raw
	// binary payload via a direct request/ack round trip below.
	req, err := encodeFrame(frame{Event: string(OpFileRequest), AckID: "dl1", Payload: marshal(map[string]any{"fileId": fileID})})
	if err != nil {
		t.Fatalf("encodeFrame: %v", err)
	}
	if err := a.ws.WriteMessage(websocket.BinaryMessage, req); err != nil {
		t.Fatalf("write: %v", err)
	}
	for {
		_, raw, err := a.ws.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		f, err := decodeFrame(raw)
		if err != nil {
			t.Fatalf("decodeFrame: %v", err)
		}
		if f.Event == "ack" && f.AckID == "dl1" {
			if string(f.Binary) != "Hello" {
				t.Fatalf("downloaded bytes = %q, want %q", f.Binary, "Hello")
			}
			break
		}
	}
}

// TestMessageDeleteAuthorization mirrors S5.
func TestMessageDeleteAuthorization(t *testing.T) {
	_, _, srv := newTestDispatcher(t)
	c := dial(t, srv) // creator
	d := dial(t, srv)
	e := dial(t, srv)

	created := ackOK(t, c.call(string(OpSessionCreate), map[string]any{}, nil))
	sessionID, _ := created["id"].(string)

	ackOK(t, d.call(string(OpSessionJoin), map[string]any{"id": sessionID}, nil))
	c.next() // member:joined broadcast for D
	ackOK(t, e.call(string(OpSessionJoin), map[string]any{"id": sessionID}, nil))
	c.next() // member:joined broadcast for E
	d.next() // member:joined broadcast for E, observed by D too

	sent := ackOK(t, d.call(string(OpMessageSend), map[string]any{"content": "m1"}, nil))
	c.next() // message:added broadcast
	e.next() // message:added broadcast
	msg, _ := sent["message"].(map[string]any)
	msgID, _ := msg["id"].(string)

	// Creator C may delete D's message.
	ackOK(t, c.call(string(OpMessageDelete), map[string]any{"messageId": msgID}, nil))
	d.next() // message:deleted broadcast
	e.next()

	sent2 := ackOK(t, d.call(string(OpMessageSend), map[string]any{"content": "m2"}, nil))
	c.next()
	e.next()
	msg2, _ := sent2["message"].(map[string]any)
	msg2ID, _ := msg2["id"].(string)

	// E (not sender, not creator) may not delete D's second message.
	ackErr(t, e.call(string(OpMessageDelete), map[string]any{"messageId": msg2ID}, nil))
}

// TestRejoinSwitchesSession asserts a connection already joined to one
// session can call session:join for a different session and is moved over,
// rather than receiving an error ack.
func TestRejoinSwitchesSession(t *testing.T) {
	_, _, srv := newTestDispatcher(t)
	a := dial(t, srv)
	b := dial(t, srv)

	ackOK(t, a.call(string(OpSessionCreate), map[string]any{}, nil))

	createdB := ackOK(t, b.call(string(OpSessionCreate), map[string]any{}, nil))
	sessionB, _ := createdB["id"].(string)

	joined := ackOK(t, a.call(string(OpSessionJoin), map[string]any{"id": sessionB}, nil))
	if got, _ := joined["id"].(string); got != sessionB {
		t.Fatalf("joined session id = %q, want %q", got, sessionB)
	}
	b.next() // member:joined broadcast for A switching into sessionB

	// A is now bound to sessionB: a message it sends broadcasts there, not
	// to sessionA (which a left with no other members to observe it).
	ackOK(t, a.call(string(OpMessageSend), map[string]any{"content": "hello"}, nil))
	b.next() // message:added broadcast
}

func TestJoinUnknownSessionFails(t *testing.T) {
	_, _, srv := newTestDispatcher(t)
	a := dial(t, srv)
	resp := ackErr(t, a.call(string(OpSessionJoin), map[string]any{"id": "ZZZZZ"}, nil))
	if resp["code"] != "NotFound" {
		t.Fatalf("code = %v, want NotFound", resp["code"])
	}
}

func TestOperationsBeforeJoinRequireJoined(t *testing.T) {
	_, _, srv := newTestDispatcher(t)
	a := dial(t, srv)
	resp := ackErr(t, a.call(string(OpMessageSend), map[string]any{"content": "hi"}, nil))
	if resp["code"] != "NotJoined" {
		t.Fatalf("code = %v, want NotJoined", resp["code"])
	}
}

func TestBroadcastCoverageOnFileAdded(t *testing.T) {
	_, _, srv := newTestDispatcher(t)
	a := dial(t, srv)
	b := dial(t, srv)

	created := ackOK(t, a.call(string(OpSessionCreate), map[string]any{}, nil))
	sessionID, _ := created["id"].(string)
	ackOK(t, b.call(string(OpSessionJoin), map[string]any{"id": sessionID}, nil))
	a.next() // member:joined seen by A

	ackOK(t, a.call(string(OpFileUpload), map[string]any{
		"mimeType": "text/plain",
		"filename": "f.txt",
		"size":     3,
	}, []byte("abc")))

	// Both A and B (every current member) must observe file:added.
	aEvt := a.next()
	bEvt := b.next()
	if aEvt.Event != string(EventFileAdded) || bEvt.Event != string(EventFileAdded) {
		t.Fatalf("expected file:added on both connections, got %q and %q", aEvt.Event, bEvt.Event)
	}
}
