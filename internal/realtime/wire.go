package realtime

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// header is the JSON-encoded control portion of a frame. Binary payload
// fields (file bytes, chunk bytes) never live inside this struct — spec.md
// §6 requires them "binary-safe, not base64". Instead a frame on the wire is:
//
//	[4 bytes BE: len(header JSON)] [header JSON] [raw binary bytes, if any]
//
// so large payloads are never inflated by ~33% through base64 encoding.
type header struct {
	Event   string          `json:"event"`
	AckID   string          `json:"ackId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	// HasBinary signals that len(Binary) more bytes follow the header on
	// the wire; Payload carries only the structured (non-byte-array) fields.
	HasBinary bool `json:"hasBinary,omitempty"`
}

// frame is the decoded form of one inbound or outbound message.
type frame struct {
	Event   string
	AckID   string
	Payload json.RawMessage
	Binary  []byte
}

const maxHeaderLen = 1 << 20 // 1 MiB of JSON header is already generous

// encodeFrame serializes f into the binary-safe wire format described above.
func encodeFrame(f frame) ([]byte, error) {
	h := header{Event: f.Event, AckID: f.AckID, Payload: f.Payload, HasBinary: len(f.Binary) > 0}
	hb, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("realtime: marshal header: %w", err)
	}

	out := make([]byte, 4+len(hb)+len(f.Binary))
	binary.BigEndian.PutUint32(out[:4], uint32(len(hb)))
	copy(out[4:], hb)
	copy(out[4+len(hb):], f.Binary)
	return out, nil
}

// decodeFrame parses the binary-safe wire format back into a frame.
func decodeFrame(raw []byte) (frame, error) {
	if len(raw) < 4 {
		return frame{}, fmt.Errorf("realtime: frame too short (%d bytes)", len(raw))
	}
	hlen := binary.BigEndian.Uint32(raw[:4])
	if hlen > maxHeaderLen || int(4+hlen) > len(raw) {
		return frame{}, fmt.Errorf("realtime: invalid header length %d", hlen)
	}

	var h header
	if err := json.Unmarshal(raw[4:4+hlen], &h); err != nil {
		return frame{}, fmt.Errorf("realtime: unmarshal header: %w", err)
	}

	f := frame{Event: h.Event, AckID: h.AckID, Payload: h.Payload}
	if h.HasBinary {
		f.Binary = raw[4+hlen:]
	}
	return f, nil
}
