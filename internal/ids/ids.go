// Package ids generates and validates the identifiers used throughout the
// fabric: session codes, file IDs, and message IDs, plus filename
// sanitization shared by the upload path.
package ids

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// sessionAlphabet excludes 0/O/1/I to avoid visual confusion when a code is
// read aloud or copied by hand.
const sessionAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const sessionCodeLength = 5

var (
	sessionCodePattern = regexp.MustCompile(`^[A-HJ-NP-Z2-9]{5}$`)
	fileIDPattern      = regexp.MustCompile(`^[0-9a-f]{32}$`)
)

// NewSessionCode draws sessionCodeLength symbols from sessionAlphabet using a
// cryptographically secure source. 256 mod len(sessionAlphabet) == 0 (32),
// so a direct byte-to-symbol mapping is already uniform; no rejection
// sampling is needed.
func NewSessionCode() (string, error) {
	if 256%len(sessionAlphabet) != 0 {
		return "", fmt.Errorf("ids: alphabet length %d does not evenly divide 256", len(sessionAlphabet))
	}
	buf := make([]byte, sessionCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("ids: read random bytes: %w", err)
	}
	var sb strings.Builder
	sb.Grow(sessionCodeLength)
	for _, b := range buf {
		sb.WriteByte(sessionAlphabet[int(b)%len(sessionAlphabet)])
	}
	return sb.String(), nil
}

// NewFileID returns a fresh 32-character lower-case hex identifier.
func NewFileID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("ids: read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// NewMessageID returns an id of the form msg_<millis>_<8hex>.
func NewMessageID(now time.Time) (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("ids: read random bytes: %w", err)
	}
	return fmt.Sprintf("msg_%d_%s", now.UnixMilli(), hex.EncodeToString(buf)), nil
}

// ValidSessionCode reports whether s is a syntactically valid session code,
// case-insensitively.
func ValidSessionCode(s string) bool {
	return sessionCodePattern.MatchString(strings.ToUpper(s))
}

// CanonicalSessionCode upper-cases s; callers should store and compare codes
// in this form.
func CanonicalSessionCode(s string) string {
	return strings.ToUpper(s)
}

// ValidFileID reports whether s is a syntactically valid 32-hex-char file id.
func ValidFileID(s string) bool {
	return fileIDPattern.MatchString(strings.ToLower(s))
}

// SanitizeFilename strips path separators, null bytes, and ".." sequences,
// truncates to 255 bytes, and falls back to "unnamed" if nothing survives.
// Unlike a filesystem-backed sanitizer this never needs to probe for
// collisions on disk: the result is just a display label attached to an
// in-memory FileRecord.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "/", "")
	name = strings.ReplaceAll(name, "\\", "")
	name = strings.ReplaceAll(name, "\x00", "")
	for strings.Contains(name, "..") {
		name = strings.ReplaceAll(name, "..", "")
	}
	name = strings.TrimSpace(name)
	if len(name) > 255 {
		name = name[:255]
	}
	if name == "" {
		return "unnamed"
	}
	return name
}
