package ids

import (
	"strings"
	"testing"
	"time"
)

func TestNewSessionCodeShape(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		code, err := NewSessionCode()
		if err != nil {
			t.Fatalf("NewSessionCode: %v", err)
		}
		if len(code) != sessionCodeLength {
			t.Fatalf("code %q has length %d, want %d", code, len(code), sessionCodeLength)
		}
		if !ValidSessionCode(code) {
			t.Fatalf("code %q failed ValidSessionCode", code)
		}
		for _, banned := range []string{"0", "O", "1", "I"} {
			if strings.Contains(code, banned) {
				t.Fatalf("code %q contains banned symbol %q", code, banned)
			}
		}
		seen[code] = true
	}
	if len(seen) < 150 {
		t.Fatalf("suspiciously few distinct codes: %d/200", len(seen))
	}
}

func TestValidSessionCodeCaseInsensitive(t *testing.T) {
	code, err := NewSessionCode()
	if err != nil {
		t.Fatal(err)
	}
	if !ValidSessionCode(strings.ToLower(code)) {
		t.Fatalf("lower-case form of %q should validate", code)
	}
	if CanonicalSessionCode(strings.ToLower(code)) != code {
		t.Fatalf("canonical form mismatch")
	}
}

func TestValidSessionCodeRejectsConfusables(t *testing.T) {
	for _, bad := range []string{"ABC0E", "ABCOE", "ABC1E", "ABCIE", "AB", "ABCDEF"} {
		if ValidSessionCode(bad) {
			t.Errorf("expected %q to be invalid", bad)
		}
	}
}

func TestNewFileID(t *testing.T) {
	id, err := NewFileID()
	if err != nil {
		t.Fatal(err)
	}
	if !ValidFileID(id) {
		t.Fatalf("id %q failed ValidFileID", id)
	}
	if len(id) != 32 {
		t.Fatalf("id length = %d, want 32", len(id))
	}
}

func TestValidFileIDRejectsBadShapes(t *testing.T) {
	for _, bad := range []string{"", "abc", strings.Repeat("z", 32), strings.Repeat("a", 31)} {
		if ValidFileID(bad) {
			t.Errorf("expected %q to be invalid", bad)
		}
	}
}

func TestNewMessageIDShape(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	id, err := NewMessageID(now)
	if err != nil {
		t.Fatal(err)
	}
	want := "msg_1700000000000_"
	if !strings.HasPrefix(id, want) {
		t.Fatalf("id %q does not have prefix %q", id, want)
	}
	if len(id) != len(want)+8 {
		t.Fatalf("id %q has unexpected length", id)
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"hello.txt":             "hello.txt",
		"../../etc/passwd":      "etcpasswd",
		"a/b\\c":                "abc",
		"with\x00null":          "withnull",
		"":                      "unnamed",
		"   ":                  "unnamed",
		strings.Repeat("x", 300): strings.Repeat("x", 255),
	}
	for in, want := range cases {
		if got := SanitizeFilename(in); got != want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
