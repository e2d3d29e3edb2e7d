package idgen

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNanoID_LengthAndAlphabet(t *testing.T) {
	gen := NanoID(9)
	for range 50 {
		id := gen()
		if len(id) != 9 {
			t.Fatalf("len = %d, want 9", len(id))
		}
		for _, r := range id {
			if !strings.ContainsRune("0123456789abcdefghijklmnopqrstuvwxyz", r) {
				t.Fatalf("unexpected rune %q in %q", r, id)
			}
		}
	}
}

func TestUUIDv7_Version(t *testing.T) {
	id := UUIDv7()()
	u, err := uuid.Parse(id)
	if err != nil {
		t.Fatalf("uuid.Parse(%q): %v", id, err)
	}
	if u.Version() != 7 {
		t.Fatalf("version = %d, want 7", u.Version())
	}
}

func TestPrefixed(t *testing.T) {
	id := Prefixed("ses_", Default)()
	if !strings.HasPrefix(id, "ses_") {
		t.Fatalf("got %q, want ses_ prefix", id)
	}
}

func TestEpochMillis(t *testing.T) {
	fixed := time.UnixMilli(1718000000000)
	gen := EpochMillis("texture-", func() time.Time { return fixed }, func() string { return "abc" })
	if got := gen(); got != "texture-1718000000000-abc" {
		t.Fatalf("got %q", got)
	}
}

func TestSequence(t *testing.T) {
	gen := Sequence("s")
	if a, b := gen(), gen(); a != "s1" || b != "s2" {
		t.Fatalf("got %q, %q", a, b)
	}
}
