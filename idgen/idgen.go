// Package idgen provides pluggable ID generation for texstudio.
//
// Sessions, texture uploads and business events all take a Generator, so the
// ID strategy is decided at startup and can be made deterministic in tests.
package idgen

import (
	"crypto/rand"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// NanoID returns a Generator that produces base-36 IDs of the given length.
func NanoID(length int) Generator {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	return func() string {
		buf := make([]byte, length)
		if _, err := rand.Read(buf); err != nil {
			panic("idgen: crypto/rand failed: " + err.Error())
		}
		for i := range buf {
			buf[i] = alphabet[int(buf[i])%len(alphabet)]
		}
		return string(buf)
	}
}

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed wraps a Generator and prepends a fixed prefix to every ID
// (e.g. "ses_", "evt_").
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// EpochMillis returns a Generator producing "<prefix><unix-ms>-<suffix>",
// the shape used for uploaded texture IDs ("texture-1718000000000-k3j9x0a1b").
func EpochMillis(prefix string, now func() time.Time, suffix Generator) Generator {
	if now == nil {
		now = time.Now
	}
	return func() string {
		return prefix + strconv.FormatInt(now().UnixMilli(), 10) + "-" + suffix()
	}
}

// Sequence returns a deterministic Generator ("<prefix>1", "<prefix>2", ...).
// Intended for tests.
func Sequence(prefix string) Generator {
	var n atomic.Int64
	return func() string {
		return prefix + strconv.FormatInt(n.Add(1), 10)
	}
}

// Default is UUIDv7: time-sortable and globally unique.
var Default Generator = UUIDv7()
