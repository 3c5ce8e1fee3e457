// Package phid generates object identifiers and random tokens.
package phid

import (
	"crypto/rand"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"
)

// Object type constants used as the middle segment of a PHID.
const (
	TypeTask        = "TASK"
	TypeTransaction = "XACT"
	TypeUser        = "USER"
	TypeRepository  = "REPO"
	TypeDiff        = "DIFF"
	TypeProject     = "PROJ"
	TypeComment     = "XCMT"
)

// New returns a fresh PHID of the given type, e.g. PHID-TASK-01hq3....
func New(objectType string) string {
	return "PHID-" + objectType + "-" + strings.ToLower(ulid.Make().String())
}

// TypeOf extracts the object type from a PHID, or "" if it isn't one.
func TypeOf(p string) string {
	parts := strings.SplitN(p, "-", 3)
	if len(parts) != 3 || parts[0] != "PHID" {
		return ""
	}
	return parts[1]
}

const randomAlphabet = "abcdefghijklmnopqrstuvwxyz234567"

// RandomCharacters returns n characters drawn from a 32-symbol alphabet.
func RandomCharacters(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	for i, b := range buf {
		buf[i] = randomAlphabet[int(b)%len(randomAlphabet)]
	}
	return string(buf), nil
}
