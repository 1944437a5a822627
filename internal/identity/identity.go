// Package identity holds Plume's canonical user reference and its lookup
// boundary. An Identity is a resolved, trusted user: everything upstream of
// it (tokens, sessions) is unverified input.
package identity

import (
	"strings"
	"time"
)

// HandleSigil is the leading character of every display handle.
const HandleSigil = "@"

// Identity is the resolved user reference. Immutable once created; the
// streaming core only ever looks identities up, it never mutates them.
type Identity struct {
	ID     string `json:"id"`
	Handle string `json:"handle"`
	Name   string `json:"name,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// NormalizeHandle canonicalizes a display handle: trimmed, lower-cased,
// leading sigil required. Returns "" when the input is not a valid handle.
func NormalizeHandle(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) < 2 || !strings.HasPrefix(s, HandleSigil) {
		return ""
	}
	return s
}
