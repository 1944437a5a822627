package auth

import (
	"context"
	"errors"
	"time"
)

// SearchEntry is one recorded search query.
type SearchEntry struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Session is the server-side record addressed by the opaque session cookie.
// It is created on first contact with an unrecognized client and persists
// across logout: logout only flips LoggedIn, the record stays.
//
// Concurrent requests against the same session resolve last-write-wins; the
// store replaces the whole record on Save.
type Session struct {
	ID         string
	Credential *Credential
	LoggedIn   bool

	SearchHistory []SearchEntry

	CreatedAt time.Time
	ExpiresAt time.Time
}

// SetCredential embeds a credential into the session, replacing any previous
// one. At most one credential is authoritative per session at any instant.
func (s *Session) SetCredential(c Credential) {
	s.Credential = &c
	s.LoggedIn = true
}

// Logout flips the validity flag only. The record, including the stale
// credential, persists.
func (s *Session) Logout() {
	s.LoggedIn = false
}

// ErrSessionNotFound is returned when a session id does not resolve.
var ErrSessionNotFound = errors.New("session not found")

// SessionStore abstracts persistence for session records.
type SessionStore interface {
	Create(ctx context.Context, now time.Time) (Session, error)
	Get(ctx context.Context, id string) (Session, error)

	// Save replaces the stored record (last-write-wins).
	Save(ctx context.Context, s Session) error
}
