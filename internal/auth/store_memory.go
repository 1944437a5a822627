package auth

import (
	"context"
	"sync"
	"time"

	"plume/internal/identity"
)

const defaultSessionTTL = 24 * time.Hour

// MemorySessionStore is the dev/test fallback when no database is configured.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// NewMemorySessionStore constructs an empty in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]Session)}
}

// Create allocates a fresh logged-out session record.
func (s *MemorySessionStore) Create(ctx context.Context, now time.Time) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := identity.NewULID(now)
	if err != nil {
		return Session{}, err
	}

	sess := Session{
		ID:        id,
		CreatedAt: now,
		ExpiresAt: now.Add(defaultSessionTTL),
	}

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()

	return sess, nil
}

// Get loads a session record by id.
func (s *MemorySessionStore) Get(ctx context.Context, id string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	// Hand back a private history slice: two requests loading the same
	// session must never append into one shared backing array.
	sess.SearchHistory = cloneHistory(sess.SearchHistory)
	return sess, nil
}

// Save replaces the stored record. Last write wins.
func (s *MemorySessionStore) Save(ctx context.Context, sess Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if sess.ID == "" {
		return ErrSessionNotFound
	}

	// Detach from the caller's slice so later in-place edits on the request's
	// copy cannot reach into the stored record.
	sess.SearchHistory = cloneHistory(sess.SearchHistory)

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	return nil
}

func cloneHistory(history []SearchEntry) []SearchEntry {
	if history == nil {
		return nil
	}
	out := make([]SearchEntry, len(history))
	copy(out, history)
	return out
}
