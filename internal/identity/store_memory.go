package identity

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the dev/test fallback when no database is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	byID     map[string]Auth
	byHandle map[string]string // normalized handle -> id
}

// NewMemoryStore constructs an empty in-memory identity store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:     make(map[string]Auth),
		byHandle: make(map[string]string),
	}
}

// Create registers a new identity. Handle uniqueness is enforced on the
// normalized form.
func (s *MemoryStore) Create(ctx context.Context, in CreateInput) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}

	handle := NormalizeHandle(in.Handle)
	if handle == "" {
		return Identity{}, ErrInvalidInput
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := NewULID(now)
	if err != nil {
		return Identity{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byHandle[handle]; exists {
		return Identity{}, ErrConflict
	}

	ident := Identity{ID: id, Handle: handle, Name: in.Name, CreatedAt: now}
	s.byID[id] = Auth{Identity: ident, PasswordHash: in.PasswordHash}
	s.byHandle[handle] = id

	return ident, nil
}

// FindByID resolves an identity by its opaque id.
func (s *MemoryStore) FindByID(ctx context.Context, id string) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.byID[id]
	if !ok {
		return Identity{}, ErrNotFound
	}
	return a.Identity, nil
}

// FindByHandle resolves an identity by display handle.
func (s *MemoryStore) FindByHandle(ctx context.Context, handle string) (Identity, error) {
	a, err := s.findAuth(ctx, handle)
	if err != nil {
		return Identity{}, err
	}
	return a.Identity, nil
}

// FindAuthByHandle resolves an identity plus its password hash for login.
func (s *MemoryStore) FindAuthByHandle(ctx context.Context, handle string) (Auth, error) {
	return s.findAuth(ctx, handle)
}

func (s *MemoryStore) findAuth(ctx context.Context, handle string) (Auth, error) {
	if err := ctx.Err(); err != nil {
		return Auth{}, err
	}

	norm := NormalizeHandle(handle)
	if norm == "" {
		return Auth{}, ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byHandle[norm]
	if !ok {
		return Auth{}, ErrNotFound
	}
	return s.byID[id], nil
}
