package identity

import (
	"context"
	"time"
)

// CreateInput describes a registration request. Handle must carry the sigil.
type CreateInput struct {
	Handle       string
	Name         string
	PasswordHash string
	Now          time.Time
}

// Auth pairs an identity with its stored password hash for login checks.
// The hash never leaves the auth surface.
type Auth struct {
	Identity     Identity
	PasswordHash string
}

// Store is the identity lookup boundary. The streaming core depends only on
// FindByID and FindByHandle; Create and FindAuthByHandle serve the auth surface.
type Store interface {
	Create(ctx context.Context, in CreateInput) (Identity, error)

	// FindByID resolves a verified credential subject. Returns ErrNotFound
	// when the identity was deleted after the credential was issued.
	FindByID(ctx context.Context, id string) (Identity, error)

	FindByHandle(ctx context.Context, handle string) (Identity, error)

	FindAuthByHandle(ctx context.Context, handle string) (Auth, error)
}
