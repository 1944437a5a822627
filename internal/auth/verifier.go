package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"plume/internal/identity"
)

// Verifier turns a raw bearer credential into a trusted identity.
// Pure verification: it has no side effects, callers decide what to do with
// the result.
type Verifier struct {
	creds CredentialManager
	ids   identity.Store
}

// NewVerifier constructs a Verifier over a credential manager and the
// identity lookup boundary.
func NewVerifier(creds CredentialManager, ids identity.Store) *Verifier {
	return &Verifier{creds: creds, ids: ids}
}

// Verify checks a raw credential and resolves its subject.
//
// Failure order: empty input (ErrMissingCredential), signature/structure
// (ErrMalformed), time bound (ErrExpired), then subject resolution
// (ErrUnknownIdentity) to cover deletion-after-issue races.
func (v *Verifier) Verify(ctx context.Context, rawCredential string, now time.Time) (identity.Identity, error) {
	raw := strings.TrimSpace(rawCredential)
	if raw == "" {
		return identity.Identity{}, ErrMissingCredential
	}

	claims, err := v.creds.Verify(raw, now)
	if err != nil {
		return identity.Identity{}, err
	}

	ident, err := v.ids.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return identity.Identity{}, ErrUnknownIdentity
		}
		return identity.Identity{}, err
	}

	return ident, nil
}
