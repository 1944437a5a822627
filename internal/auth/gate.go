package auth

import (
	"context"
	"time"

	"plume/internal/identity"
)

// Gate is the request-scoped authorization decision: it composes the
// Verifier with the per-request session and decides authorize/reject before
// downstream handlers run. The Identity it returns is the only trust anchor
// downstream code may rely on.
type Gate struct {
	verifier *Verifier
}

// NewGate constructs a Gate over a Verifier.
func NewGate(verifier *Verifier) *Gate {
	return &Gate{verifier: verifier}
}

// Authorize decides whether the session's holder is a trusted actor.
//
// A session holding a credential but with LoggedIn=false fails ErrLoggedOut:
// "has a token" is not "currently active". Sessions without any credential
// fall through to the verifier, which reports ErrMissingCredential.
func (g *Gate) Authorize(ctx context.Context, sess *Session, now time.Time) (identity.Identity, error) {
	if sess == nil {
		return identity.Identity{}, ErrLoggedOut
	}

	token := ""
	if sess.Credential != nil {
		token = sess.Credential.Token
	}

	if token != "" && !sess.LoggedIn {
		return identity.Identity{}, ErrLoggedOut
	}

	return g.verifier.Verify(ctx, token, now)
}
