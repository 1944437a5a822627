package auth

import "errors"

// Authorization failure taxonomy. Every gate rejection maps to exactly one of
// these; handlers translate them to a 401 before any subscription is created.
var (
	// ErrMissingCredential is returned when no credential is present at all.
	ErrMissingCredential = errors.New("missing credential")

	// ErrExpired is returned when the credential signature is valid but its
	// expiry has passed.
	ErrExpired = errors.New("credential expired")

	// ErrMalformed is returned when the signature check fails for any other
	// reason: tampered, wrong key, wrong structure, wrong issuer.
	ErrMalformed = errors.New("credential malformed")

	// ErrUnknownIdentity is returned when a verified subject no longer exists
	// in the identity store (deletion-after-issue race).
	ErrUnknownIdentity = errors.New("unknown identity")

	// ErrLoggedOut is returned when a session holds a credential but is no
	// longer active. A stale token from a prior login must not authorize.
	ErrLoggedOut = errors.New("logged out")
)

// ErrorCode maps an authorization failure to a stable API error code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrMissingCredential):
		return "missing_credential"
	case errors.Is(err, ErrExpired):
		return "credential_expired"
	case errors.Is(err, ErrMalformed):
		return "credential_malformed"
	case errors.Is(err, ErrUnknownIdentity):
		return "unknown_identity"
	case errors.Is(err, ErrLoggedOut):
		return "logged_out"
	default:
		return "unauthorized"
	}
}
