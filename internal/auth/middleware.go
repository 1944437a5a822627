package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"plume/internal/identity"
)

// SessionCookieName is the opaque cookie addressing the server-side session.
const SessionCookieName = "plume_session"

type ctxKey int

const (
	sessionKey ctxKey = iota
	identityKey
)

// SessionFromContext returns the request's session, if the session middleware
// ran. The core never reads the cookie directly; handlers consume this.
func SessionFromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionKey).(*Session)
	return s, ok
}

// IdentityFromContext returns the gate-verified identity attached by
// RequireIdentity.
func IdentityFromContext(ctx context.Context) (identity.Identity, bool) {
	id, ok := ctx.Value(identityKey).(identity.Identity)
	return id, ok
}

// SessionCookieOptions controls the session cookie transport.
type SessionCookieOptions struct {
	// Secure marks the cookie HTTPS-only. Required when SameSite=None.
	Secure bool
	// TTL bounds the cookie lifetime. Defaults to the session TTL.
	TTL time.Duration
}

// WithSession resolves the session cookie to a Session record and attaches it
// to the request context, creating a fresh record (and setting the cookie) on
// first contact with an unrecognized client.
func WithSession(next http.Handler, store SessionStore, opts SessionCookieOptions, log *slog.Logger) http.Handler {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		now := time.Now().UTC()

		var sess Session
		var known bool

		if c, err := r.Cookie(SessionCookieName); err == nil && c.Value != "" {
			s, err := store.Get(ctx, c.Value)
			switch {
			case err == nil && s.ExpiresAt.After(now):
				sess, known = s, true
			case err != nil && !errors.Is(err, ErrSessionNotFound):
				log.Error("session.load.fail", "err", err)
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
		}

		if !known {
			s, err := store.Create(ctx, now)
			if err != nil {
				log.Error("session.create.fail", "err", err)
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			sess = s

			http.SetCookie(w, &http.Cookie{
				Name:     SessionCookieName,
				Value:    sess.ID,
				Path:     "/",
				Expires:  now.Add(ttl),
				MaxAge:   int(ttl / time.Second),
				HttpOnly: true,
				Secure:   opts.Secure,
				SameSite: http.SameSiteLaxMode,
			})
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, sessionKey, &sess)))
	})
}

// RequireIdentity runs the gate and attaches the verified identity to the
// request context. Rejections terminate with a 401 before next runs.
func RequireIdentity(next http.Handler, gate *Gate, log *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, _ := SessionFromContext(r.Context())

		ident, err := gate.Authorize(r.Context(), sess, time.Now().UTC())
		if err != nil {
			log.Info("gate.reject", "code", ErrorCode(err), "path", r.URL.Path)
			WriteUnauthorized(w, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, ident)))
	})
}

// WriteUnauthorized writes the 401 JSON body for a gate rejection.
func WriteUnauthorized(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":{"code":"` + ErrorCode(err) + `","message":"unauthorized"}}` + "\n"))
}
