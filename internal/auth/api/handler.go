// Package authapi exposes the account HTTP surface: register, login, logout,
// and the identity echo. Login embeds the issued credential in the caller's
// session; it never leaves the server.
package authapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"plume/internal/auth"
	"plume/internal/identity"
	"plume/internal/security/password"
)

const defaultMaxBodyBytes = 16 << 10

// Handler wires the account endpoints to identity and session services.
type Handler struct {
	log      *slog.Logger
	ids      identity.Store
	sessions auth.SessionStore
	creds    auth.CredentialManager
	gate     *auth.Gate

	hashParams password.Params

	// dummyHash absorbs the verify cost for unknown handles so login timing
	// does not reveal whether a handle exists.
	dummyHash string
}

// NewHandler constructs the account handler.
func NewHandler(log *slog.Logger, ids identity.Store, sessions auth.SessionStore, creds auth.CredentialManager, gate *auth.Gate) *Handler {
	if log == nil {
		log = slog.Default()
	}

	h := &Handler{
		log:        log,
		ids:        ids,
		sessions:   sessions,
		creds:      creds,
		gate:       gate,
		hashParams: password.DefaultParams(),
	}
	if hash, err := password.Hash("dummy-password-for-timing-only", h.hashParams); err == nil {
		h.dummyHash = hash
	}
	return h
}

// Register wires the account routes onto the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("POST /auth/register", h.handleRegister)
	mux.HandleFunc("POST /auth/login", h.handleLogin)
	mux.HandleFunc("POST /auth/logout", h.handleLogout)
	mux.Handle("GET /me", auth.RequireIdentity(http.HandlerFunc(h.handleMe), h.gate, h.log))
}

type registerRequest struct {
	Handle   string `json:"handle"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, defaultMaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	if identity.NormalizeHandle(req.Handle) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "handle must start with @")
		return
	}

	hash, err := password.Hash(req.Password, h.hashParams)
	if err != nil {
		switch {
		case errors.Is(err, password.ErrPasswordTooShort), errors.Is(err, password.ErrPasswordTooLong):
			writeError(w, http.StatusBadRequest, "invalid_password", err.Error())
		default:
			h.log.Error("auth.register.hash.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "internal", "could not register")
		}
		return
	}

	ident, err := h.ids.Create(r.Context(), identity.CreateInput{
		Handle:       req.Handle,
		Name:         strings.TrimSpace(req.Name),
		PasswordHash: hash,
		Now:          time.Now().UTC(),
	})
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrConflict):
			writeError(w, http.StatusConflict, "handle_taken", "handle already registered")
		case errors.Is(err, identity.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, "invalid_request", "handle must start with @")
		default:
			h.log.Error("auth.register.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "internal", "could not register")
		}
		return
	}

	h.log.Info("auth.register", "handle", ident.Handle)
	writeJSON(w, http.StatusCreated, ident)
}

type loginRequest struct {
	Handle   string `json:"handle"`
	Password string `json:"password"`
}

type loginResponse struct {
	Identity  identity.Identity `json:"identity"`
	ExpiresAt time.Time         `json:"expires_at"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	sess, ok := auth.SessionFromContext(r.Context())
	if !ok || sess == nil {
		writeError(w, http.StatusInternalServerError, "internal", "session middleware missing")
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, defaultMaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()

	a, err := h.ids.FindAuthByHandle(ctx, req.Handle)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) || errors.Is(err, identity.ErrInvalidInput) {
			// Burn the same hashing cost as a real check.
			_, _ = password.Verify(req.Password, h.dummyHash)
			writeError(w, http.StatusUnauthorized, "invalid_login", "unknown handle or wrong password")
			return
		}
		h.log.Error("auth.login.lookup.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not log in")
		return
	}

	match, err := password.Verify(req.Password, a.PasswordHash)
	if err != nil || !match {
		writeError(w, http.StatusUnauthorized, "invalid_login", "unknown handle or wrong password")
		return
	}

	cred, err := h.creds.Issue(a.Identity.ID, now)
	if err != nil {
		h.log.Error("auth.login.issue.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not log in")
		return
	}

	// Embedding replaces any previous credential: one login per session.
	sess.SetCredential(cred)
	if err := h.sessions.Save(ctx, *sess); err != nil {
		h.log.Error("auth.login.session.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not log in")
		return
	}

	h.log.Info("auth.login", "handle", a.Identity.Handle)
	writeJSON(w, http.StatusOK, loginResponse{Identity: a.Identity, ExpiresAt: cred.ExpiresAt})
}

// handleLogout flips the session's validity flag. The record and its stale
// credential persist; the gate treats the pair as logged out from now on.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess, ok := auth.SessionFromContext(r.Context())
	if !ok || sess == nil {
		writeError(w, http.StatusInternalServerError, "internal", "session middleware missing")
		return
	}

	sess.Logout()
	if err := h.sessions.Save(r.Context(), *sess); err != nil {
		h.log.Error("auth.logout.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not log out")
		return
	}

	h.log.Info("auth.logout", "session_id", sess.ID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	ident, _ := auth.IdentityFromContext(r.Context())
	writeJSON(w, http.StatusOK, ident)
}
