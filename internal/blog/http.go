package blog

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"plume/internal/auth"
	"plume/internal/identity"
	"plume/internal/stream"
)

const (
	defaultMaxBodyBytes = 64 << 10
	defaultListLimit    = 50
	maxListLimit        = 200
)

// Handler wires the publishing HTTP surface to the blog store.
type Handler struct {
	log      *slog.Logger
	store    Store
	ids      identity.Store
	sessions auth.SessionStore
	gate     *auth.Gate
}

// NewHandler constructs the blog HTTP handler.
func NewHandler(log *slog.Logger, store Store, ids identity.Store, sessions auth.SessionStore, gate *auth.Gate) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{log: log, store: store, ids: ids, sessions: sessions, gate: gate}
}

// Register wires the publishing routes onto the mux. Routes that write on
// behalf of an identity run behind the gate; reads are public except the
// notification list, which is scoped to its viewer.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}

	gated := func(fn http.HandlerFunc) http.Handler {
		return auth.RequireIdentity(fn, h.gate, h.log)
	}

	mux.Handle("POST /posts", gated(h.handleCreatePost))
	mux.HandleFunc("GET /timeline/{handles}", h.handleTimeline)

	mux.Handle("GET /notifications", gated(h.handleListNotifications))
	mux.Handle("POST /notifications/checked", gated(h.handleNotificationsChecked))
	mux.Handle("POST /notify/{handle}", gated(h.handleNotify))

	mux.HandleFunc("GET /search", h.handleSearch)
	mux.HandleFunc("GET /search/history", h.handleSearchHistory)
	mux.HandleFunc("DELETE /search/history/{id}", h.handleSearchHistoryDelete)
}

type createPostRequest struct {
	Title   string `json:"title"`
	Body    string `json:"body"`
	Publish bool   `json:"publish"`
}

func (h *Handler) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	ident, _ := auth.IdentityFromContext(r.Context())

	var req createPostRequest
	if err := decodeJSON(w, r, defaultMaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	post, err := h.store.CreatePost(r.Context(), CreatePostInput{
		AuthorHandle: ident.Handle,
		Title:        req.Title,
		Body:         req.Body,
		Publish:      req.Publish,
		Now:          time.Now().UTC(),
	})
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "invalid_request", "title is required")
			return
		}
		h.log.Error("blog.post.create.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not create post")
		return
	}

	h.log.Info("blog.post.create", "post_id", post.ID, "author", post.AuthorHandle, "status", post.Status)
	writeJSON(w, http.StatusCreated, post)
}

// handleTimeline is the catch-up read: the backlog a client fetches before
// (or instead of) attaching a live stream, filtered the same way.
func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	authors, err := stream.ParseTimelineFilter(r.PathValue("handles"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "filter_invalid", err.Error())
		return
	}

	posts, err := h.store.ListTimeline(r.Context(), authors, listLimit(r))
	if err != nil {
		h.log.Error("blog.timeline.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not load timeline")
		return
	}
	if posts == nil {
		posts = []Post{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"posts": posts})
}

func (h *Handler) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	ident, _ := auth.IdentityFromContext(r.Context())

	list, err := h.store.ListNotifications(r.Context(), ident.Handle)
	if err != nil {
		h.log.Error("blog.notifications.list.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not load notifications")
		return
	}
	if list == nil {
		list = []Notification{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": list})
}

func (h *Handler) handleNotificationsChecked(w http.ResponseWriter, r *http.Request) {
	ident, _ := auth.IdentityFromContext(r.Context())

	if err := h.store.MarkNotificationsChecked(r.Context(), ident.Handle); err != nil {
		h.log.Error("blog.notifications.check.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not update notifications")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type notifyRequest struct {
	Message string `json:"message"`
}

func (h *Handler) handleNotify(w http.ResponseWriter, r *http.Request) {
	target := r.PathValue("handle")

	if _, err := h.ids.FindByHandle(r.Context(), target); err != nil {
		if errors.Is(err, identity.ErrNotFound) || errors.Is(err, identity.ErrInvalidInput) {
			writeError(w, http.StatusNotFound, "unknown_handle", "no such user")
			return
		}
		h.log.Error("blog.notify.lookup.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not resolve target")
		return
	}

	var req notifyRequest
	if err := decodeJSON(w, r, defaultMaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	n, err := h.store.PushNotification(r.Context(), target, req.Message, time.Now().UTC())
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "invalid_request", "message is required")
			return
		}
		h.log.Error("blog.notify.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not push notification")
		return
	}

	h.log.Info("blog.notify", "notification_id", n.ID, "target", n.TargetHandle)
	writeJSON(w, http.StatusCreated, n)
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "q is required")
		return
	}

	posts, err := h.store.SearchPosts(r.Context(), query, listLimit(r))
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "invalid_request", "q is required")
			return
		}
		h.log.Error("blog.search.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "search failed")
		return
	}
	if posts == nil {
		posts = []Post{}
	}

	h.recordSearch(r, query)
	writeJSON(w, http.StatusOK, map[string]any{"posts": posts})
}

// recordSearch appends the query to the session's search history. Saves are
// last-write-wins whole-record replacements; concurrent searches on the same
// session may drop each other's entries, which is acceptable for history.
func (h *Handler) recordSearch(r *http.Request, query string) {
	sess, ok := auth.SessionFromContext(r.Context())
	if !ok || sess == nil {
		return
	}

	id, err := identity.NewULID(time.Now().UTC())
	if err != nil {
		return
	}
	sess.SearchHistory = append(sess.SearchHistory, auth.SearchEntry{ID: id, Text: query})

	if err := h.sessions.Save(r.Context(), *sess); err != nil {
		h.log.Error("blog.search.history.save.fail", "err", err)
	}
}

func (h *Handler) handleSearchHistory(w http.ResponseWriter, r *http.Request) {
	sess, ok := auth.SessionFromContext(r.Context())
	if !ok || sess == nil {
		writeError(w, http.StatusBadRequest, "no_session", "session required")
		return
	}

	history := sess.SearchHistory
	if history == nil {
		history = []auth.SearchEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

func (h *Handler) handleSearchHistoryDelete(w http.ResponseWriter, r *http.Request) {
	sess, ok := auth.SessionFromContext(r.Context())
	if !ok || sess == nil {
		writeError(w, http.StatusBadRequest, "no_session", "session required")
		return
	}

	// Filter into a fresh slice; reusing the loaded slice's backing array
	// would write into whatever the store handed out.
	id := r.PathValue("id")
	kept := make([]auth.SearchEntry, 0, len(sess.SearchHistory))
	found := false
	for _, e := range sess.SearchHistory {
		if e.ID == id {
			found = true
			continue
		}
		kept = append(kept, e)
	}
	if !found {
		writeError(w, http.StatusNotFound, "unknown_entry", "no such history entry")
		return
	}
	sess.SearchHistory = kept

	if err := h.sessions.Save(r.Context(), *sess); err != nil {
		h.log.Error("blog.search.history.save.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not update history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func listLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}
