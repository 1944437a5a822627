package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"plume/internal/auth"
)

const (
	defaultQueueSize    = 256
	defaultKeepAlive    = 25 * time.Second
	defaultWriteTimeout = 5 * time.Second
)

// SSEConfig tunes the per-connection stream sessions.
type SSEConfig struct {
	QueueSize    int
	KeepAlive    time.Duration
	WriteTimeout time.Duration
}

func (c SSEConfig) withDefaults() SSEConfig {
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = defaultKeepAlive
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	return c
}

// SSEHandler serves the two event-stream endpoints. Each request runs one
// stream session: handshake, register exactly one subscription, idle until
// the connection dies, unregister before the handler returns.
type SSEHandler struct {
	log  *slog.Logger
	gate *auth.Gate
	reg  *Registry
	cfg  SSEConfig
}

// NewSSEHandler constructs the SSE endpoint handler.
func NewSSEHandler(log *slog.Logger, gate *auth.Gate, reg *Registry, cfg SSEConfig) *SSEHandler {
	return &SSEHandler{log: log, gate: gate, reg: reg, cfg: cfg.withDefaults()}
}

// Register wires the stream routes onto the mux. The session middleware must
// wrap the mux so the notification feed can consult the gate.
func (h *SSEHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /stream/timeline/{handles}", h.handleTimeline)
	mux.HandleFunc("GET /stream/notifications", h.handleNotifications)
}

// handleTimeline serves the public timeline feed. The filter is validated
// before the connection enters its lifecycle.
func (h *SSEHandler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	authors, err := ParseTimelineFilter(r.PathValue("handles"))
	if err != nil {
		writeStreamError(w, http.StatusBadRequest, "filter_invalid", err.Error())
		return
	}

	sink := NewSubscriber(h.cfg.QueueSize)
	handle := h.reg.RegisterTimeline(authors, sink)
	h.serve(w, r, handle, sink)
}

// handleNotifications serves the authenticated notification feed. The gate
// decides before any subscription exists; rejections are 401s at handshake,
// never surfaced mid-stream.
func (h *SSEHandler) handleNotifications(w http.ResponseWriter, r *http.Request) {
	sess, _ := auth.SessionFromContext(r.Context())
	ident, err := h.gate.Authorize(r.Context(), sess, time.Now().UTC())
	if err != nil {
		h.log.Info("sse.reject", "code", auth.ErrorCode(err))
		auth.WriteUnauthorized(w, err)
		return
	}

	sink := NewSubscriber(h.cfg.QueueSize)
	handle := h.reg.RegisterNotifications(ident.Handle, sink)
	h.serve(w, r, handle, sink)
}

// serve owns the Open phase of the session: handshake, write loop, and the
// synchronous unregister on every exit path.
func (h *SSEHandler) serve(w http.ResponseWriter, r *http.Request, handle Handle, sink *Subscriber) {
	// Cleanup must complete before the handler returns, never deferred to a
	// background sweep: the next dispatch cycle must not see this handle.
	defer h.reg.Unregister(handle)
	defer sink.Close(nil)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeStreamError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer cannot stream")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	rc := http.NewResponseController(w)
	keepAlive := time.NewTicker(h.cfg.KeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-sink.Done():
			// Closed from the router side: tap failure or slow-subscriber
			// cut. Tell the client why before ending cleanly.
			if reason := sink.Reason(); reason != nil {
				_ = h.writeFrame(rc, w, flusher, closeFrame(reason))
			}
			return

		case <-keepAlive.C:
			// Comment frame: defeats idle-timeout proxies, invisible to
			// EventSource consumers.
			if err := h.writeFrame(rc, w, flusher, []byte(": keep-alive\n\n")); err != nil {
				h.log.Info("sse.keepalive.fail", "err", err)
				return
			}

		case ev := <-sink.Events():
			frame := fmt.Sprintf("data: %s\n\n", ev.Payload)
			if err := h.writeFrame(rc, w, flusher, []byte(frame)); err != nil {
				h.log.Info("sse.write.fail", "err", err)
				return
			}
		}
	}
}

// writeFrame serializes one frame with a bounded write deadline. Writes are
// serialized per session by virtue of the single serve loop.
func (h *SSEHandler) writeFrame(rc *http.ResponseController, w http.ResponseWriter, flusher http.Flusher, frame []byte) error {
	if err := rc.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func closeFrame(reason error) []byte {
	code := "closed"
	switch {
	case errors.Is(reason, ErrUpstreamUnavailable):
		code = "upstream_unavailable"
	case errors.Is(reason, ErrWriteTimeout):
		code = "write_timeout"
	}
	b, _ := json.Marshal(map[string]string{"error": code})
	return []byte(fmt.Sprintf("event: close\ndata: %s\n\n", b))
}

func writeStreamError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	b, _ := json.Marshal(map[string]map[string]string{"error": {"code": code, "message": msg}})
	_, _ = w.Write(append(b, '\n'))
}
