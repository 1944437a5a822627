package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"

	"plume/internal/auth"
)

const wsPingInterval = 25 * time.Second

// WSConfig tunes the WebSocket stream transport.
type WSConfig struct {
	QueueSize    int
	WriteTimeout time.Duration

	// OriginPatterns authorizes cross-origin upgrades (host patterns).
	OriginPatterns []string
}

// WSGateway is the WebSocket variant of the stream surface. It carries the
// same two feed kinds as the SSE endpoints for clients that prefer a socket;
// subscriptions, filters, and the gate behave identically.
type WSGateway struct {
	log  *slog.Logger
	gate *auth.Gate
	reg  *Registry
	cfg  WSConfig
}

// NewWSGateway constructs the WebSocket stream gateway.
func NewWSGateway(log *slog.Logger, gate *auth.Gate, reg *Registry, cfg WSConfig) *WSGateway {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	return &WSGateway{log: log, gate: gate, reg: reg, cfg: cfg}
}

// wsFrame is the JSON envelope written for each delivered event.
type wsFrame struct {
	Feed    string          `json:"feed"`
	Payload json.RawMessage `json:"payload"`
}

// HandleWS upgrades the request and runs the stream session.
// Query params: feed=timeline&filter=@a,@b (comma-separated or repeated
// filter= values), or feed=notifications.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	var (
		sink   *Subscriber
		handle Handle
	)

	query := r.URL.Query()

	// An unexpected key usually means a client separated filter handles with
	// "&", which the query parser reads as new parameters. Reject instead of
	// silently narrowing the subscription.
	for key := range query {
		switch key {
		case "feed", "filter":
		default:
			writeStreamError(w, http.StatusBadRequest, "filter_invalid",
				"unexpected query parameter "+strconv.Quote(key)+"; separate filter handles with "+strconv.Quote(QueryFilterDelimiter))
			return
		}
	}

	// Authorize and validate the filter before the upgrade: no subscription
	// may ever exist for a rejected viewer.
	switch query.Get("feed") {
	case "timeline":
		authors, err := ParseTimelineFilterValues(query["filter"])
		if err != nil {
			writeStreamError(w, http.StatusBadRequest, "filter_invalid", err.Error())
			return
		}
		sink = NewSubscriber(g.cfg.QueueSize)
		handle = g.reg.RegisterTimeline(authors, sink)

	case "notifications":
		sess, _ := auth.SessionFromContext(r.Context())
		ident, err := g.gate.Authorize(r.Context(), sess, time.Now().UTC())
		if err != nil {
			g.log.Info("ws.reject", "code", auth.ErrorCode(err))
			auth.WriteUnauthorized(w, err)
			return
		}
		sink = NewSubscriber(g.cfg.QueueSize)
		handle = g.reg.RegisterNotifications(ident.Handle, sink)

	default:
		writeStreamError(w, http.StatusBadRequest, "filter_invalid", "feed must be timeline or notifications")
		return
	}

	defer g.reg.Unregister(handle)
	defer sink.Close(nil)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: g.cfg.OriginPatterns,
	})
	if err != nil {
		g.log.Info("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reads are drained only to detect peer close.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	feedName := KindTimeline.String()
	if query.Get("feed") == "notifications" {
		feedName = KindNotification.String()
	}

	for {
		select {
		case <-ctx.Done():
			return

		case <-sink.Done():
			if reason := sink.Reason(); reason != nil {
				_ = conn.Close(websocket.StatusGoingAway, wsCloseReason(reason))
			}
			return

		case <-ping.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, g.cfg.WriteTimeout)
			err := conn.Ping(pingCtx)
			pingCancel()
			if err != nil {
				g.log.Info("ws.ping.fail", "err", err)
				return
			}

		case ev := <-sink.Events():
			if err := g.writeEvent(ctx, conn, feedName, ev); err != nil {
				g.log.Info("ws.write.fail", "close_status", websocket.CloseStatus(err), "err", err)
				return
			}
		}
	}
}

func (g *WSGateway) writeEvent(parent context.Context, conn *websocket.Conn, feed string, ev Event) error {
	ctx, cancel := context.WithTimeout(parent, g.cfg.WriteTimeout)
	defer cancel()

	b, err := json.Marshal(wsFrame{Feed: feed, Payload: ev.Payload})
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

func wsCloseReason(reason error) string {
	switch {
	case errors.Is(reason, ErrUpstreamUnavailable):
		return "upstream unavailable"
	case errors.Is(reason, ErrWriteTimeout):
		return "write timeout"
	default:
		return "closed"
	}
}
