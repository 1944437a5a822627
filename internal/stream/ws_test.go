package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"
	"github.com/coder/websocket"

	"plume/internal/auth"
	"plume/internal/identity"
)

type wsFixture struct {
	server   *httptest.Server
	feed     *Feed
	registry *Registry
	sessions *auth.MemorySessionStore
	ids      *identity.MemoryStore
	creds    auth.CredentialManager
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()

	log := testLogger()
	feed := NewFeed()
	reg := NewRegistry(nil)
	tap := NewTap(log, feed, nil)
	router := NewRouter(log, tap, reg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = router.Run(ctx) }()

	ids := identity.NewMemoryStore()
	creds, err := auth.NewPasetoManager(auth.CredentialConfig{
		Issuer:       "plume-test",
		TTL:          time.Hour,
		SecretKeyHex: paseto.NewV4AsymmetricSecretKey().ExportHex(),
	})
	if err != nil {
		t.Fatalf("credential manager: %v", err)
	}
	gate := auth.NewGate(auth.NewVerifier(creds, ids))
	sessions := auth.NewMemorySessionStore()

	mux := http.NewServeMux()
	gw := NewWSGateway(log, gate, reg, WSConfig{})
	mux.HandleFunc("GET /stream/ws", gw.HandleWS)

	server := httptest.NewServer(auth.WithSession(mux, sessions, auth.SessionCookieOptions{}, log))
	t.Cleanup(func() {
		cancel()
		server.Close()
	})

	return &wsFixture{
		server:   server,
		feed:     feed,
		registry: reg,
		sessions: sessions,
		ids:      ids,
		creds:    creds,
	}
}

func dialWS(t *testing.T, fx *wsFixture, path string, header http.Header) *websocket.Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := strings.Replace(fx.server.URL, "http", "ws", 1) + path
	conn, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") })
	return conn
}

func readWSFrame(t *testing.T, conn *websocket.Conn) wsFrame {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var f wsFrame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("frame json: %v (%s)", err, data)
	}
	return f
}

func wsFrameAuthor(t *testing.T, f wsFrame) string {
	t.Helper()
	var doc struct {
		AuthorHandle string `json:"author_handle"`
	}
	if err := json.Unmarshal(f.Payload, &doc); err != nil {
		t.Fatalf("frame payload: %v (%s)", err, f.Payload)
	}
	return doc.AuthorHandle
}

func TestWSTimelineMultiHandleFilter(t *testing.T) {
	t.Parallel()
	fx := newWSFixture(t)

	conn := dialWS(t, fx, "/stream/ws?feed=timeline&filter=@alice,@bob", nil)
	waitRegistered(t, fx.registry, 1)

	// Every handle in the filter is live: a @bob post must reach a
	// {@alice,@bob} subscription, not just the first handle's.
	fx.feed.Publish(postChange(OpInsert, "@bob", "published"))

	frame := readWSFrame(t, conn)
	if frame.Feed != "timeline" {
		t.Fatalf("frame feed = %q, want timeline", frame.Feed)
	}
	if got := wsFrameAuthor(t, frame); got != "@bob" {
		t.Fatalf("frame author = %q, want @bob", got)
	}

	// An out-of-filter author never leaks: the next frame skips @carol.
	fx.feed.Publish(postChange(OpInsert, "@carol", "published"))
	fx.feed.Publish(postChange(OpInsert, "@alice", "published"))
	if got := wsFrameAuthor(t, readWSFrame(t, conn)); got != "@alice" {
		t.Fatalf("frame author = %q, want @alice", got)
	}
}

func TestWSTimelineRepeatedFilterValues(t *testing.T) {
	t.Parallel()
	fx := newWSFixture(t)

	conn := dialWS(t, fx, "/stream/ws?feed=timeline&filter=@alice&filter=@bob", nil)
	waitRegistered(t, fx.registry, 1)

	fx.feed.Publish(postChange(OpInsert, "@bob", "published"))
	if got := wsFrameAuthor(t, readWSFrame(t, conn)); got != "@bob" {
		t.Fatalf("frame author = %q, want @bob", got)
	}
}

func TestWSRejectsMalformedQuery(t *testing.T) {
	t.Parallel()
	fx := newWSFixture(t)

	// Rejections happen before the upgrade, so a plain GET sees the status.
	cases := []string{
		"/stream/ws?feed=timeline&filter=@alice&@bob", // path-style delimiter leaking into the query
		"/stream/ws?feed=timeline&filter=@alice&extra=1",
		"/stream/ws?feed=timeline",
		"/stream/ws?feed=timeline&filter=alice",
		"/stream/ws?feed=posts",
		"/stream/ws",
	}
	for _, path := range cases {
		resp, err := http.Get(fx.server.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("GET %s: status = %d, want 400", path, resp.StatusCode)
		}
	}

	if fx.registry.Len() != 0 {
		t.Fatalf("rejected requests must not leave subscriptions behind")
	}
}

func TestWSNotificationsRequireLogin(t *testing.T) {
	t.Parallel()
	fx := newWSFixture(t)

	resp, err := http.Get(fx.server.URL + "/stream/ws?feed=notifications")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Error.Code != "missing_credential" {
		t.Fatalf("error code = %q, want missing_credential", body.Error.Code)
	}
	if fx.registry.Len() != 0 {
		t.Fatalf("rejected viewer must not hold a subscription")
	}
}

func TestWSNotificationsStream(t *testing.T) {
	t.Parallel()
	fx := newWSFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	ident, err := fx.ids.Create(ctx, identity.CreateInput{
		Handle: "@carol", Name: "Carol", PasswordHash: "x", Now: now,
	})
	if err != nil {
		t.Fatalf("create identity: %v", err)
	}

	cred, err := fx.creds.Issue(ident.ID, now)
	if err != nil {
		t.Fatalf("issue credential: %v", err)
	}
	sess, err := fx.sessions.Create(ctx, now)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	sess.SetCredential(cred)
	if err := fx.sessions.Save(ctx, sess); err != nil {
		t.Fatalf("save session: %v", err)
	}

	header := http.Header{}
	header.Add("Cookie", (&http.Cookie{Name: auth.SessionCookieName, Value: sess.ID}).String())

	conn := dialWS(t, fx, "/stream/ws?feed=notifications", header)
	waitRegistered(t, fx.registry, 1)

	// The notification for @carol arrives; one for @dave must not.
	fx.feed.Publish(notificationChange(OpInsert, "@dave"))
	fx.feed.Publish(notificationChange(OpInsert, "@carol"))

	frame := readWSFrame(t, conn)
	if frame.Feed != "notification" {
		t.Fatalf("frame feed = %q, want notification", frame.Feed)
	}
	var doc struct {
		TargetHandle string `json:"target_handle"`
	}
	if err := json.Unmarshal(frame.Payload, &doc); err != nil {
		t.Fatalf("frame payload: %v", err)
	}
	if doc.TargetHandle != "@carol" {
		t.Fatalf("first frame targeted %q, want @carol", doc.TargetHandle)
	}
}

func TestWSCloseReasonOnUpstreamFailure(t *testing.T) {
	t.Parallel()
	fx := newWSFixture(t)

	conn := dialWS(t, fx, "/stream/ws?feed=timeline&filter=@alice", nil)
	waitRegistered(t, fx.registry, 1)

	fx.feed.Fail(ErrUpstreamUnavailable)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	if err == nil {
		t.Fatalf("expected the socket to close after upstream failure")
	}

	var ce websocket.CloseError
	if !errors.As(err, &ce) {
		t.Fatalf("expected a close frame, got %v", err)
	}
	if ce.Code != websocket.StatusGoingAway {
		t.Fatalf("close status = %v, want going away", ce.Code)
	}
	if ce.Reason != "upstream unavailable" {
		t.Fatalf("close reason = %q", ce.Reason)
	}

	waitRegistered(t, fx.registry, 0)
}
