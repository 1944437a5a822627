package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"

	"plume/internal/auth"
	"plume/internal/identity"
)

type sseFixture struct {
	server   *httptest.Server
	feed     *Feed
	registry *Registry
	sessions *auth.MemorySessionStore
	ids      *identity.MemoryStore
	creds    auth.CredentialManager
}

func newSSEFixture(t *testing.T) *sseFixture {
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
	NewSSEHandler(log, gate, reg, SSEConfig{KeepAlive: time.Minute}).Register(mux)

	server := httptest.NewServer(auth.WithSession(mux, sessions, auth.SessionCookieOptions{}, log))
	t.Cleanup(func() {
		cancel()
		server.Close()
	})

	return &sseFixture{
		server:   server,
		feed:     feed,
		registry: reg,
		sessions: sessions,
		ids:      ids,
		creds:    creds,
	}
}

// readFrameLine pulls lines off an open event stream until one matching
// prefix arrives.
func readFrameLine(t *testing.T, r *bufio.Reader, prefix string) string {
	t.Helper()

	lines := make(chan string, 1)
	errs := make(chan error, 1)
	go func() {
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				errs <- err
				return
			}
			if strings.HasPrefix(line, prefix) {
				lines <- strings.TrimSpace(line)
				return
			}
		}
	}()

	select {
	case line := <-lines:
		return line
	case err := <-errs:
		t.Fatalf("stream ended before %q frame: %v", prefix, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %q frame", prefix)
	}
	return ""
}

func waitRegistered(t *testing.T, reg *Registry, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for reg.Len() != want {
		if time.Now().After(deadline) {
			t.Fatalf("registry has %d subscriptions, want %d", reg.Len(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSSETimelineStream(t *testing.T) {
	t.Parallel()
	fx := newSSEFixture(t)

	resp, err := http.Get(fx.server.URL + "/stream/timeline/@alice&@bob")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "no-cache" {
		t.Fatalf("cache control = %q", cc)
	}

	fx.feed.Publish(postChange(OpInsert, "@alice", "published"))

	line := readFrameLine(t, bufio.NewReader(resp.Body), "data: ")
	var doc struct {
		AuthorHandle string `json:"author_handle"`
		Status       string `json:"status"`
	}
	if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &doc); err != nil {
		t.Fatalf("frame payload: %v (%q)", err, line)
	}
	if doc.AuthorHandle != "@alice" || doc.Status != "published" {
		t.Fatalf("unexpected payload: %+v", doc)
	}
}

func TestSSETimelineRejectsBadFilter(t *testing.T) {
	t.Parallel()
	fx := newSSEFixture(t)

	for _, raw := range []string{"alice", "@alice&bob", "@"} {
		resp, err := http.Get(fx.server.URL + "/stream/timeline/" + raw)
		if err != nil {
			t.Fatalf("connect: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("filter %q: status = %d, want 400", raw, resp.StatusCode)
		}
	}

	if fx.registry.Len() != 0 {
		t.Fatalf("rejected requests must not leave subscriptions behind")
	}
}

func TestSSENotificationsRequireLogin(t *testing.T) {
	t.Parallel()
	fx := newSSEFixture(t)

	resp, err := http.Get(fx.server.URL + "/stream/notifications")
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

func TestSSENotificationsStream(t *testing.T) {
	t.Parallel()
	fx := newSSEFixture(t)
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

	req, _ := http.NewRequest(http.MethodGet, fx.server.URL+"/stream/notifications", nil)
	req.AddCookie(&http.Cookie{Name: auth.SessionCookieName, Value: sess.ID})

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	// The notification for @carol arrives; one for @dave must not.
	fx.feed.Publish(notificationChange(OpInsert, "@dave"))
	fx.feed.Publish(notificationChange(OpInsert, "@carol"))

	line := readFrameLine(t, bufio.NewReader(resp.Body), "data: ")
	var doc struct {
		TargetHandle string `json:"target_handle"`
	}
	if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &doc); err != nil {
		t.Fatalf("frame payload: %v (%q)", err, line)
	}
	if doc.TargetHandle != "@carol" {
		t.Fatalf("first frame targeted %q, want @carol", doc.TargetHandle)
	}
}

func TestSSECloseFrameOnUpstreamFailure(t *testing.T) {
	t.Parallel()
	fx := newSSEFixture(t)

	resp, err := http.Get(fx.server.URL + "/stream/timeline/@alice")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	waitRegistered(t, fx.registry, 1)

	fx.feed.Fail(ErrUpstreamUnavailable)

	r := bufio.NewReader(resp.Body)
	if line := readFrameLine(t, r, "event: "); line != "event: close" {
		t.Fatalf("got %q, want close event", line)
	}
	line := readFrameLine(t, r, "data: ")
	if !strings.Contains(line, "upstream_unavailable") {
		t.Fatalf("close frame %q missing error code", line)
	}

	waitRegistered(t, fx.registry, 0)
}
