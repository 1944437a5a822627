package authapi

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"

	"plume/internal/auth"
	"plume/internal/identity"
)

func newTestServer(t *testing.T) (*httptest.Server, *http.Client) {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ids := identity.NewMemoryStore()
	sessions := auth.NewMemorySessionStore()

	creds, err := auth.NewPasetoManager(auth.CredentialConfig{
		Issuer:       "plume-test",
		TTL:          time.Hour,
		SecretKeyHex: paseto.NewV4AsymmetricSecretKey().ExportHex(),
	})
	if err != nil {
		t.Fatalf("credential manager: %v", err)
	}
	gate := auth.NewGate(auth.NewVerifier(creds, ids))

	mux := http.NewServeMux()
	NewHandler(log, ids, sessions, creds, gate).Register(mux)

	server := httptest.NewServer(auth.WithSession(mux, sessions, auth.SessionCookieOptions{}, log))
	t.Cleanup(server.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return server, &http.Client{Jar: jar}
}

func post(t *testing.T, client *http.Client, url, body string) *http.Response {
	t.Helper()
	resp, err := client.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func get(t *testing.T, client *http.Client, url string) *http.Response {
	t.Helper()
	resp, err := client.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Error.Code
}

func TestRegisterValidation(t *testing.T) {
	t.Parallel()
	server, client := newTestServer(t)

	resp := post(t, client, server.URL+"/auth/register", `{"handle":"alice","name":"A","password":"long-enough-pw"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("sigil-less handle: status = %d, want 400", resp.StatusCode)
	}

	resp = post(t, client, server.URL+"/auth/register", `{"handle":"@alice","name":"A","password":"short"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("short password: status = %d, want 400", resp.StatusCode)
	}
	if code := errorCode(t, resp); code != "invalid_password" {
		t.Fatalf("error code = %q", code)
	}

	resp = post(t, client, server.URL+"/auth/register", `{"handle":"@alice","name":"A","password":"long-enough-pw"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register: status = %d, want 201", resp.StatusCode)
	}

	resp = post(t, client, server.URL+"/auth/register", `{"handle":"@ALICE","name":"A2","password":"long-enough-pw"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate handle: status = %d, want 409", resp.StatusCode)
	}
}

func TestLoginLogoutFlow(t *testing.T) {
	t.Parallel()
	server, client := newTestServer(t)

	resp := post(t, client, server.URL+"/auth/register", `{"handle":"@alice","name":"Alice","password":"correct-horse-battery"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register: status = %d", resp.StatusCode)
	}

	// Unauthenticated echo rejects with missing_credential.
	resp = get(t, client, server.URL+"/me")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("pre-login /me: status = %d, want 401", resp.StatusCode)
	}
	if code := errorCode(t, resp); code != "missing_credential" {
		t.Fatalf("pre-login code = %q", code)
	}

	resp = post(t, client, server.URL+"/auth/login", `{"handle":"@alice","password":"wrong-password-here"}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong password: status = %d, want 401", resp.StatusCode)
	}

	resp = post(t, client, server.URL+"/auth/login", `{"handle":"@Alice","password":"correct-horse-battery"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: status = %d, want 200", resp.StatusCode)
	}
	var login struct {
		Identity identity.Identity `json:"identity"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&login); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	if login.Identity.Handle != "@alice" {
		t.Fatalf("login identity = %+v", login.Identity)
	}

	resp = get(t, client, server.URL+"/me")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("post-login /me: status = %d, want 200", resp.StatusCode)
	}

	resp = post(t, client, server.URL+"/auth/logout", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout: status = %d, want 200", resp.StatusCode)
	}

	// The credential is still embedded but no longer honored.
	resp = get(t, client, server.URL+"/me")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("post-logout /me: status = %d, want 401", resp.StatusCode)
	}
	if code := errorCode(t, resp); code != "logged_out" {
		t.Fatalf("post-logout code = %q, want logged_out", code)
	}

	// Logging back in replaces the credential and restores access.
	resp = post(t, client, server.URL+"/auth/login", `{"handle":"@alice","password":"correct-horse-battery"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("re-login: status = %d, want 200", resp.StatusCode)
	}
	resp = get(t, client, server.URL+"/me")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("post-re-login /me: status = %d, want 200", resp.StatusCode)
	}
}

func TestLoginUnknownHandle(t *testing.T) {
	t.Parallel()
	server, client := newTestServer(t)

	resp := post(t, client, server.URL+"/auth/login", `{"handle":"@ghost","password":"whatever-it-is"}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if code := errorCode(t, resp); code != "invalid_login" {
		t.Fatalf("error code = %q, want invalid_login", code)
	}
}
