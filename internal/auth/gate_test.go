package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"plume/internal/identity"
)

func TestGateAuthorize(t *testing.T) {
	t.Parallel()

	ids := identity.NewMemoryStore()
	carol := seedIdentity(t, ids, "@carol")

	mgr := testManager(t, time.Minute)
	gate := NewGate(NewVerifier(mgr, ids))

	ctx := context.Background()
	now := time.Now().UTC()

	cred, err := mgr.Issue(carol.ID, now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	cases := []struct {
		name    string
		sess    *Session
		wantErr error
	}{
		{name: "nil session", sess: nil, wantErr: ErrLoggedOut},
		{name: "fresh session no credential", sess: &Session{ID: "s1"}, wantErr: ErrMissingCredential},
		{
			name:    "logged out with valid credential",
			sess:    &Session{ID: "s2", Credential: &cred, LoggedIn: false},
			wantErr: ErrLoggedOut,
		},
		{
			name:    "logged in with tampered credential",
			sess:    &Session{ID: "s3", Credential: &Credential{Token: "v4.public.bogus"}, LoggedIn: true},
			wantErr: ErrMalformed,
		},
		{
			name: "logged in with valid credential",
			sess: &Session{ID: "s4", Credential: &cred, LoggedIn: true},
		},
	}

	for _, tc := range cases {
		got, err := gate.Authorize(ctx, tc.sess, now)
		if tc.wantErr != nil {
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("%s: expected %v, got %v", tc.name, tc.wantErr, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		if got.Handle != "@carol" {
			t.Fatalf("%s: wrong identity: %+v", tc.name, got)
		}
	}
}

func TestGateLoggedOutBeatsExpiry(t *testing.T) {
	t.Parallel()

	ids := identity.NewMemoryStore()
	carol := seedIdentity(t, ids, "@carol")

	mgr := testManager(t, time.Minute)
	gate := NewGate(NewVerifier(mgr, ids))

	now := time.Now().UTC()
	cred, err := mgr.Issue(carol.ID, now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// A stale token from a prior login never authorizes, however it would
	// otherwise verify.
	sess := &Session{ID: "s1", Credential: &cred, LoggedIn: false}
	if _, err := gate.Authorize(context.Background(), sess, now.Add(2*time.Hour)); !errors.Is(err, ErrLoggedOut) {
		t.Fatalf("expected ErrLoggedOut, got %v", err)
	}
}

func TestSessionCredentialReplacement(t *testing.T) {
	t.Parallel()

	sess := Session{ID: "s1"}
	first := Credential{Token: "t1"}
	second := Credential{Token: "t2"}

	sess.SetCredential(first)
	if sess.Credential == nil || sess.Credential.Token != "t1" || !sess.LoggedIn {
		t.Fatalf("first credential not embedded: %+v", sess)
	}

	sess.SetCredential(second)
	if sess.Credential.Token != "t2" {
		t.Fatalf("new credential must replace the old one: %+v", sess.Credential)
	}

	sess.Logout()
	if sess.LoggedIn {
		t.Fatalf("logout must flip the validity flag")
	}
	if sess.Credential == nil || sess.Credential.Token != "t2" {
		t.Fatalf("logout must not destroy the record: %+v", sess.Credential)
	}
}
