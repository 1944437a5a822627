package identity

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNormalizeHandle(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"@alice", "@alice"},
		{"@Alice", "@alice"},
		{"  @BOB  ", "@bob"},
		{"alice", ""},
		{"@", ""},
		{"", ""},
		{"   ", ""},
	}
	for _, tc := range cases {
		if got := NormalizeHandle(tc.in); got != tc.want {
			t.Fatalf("NormalizeHandle(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestMemoryStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	ident, err := store.Create(ctx, CreateInput{
		Handle: "@Alice", Name: "Alice", PasswordHash: "hash", Now: now,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ident.Handle != "@alice" {
		t.Fatalf("handle not normalized on create: %q", ident.Handle)
	}
	if ident.ID == "" {
		t.Fatalf("expected a generated id")
	}

	got, err := store.FindByID(ctx, ident.ID)
	if err != nil || got.Handle != "@alice" {
		t.Fatalf("FindByID: %+v, %v", got, err)
	}

	// Lookup is sigil-aware and case-insensitive.
	got, err = store.FindByHandle(ctx, " @ALICE ")
	if err != nil || got.ID != ident.ID {
		t.Fatalf("FindByHandle: %+v, %v", got, err)
	}

	a, err := store.FindAuthByHandle(ctx, "@alice")
	if err != nil || a.PasswordHash != "hash" {
		t.Fatalf("FindAuthByHandle: %+v, %v", a, err)
	}
}

func TestMemoryStoreErrors(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.Create(ctx, CreateInput{Handle: "alice"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("sigil-less handle: got %v, want ErrInvalidInput", err)
	}

	if _, err := store.Create(ctx, CreateInput{Handle: "@alice"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.Create(ctx, CreateInput{Handle: "@ALICE"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate handle: got %v, want ErrConflict", err)
	}

	if _, err := store.FindByID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing id: got %v, want ErrNotFound", err)
	}
	if _, err := store.FindByHandle(ctx, "@ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing handle: got %v, want ErrNotFound", err)
	}
}
