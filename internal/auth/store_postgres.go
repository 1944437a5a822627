package auth

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"plume/internal/identity"
)

// PostgresSessionStore implements SessionStore on plume.sessions.
type PostgresSessionStore struct {
	pool *pgxpool.Pool
}

// NewPostgresSessionStore creates a Postgres-backed session store.
func NewPostgresSessionStore(pool *pgxpool.Pool) (*PostgresSessionStore, error) {
	if pool == nil {
		return nil, errors.New("auth: nil db pool")
	}
	return &PostgresSessionStore{pool: pool}, nil
}

// Create inserts a fresh logged-out session row.
func (s *PostgresSessionStore) Create(ctx context.Context, now time.Time) (Session, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := identity.NewULID(now)
	if err != nil {
		return Session{}, err
	}

	sess := Session{
		ID:        id,
		CreatedAt: now,
		ExpiresAt: now.Add(defaultSessionTTL),
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO plume.sessions (id, credential, logged_in, search_history, created_at, expires_at)
		VALUES ($1, NULL, FALSE, '[]'::jsonb, $2, $3)
	`, sess.ID, sess.CreatedAt, sess.ExpiresAt)
	if err != nil {
		return Session{}, err
	}

	return sess, nil
}

// Get loads a session row by id.
func (s *PostgresSessionStore) Get(ctx context.Context, id string) (Session, error) {
	var (
		sess        Session
		credJSON    []byte
		historyJSON []byte
	)

	err := s.pool.QueryRow(ctx, `
		SELECT id, credential, logged_in, search_history, created_at, expires_at
		FROM plume.sessions
		WHERE id = $1
	`, id).Scan(&sess.ID, &credJSON, &sess.LoggedIn, &historyJSON, &sess.CreatedAt, &sess.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, err
	}

	if len(credJSON) > 0 {
		var cred Credential
		if err := json.Unmarshal(credJSON, &cred); err != nil {
			return Session{}, err
		}
		sess.Credential = &cred
	}
	if len(historyJSON) > 0 {
		if err := json.Unmarshal(historyJSON, &sess.SearchHistory); err != nil {
			return Session{}, err
		}
	}

	return sess, nil
}

// Save replaces the stored row. Last write wins across concurrent requests.
func (s *PostgresSessionStore) Save(ctx context.Context, sess Session) error {
	if sess.ID == "" {
		return ErrSessionNotFound
	}

	var credJSON []byte
	if sess.Credential != nil {
		b, err := json.Marshal(sess.Credential)
		if err != nil {
			return err
		}
		credJSON = b
	}

	history := sess.SearchHistory
	if history == nil {
		history = []SearchEntry{}
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE plume.sessions
		SET credential = $2, logged_in = $3, search_history = $4
		WHERE id = $1
	`, sess.ID, credJSON, sess.LoggedIn, historyJSON)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}
