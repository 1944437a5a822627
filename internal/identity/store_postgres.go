package identity

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on plume.users.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed identity store.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("identity: nil db pool")
	}
	return &PostgresStore{pool: pool}, nil
}

// Create inserts a new user row. Unique violations on the handle map to ErrConflict.
func (s *PostgresStore) Create(ctx context.Context, in CreateInput) (Identity, error) {
	handle := NormalizeHandle(in.Handle)
	if handle == "" {
		return Identity{}, ErrInvalidInput
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := NewULID(now)
	if err != nil {
		return Identity{}, err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO plume.users (id, handle, name, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, id, handle, in.Name, in.PasswordHash, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Identity{}, ErrConflict
		}
		return Identity{}, err
	}

	return Identity{ID: id, Handle: handle, Name: in.Name, CreatedAt: now}, nil
}

// FindByID loads an identity by id.
func (s *PostgresStore) FindByID(ctx context.Context, id string) (Identity, error) {
	var ident Identity
	err := s.pool.QueryRow(ctx, `
		SELECT id, handle, name, created_at
		FROM plume.users
		WHERE id = $1
	`, id).Scan(&ident.ID, &ident.Handle, &ident.Name, &ident.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Identity{}, ErrNotFound
	}
	if err != nil {
		return Identity{}, err
	}
	return ident, nil
}

// FindByHandle loads an identity by normalized handle.
func (s *PostgresStore) FindByHandle(ctx context.Context, handle string) (Identity, error) {
	norm := NormalizeHandle(handle)
	if norm == "" {
		return Identity{}, ErrInvalidInput
	}

	var ident Identity
	err := s.pool.QueryRow(ctx, `
		SELECT id, handle, name, created_at
		FROM plume.users
		WHERE handle = $1
	`, norm).Scan(&ident.ID, &ident.Handle, &ident.Name, &ident.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Identity{}, ErrNotFound
	}
	if err != nil {
		return Identity{}, err
	}
	return ident, nil
}

// FindAuthByHandle loads an identity and its password hash for login checks.
func (s *PostgresStore) FindAuthByHandle(ctx context.Context, handle string) (Auth, error) {
	norm := NormalizeHandle(handle)
	if norm == "" {
		return Auth{}, ErrInvalidInput
	}

	var a Auth
	err := s.pool.QueryRow(ctx, `
		SELECT id, handle, name, created_at, password_hash
		FROM plume.users
		WHERE handle = $1
	`, norm).Scan(&a.Identity.ID, &a.Identity.Handle, &a.Identity.Name, &a.Identity.CreatedAt, &a.PasswordHash)
	if errors.Is(err, pgx.ErrNoRows) {
		return Auth{}, ErrNotFound
	}
	if err != nil {
		return Auth{}, err
	}
	return a, nil
}
