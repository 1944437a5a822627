package blog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"plume/internal/identity"
)

// PostgresStore persists posts and notifications in Postgres. Insert triggers
// on both tables emit the change-feed records, so this store never talks to
// the stream layer directly.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed blog store.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("blog: nil db pool")
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) CreatePost(ctx context.Context, in CreatePostInput) (Post, error) {
	author := identity.NormalizeHandle(in.AuthorHandle)
	if author == "" || strings.TrimSpace(in.Title) == "" {
		return Post{}, ErrInvalidInput
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := identity.NewULID(now)
	if err != nil {
		return Post{}, err
	}

	status := StatusDraft
	if in.Publish {
		status = StatusPublished
	}
	post := Post{
		ID:           id,
		AuthorHandle: author,
		Title:        strings.TrimSpace(in.Title),
		Body:         in.Body,
		Status:       status,
		CreatedAt:    now,
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO plume.posts (id, author_handle, title, body, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, post.ID, post.AuthorHandle, post.Title, post.Body, post.Status, post.CreatedAt)
	if err != nil {
		return Post{}, fmt.Errorf("insert post: %w", err)
	}
	return post, nil
}

func (s *PostgresStore) ListTimeline(ctx context.Context, authors map[string]struct{}, limit int) ([]Post, error) {
	handles := make([]string, 0, len(authors))
	for h := range authors {
		handles = append(handles, h)
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, author_handle, title, body, status, created_at
		FROM plume.posts
		WHERE status = 'published' AND author_handle = ANY($1)
		ORDER BY created_at DESC
		LIMIT $2
	`, handles, limit)
	if err != nil {
		return nil, fmt.Errorf("list timeline: %w", err)
	}
	return scanPosts(rows)
}

func (s *PostgresStore) SearchPosts(ctx context.Context, query string, limit int) ([]Post, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, ErrInvalidInput
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, author_handle, title, body, status, created_at
		FROM plume.posts
		WHERE status = 'published'
		  AND (title ILIKE '%' || $1 || '%' OR body ILIKE '%' || $1 || '%')
		ORDER BY created_at DESC
		LIMIT $2
	`, q, limit)
	if err != nil {
		return nil, fmt.Errorf("search posts: %w", err)
	}
	return scanPosts(rows)
}

func (s *PostgresStore) PushNotification(ctx context.Context, target, message string, now time.Time) (Notification, error) {
	handle := identity.NormalizeHandle(target)
	if handle == "" || strings.TrimSpace(message) == "" {
		return Notification{}, ErrInvalidInput
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := identity.NewULID(now)
	if err != nil {
		return Notification{}, err
	}

	n := Notification{
		ID:           id,
		TargetHandle: handle,
		Message:      strings.TrimSpace(message),
		CreatedAt:    now,
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO plume.notifications (id, target_handle, message, checked, created_at)
		VALUES ($1, $2, $3, false, $4)
	`, n.ID, n.TargetHandle, n.Message, n.CreatedAt)
	if err != nil {
		return Notification{}, fmt.Errorf("insert notification: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) ListNotifications(ctx context.Context, target string) ([]Notification, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, target_handle, message, checked, created_at
		FROM plume.notifications
		WHERE target_handle = $1
		ORDER BY created_at DESC
	`, identity.NormalizeHandle(target))
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.TargetHandle, &n.Message, &n.Checked, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkNotificationsChecked(ctx context.Context, target string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE plume.notifications
		SET checked = true
		WHERE target_handle = $1 AND NOT checked
	`, identity.NormalizeHandle(target))
	if err != nil {
		return fmt.Errorf("mark notifications checked: %w", err)
	}
	return nil
}

func scanPosts(rows pgx.Rows) ([]Post, error) {
	defer rows.Close()

	var out []Post
	for rows.Next() {
		var p Post
		if err := rows.Scan(&p.ID, &p.AuthorHandle, &p.Title, &p.Body, &p.Status, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
