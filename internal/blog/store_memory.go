package blog

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"plume/internal/identity"
	"plume/internal/stream"
)

// MemoryStore is the dev/test fallback when no database is configured. Every
// insert is mirrored onto the shared in-memory change feed so the stream
// layer sees the same records the Postgres triggers would emit.
type MemoryStore struct {
	feed *stream.Feed

	mu            sync.RWMutex
	posts         []Post
	notifications map[string][]Notification
}

// NewMemoryStore constructs an empty in-memory blog store publishing change
// records into feed. A nil feed disables change publication.
func NewMemoryStore(feed *stream.Feed) *MemoryStore {
	return &MemoryStore{
		feed:          feed,
		notifications: make(map[string][]Notification),
	}
}

// CreatePost persists a post and, when published, emits its change record.
func (s *MemoryStore) CreatePost(ctx context.Context, in CreatePostInput) (Post, error) {
	if err := ctx.Err(); err != nil {
		return Post{}, err
	}

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

	s.mu.Lock()
	s.posts = append(s.posts, post)
	s.mu.Unlock()

	s.publishChange(stream.CollectionPosts, postChangeDoc{
		ID:           post.ID,
		AuthorHandle: post.AuthorHandle,
		Title:        post.Title,
		Status:       post.Status,
		CreatedAt:    post.CreatedAt,
	})
	return post, nil
}

// ListTimeline returns published posts by the given authors, newest first.
func (s *MemoryStore) ListTimeline(ctx context.Context, authors map[string]struct{}, limit int) ([]Post, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]Post, 0, limit)
	for _, p := range s.posts {
		if p.Status != StatusPublished {
			continue
		}
		if _, ok := authors[p.AuthorHandle]; ok {
			out = append(out, p)
		}
	}
	s.mu.RUnlock()

	sortNewestFirst(out)
	return clampPosts(out, limit), nil
}

// SearchPosts matches published posts whose title or body contains query,
// case-insensitively.
func (s *MemoryStore) SearchPosts(ctx context.Context, query string, limit int) ([]Post, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil, ErrInvalidInput
	}

	s.mu.RLock()
	var out []Post
	for _, p := range s.posts {
		if p.Status != StatusPublished {
			continue
		}
		if strings.Contains(strings.ToLower(p.Title), q) || strings.Contains(strings.ToLower(p.Body), q) {
			out = append(out, p)
		}
	}
	s.mu.RUnlock()

	sortNewestFirst(out)
	return clampPosts(out, limit), nil
}

// PushNotification appends to the target's list and emits the change record.
func (s *MemoryStore) PushNotification(ctx context.Context, target, message string, now time.Time) (Notification, error) {
	if err := ctx.Err(); err != nil {
		return Notification{}, err
	}

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

	s.mu.Lock()
	s.notifications[handle] = append(s.notifications[handle], n)
	s.mu.Unlock()

	s.publishChange(stream.CollectionNotifications, notificationChangeDoc{
		ID:           n.ID,
		TargetHandle: n.TargetHandle,
		Message:      clampMessage(n.Message),
		Checked:      n.Checked,
		CreatedAt:    n.CreatedAt,
	})
	return n, nil
}

// ListNotifications returns the target's notifications, newest first.
func (s *MemoryStore) ListNotifications(ctx context.Context, target string) ([]Notification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	handle := identity.NormalizeHandle(target)

	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.notifications[handle]
	out := make([]Notification, len(list))
	copy(out, list)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// MarkNotificationsChecked flags every unchecked notification as seen.
func (s *MemoryStore) MarkNotificationsChecked(ctx context.Context, target string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	handle := identity.NormalizeHandle(target)

	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.notifications[handle]
	for i := range list {
		list[i].Checked = true
	}
	return nil
}

// Slim documents announced on the change feed. pg_notify payloads are capped
// near 8 KB, so the triggers in db/schema.sql never send the post body and
// clip notification messages; the memory store emits the same shape so both
// modes feed the tap identical records. Live viewers fetch full content from
// the catch-up endpoints.
type postChangeDoc struct {
	ID           string    `json:"id"`
	AuthorHandle string    `json:"author_handle"`
	Title        string    `json:"title"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

type notificationChangeDoc struct {
	ID           string    `json:"id"`
	TargetHandle string    `json:"target_handle"`
	Message      string    `json:"message"`
	Checked      bool      `json:"checked"`
	CreatedAt    time.Time `json:"created_at"`
}

// changeMessageLimit matches the left(message, N) clip in db/schema.sql.
const changeMessageLimit = 512

func clampMessage(msg string) string {
	if len(msg) <= changeMessageLimit {
		return msg
	}
	runes := []rune(msg)
	if len(runes) <= changeMessageLimit {
		return msg
	}
	return string(runes[:changeMessageLimit])
}

// publishChange mirrors an insert onto the change feed the way the Postgres
// triggers do: op, collection, and the document as JSON.
func (s *MemoryStore) publishChange(collection string, doc any) {
	if s.feed == nil {
		return
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return
	}
	s.feed.Publish(stream.RawChange{Op: stream.OpInsert, Collection: collection, Doc: b})
}

func sortNewestFirst(posts []Post) {
	sort.SliceStable(posts, func(i, j int) bool { return posts[i].CreatedAt.After(posts[j].CreatedAt) })
}

func clampPosts(posts []Post, limit int) []Post {
	if limit > 0 && len(posts) > limit {
		return posts[:limit]
	}
	return posts
}
