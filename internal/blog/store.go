package blog

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidInput rejects writes whose fields fail validation.
var ErrInvalidInput = errors.New("blog: invalid input")

// CreatePostInput describes a new post. AuthorHandle must already be the
// normalized form attached by the gate.
type CreatePostInput struct {
	AuthorHandle string
	Title        string
	Body         string
	Publish      bool
	Now          time.Time
}

// Store is the publishing persistence boundary. Implementations emit a
// change-feed record for every insert so the stream layer can observe writes
// it did not perform.
type Store interface {
	// CreatePost persists a post. A published insert surfaces on the
	// change feed; drafts do not reach live viewers.
	CreatePost(ctx context.Context, in CreatePostInput) (Post, error)

	// ListTimeline returns published posts by the given authors,
	// newest first. Serves the catch-up read before a live stream attaches.
	ListTimeline(ctx context.Context, authors map[string]struct{}, limit int) ([]Post, error)

	// SearchPosts matches published posts against a free-text query.
	SearchPosts(ctx context.Context, query string, limit int) ([]Post, error)

	// PushNotification appends to the target's notification list and
	// surfaces the append on the change feed.
	PushNotification(ctx context.Context, target, message string, now time.Time) (Notification, error)

	// ListNotifications returns the target's notifications, newest first.
	ListNotifications(ctx context.Context, target string) ([]Notification, error)

	// MarkNotificationsChecked flags every unchecked notification as seen.
	MarkNotificationsChecked(ctx context.Context, target string) error
}
