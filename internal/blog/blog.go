// Package blog holds the publishing domain: posts, the notifications pushed
// at readers, and post search. Its write paths are what feed the live stream.
package blog

import "time"

// Post lifecycle states. Only published posts are visible to timelines,
// search, and the live feed.
const (
	StatusDraft     = "draft"
	StatusPublished = "published"
)

// Post is one authored entry. Field names on the wire match the change-feed
// documents the stream tap decodes.
type Post struct {
	ID           string    `json:"id"`
	AuthorHandle string    `json:"author_handle"`
	Title        string    `json:"title"`
	Body         string    `json:"body"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// Notification is one entry appended to a reader's notification list.
type Notification struct {
	ID           string    `json:"id"`
	TargetHandle string    `json:"target_handle"`
	Message      string    `json:"message"`
	Checked      bool      `json:"checked"`
	CreatedAt    time.Time `json:"created_at"`
}
