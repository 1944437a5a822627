// Package stream implements Plume's live update pipeline: a shared tap on the
// store's change feed, a registry of filtered subscriptions, and per
// connection sessions that push matching events to clients without polling.
package stream

import "encoding/json"

// Kind partitions the two event classes the pipeline carries.
type Kind uint8

const (
	// KindTimeline delivers posts published by a chosen set of authors.
	KindTimeline Kind = iota + 1
	// KindNotification delivers notifications addressed to one identity.
	KindNotification
)

func (k Kind) String() string {
	switch k {
	case KindTimeline:
		return "timeline"
	case KindNotification:
		return "notification"
	default:
		return "unknown"
	}
}

// Collections the decoder understands.
const (
	CollectionPosts         = "posts"
	CollectionNotifications = "notifications"
)

// Change ops.
const (
	OpInsert = "insert"
	OpUpdate = "update"
)

// RawChange is one record from the store's change feed: the operation, the
// logical collection it touched, and the full post-mutation document.
type RawChange struct {
	Op         string          `json:"op"`
	Collection string          `json:"collection"`
	Doc        json.RawMessage `json:"doc"`
}

// Event is a decoded domain event. Ephemeral: it exists only in flight
// between the tap and subscribers, never persisted.
type Event struct {
	Kind Kind

	// Author is set for timeline events, Target for notification events.
	Author string
	Target string

	// Payload is the document as observed post-mutation, forwarded verbatim.
	Payload json.RawMessage
}
