package stream

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Tap is the single shared listener on the store's change feed. It decodes
// each raw change into zero or one domain event; everything it does not
// recognize is dropped, not an error.
//
// A tap is one-shot: Open may be called once, and once the underlying source
// fails the tap is done for good. Recovery is process supervision, not a
// retry loop.
type Tap struct {
	log     *slog.Logger
	src     ChangeSource
	metrics *Metrics

	out  chan Event
	done chan struct{}

	once      sync.Once
	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

// NewTap constructs a tap over a change source.
func NewTap(log *slog.Logger, src ChangeSource, metrics *Metrics) *Tap {
	return &Tap{
		log:     log,
		src:     src,
		metrics: metrics,
		out:     make(chan Event),
		done:    make(chan struct{}),
	}
}

// Open starts decoding and returns the event stream. The channel closes when
// the source terminates; Err then reports whether that was a failure.
func (t *Tap) Open() <-chan Event {
	t.once.Do(func() {
		go t.run()
	})
	return t.out
}

// Close releases the tap's goroutine if it is still mid-handoff after the
// consumer has stopped pulling events. Idempotent.
func (t *Tap) Close() {
	t.closeOnce.Do(func() { close(t.done) })
}

func (t *Tap) run() {
	defer close(t.out)

	for rc := range t.src.Changes() {
		ev, ok := decode(rc)
		if !ok {
			t.metrics.ChangeDropped()
			continue
		}
		t.metrics.EventDecoded(ev.Kind)
		select {
		case t.out <- ev:
		case <-t.done:
			return
		}
	}

	if err := t.src.Err(); err != nil {
		t.mu.Lock()
		t.err = err
		t.mu.Unlock()
		t.log.Error("stream.tap.fail", "err", err)
	}
}

// Err reports the terminal source error once the event stream has closed.
func (t *Tap) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

type postDoc struct {
	AuthorHandle string `json:"author_handle"`
	Status       string `json:"status"`
}

type notificationDoc struct {
	TargetHandle string `json:"target_handle"`
}

// decode maps a raw change to a domain event.
//
// Posts: only inserts that land already published become timeline events;
// drafts and edits are invisible to the live feed. Notifications: any append
// to a user's notification list becomes a notification event.
func decode(rc RawChange) (Event, bool) {
	switch rc.Collection {
	case CollectionPosts:
		if rc.Op != OpInsert {
			return Event{}, false
		}
		var doc postDoc
		if err := json.Unmarshal(rc.Doc, &doc); err != nil {
			return Event{}, false
		}
		if doc.Status != "published" || doc.AuthorHandle == "" {
			return Event{}, false
		}
		return Event{Kind: KindTimeline, Author: doc.AuthorHandle, Payload: rc.Doc}, true

	case CollectionNotifications:
		if rc.Op != OpInsert && rc.Op != OpUpdate {
			return Event{}, false
		}
		var doc notificationDoc
		if err := json.Unmarshal(rc.Doc, &doc); err != nil {
			return Event{}, false
		}
		if doc.TargetHandle == "" {
			return Event{}, false
		}
		return Event{Kind: KindNotification, Target: doc.TargetHandle, Payload: rc.Doc}, true

	default:
		return Event{}, false
	}
}
