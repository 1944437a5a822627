package stream

import (
	"sync"
	"time"

	"plume/internal/identity"
)

// Handle identifies a registered subscription.
type Handle string

// Subscription pairs a filter with an output sink. It is owned exclusively by
// the connection session that created it and is removed the instant that
// connection closes.
type Subscription struct {
	ID   Handle
	Kind Kind

	// Authors is the timeline filter; Target the notification filter.
	Authors map[string]struct{}
	Target  string

	CreatedAt time.Time

	sink *Subscriber
}

// Sink returns the subscription's output sink.
func (s *Subscription) Sink() *Subscriber { return s.sink }

// Registry tracks live subscriptions and matches events against them. It is
// the only state shared across subscriber tasks; all methods are safe for
// concurrent use and Match never observes a half-registered entry.
type Registry struct {
	metrics *Metrics

	mu   sync.RWMutex
	subs map[Handle]*Subscription
}

// NewRegistry constructs an empty registry.
func NewRegistry(metrics *Metrics) *Registry {
	return &Registry{
		metrics: metrics,
		subs:    make(map[Handle]*Subscription),
	}
}

// RegisterTimeline adds a live timeline subscription filtered to authors.
func (r *Registry) RegisterTimeline(authors map[string]struct{}, sink *Subscriber) Handle {
	return r.register(&Subscription{Kind: KindTimeline, Authors: authors, sink: sink})
}

// RegisterNotifications adds a live notification subscription for target.
func (r *Registry) RegisterNotifications(target string, sink *Subscriber) Handle {
	return r.register(&Subscription{Kind: KindNotification, Target: target, sink: sink})
}

func (r *Registry) register(sub *Subscription) Handle {
	now := time.Now().UTC()
	id, err := identity.NewULID(now)
	if err != nil {
		// ULID generation only fails when crypto/rand does; nothing sane to
		// do but a zero handle the caller will fail to match later.
		return ""
	}

	sub.ID = Handle(id)
	sub.CreatedAt = now

	r.mu.Lock()
	r.subs[sub.ID] = sub
	r.mu.Unlock()

	r.metrics.SubscriptionOpened(sub.Kind)
	return sub.ID
}

// Unregister removes a subscription. Idempotent: unregistering twice (or an
// unknown handle) is a no-op, not an error.
func (r *Registry) Unregister(h Handle) {
	r.mu.Lock()
	sub, ok := r.subs[h]
	delete(r.subs, h)
	r.mu.Unlock()

	if ok {
		r.metrics.SubscriptionClosed(sub.Kind)
	}
}

// Match returns every live subscription whose filter accepts ev: timeline
// subscriptions whose author set contains the event's author, notification
// subscriptions whose target equals the event's target.
func (r *Registry) Match(ev Event) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Subscription
	for _, sub := range r.subs {
		if sub.Kind != ev.Kind {
			continue
		}
		switch ev.Kind {
		case KindTimeline:
			if _, ok := sub.Authors[ev.Author]; ok {
				out = append(out, sub)
			}
		case KindNotification:
			if sub.Target == ev.Target {
				out = append(out, sub)
			}
		}
	}
	return out
}

// CloseAll signals every live subscription's sink to close with reason.
// Owners still unregister on their own exit paths; this only wakes them.
func (r *Registry) CloseAll(reason error) {
	r.mu.RLock()
	snapshot := make([]*Subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		snapshot = append(snapshot, sub)
	}
	r.mu.RUnlock()

	for _, sub := range snapshot {
		sub.sink.Close(reason)
	}
}

// Len reports the number of live subscriptions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}
