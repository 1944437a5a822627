package stream

import "sync"

// Subscriber is one connection's output sink: a bounded FIFO event queue plus
// a shutdown signal.
//
// Design notes:
//   - the events channel is never closed, so the router can enqueue safely
//     under concurrency without panics.
//   - Close is idempotent and records the first close reason.
type Subscriber struct {
	events chan Event
	done   chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	reason    error
}

// NewSubscriber constructs a subscriber with a bounded queue.
func NewSubscriber(queueSize int) *Subscriber {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Subscriber{
		events: make(chan Event, queueSize),
		done:   make(chan struct{}),
	}
}

// Events returns the ordered event queue.
func (s *Subscriber) Events() <-chan Event { return s.events }

// Done returns a channel closed when the subscriber is shutting down.
func (s *Subscriber) Done() <-chan struct{} {
	if s == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.done
}

// Close signals shutdown (idempotent). The first non-nil reason wins and is
// reported by Reason. It does NOT close the events channel, keeping enqueue
// safe under concurrency.
func (s *Subscriber) Close(reason error) {
	if s == nil {
		return
	}
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.reason = reason
		s.mu.Unlock()
		close(s.done)
	})
}

// Reason reports why the subscriber was closed, nil for a normal shutdown.
func (s *Subscriber) Reason() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Enqueue offers an event without blocking. It reports false when the
// subscriber is shutting down or its queue is full; a false return is the
// router's cue to close this subscriber as too slow.
func (s *Subscriber) Enqueue(ev Event) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.events <- ev:
		return true
	default:
		return false
	}
}
