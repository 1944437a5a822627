package stream

import "sync"

const defaultFeedBuffer = 1024

// ChangeSource is the store's change-notification boundary. Delivery is
// at-least-once and ordered per document key; Changes closes on terminal
// failure and Err reports why.
type ChangeSource interface {
	Changes() <-chan RawChange
	Err() error
	Close()
}

// Feed is the in-memory ChangeSource used when no database is configured.
// Store write paths publish into it; ordering is publish order.
type Feed struct {
	mu     sync.Mutex
	ch     chan RawChange
	closed bool
	err    error
}

// NewFeed constructs a buffered in-memory change feed.
func NewFeed() *Feed {
	return &Feed{ch: make(chan RawChange, defaultFeedBuffer)}
}

// Publish appends one change record. Publishes after Close are dropped.
func (f *Feed) Publish(rc RawChange) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.ch <- rc
}

// Fail terminates the feed with err. Consumers observe a closed channel and
// read the error from Err.
func (f *Feed) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	f.err = err
	close(f.ch)
}

// Changes returns the ordered change stream.
func (f *Feed) Changes() <-chan RawChange { return f.ch }

// Err reports the terminal error, if any, once Changes has closed.
func (f *Feed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Close shuts the feed down without error.
func (f *Feed) Close() { f.Fail(nil) }
