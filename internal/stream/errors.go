package stream

import "errors"

// Stream failure taxonomy.
var (
	// ErrUpstreamUnavailable is terminal: the change feed died and every
	// active subscription must be told to close rather than starve.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrFilterInvalid rejects a stream request before the connection enters
	// its lifecycle.
	ErrFilterInvalid = errors.New("invalid filter")

	// ErrWriteTimeout closes a single slow subscriber; it never propagates to
	// the router or to other subscribers.
	ErrWriteTimeout = errors.New("write timeout")
)
