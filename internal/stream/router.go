package stream

import (
	"context"
	"log/slog"
)

// Router is the single coordinating loop between the tap and the registry:
// pull the next event, match it, enqueue per subscriber. A slow or blocked
// subscriber never stalls delivery to others: its queue fills, it gets
// closed, and the loop moves on.
type Router struct {
	log     *slog.Logger
	tap     *Tap
	reg     *Registry
	metrics *Metrics
}

// NewRouter wires the tap's output into registry dispatch.
func NewRouter(log *slog.Logger, tap *Tap, reg *Registry, metrics *Metrics) *Router {
	return &Router{log: log, tap: tap, reg: reg, metrics: metrics}
}

// Run consumes the tap until it terminates or ctx is cancelled. A terminal
// tap error is fatal: every live subscription is signalled to close (fail,
// don't silently starve) and the error is returned.
func (r *Router) Run(ctx context.Context) error {
	events := r.tap.Open()
	// The router is the tap's only consumer; once it stops pulling, the tap
	// must not sit blocked on a handoff forever.
	defer r.tap.Close()

	for {
		select {
		case <-ctx.Done():
			r.reg.CloseAll(nil)
			r.log.Info("stream.router.stop", "reason", "context_done")
			return ctx.Err()

		case ev, ok := <-events:
			if !ok {
				if err := r.tap.Err(); err != nil {
					r.failAll(err)
					return err
				}
				r.reg.CloseAll(nil)
				r.log.Info("stream.router.stop", "reason", "tap_closed")
				return nil
			}
			r.dispatch(ev)
		}
	}
}

func (r *Router) dispatch(ev Event) {
	for _, sub := range r.reg.Match(ev) {
		if sub.Sink().Enqueue(ev) {
			r.metrics.EventDispatched()
			continue
		}

		// Queue full or already shutting down: close this one subscriber
		// rather than block the loop. Its session observes Done, writes a
		// final frame if it can, and unregisters on exit; unregistering here
		// keeps it out of matches() for the very next event.
		sub.Sink().Close(ErrWriteTimeout)
		r.reg.Unregister(sub.ID)
		r.metrics.SubscriberClosedSlow()
		r.log.Info("stream.subscriber.slow", "subscription_id", string(sub.ID), "kind", sub.Kind.String())
	}
}

func (r *Router) failAll(err error) {
	n := r.reg.Len()
	r.reg.CloseAll(err)
	for i := 0; i < n; i++ {
		r.metrics.SubscriberClosedUpstream()
	}
	r.log.Error("stream.router.fail", "err", err, "subscriptions", n)
}
