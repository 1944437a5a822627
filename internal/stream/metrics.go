package stream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments the pipeline. All methods are nil-safe so tests can
// pass a nil *Metrics.
type Metrics struct {
	activeSubscriptions *prometheus.GaugeVec
	eventsDecoded       *prometheus.CounterVec
	changesDropped      prometheus.Counter
	eventsDispatched    prometheus.Counter
	subscriberClosures  *prometheus.CounterVec
}

// NewMetrics registers the pipeline metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		activeSubscriptions: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "plume",
			Subsystem: "stream",
			Name:      "active_subscriptions",
			Help:      "Live subscriptions by feed kind.",
		}, []string{"kind"}),
		eventsDecoded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plume",
			Subsystem: "stream",
			Name:      "events_decoded_total",
			Help:      "Change records decoded into domain events, by kind.",
		}, []string{"kind"}),
		changesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "plume",
			Subsystem: "stream",
			Name:      "changes_dropped_total",
			Help:      "Change records the decoder filtered out.",
		}),
		eventsDispatched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "plume",
			Subsystem: "stream",
			Name:      "events_dispatched_total",
			Help:      "Event deliveries enqueued to subscriber sinks.",
		}),
		subscriberClosures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plume",
			Subsystem: "stream",
			Name:      "subscriber_closures_total",
			Help:      "Subscriptions closed by the router, by reason.",
		}, []string{"reason"}),
	}
}

// SubscriptionOpened records a new live subscription.
func (m *Metrics) SubscriptionOpened(kind Kind) {
	if m == nil {
		return
	}
	m.activeSubscriptions.WithLabelValues(kind.String()).Inc()
}

// SubscriptionClosed records a removed subscription.
func (m *Metrics) SubscriptionClosed(kind Kind) {
	if m == nil {
		return
	}
	m.activeSubscriptions.WithLabelValues(kind.String()).Dec()
}

// EventDecoded records a change record decoded into a domain event.
func (m *Metrics) EventDecoded(kind Kind) {
	if m == nil {
		return
	}
	m.eventsDecoded.WithLabelValues(kind.String()).Inc()
}

// ChangeDropped records a filtered-out change record.
func (m *Metrics) ChangeDropped() {
	if m == nil {
		return
	}
	m.changesDropped.Inc()
}

// EventDispatched records one delivery enqueued to a subscriber.
func (m *Metrics) EventDispatched() {
	if m == nil {
		return
	}
	m.eventsDispatched.Inc()
}

// SubscriberClosedSlow records a slow-subscriber closure.
func (m *Metrics) SubscriberClosedSlow() {
	if m == nil {
		return
	}
	m.subscriberClosures.WithLabelValues("write_timeout").Inc()
}

// SubscriberClosedUpstream records closures caused by a dead change feed.
func (m *Metrics) SubscriberClosedUpstream() {
	if m == nil {
		return
	}
	m.subscriberClosures.WithLabelValues("upstream_unavailable").Inc()
}
