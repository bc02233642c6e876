package core

import "github.com/prometheus/client_golang/prometheus"

const (
	messagesKind = "messages"
	presenceKind = "presence"
)

// FeedMetrics instruments the broker. Open subscriptions are tracked per kind so that
// subscriptions leaked across room switches show up as a growing gauge.
type FeedMetrics struct {
	Subscriptions *prometheus.GaugeVec
	Events        *prometheus.CounterVec
	Dropped       prometheus.Counter
}

func NewFeedMetrics(reg prometheus.Registerer) *FeedMetrics {
	m := &FeedMetrics{
		Subscriptions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "chatsync",
			Subsystem: "feed",
			Name:      "subscriptions",
			Help:      "Number of open change feed and presence subscriptions.",
		}, []string{"kind"}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync",
			Subsystem: "feed",
			Name:      "events_total",
			Help:      "Number of change events published, by event type.",
		}, []string{"type"}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatsync",
			Subsystem: "feed",
			Name:      "dropped_subscribers_total",
			Help:      "Number of subscribers disconnected because their buffer was full.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Subscriptions, m.Events, m.Dropped)
	}
	return m
}
