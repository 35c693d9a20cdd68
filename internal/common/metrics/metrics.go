// Package metrics exposes Prometheus collectors for the bus and the payment path.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"bankflow/internal/common/events"
)

var (
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bankflow",
		Name:      "events_published_total",
		Help:      "Events relayed from the outbox to the bus.",
	}, []string{"topic"})

	EventsHandled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bankflow",
		Name:      "events_handled_total",
		Help:      "Event deliveries handled, by consumer and outcome.",
	}, []string{"consumer", "outcome"})

	HandlerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "bankflow",
		Name:      "event_handler_duration_seconds",
		Help:      "Time spent applying one delivery.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"consumer"})

	Payments = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bankflow",
		Name:      "payments_total",
		Help:      "Synchronous payment attempts, by method and outcome.",
	}, []string{"method", "outcome"})
)

// Instrument wraps h with delivery metrics for sub.
func Instrument(sub events.Subscription, h events.Handler) events.Handler {
	name := sub.Name()
	return func(ctx context.Context, evt *events.Event) error {
		start := time.Now()
		err := h(ctx, evt)
		HandlerDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

		outcome := "ok"
		switch {
		case events.IsPermanent(err):
			outcome = "poison"
		case err != nil:
			outcome = "error"
		}
		EventsHandled.WithLabelValues(name, outcome).Inc()
		return err
	}
}
