package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all pipeline metrics
type Metrics struct {
	EventsClaimed      prometheus.Counter
	EventsProcessed    *prometheus.CounterVec
	EventsFailed       *prometheus.CounterVec
	EventsRetried      *prometheus.CounterVec
	EventsDeadLettered prometheus.Counter
	EventsReclaimed    prometheus.Counter
	StageLatency       *prometheus.HistogramVec
	QueueSize          prometheus.Gauge

	SignalsPublished prometheus.Counter
	SignalsReceived  prometheus.Counter
}

// New creates and registers all pipeline metrics under namespace on
// the default registerer.
func New(namespace string) *Metrics {
	return NewFor(namespace, prometheus.DefaultRegisterer)
}

// NewFor registers the metrics on an explicit registerer. Tests use
// this with a fresh registry to avoid duplicate registration.
func NewFor(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsClaimed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_claimed_total",
			Help:      "Total number of events claimed by this worker",
		}),
		EventsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_processed_total",
			Help:      "Total number of successfully processed events",
		}, []string{"event_type"}),
		EventsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_failed_total",
			Help:      "Total number of handler failures",
		}, []string{"event_type", "kind"}),
		EventsRetried: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_retried_total",
			Help:      "Total number of events re-queued for retry",
		}, []string{"event_type"}),
		EventsDeadLettered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dead_lettered_total",
			Help:      "Total number of events moved to dead letter",
		}),
		EventsReclaimed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_reclaimed_total",
			Help:      "Total number of abandoned claims returned to pending",
		}),
		StageLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each stage handler",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"event_type"}),
		QueueSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_size",
			Help:      "Current number of pending events in the ledger",
		}),
		SignalsPublished: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_published_total",
			Help:      "Total number of wake hints published",
		}),
		SignalsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_received_total",
			Help:      "Total number of wake hints received",
		}),
	}
}
