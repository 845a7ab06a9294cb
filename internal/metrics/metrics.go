package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifecycle_commands_total",
			Help: "Total lifecycle commands processed, by command and outcome",
		},
		[]string{"command", "outcome"},
	)

	CommandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lifecycle_command_duration_seconds",
			Help:    "Duration of lifecycle command processing",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)

	EventsEnqueuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_events_enqueued_total",
			Help: "Total ledger events enqueued for delivery",
		},
	)

	EventsConfirmedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_events_confirmed_total",
			Help: "Total ledger events confirmed by the ledger",
		},
	)

	EventsFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_events_failed_total",
			Help: "Total failed ledger write attempts",
		},
	)

	EventsDeadTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_events_dead_total",
			Help: "Total ledger events that exhausted their retry budget",
		},
	)

	DrainDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ledger_drain_duration_seconds",
			Help:    "Duration of one ledger queue drain pass",
			Buckets: prometheus.DefBuckets,
		},
	)

	Subscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "notify_subscribers",
			Help: "Currently connected notification subscribers",
		},
	)
)

func init() {
	prometheus.MustRegister(
		CommandsTotal,
		CommandDuration,
		EventsEnqueuedTotal,
		EventsConfirmedTotal,
		EventsFailedTotal,
		EventsDeadTotal,
		DrainDuration,
		Subscribers,
	)
}

// Handler exposes the prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
