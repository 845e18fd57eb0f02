// Package metrics registers the service's Prometheus collectors. Each
// domain package increments its own counters through the exported
// vectors; the HTTP layer mounts Handler on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var registry = prometheus.NewRegistry()

var (
	// HTTPRequests counts requests by route, method and status class.
	HTTPRequests = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "staked",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route, method and status.",
	}, []string{"route", "method", "status"})

	// HTTPDuration observes request latency per route.
	HTTPDuration = promauto.With(registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "staked",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})

	// LedgerEntries counts posted ledger entries by type.
	LedgerEntries = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "staked",
		Subsystem: "ledger",
		Name:      "entries_total",
		Help:      "Ledger entries posted, by entry type.",
	}, []string{"entry_type"})

	// DepositsObserved counts deposits picked up by the scanner.
	DepositsObserved = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "staked",
		Subsystem: "deposits",
		Name:      "observed_total",
		Help:      "Deposits observed on chain, by chain slug.",
	}, []string{"chain"})

	// DepositsConfirmed counts deposits credited to users.
	DepositsConfirmed = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "staked",
		Subsystem: "deposits",
		Name:      "confirmed_total",
		Help:      "Deposits confirmed and credited, by chain slug.",
	}, []string{"chain"})

	// PayoutsBroadcast counts payout transactions sent, by chain and
	// terminal outcome.
	PayoutsBroadcast = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "staked",
		Subsystem: "payouts",
		Name:      "broadcast_total",
		Help:      "Payout transactions broadcast, by chain and outcome.",
	}, []string{"chain", "outcome"})

	// QueueJobs counts queue deliveries by queue and outcome
	// (ack, retry, dead).
	QueueJobs = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "staked",
		Subsystem: "queue",
		Name:      "jobs_total",
		Help:      "Queue job deliveries, by queue and outcome.",
	}, []string{"queue", "outcome"})

	// WorkerRuns observes background sweep durations.
	WorkerRuns = promauto.With(registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "staked",
		Subsystem: "worker",
		Name:      "run_duration_seconds",
		Help:      "Background sweep durations, by worker name.",
		Buckets:   []float64{0.05, 0.25, 1, 5, 15, 60},
	}, []string{"worker"})
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler serves the /metrics scrape endpoint.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
