package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus collectors for the poller and its GitHub client
var (
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concierge_api_requests_total",
			Help: "GitHub API request attempts by classified outcome",
		},
		[]string{"outcome"},
	)

	APIRequestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "concierge_api_request_duration_seconds",
			Help:    "Duration of GitHub API request attempts",
			Buckets: prometheus.DefBuckets,
		},
	)

	RateLimitWaitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concierge_rate_limit_waits_total",
			Help: "Waits taken before or after GitHub requests, by kind",
		},
		[]string{"kind"},
	)

	RateLimitRemaining = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "concierge_rate_limit_remaining",
			Help: "Remaining primary rate limit quota from the last response",
		},
	)

	EntityCacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concierge_entity_cache_lookups_total",
			Help: "Entity cache lookups by result",
		},
		[]string{"result"},
	)

	ActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concierge_actions_total",
			Help: "Dispatched actions by type and status",
		},
		[]string{"type", "status"},
	)

	EventsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concierge_events_processed_total",
			Help: "Processed events by disposition",
		},
		[]string{"disposition"},
	)

	PollCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "concierge_poll_cycle_duration_seconds",
			Help:    "Duration of poll cycles",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		APIRequestsTotal,
		APIRequestDuration,
		RateLimitWaitsTotal,
		RateLimitRemaining,
		EntityCacheLookupsTotal,
		ActionsTotal,
		EventsProcessedTotal,
		PollCycleDuration,
	}
}

// Register registers all collectors with reg.
func Register(reg prometheus.Registerer) {
	for _, c := range collectors() {
		reg.MustRegister(c)
	}
}

// Handler serves the metrics in reg. A nil reg means the default gatherer.
func Handler(reg *prometheus.Registry) http.Handler {
	if reg == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
