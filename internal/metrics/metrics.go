// Package metrics provides Prometheus instrumentation for the relay.
// All metric collectors are registered via the Init function and exposed
// through the Handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts relay requests by chain, method, and HTTP status code.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_requests_total",
			Help: "Total relay requests processed",
		},
		[]string{"chain", "method", "status"},
	)

	// RequestDuration observes end-to-end request latency in seconds by chain.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_request_duration_seconds",
			Help:    "End-to-end request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"chain", "method"},
	)

	// ActiveRequests tracks the number of in-flight relay requests.
	ActiveRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_active_requests",
			Help: "Number of in-flight requests currently being processed",
		},
	)

	// AttemptsTotal counts strategy attempts by chain, strategy, and outcome
	// (success, failure, miss, or skipped).
	AttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_strategy_attempts_total",
			Help: "Total fallback strategy attempts",
		},
		[]string{"chain", "strategy", "outcome"},
	)

	// FallbackDepth observes how far down the chain each request travelled
	// before a strategy served it (1 = first strategy).
	FallbackDepth = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_fallback_depth",
			Help:    "Position of the strategy that served the request",
			Buckets: []float64{1, 2, 3, 4, 5, 6},
		},
		[]string{"chain"},
	)

	// DegradedResults counts results served by anything other than a clean
	// first-strategy success.
	DegradedResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_degraded_results_total",
			Help: "Total degraded results returned to callers",
		},
		[]string{"chain"},
	)

	// BreakerTransitions counts circuit breaker state transitions by key.
	BreakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_breaker_transitions_total",
			Help: "Total circuit breaker state transitions",
		},
		[]string{"key", "from", "to"},
	)

	// BreakerState reports the current breaker state by key
	// (0=closed, 1=open, 2=probe).
	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relay_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=open, 2=probe)",
		},
		[]string{"key"},
	)

	// BreakerOpenSkips counts live attempts skipped because a breaker was open.
	BreakerOpenSkips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_breaker_open_skips_total",
			Help: "Total live attempts skipped due to an open breaker",
		},
		[]string{"key"},
	)

	// BulkheadInFlight tracks concurrent live calls per dependency.
	BulkheadInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relay_bulkhead_in_flight",
			Help: "Concurrent live calls currently held by the bulkhead",
		},
		[]string{"key"},
	)

	// BulkheadRejections counts attempts rejected by a saturated bulkhead.
	BulkheadRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_bulkhead_rejections_total",
			Help: "Total attempts rejected because the bulkhead was full",
		},
		[]string{"key"},
	)

	// ThrottleRejections counts live attempts withheld by the outbound
	// per-dependency rate gate.
	ThrottleRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_throttle_rejections_total",
			Help: "Total live attempts withheld by the outbound throttle",
		},
		[]string{"dependency"},
	)

	// AuthFailures counts authentication failures by reason.
	AuthFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_auth_failures_total",
			Help: "Total authentication failures",
		},
		[]string{"reason"},
	)

	// CacheLookups counts cached-strategy lookups by result (hit, miss, error).
	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_cache_lookups_total",
			Help: "Total cache lookups by cached strategies",
		},
		[]string{"chain", "result"},
	)
)

// Init registers all metric collectors with the default Prometheus registry.
// Must be called once at startup before handling requests.
func Init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		ActiveRequests,
		AttemptsTotal,
		FallbackDepth,
		DegradedResults,
		BreakerTransitions,
		BreakerState,
		BreakerOpenSkips,
		BulkheadRejections,
		BulkheadInFlight,
		ThrottleRejections,
		AuthFailures,
		CacheLookups,
	)
}

// Handler returns an http.Handler that serves the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
