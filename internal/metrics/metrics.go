// Package metrics provides Prometheus instrumentation for the shield core.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ScoresTotal counts scoring results by subject kind, source and outcome label.
	ScoresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shield",
			Name:      "scores_total",
			Help:      "Scoring results by kind (app|url), source and label.",
		},
		[]string{"kind", "source", "label"},
	)

	// RemoteFallbacksTotal counts degraded results by the reason the remote scorer failed.
	RemoteFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shield",
			Name:      "remote_fallbacks_total",
			Help:      "Remote scoring failures that fell back to the local scorer.",
		},
		[]string{"kind", "reason"},
	)

	// ForegroundEventsTotal counts state machine decisions.
	ForegroundEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shield",
			Name:      "foreground_events_total",
			Help:      "Foreground change events by state machine decision.",
		},
		[]string{"decision"},
	)

	// ChallengesTotal counts resolved challenges by outcome.
	ChallengesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shield",
			Name:      "challenges_total",
			Help:      "Resolved challenges by outcome.",
		},
		[]string{"outcome"},
	)

	// ScanAppsTotal counts apps visited by the threat scan.
	ScanAppsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shield",
			Name:      "scan_apps_total",
			Help:      "Apps visited by the periodic threat scan by result.",
		},
		[]string{"result"},
	)

	// EventsDroppedTotal counts log records dropped because a sink buffer was full.
	EventsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shield",
			Name:      "events_dropped_total",
			Help:      "Log records dropped by sink.",
		},
		[]string{"sink"},
	)

	// HTTPRequestsTotal counts HTTP requests by method, route and status class.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shield",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, route pattern, and status class.",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDuration observes request latency.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "shield",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// LockedApps tracks the size of the lock policy.
	LockedApps = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "shield",
			Name:      "locked_apps",
			Help:      "Number of packages currently under lock.",
		},
	)

	// ChallengeSubscribers tracks connected challenge stream clients.
	ChallengeSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "shield",
			Name:      "challenge_subscribers",
			Help:      "Number of connected challenge stream clients.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		ScoresTotal,
		RemoteFallbacksTotal,
		ForegroundEventsTotal,
		ChallengesTotal,
		ScanAppsTotal,
		EventsDroppedTotal,
		HTTPRequestsTotal,
		HTTPRequestDuration,
		LockedApps,
		ChallengeSubscribers,
	)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTP records one finished request.
func ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	HTTPRequestsTotal.WithLabelValues(method, route, statusBucket(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// statusBucket collapses status codes to their class to keep cardinality low.
func statusBucket(code int) string {
	if code < 100 || code > 599 {
		return strconv.Itoa(code)
	}
	return strconv.Itoa(code/100) + "xx"
}
