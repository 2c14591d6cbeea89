// Package metrics defines the Prometheus collectors for extraction jobs,
// service calls and history operations. Collectors register with the default
// registry at init and are served by promhttp at /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "colextract"

var (
	// serviceCalls counts extraction service invocations.
	// Labels: service, outcome (ok, error, panic)
	serviceCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "service",
		Name:      "calls_total",
		Help:      "Extraction service calls by outcome",
	}, []string{"service", "outcome"})

	// serviceLatency measures one service call on one row.
	// Labels: service
	serviceLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "service",
		Name:      "latency_seconds",
		Help:      "Extraction service call latency in seconds",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"service"})

	// jobs counts finished extraction jobs.
	// Labels: outcome (completed, cancelled, failed)
	jobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "job",
		Name:      "finished_total",
		Help:      "Extraction jobs by terminal outcome",
	}, []string{"outcome"})

	// jobDuration measures wall time from job start to terminal state.
	jobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "job",
		Name:      "duration_seconds",
		Help:      "Extraction job duration in seconds",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
	})

	activeJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "job",
		Name:      "active",
		Help:      "Extraction jobs currently running",
	})

	rowsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "rows_processed_total",
		Help:      "Filtered rows processed by the extraction engine",
	})

	// historyOps counts history operations.
	// Labels: op (add, undo, redo, replay), status (ok, error)
	historyOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "history",
		Name:      "operations_total",
		Help:      "History operations by type and status",
	}, []string{"op", "status"})

	// httpRequests counts served requests.
	// Labels: method, route (chi route pattern), status
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route and status code",
	}, []string{"method", "route", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	rateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the per-IP rate limiter",
	})
)

// RecordServiceCall records the outcome and latency of one service call.
func RecordServiceCall(service, outcome string, d time.Duration) {
	serviceCalls.WithLabelValues(service, outcome).Inc()
	serviceLatency.WithLabelValues(service).Observe(d.Seconds())
}

// RecordRowProcessed counts one processed filtered row.
func RecordRowProcessed() {
	rowsProcessed.Inc()
}

// JobStarted increments the active job gauge.
func JobStarted() {
	activeJobs.Inc()
}

// JobFinished decrements the active job gauge and records the outcome.
func JobFinished(outcome string, d time.Duration) {
	activeJobs.Dec()
	jobs.WithLabelValues(outcome).Inc()
	jobDuration.Observe(d.Seconds())
}

// RecordHistoryOp records a history operation.
func RecordHistoryOp(op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	historyOps.WithLabelValues(op, status).Inc()
}

// RecordHTTPRequest records one served request. route is the matched
// route pattern, not the raw path, to keep label cardinality bounded.
func RecordHTTPRequest(method, route string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpLatency.WithLabelValues(method, route).Observe(d.Seconds())
}

// RecordRateLimited counts a request rejected by the rate limiter.
func RecordRateLimited() {
	rateLimited.Inc()
}
