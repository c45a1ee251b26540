package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "careconnect_api_build_info",
			Help: "Build information of the CareConnect API",
		},
		[]string{"version", "commit", "date"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "careconnect_api_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "careconnect_api_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "careconnect_api_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// PostgREST metrics
	UpstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "careconnect_api_upstream_requests_total",
			Help: "Total number of requests sent to the REST-over-Postgres API",
		},
		[]string{"table", "method", "status"},
	)

	UpstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "careconnect_api_upstream_request_duration_seconds",
			Help:    "Duration of REST-over-Postgres requests in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~41s
		},
		[]string{"table", "method"},
	)

	UpstreamRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "careconnect_api_upstream_retries_total",
			Help: "Total number of retried REST-over-Postgres reads",
		},
		[]string{"table"},
	)

	// Direct SQL metrics
	DBQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "careconnect_api_db_queries_total",
			Help: "Total number of direct SQL queries",
		},
		[]string{"source", "status"}, // source: "query", "rule", "applications", "rules_store"
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "careconnect_api_db_query_duration_seconds",
			Help:    "Duration of direct SQL queries in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		},
		[]string{"source"},
	)

	// Business metrics
	RuleExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "careconnect_api_rule_executions_total",
			Help: "Total number of rule executions by outcome",
		},
		[]string{"rule", "outcome"}, // outcome: "success", "error", "failed"
	)

	ApplicationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "careconnect_api_applications_total",
			Help: "Total number of care application submissions by outcome",
		},
		[]string{"outcome"}, // "accepted", "limit_reached", "duplicate", "not_found", "error"
	)

	RateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "careconnect_api_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
		[]string{"path"},
	)
)

// Middleware returns a chi middleware that records HTTP metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// Use the route pattern if available, otherwise use the path
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				path = p
			}
		}

		status := strconv.Itoa(ww.Status())
		duration := time.Since(start).Seconds()

		HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// RecordUpstreamRequest records metrics for one PostgREST round trip.
// A zero status means the request never got a response.
func RecordUpstreamRequest(table, method string, status int, duration time.Duration) {
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	UpstreamRequestsTotal.WithLabelValues(table, method, code).Inc()
	UpstreamRequestDuration.WithLabelValues(table, method).Observe(duration.Seconds())
}

// RecordUpstreamRetry counts a retried read.
func RecordUpstreamRetry(table string) {
	UpstreamRetriesTotal.WithLabelValues(table).Inc()
}

// RecordDBQuery records metrics for a direct SQL query.
func RecordDBQuery(source string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	DBQueriesTotal.WithLabelValues(source, status).Inc()
	DBQueryDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordRuleExecution records the outcome of a rule execution.
func RecordRuleExecution(rule, outcome string) {
	RuleExecutionsTotal.WithLabelValues(rule, outcome).Inc()
}

// RecordApplication records the outcome of an application submission.
func RecordApplication(outcome string) {
	ApplicationsTotal.WithLabelValues(outcome).Inc()
}
