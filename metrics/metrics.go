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
			Name: "coverage_cache_build_info",
			Help: "Build information of the coverage cache service",
		},
		[]string{"version", "commit", "date"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coverage_cache_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coverage_cache_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coverage_cache_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Cache build metrics
	CacheBuildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coverage_cache_builds_total",
			Help: "Total number of cache build calls by outcome",
		},
		[]string{"outcome"}, // "built", "skipped", "schema_error", "error"
	)

	CacheBuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coverage_cache_build_duration_seconds",
			Help:    "Duration of cache builds in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~41s
		},
	)

	CacheLongRows = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coverage_cache_long_rows",
			Help: "Number of rows in the long coverage table after the last build",
		},
	)

	// Query metrics
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coverage_cache_queries_total",
			Help: "Total number of cache queries",
		},
		[]string{"query", "status"},
	)

	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coverage_cache_query_duration_seconds",
			Help:    "Duration of cache queries in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"query"},
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
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}

		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// RecordBuild records the outcome of a cache build call.
func RecordBuild(outcome string, duration time.Duration, longRows int) {
	CacheBuildsTotal.WithLabelValues(outcome).Inc()
	if outcome == "skipped" {
		return
	}
	CacheBuildDuration.Observe(duration.Seconds())
	if outcome == "built" {
		CacheLongRows.Set(float64(longRows))
	}
}

// RecordQuery records metrics for a cache query.
func RecordQuery(query string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	QueriesTotal.WithLabelValues(query, status).Inc()
	QueryDuration.WithLabelValues(query).Observe(duration.Seconds())
}
