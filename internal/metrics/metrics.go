// Package metrics exposes Prometheus collectors for the archiver.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	archiverPagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archiver_pages_total",
			Help: "Total number of pages handled, labeled by site and outcome.",
		},
		[]string{"site", "outcome"},
	)

	archiverRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archiver_retries_total",
			Help: "Total retry attempts, labeled by failure category.",
		},
		[]string{"category"},
	)

	archiverTaskDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "archiver_task_duration_seconds",
			Help:    "Histogram of page task durations, labeled by outcome.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"outcome"},
	)

	archiverQueuePending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "archiver_queue_pending",
			Help: "Number of tasks waiting in the queue.",
		},
	)

	archiverQueueRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "archiver_queue_running",
			Help: "Number of tasks currently executing.",
		},
	)

	archiverImageLoadFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "archiver_image_load_failures_total",
			Help: "Total pages archived with at least one image that failed to load.",
		},
	)

	archiverArtifactsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archiver_artifacts_total",
			Help: "Total artifacts written, labeled by format.",
		},
		[]string{"format"},
	)

	archiverRateLimitDelaysSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "archiver_rate_limit_delays_seconds",
			Help:    "Histogram of per-domain rate limit wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"domain"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(ww, r)

		routePattern := chi.RouteContext(r.Context()).RoutePattern()
		if routePattern == "" {
			routePattern = "unknown"
		}
		ObserveHTTPRequest(r.Method, routePattern, ww.statusCode, time.Since(start))
	})
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// ObservePage increments the page counter for one site and outcome.
func ObservePage(site, outcome string) {
	archiverPagesTotal.WithLabelValues(SanitizeSite(site), outcome).Inc()
}

// ObserveRetry increments the retry counter for a failure category.
func ObserveRetry(category string) {
	archiverRetriesTotal.WithLabelValues(category).Inc()
}

// ObserveTaskDuration records how long a page task ran.
func ObserveTaskDuration(outcome string, duration time.Duration) {
	archiverTaskDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// SetQueueDepth publishes the queue's pending and running counts.
func SetQueueDepth(pending, running int) {
	archiverQueuePending.Set(float64(pending))
	archiverQueueRunning.Set(float64(running))
}

// ObserveImageLoadFailure counts a page whose images did not all load.
func ObserveImageLoadFailure() {
	archiverImageLoadFailuresTotal.Inc()
}

// ObserveArtifact counts a written artifact.
func ObserveArtifact(format string) {
	archiverArtifactsTotal.WithLabelValues(format).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	archiverRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
