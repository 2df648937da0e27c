// Package metrics provides Prometheus instrumentation for the StreamHaven
// backend. Metrics are registered via promauto at package init time and
// exposed at GET /metrics through Handler().
//
// Standard metrics exposed automatically by prometheus/client_golang:
//   - go_goroutines, go_gc_duration_seconds, etc. (Go runtime)
//   - process_cpu_seconds_total, process_open_fds, etc. (process)
//
// StreamHaven-specific metrics registered here:
//   streamhaven_http_requests_total            — counter: HTTP requests by method/path/status
//   streamhaven_http_request_duration_seconds  — histogram: HTTP latency by method/path
//   streamhaven_chunks_received_total          — counter: intake chunks accepted
//   streamhaven_intake_bytes_total             — counter: bytes staged via intake
//   streamhaven_publish_runs_total             — counter: drain runs by result
//   streamhaven_publish_items_total            — counter: per-item publish outcomes
//   streamhaven_publish_item_duration_seconds  — histogram: time to publish one item
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ── Counters ──────────────────────────────────────────────────────────────────

// HTTPRequests counts HTTP requests by method, path, and status code.
var HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "streamhaven_http_requests_total",
	Help: "Total HTTP requests handled.",
}, []string{"method", "path", "status"})

// ChunksReceived counts intake chunks accepted (duplicates included).
var ChunksReceived = promauto.NewCounter(prometheus.CounterOpts{
	Name: "streamhaven_chunks_received_total",
	Help: "Upload chunks accepted by the chunk assembler.",
})

// IntakeBytes counts bytes written to the blob store via intake.
var IntakeBytes = promauto.NewCounter(prometheus.CounterOpts{
	Name: "streamhaven_intake_bytes_total",
	Help: "Bytes staged through whole-file and chunked intake.",
})

// PublishRuns counts drain runs by result: completed, quota_stopped, conflict.
var PublishRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "streamhaven_publish_runs_total",
	Help: "Publish drain runs by result.",
}, []string{"result"})

// PublishItems counts per-item publish outcomes: processed, failed, quota_stopped.
var PublishItems = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "streamhaven_publish_items_total",
	Help: "Per-item publish pipeline outcomes.",
}, []string{"outcome"})

// ── Histograms ────────────────────────────────────────────────────────────────

// HTTPDuration tracks HTTP request latency.
var HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "streamhaven_http_request_duration_seconds",
	Help:    "HTTP request latency in seconds.",
	Buckets: prometheus.DefBuckets,
}, []string{"method", "path"})

// PublishItemDuration tracks end-to-end publish time for one staging item.
var PublishItemDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "streamhaven_publish_item_duration_seconds",
	Help:    "Time to publish a single staging item to the video host.",
	Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
})

// ── Handler ───────────────────────────────────────────────────────────────────

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ── Middleware ────────────────────────────────────────────────────────────────

// Middleware wraps an HTTP handler to record request counts and latency.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		dur := time.Since(start).Seconds()
		path := sanitizePath(r.URL.Path)
		status := strconv.Itoa(rw.status)
		HTTPRequests.WithLabelValues(r.Method, path, status).Inc()
		HTTPDuration.WithLabelValues(r.Method, path).Observe(dur)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// sanitizePath keeps label cardinality bounded for id-bearing paths.
// /admin/staging/550e8400-.../download → /admin/staging/:id/download
func sanitizePath(path string) string {
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if _, err := uuid.Parse(p); err == nil {
			parts[i] = ":id"
		}
	}
	path = strings.Join(parts, "/")
	if len(path) > 64 {
		return path[:64] + "..."
	}
	return path
}
