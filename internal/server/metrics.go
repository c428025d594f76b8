// Package server metrics.go registers all Prometheus metrics for the HTTP
// server and exposes helpers used by handlers and middleware.
package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New and stored on Server so that tests can
// inject a fresh prometheus.Registry without polluting the default one.
type serverMetrics struct {
	// processRequestsTotal counts POST /api/process requests, partitioned by
	// outcome: "accepted", "invalid", or "error".
	processRequestsTotal *prometheus.CounterVec

	// activeEventStreams is the number of session SSE streams currently open.
	activeEventStreams prometheus.Gauge

	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, path, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec
}

// newServerMetrics registers all server metrics against reg and returns the
// populated serverMetrics. promauto.With(reg) registers into the provided
// registry rather than the global default, keeping unit tests hermetic.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		processRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vocsight",
			Subsystem: "server",
			Name:      "process_requests_total",
			Help:      "Total number of /api/process requests, partitioned by outcome.",
		}, []string{"outcome"}),

		activeEventStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "vocsight",
			Subsystem: "server",
			Name:      "active_event_streams",
			Help:      "Number of session progress SSE streams currently open.",
		}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vocsight",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, path, and status code.",
		}, []string{"method", "path", "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "vocsight",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

// middleware instruments every request with the http request counter and
// latency histogram. Session IDs are folded into a {id} placeholder so the
// path label stays bounded.
func (m *serverMetrics) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		start := time.Now()
		next.ServeHTTP(rw, r)
		elapsed := time.Since(start)

		path := metricPath(r.URL.Path)
		m.httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.status)).Inc()
		m.httpDurationSeconds.WithLabelValues(r.Method, path).Observe(elapsed.Seconds())
	})
}

// metricPath collapses per-session URL paths to their route pattern.
func metricPath(path string) string {
	const prefix = "/api/sessions/"
	if !strings.HasPrefix(path, prefix) {
		return path
	}
	rest := strings.TrimPrefix(path, prefix)
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return prefix + "{id}" + rest[i:]
	}
	return prefix + "{id}"
}
