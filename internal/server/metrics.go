package server

// Prometheus metrics for the HTTP server and the helpers handlers and
// middleware use to record them.

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric label values shared across registrations.
const (
	// labelHandler is the "handler" label value used to partition metrics by
	// the logical endpoint name rather than the raw URL path.
	labelHandler = "handler"
)

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New and stored on Server so that tests can
// inject a fresh prometheus.Registry without polluting the default one.
type serverMetrics struct {
	// guideRequestsTotal counts completed /api/guide requests, partitioned by
	// outcome: "ok", "canceled", or the failing stage.
	guideRequestsTotal *prometheus.CounterVec

	// guideDurationSeconds records the wall-clock duration of each
	// /api/guide request, retrieval and generation included.
	guideDurationSeconds *prometheus.HistogramVec

	// guideActive is the number of /api/guide requests in flight.
	guideActive prometheus.Gauge

	// searchRequestsTotal counts /api/search requests by outcome.
	searchRequestsTotal *prometheus.CounterVec

	// ticketsWrittenTotal counts tickets submitted through the API by
	// outcome: "ok" or the failing stage.
	ticketsWrittenTotal *prometheus.CounterVec

	// rateLimitedTotal counts requests rejected with 429, by handler.
	rateLimitedTotal *prometheus.CounterVec

	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, path pattern, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec
}

// newServerMetrics registers all server metrics against reg and returns the
// populated serverMetrics. promauto.With(reg) is used so that each call
// registers into the provided registry rather than the global default.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		guideRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tixrag",
			Subsystem: "guide",
			Name:      "requests_total",
			Help:      "Total number of /api/guide requests completed, partitioned by outcome.",
		}, []string{"outcome"}),

		guideDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tixrag",
			Subsystem: "guide",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of /api/guide requests from receipt to completion.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"outcome"}),

		guideActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "tixrag",
			Subsystem: "guide",
			Name:      "active_requests",
			Help:      "Number of /api/guide requests currently in flight.",
		}),

		searchRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tixrag",
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Total number of /api/search requests completed, partitioned by outcome.",
		}, []string{"outcome"}),

		ticketsWrittenTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tixrag",
			Subsystem: "tickets",
			Name:      "written_total",
			Help:      "Tickets submitted through the API, partitioned by outcome.",
		}, []string{"outcome"}),

		rateLimitedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tixrag",
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-client rate limiter, partitioned by handler.",
		}, []string{labelHandler}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tixrag",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tixrag",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),
	}
}

// instrument wraps next so every request is counted and timed under the
// logical handler name.
func (s *Server) instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rw, r)
		s.metrics.httpRequestsTotal.WithLabelValues(r.Method, name, strconv.Itoa(rw.status)).Inc()
		s.metrics.httpDurationSeconds.WithLabelValues(r.Method, name).Observe(time.Since(start).Seconds())
	})
}
