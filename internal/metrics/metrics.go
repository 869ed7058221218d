// Package metrics provides Prometheus instrumentation for the coordinator:
// HTTP request counters/histograms plus the queue's own operational
// counters, grounded on the teacher's infrastructure/metrics package.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector the coordinator registers.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	QueueLeasesTotal        *prometheus.CounterVec
	QueueEntriesOutstanding prometheus.Gauge
	RecordsIngestedTotal    *prometheus.CounterVec
}

// New creates a Metrics instance registered against the default registerer.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Metrics instance registered against registerer,
// so tests can use a throwaway prometheus.NewRegistry().
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coordinator_http_requests_total",
				Help: "Total number of HTTP requests handled.",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coordinator_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds.",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "coordinator_http_requests_in_flight",
				Help: "Current number of HTTP requests being processed.",
			},
		),
		QueueLeasesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coordinator_queue_leases_total",
				Help: "Total number of leases granted, by outcome.",
			},
			[]string{"outcome"},
		),
		QueueEntriesOutstanding: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "coordinator_queue_entries_outstanding",
				Help: "Queue entries currently leased out and awaiting submission.",
			},
		),
		RecordsIngestedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coordinator_records_ingested_total",
				Help: "Total number of records persisted via /add, by kind.",
			},
			[]string{"kind"},
		),
	}

	registerer.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.QueueLeasesTotal,
		m.QueueEntriesOutstanding,
		m.RecordsIngestedTotal,
	)
	return m
}

// RecordHTTPRequest records one completed HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordLease records a lease attempt's outcome ("granted" or "none").
func (m *Metrics) RecordLease(outcome string) {
	m.QueueLeasesTotal.WithLabelValues(outcome).Inc()
}

// RecordIngested records the number of records persisted of a given kind.
func (m *Metrics) RecordIngested(kind string, n int) {
	if n <= 0 {
		return
	}
	m.RecordsIngestedTotal.WithLabelValues(kind).Add(float64(n))
}

// Middleware wraps an HTTP handler to record request counts and latency,
// using the route's registered path template rather than the raw URL so
// path parameters do not explode the cardinality of the metric.
func Middleware(m *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			wrapped := &statusCapturingWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			path := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tmpl, err := route.GetPathTemplate(); err == nil {
					path = tmpl
				}
			}
			m.RecordHTTPRequest(r.Method, path, strconv.Itoa(wrapped.statusCode), time.Since(start))
		})
	}
}

type statusCapturingWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (w *statusCapturingWriter) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
		w.ResponseWriter.WriteHeader(code)
	}
}

func (w *statusCapturingWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}
