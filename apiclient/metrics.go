package apiclient

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the executor.
type Metrics struct {
	Registry        *prometheus.Registry
	RequestsTotal   *prometheus.CounterVec
	RequestDuration prometheus.Histogram
	InFlight        prometheus.Gauge
	ErrorsTotal     *prometheus.CounterVec
	TokenRefreshes  prometheus.Counter
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookshelf_requests_total",
			Help: "Total authenticated API requests by outcome.",
		},
		[]string{"outcome"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bookshelf_request_duration_seconds",
			Help:    "End-to-end latency of authenticated API requests, token retrieval included.",
			Buckets: prometheus.DefBuckets,
		},
	)
	inFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bookshelf_requests_in_flight",
			Help: "Requests started and not yet settled.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookshelf_errors_total",
			Help: "Total number of failed requests by error type.",
		},
		[]string{"error_type"},
	)
	refreshes := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bookshelf_token_refreshes_total",
			Help: "Total number of ID token refresh round-trips.",
		},
	)

	registry.MustRegister(requests, requestDuration, inFlight, errorsTotal, refreshes)

	return &Metrics{
		Registry:        registry,
		RequestsTotal:   requests,
		RequestDuration: requestDuration,
		InFlight:        inFlight,
		ErrorsTotal:     errorsTotal,
		TokenRefreshes:  refreshes,
	}
}

// IncRequest increments the requests counter for an outcome ("success" or "failure").
func (m *Metrics) IncRequest(outcome string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveDuration records a request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

func (m *Metrics) setInFlight(n int) {
	if m == nil {
		return
	}
	m.InFlight.Set(float64(n))
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// IncTokenRefresh counts one refresh round-trip. It satisfies identity.RefreshObserver.
func (m *Metrics) IncTokenRefresh() {
	if m == nil {
		return
	}
	m.TokenRefreshes.Inc()
}
