// Package observability exposes the Prometheus collectors used by the forge
// service and its HTTP front end.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the forge collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	requests   *prometheus.CounterVec
	retries    *prometheus.CounterVec
	completion *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg when reg is
// non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forge_requests_total",
				Help: "Total number of forge requests by mode and outcome.",
			},
			[]string{"mode", "outcome"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forge_quality_retries_total",
				Help: "Quality retries by result.",
			},
			[]string{"result"},
		),
		completion: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "forge_completion_duration_seconds",
				Help:    "Completion backend call duration in seconds.",
				Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
			},
			[]string{"attempt", "status"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.retries, m.completion)
	}
	return m
}

// ObserveRequest counts one finished request.
func (m *Metrics) ObserveRequest(mode, outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(mode, outcome).Inc()
}

// ObserveRetry counts one quality retry by its result.
func (m *Metrics) ObserveRetry(result string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(result).Inc()
}

// ObserveCompletion records the latency of one completion call.
func (m *Metrics) ObserveCompletion(attempt string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.completion.WithLabelValues(attempt, status).Observe(d.Seconds())
}
