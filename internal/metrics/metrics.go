// Package metrics exposes Prometheus metrics for the review engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics of the engine. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// Execution metrics
	ExecutionsSubmitted prometheus.Counter
	ExecutionsFinished  *prometheus.CounterVec
	Recommendations     *prometheus.CounterVec
	ExecutionDuration   prometheus.Histogram

	// Step metrics
	StepAttempts        *prometheus.CounterVec
	StepAttemptDuration *prometheus.HistogramVec
	StepRetries         *prometheus.CounterVec

	// Admission
	PolicyRejections prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		ExecutionsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "prreview_executions_submitted_total",
			Help: "Total number of review executions submitted",
		}),
		ExecutionsFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prreview_executions_finished_total",
				Help: "Total number of review executions that reached a terminal state",
			},
			[]string{"status"},
		),
		Recommendations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prreview_recommendations_total",
				Help: "Overall recommendations of completed executions",
			},
			[]string{"recommendation"},
		),
		ExecutionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "prreview_execution_duration_seconds",
			Help:    "Time from first step dispatch to completion",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		StepAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prreview_step_attempts_total",
				Help: "Step attempts by outcome",
			},
			[]string{"step", "outcome"},
		),
		StepAttemptDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "prreview_step_attempt_duration_seconds",
				Help:    "Duration of single step attempts in seconds",
				Buckets: []float64{0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"step"},
		),
		StepRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prreview_step_retries_total",
				Help: "Retries scheduled per step",
			},
			[]string{"step"},
		),
		PolicyRejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "prreview_policy_rejections_total",
			Help: "Review requests rejected by the admission policy",
		}),
	}
}

// NewRegistry creates a new Prometheus registry with metrics.
func NewRegistry() (*prometheus.Registry, *Metrics) {
	reg := prometheus.NewRegistry()
	return reg, NewMetrics(reg)
}

// HandlerFor returns an HTTP handler for a specific registry.
func HandlerFor(reg prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// ObserveAttempt records one step attempt.
func (m *Metrics) ObserveAttempt(step, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.StepAttempts.WithLabelValues(step, outcome).Inc()
	m.StepAttemptDuration.WithLabelValues(step).Observe(d.Seconds())
}

// IncRetry records a scheduled retry.
func (m *Metrics) IncRetry(step string) {
	if m == nil {
		return
	}
	m.StepRetries.WithLabelValues(step).Inc()
}

// IncSubmitted records a new execution.
func (m *Metrics) IncSubmitted() {
	if m == nil {
		return
	}
	m.ExecutionsSubmitted.Inc()
}

// IncPolicyRejection records a request blocked at admission.
func (m *Metrics) IncPolicyRejection() {
	if m == nil {
		return
	}
	m.PolicyRejections.Inc()
}

// ObserveFinished records a terminal execution.
func (m *Metrics) ObserveFinished(status, recommendation string, took time.Duration) {
	if m == nil {
		return
	}
	m.ExecutionsFinished.WithLabelValues(status).Inc()
	if recommendation != "" {
		m.Recommendations.WithLabelValues(recommendation).Inc()
		m.ExecutionDuration.Observe(took.Seconds())
	}
}
