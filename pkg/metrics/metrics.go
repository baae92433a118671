// Package metrics exposes Prometheus collectors for pipeline executions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine and maintenance collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	executionsTotal   *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec

	stepsTotal   *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec

	executionsReaped prometheus.Counter

	registry *prometheus.Registry
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		executionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "calcflow_executions_total",
				Help: "Total number of pipeline executions by final status",
			},
			[]string{"pipeline", "status"},
		),

		executionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "calcflow_execution_duration_seconds",
				Help:    "Pipeline execution duration in seconds",
				Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10},
			},
			[]string{"pipeline"},
		),

		stepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "calcflow_steps_total",
				Help: "Total number of step runs by calculation type and status",
			},
			[]string{"pipeline", "calculation_type", "status"},
		),

		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "calcflow_step_duration_seconds",
				Help:    "Step run duration in seconds",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"calculation_type"},
		),

		executionsReaped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "calcflow_executions_reaped_total",
				Help: "Total number of stale running executions marked aborted",
			},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.executionsTotal,
		m.executionDuration,
		m.stepsTotal,
		m.stepDuration,
		m.executionsReaped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// RecordExecution records a finished pipeline execution.
func (m *Metrics) RecordExecution(pipeline, status string, duration time.Duration) {
	if m == nil {
		return
	}

	m.executionsTotal.WithLabelValues(pipeline, status).Inc()
	m.executionDuration.WithLabelValues(pipeline).Observe(duration.Seconds())
}

// RecordStep records a finished step run.
func (m *Metrics) RecordStep(pipeline, calculationType, status string, duration time.Duration) {
	if m == nil {
		return
	}

	m.stepsTotal.WithLabelValues(pipeline, calculationType, status).Inc()
	m.stepDuration.WithLabelValues(calculationType).Observe(duration.Seconds())
}

func (m *Metrics) RecordReaped(count int) {
	if m == nil {
		return
	}

	m.executionsReaped.Add(float64(count))
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
