// Package metrics holds Torale's Prometheus instrumentation points: ticks
// fired by the workflow runtime, executions by terminal status, and circuit
// breaker state per named breaker. Exporting these over HTTP is out of
// scope; the instruments themselves are registered so an embedding binary
// can expose them however it likes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	toraleerrors "torale/internal/shared/errors"
)

// Metrics bundles the counters/gauges shared across the workflow runtime,
// the executor, and the circuit breakers guarding outbound ports.
type Metrics struct {
	ticksFired          *prometheus.CounterVec
	executionsByStatus  *prometheus.CounterVec
	circuitBreakerState *prometheus.GaugeVec
}

// New registers instruments on the default Prometheus registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers instruments on reg, letting tests use an
// isolated prometheus.NewRegistry() instead of the process-global default.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ticksFired: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "torale",
			Subsystem: "workflow_runtime",
			Name:      "ticks_fired_total",
			Help:      "Number of cron ticks dispatched to a task's workflow, by task id.",
		}, []string{"task_id"}),
		executionsByStatus: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "torale",
			Subsystem: "executor",
			Name:      "executions_total",
			Help:      "Number of executions completed, by terminal status.",
		}, []string{"status"}),
		circuitBreakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "torale",
			Subsystem: "circuit_breaker",
			Name:      "state",
			Help:      "Circuit breaker state by name: 0=closed, 1=open, 2=half-open.",
		}, []string{"name"}),
	}
}

// RecordTick increments the tick counter for taskID.
func (m *Metrics) RecordTick(taskID string) {
	if m == nil {
		return
	}
	m.ticksFired.WithLabelValues(taskID).Inc()
}

// RecordExecution increments the execution counter for status.
func (m *Metrics) RecordExecution(status string) {
	if m == nil {
		return
	}
	m.executionsByStatus.WithLabelValues(status).Inc()
}

// CircuitBreakerStateFunc returns a CircuitBreakerConfig.OnStateChange
// callback that records every transition under name.
func (m *Metrics) CircuitBreakerStateFunc() func(name string, from, to toraleerrors.CircuitState) {
	return func(name string, _, to toraleerrors.CircuitState) {
		if m == nil {
			return
		}
		m.circuitBreakerState.WithLabelValues(name).Set(float64(to))
	}
}
