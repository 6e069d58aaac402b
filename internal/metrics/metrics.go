// Package metrics collects run metrics on a private Prometheus registry and
// writes them in the node exporter textfile format.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/vk/formulagrid/internal/failure"
	"github.com/vk/formulagrid/internal/resolver"
)

// Metrics implements resolver.Observer. The zero value is not usable; call
// New.
type Metrics struct {
	registry *prometheus.Registry

	formulasEvaluated *prometheus.CounterVec
	variablesResolved *prometheus.CounterVec
	resolutionErrors  *prometheus.CounterVec
	evaluationSeconds prometheus.Histogram
	runDuration       prometheus.Gauge
	runsTotal         *prometheus.CounterVec
}

var _ resolver.Observer = (*Metrics)(nil)

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.formulasEvaluated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formulagrid_formulas_evaluated_total",
			Help: "Number of formula evaluations.",
		},
		// errorful: did the evaluation fail
		[]string{"errorful"},
	)
	m.variablesResolved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formulagrid_variables_resolved_total",
			Help: "Number of resolved variables.",
		},
		// source: overlay, base or formula
		[]string{"source"},
	)
	m.resolutionErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formulagrid_resolution_errors_total",
			Help: "Number of variables that failed to resolve.",
		},
		[]string{"kind"},
	)
	m.evaluationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "formulagrid_evaluation_duration_seconds",
		Help:    "Time spent evaluating a single formula.",
		Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
	})
	m.runDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "formulagrid_run_duration_seconds",
		Help: "Wall time of the last run.",
	})
	m.runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formulagrid_runs_total",
			Help: "Number of runs.",
		},
		// outcome: complete, partial or canceled
		[]string{"outcome"},
	)

	m.registry.MustRegister(
		m.formulasEvaluated,
		m.variablesResolved,
		m.resolutionErrors,
		m.evaluationSeconds,
		m.runDuration,
		m.runsTotal,
	)
	return m
}

// Registry exposes the registry, e.g. for a /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// FormulaEvaluated implements resolver.Observer.
func (m *Metrics) FormulaEvaluated(_ string, elapsed time.Duration, err error) {
	m.formulasEvaluated.With(prometheus.Labels{"errorful": strconv.FormatBool(err != nil)}).Inc()
	m.evaluationSeconds.Observe(elapsed.Seconds())
}

// VariableResolved implements resolver.Observer.
func (m *Metrics) VariableResolved(_ string, source resolver.Source) {
	m.variablesResolved.With(prometheus.Labels{"source": source.String()}).Inc()
}

// VariableFailed implements resolver.Observer.
func (m *Metrics) VariableFailed(err *failure.Error) {
	m.resolutionErrors.With(prometheus.Labels{"kind": err.Kind.String()}).Inc()
}

// RunFinished records the outcome of a run.
func (m *Metrics) RunFinished(res *resolver.Result, elapsed time.Duration) {
	outcome := "complete"
	switch {
	case res.Canceled:
		outcome = "canceled"
	case len(res.Errors) > 0:
		outcome = "partial"
	}
	m.runsTotal.With(prometheus.Labels{"outcome": outcome}).Inc()
	m.runDuration.Set(elapsed.Seconds())
}

// WriteTextfile writes every metric to path, atomically.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
