// Package metrics exposes Prometheus instruments for import runs.
//
// All methods on a nil *Import are no-ops, so callers that run without
// metrics (tests, the CLI) can pass nil.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pointsimport"

// Run outcomes.
const (
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeFatal   = "fatal"
	OutcomeTimeout = "timeout"
)

// Import holds the import pipeline instruments.
type Import struct {
	runs        *prometheus.CounterVec
	rowsApplied prometheus.Counter
	rowsFailed  *prometheus.CounterVec
	unprocessed prometheus.Counter
	duration    *prometheus.HistogramVec
	inFlight    prometheus.Gauge
}

// NewImport registers the import instruments with reg.
// Pass prometheus.DefaultRegisterer to expose them on the default /metrics handler.
func NewImport(reg prometheus.Registerer) *Import {
	factory := promauto.With(reg)

	return &Import{
		runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Import runs by file kind and outcome",
			}, []string{"kind", "outcome"},
		),
		rowsApplied: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_applied_total",
				Help:      "Rows credited to the ledger",
			},
		),
		rowsFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_failed_total",
				Help:      "Rows that failed, by pipeline stage",
			}, []string{"stage"},
		),
		unprocessed: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_unprocessed_total",
				Help:      "Rows left unapplied when a run timed out or was cancelled",
			},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Wall time of an import run",
				Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 60, 300},
			}, []string{"kind"},
		),
		inFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "runs_in_flight",
				Help:      "Import runs currently executing",
			},
		),
	}
}

// RunStarted marks a run as in flight.
func (m *Import) RunStarted() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

// RunFinished records the end of a run started with RunStarted.
func (m *Import) RunFinished(kind, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.inFlight.Dec()
	m.runs.WithLabelValues(kind, outcome).Inc()
	m.duration.WithLabelValues(kind).Observe(d.Seconds())
}

// RowsApplied adds n successfully credited rows.
func (m *Import) RowsApplied(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.rowsApplied.Add(float64(n))
}

// RowFailed counts one failed row for stage.
func (m *Import) RowFailed(stage string) {
	if m == nil {
		return
	}
	m.rowsFailed.WithLabelValues(stage).Inc()
}

// RowsUnprocessed adds n rows that were never applied.
func (m *Import) RowsUnprocessed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.unprocessed.Add(float64(n))
}
