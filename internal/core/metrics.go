package core

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for pipeline runs.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Records           *prometheus.CounterVec
	Exceptions        *prometheus.CounterVec
	Runs              *prometheus.CounterVec
	RunDuration       prometheus.Histogram
	WriteRetries      *prometheus.CounterVec
	AuditSinkFailures prometheus.Counter
}

// NewMetrics registers the pipeline metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Records: f.NewCounterVec(prometheus.CounterOpts{
			Name: "salesqc_records_total",
			Help: "Records processed, by validation outcome",
		}, []string{"outcome"}),
		Exceptions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "salesqc_exceptions_total",
			Help: "Exception records routed, by category and stage",
		}, []string{"category", "stage"}),
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "salesqc_runs_total",
			Help: "Pipeline runs, by final status",
		}, []string{"status"}),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "salesqc_run_duration_seconds",
			Help:    "Wall time of a pipeline run",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}),
		WriteRetries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "salesqc_persistence_retries_total",
			Help: "Persistence write attempts that failed and were retried, by table",
		}, []string{"table"}),
		AuditSinkFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "salesqc_audit_sink_failures_total",
			Help: "Audit writes that exhausted retries and were buffered locally",
		}),
	}
}

func (m *Metrics) recordOutcome(outcome Outcome, n int) {
	if m == nil || n == 0 {
		return
	}
	m.Records.WithLabelValues(string(outcome)).Add(float64(n))
}

func (m *Metrics) exceptionRouted(category Category, stage ExceptionStage) {
	if m == nil {
		return
	}
	m.Exceptions.WithLabelValues(string(category), string(stage)).Inc()
}

func (m *Metrics) runFinished(status RunStatus, start time.Time, end time.Time) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(string(status)).Inc()
	m.RunDuration.Observe(end.Sub(start).Seconds())
}

func (m *Metrics) writeRetried(kind TableKind) {
	if m == nil {
		return
	}
	m.WriteRetries.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) auditSinkFailed() {
	if m == nil {
		return
	}
	m.AuditSinkFailures.Inc()
}
