// Package metrics exposes Prometheus instruments for evaluation and migration.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the engine's instruments. A nil *Metrics is valid and records nothing.
type Metrics struct {
	EvaluationsTotal   *prometheus.CounterVec
	EvaluationDuration prometheus.Histogram
	EligibleProducts   prometheus.Histogram
	MigrationsTotal    *prometheus.CounterVec
	RecordUpserts      *prometheus.CounterVec
}

// New registers the instruments on reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EvaluationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "eligibility_evaluations_total",
			Help: "Total number of evaluation runs by outcome",
		}, []string{"outcome"}),
		EvaluationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "eligibility_evaluation_duration_seconds",
			Help:    "Duration of a full evaluation run across all products",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
		}),
		EligibleProducts: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "eligibility_eligible_products",
			Help:    "Number of eligible products per evaluation run",
			Buckets: prometheus.LinearBuckets(0, 1, 10),
		}),
		MigrationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "eligibility_migrations_total",
			Help: "Total number of session migrations by status",
		}, []string{"status"}),
		RecordUpserts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "eligibility_record_upserts_total",
			Help: "Account eligibility record upserts by result",
		}, []string{"result"}),
	}
}

// ObserveEvaluation records a successful run.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveEvaluation(start time.Time, eligible int) {
	if m == nil {
		return
	}
	m.EvaluationsTotal.WithLabelValues("ok").Inc()
	m.EvaluationDuration.Observe(time.Since(start).Seconds())
	m.EligibleProducts.Observe(float64(eligible))
}

// EvaluationFailed records a run that returned no results.
func (m *Metrics) EvaluationFailed(reason string) {
	if m == nil {
		return
	}
	m.EvaluationsTotal.WithLabelValues(reason).Inc()
}

// IncrementMigration records a migration outcome.
func (m *Metrics) IncrementMigration(status string) {
	if m == nil {
		return
	}
	m.MigrationsTotal.WithLabelValues(status).Inc()
}

// IncrementUpsert records an upsert result: inserted, updated or failed.
func (m *Metrics) IncrementUpsert(result string) {
	if m == nil {
		return
	}
	m.RecordUpserts.WithLabelValues(result).Inc()
}
