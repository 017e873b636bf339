package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveEvaluation(time.Now(), 3)
	m.EvaluationFailed("catalog_unavailable")
	m.IncrementMigration("completed")
	m.IncrementMigration("completed")
	m.IncrementUpsert("inserted")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.EvaluationsTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EvaluationsTotal.WithLabelValues("catalog_unavailable")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.MigrationsTotal.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordUpserts.WithLabelValues("inserted")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveEvaluation(time.Now(), 1)
		m.EvaluationFailed("error")
		m.IncrementMigration("partial")
		m.IncrementUpsert("failed")
	})
}

func TestNew_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}
