package evaluator

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fiscal-eligibility-engine/internal/models"
	"fiscal-eligibility-engine/internal/services/catalog"
	"fiscal-eligibility-engine/internal/services/metrics"
)

func defaultSnapshot(t *testing.T) *catalog.Snapshot {
	t.Helper()
	snap, err := catalog.Default()
	require.NoError(t, err)
	return snap
}

func resultFor(t *testing.T, results []models.EvaluationResult, productID string) models.EvaluationResult {
	t.Helper()
	for _, r := range results {
		if r.ProductID == productID {
			return r
		}
	}
	t.Fatalf("no result for %s", productID)
	return models.EvaluationResult{}
}

func scenarioA() models.AnswerSet {
	return models.AnswerSet{
		"secteur":             models.StringValue("Transport"),
		"vehicules":           models.StringValue("Oui"),
		"nb_vehicules":        models.NumberValue(5),
		"carburant_litres_an": models.NumberValue(45000),
	}
}

func TestEvaluate_ScenarioA(t *testing.T) {
	snap := defaultSnapshot(t)
	results, err := New(4, nil).EvaluateSet(context.Background(), snap, scenarioA())
	require.NoError(t, err)

	ticpe := resultFor(t, results, "TICPE")
	assert.True(t, ticpe.Eligible)
	assert.Equal(t, int64(7650), ticpe.EstimatedGain)
	assert.Equal(t, 90, ticpe.Score)
	assert.Equal(t, "ticpe-vehicules", ticpe.MatchedRuleID)
	assert.Equal(t, models.ConfidenceHigh, ticpe.ConfidenceLevel)
}

func TestEvaluate_ScenarioB(t *testing.T) {
	snap := defaultSnapshot(t)
	answers := models.AnswerSet{
		"secteur":   models.StringValue("Transport"),
		"vehicules": models.StringValue("Non"),
	}

	for q := range snap.VisibleQuestions(answers) {
		assert.NotEqual(t, "nb_vehicules", q.ID)
	}

	results, err := New(4, nil).EvaluateSet(context.Background(), snap, answers)
	require.NoError(t, err)

	ticpe := resultFor(t, results, "TICPE")
	assert.False(t, ticpe.Eligible)
	assert.Equal(t, 0, ticpe.Score)
	assert.Equal(t, int64(0), ticpe.EstimatedGain)
	assert.Equal(t, models.ConfidenceLow, ticpe.ConfidenceLevel)
	assert.Empty(t, ticpe.MatchedRuleID)
}

func TestEvaluate_OneResultPerActiveProduct(t *testing.T) {
	snap := defaultSnapshot(t)
	results, err := New(2, nil).EvaluateSet(context.Background(), snap, models.AnswerSet{})
	require.NoError(t, err)

	require.Len(t, results, len(snap.Products()))
	for i, p := range snap.Products() {
		assert.Equal(t, p.ID, results[i].ProductID)
		assert.False(t, results[i].Eligible)
		assert.NotNil(t, results[i].Reasons)
	}
	for _, r := range results {
		assert.NotEqual(t, "TVA", r.ProductID, "inactive product evaluated")
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	snap := defaultSnapshot(t)
	answers := scenarioA()
	answers["nb_employes"] = models.NumberValue(14)
	answers["depenses_rd"] = models.StringValue("Oui")
	answers["montant_rd"] = models.NumberValue(20000)
	answers["unknown"] = models.StringValue("x")

	first, err := New(1, nil).EvaluateSet(context.Background(), snap, answers)
	require.NoError(t, err)
	want, err := json.Marshal(first)
	require.NoError(t, err)

	for _, concurrency := range []int{1, 2, 16} {
		for i := 0; i < 20; i++ {
			results, err := New(concurrency, nil).EvaluateSet(context.Background(), snap, answers)
			require.NoError(t, err)
			got, err := json.Marshal(results)
			require.NoError(t, err)
			assert.JSONEq(t, string(want), string(got))
			assert.Equal(t, string(want), string(got))
		}
	}
}

func TestEvaluate_LatestAnswerWins(t *testing.T) {
	snap := defaultSnapshot(t)
	base := time.Date(2025, 10, 1, 9, 0, 0, 0, time.UTC)
	answers := []models.Answer{
		{QuestionID: "secteur", Value: models.StringValue("Transport"), Timestamp: base},
		{QuestionID: "vehicules", Value: models.StringValue("Oui"), Timestamp: base},
		{QuestionID: "carburant_litres_an", Value: models.NumberValue(1000), Timestamp: base},
		{QuestionID: "carburant_litres_an", Value: models.NumberValue(45000), Timestamp: base.Add(time.Minute)},
	}

	results, err := New(4, nil).Evaluate(context.Background(), snap, answers)
	require.NoError(t, err)
	assert.Equal(t, int64(7650), resultFor(t, results, "TICPE").EstimatedGain)
}

func TestEvaluate_UnknownQuestionIsNoted(t *testing.T) {
	snap := defaultSnapshot(t)
	answers := scenarioA()
	answers["couleur_prefere"] = models.StringValue("bleu")

	results, err := New(4, nil).EvaluateSet(context.Background(), snap, answers)
	require.NoError(t, err)

	for _, r := range results {
		found := false
		for _, reason := range r.Reasons {
			if containsAll(reason, "invalid answer", "couleur_prefere") {
				found = true
			}
		}
		assert.True(t, found, "product %s missing invalid answer note", r.ProductID)
	}
	assert.True(t, resultFor(t, results, "TICPE").Eligible)
}

func TestEvaluate_HiddenAnswersArePruned(t *testing.T) {
	snap := defaultSnapshot(t)
	answers := models.AnswerSet{
		"secteur":             models.StringValue("Transport"),
		"vehicules":           models.StringValue("Non"),
		"nb_chauffeurs":       models.NumberValue(8),
		"carburant_litres_an": models.NumberValue(45000),
	}

	results, err := New(4, nil).EvaluateSet(context.Background(), snap, answers)
	require.NoError(t, err)

	dfs := resultFor(t, results, "DFS")
	assert.False(t, dfs.Eligible)
	assert.Contains(t, dfs.Reasons, `answer to hidden question "nb_chauffeurs" ignored`)
}

func TestEvaluate_DegradedFormulaStaysEligible(t *testing.T) {
	snap := defaultSnapshot(t)
	answers := models.AnswerSet{
		"secteur":             models.StringValue("BTP"),
		"vehicules":           models.StringValue("Oui"),
		"carburant_litres_an": models.StringValue("beaucoup"),
	}

	results, err := New(4, nil).EvaluateSet(context.Background(), snap, answers)
	require.NoError(t, err)

	ticpe := resultFor(t, results, "TICPE")
	assert.True(t, ticpe.Eligible)
	assert.Equal(t, int64(0), ticpe.EstimatedGain)
	assert.True(t, containsAll(ticpe.Reasons[1], "carburant_litres_an", "not numeric"))
}

func TestEvaluate_NoFormulaProduct(t *testing.T) {
	snap := defaultSnapshot(t)
	answers := models.AnswerSet{
		"contrats_energie":     models.StringValue("Oui"),
		"travaux_energetiques": models.ListValue("Isolation"),
	}

	results, err := New(4, nil).EvaluateSet(context.Background(), snap, answers)
	require.NoError(t, err)

	cee := resultFor(t, results, "CEE")
	assert.True(t, cee.Eligible)
	assert.Equal(t, int64(0), cee.EstimatedGain)
	assert.Equal(t, 60, cee.Score)
}

func TestConfidence(t *testing.T) {
	snap := defaultSnapshot(t)

	tests := []struct {
		name    string
		answers models.AnswerSet
		want    models.ConfidenceLevel
	}{
		{
			name:    "all key questions answered",
			answers: scenarioA(),
			want:    models.ConfidenceHigh,
		},
		{
			name: "partial beyond triggers",
			answers: models.AnswerSet{
				"secteur":      models.StringValue("Transport"),
				"vehicules":    models.StringValue("Oui"),
				"nb_vehicules": models.NumberValue(3),
			},
			want: models.ConfidenceMedium,
		},
		{
			name: "only triggers answered",
			answers: models.AnswerSet{
				"secteur":   models.StringValue("Transport"),
				"vehicules": models.StringValue("Oui"),
			},
			want: models.ConfidenceLow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := New(4, nil).EvaluateSet(context.Background(), snap, tt.answers)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resultFor(t, results, "TICPE").ConfidenceLevel)
		})
	}
}

func TestEvaluate_NilSnapshot(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	_, err := New(1, m).EvaluateSet(context.Background(), nil, models.AnswerSet{})
	assert.ErrorIs(t, err, models.ErrCatalogUnavailable)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EvaluationsTotal.WithLabelValues("catalog_unavailable")))
}

func TestEvaluate_RecordsMetrics(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	_, err := New(2, m).EvaluateSet(context.Background(), defaultSnapshot(t), scenarioA())
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EvaluationsTotal.WithLabelValues("ok")))
}

func containsAll(s string, parts ...string) bool {
	for _, p := range parts {
		if !strings.Contains(s, p) {
			return false
		}
	}
	return true
}
