package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fiscal-eligibility-engine/internal/models"
)

func ticpeCondition() models.Condition {
	return models.And(
		models.Equals("secteur", models.StringValue("Transport")),
		models.Equals("vehicules", models.StringValue("Oui")),
	)
}

func TestEvaluate_Leaves(t *testing.T) {
	answers := models.AnswerSet{
		"secteur":     models.StringValue("Transport"),
		"nb_employes": models.NumberValue(12),
		"travaux":     models.ListValue("Isolation", "Chauffage"),
		"export":      models.BoolValue(true),
	}

	tests := []struct {
		name string
		cond models.Condition
		want bool
	}{
		{"equals string", models.Equals("secteur", models.StringValue("Transport")), true},
		{"equals other string", models.Equals("secteur", models.StringValue("BTP")), false},
		{"equals bool", models.Equals("export", models.BoolValue(true)), true},
		{"equals does not coerce", models.Equals("nb_employes", models.StringValue("12")), false},
		{"in_set hit", models.InSet("secteur", models.StringValue("BTP"), models.StringValue("Transport")), true},
		{"in_set miss", models.InSet("secteur", models.StringValue("BTP")), false},
		{"in_set list answer", models.InSet("travaux", models.StringValue("Eclairage"), models.StringValue("Isolation")), true},
		{"at_least reached", models.AtLeast("nb_employes", 12), true},
		{"at_least below", models.AtLeast("nb_employes", 13), false},
		{"at_least non numeric", models.AtLeast("secteur", 1), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(tt.cond, answers))
		})
	}
}

func TestEvaluate_FailClosedOnMissingAnswers(t *testing.T) {
	conditions := []models.Condition{
		models.Equals("absent", models.StringValue("Oui")),
		models.InSet("absent", models.StringValue("Oui")),
		models.AtLeast("absent", 0),
		models.And(models.AtLeast("absent", 0)),
		ticpeCondition(),
		{Kind: models.ConditionAnd},
		{Kind: "or"},
	}

	for _, c := range conditions {
		assert.NotPanics(t, func() {
			assert.False(t, Evaluate(c, models.AnswerSet{}))
		})
	}
}

func TestMatch_FirstMatchByPriority(t *testing.T) {
	answers := models.AnswerSet{
		"depenses_rd": models.StringValue("Oui"),
		"montant_rd":  models.NumberValue(250000),
	}
	rules := []models.Rule{
		{ID: "inactive", Priority: 1, Active: false, Condition: models.Equals("depenses_rd", models.StringValue("Oui"))},
		{ID: "large", Priority: 10, Active: true, Score: 85, Condition: models.And(
			models.Equals("depenses_rd", models.StringValue("Oui")),
			models.AtLeast("montant_rd", 100000),
		)},
		{ID: "any", Priority: 20, Active: true, Score: 95, Condition: models.Equals("depenses_rd", models.StringValue("Oui"))},
	}

	rule, ok := Match(rules, answers)
	require.True(t, ok)
	assert.Equal(t, "large", rule.ID)

	answers["montant_rd"] = models.NumberValue(5000)
	rule, ok = Match(rules, answers)
	require.True(t, ok)
	assert.Equal(t, "any", rule.ID)

	_, ok = Match(rules, models.AnswerSet{})
	assert.False(t, ok)
}

func TestTriggers(t *testing.T) {
	rule := &models.Rule{Condition: ticpeCondition()}
	assert.Equal(t, map[string]bool{"secteur": true, "vehicules": true}, Triggers(rule))
	assert.Empty(t, Triggers(nil))
}
