// Package rules evaluates declarative rule conditions against an answer set.
package rules

import (
	"fiscal-eligibility-engine/internal/models"
)

// Match returns the first rule, in ascending priority, whose condition holds.
// rules must already be sorted by priority, as Snapshot.RulesFor returns them.
func Match(rules []models.Rule, answers models.AnswerSet) (*models.Rule, bool) {
	for i := range rules {
		if !rules[i].Active {
			continue
		}
		if Evaluate(rules[i].Condition, answers) {
			return &rules[i], true
		}
	}
	return nil, false
}

// Evaluate reports whether a condition tree holds. A leaf whose question was
// not answered, or was answered with an incompatible variant, is false.
func Evaluate(c models.Condition, answers models.AnswerSet) bool {
	switch c.Kind {
	case models.ConditionAnd:
		if len(c.Children) == 0 {
			return false
		}
		for _, child := range c.Children {
			if !Evaluate(child, answers) {
				return false
			}
		}
		return true

	case models.ConditionEquals:
		value, ok := answers.Get(c.QuestionID)
		if !ok || c.Value == nil {
			return false
		}
		return value.Matches(*c.Value)

	case models.ConditionInSet:
		value, ok := answers.Get(c.QuestionID)
		if !ok {
			return false
		}
		for _, candidate := range c.Values {
			if value.Matches(candidate) {
				return true
			}
		}
		return false

	case models.ConditionAtLeast:
		value, ok := answers.Get(c.QuestionID)
		if !ok || c.Min == nil {
			return false
		}
		n, isNumber := value.Number()
		return isNumber && n >= *c.Min

	default:
		return false
	}
}

// Triggers returns the question ids a matched rule depends on.
func Triggers(rule *models.Rule) map[string]bool {
	ids := make(map[string]bool)
	if rule == nil {
		return ids
	}
	for _, id := range rule.Condition.QuestionIDs() {
		ids[id] = true
	}
	return ids
}
