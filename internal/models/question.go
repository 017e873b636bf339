// Package models defines the data structures for the eligibility engine.
package models

import (
	"cmp"
	"fmt"
)

// QuestionValueType represents the expected type of an answer.
type QuestionValueType string

const (
	QuestionValueChoice      QuestionValueType = "choice"
	QuestionValueMultiChoice QuestionValueType = "multi_choice"
	QuestionValueNumber      QuestionValueType = "number"
	QuestionValueBoolean     QuestionValueType = "boolean"
	QuestionValueText        QuestionValueType = "text"
)

// IsValid checks if the value type is known.
func (t QuestionValueType) IsValid() bool {
	switch t {
	case QuestionValueChoice, QuestionValueMultiChoice, QuestionValueNumber, QuestionValueBoolean, QuestionValueText:
		return true
	}
	return false
}

// VisibilityCondition makes a question depend on a prior answer.
// A list Answer means "any of".
type VisibilityCondition struct {
	QuestionID string      `json:"question_id"`
	Answer     AnswerValue `json:"answer"`
}

// Question represents one entry of the questionnaire.
type Question struct {
	ID               string               `json:"id" db:"id"`
	Text             string               `json:"text" db:"text"`
	Order            int                  `json:"order" db:"question_order"`
	Phase            int                  `json:"phase" db:"phase"`
	TargetedProducts []string             `json:"targeted_products" db:"targeted_products"`
	ValueType        QuestionValueType    `json:"value_type" db:"value_type"`
	Options          []string             `json:"options,omitempty" db:"options"`
	Key              bool                 `json:"key" db:"is_key"`
	Visibility       *VisibilityCondition `json:"visibility,omitempty" db:"visibility"`
}

// Targets reports whether the question is relevant to a product.
func (q *Question) Targets(productID string) bool {
	for _, p := range q.TargetedProducts {
		if p == productID {
			return true
		}
	}
	return false
}

// CompareQuestions orders questions by (phase, order).
func CompareQuestions(a, b Question) int {
	if c := cmp.Compare(a.Phase, b.Phase); c != 0 {
		return c
	}
	return cmp.Compare(a.Order, b.Order)
}

// Position renders the (phase, order) pair for error messages.
func (q *Question) Position() string {
	return fmt.Sprintf("%d.%d", q.Phase, q.Order)
}
