// Package models defines the data structures for the eligibility engine.
package models

import (
	"fmt"
	"math"
)

// Product represents a fiscal or financial product of the catalog.
type Product struct {
	ID          string `json:"id" db:"id"`
	Name        string `json:"name" db:"name"`
	Description string `json:"description,omitempty" db:"description"`
	Category    string `json:"category,omitempty" db:"category"`
	Active      bool   `json:"active" db:"is_active"`
}

// ConditionKind tags the node type of a condition tree.
type ConditionKind string

const (
	ConditionEquals  ConditionKind = "equals"
	ConditionInSet   ConditionKind = "in_set"
	ConditionAtLeast ConditionKind = "at_least"
	ConditionAnd     ConditionKind = "and"
)

// Condition is a node of a rule's boolean condition tree.
//
// Leaves (equals, in_set, at_least) reference exactly one question;
// and-nodes only carry children.
type Condition struct {
	Kind       ConditionKind `json:"kind"`
	QuestionID string        `json:"question_id,omitempty"`
	Value      *AnswerValue  `json:"value,omitempty"`
	Values     []AnswerValue `json:"values,omitempty"`
	Min        *float64      `json:"min,omitempty"`
	Children   []Condition   `json:"children,omitempty"`
}

// Equals builds an equality leaf.
func Equals(questionID string, value AnswerValue) Condition {
	return Condition{Kind: ConditionEquals, QuestionID: questionID, Value: &value}
}

// InSet builds a membership leaf.
func InSet(questionID string, values ...AnswerValue) Condition {
	return Condition{Kind: ConditionInSet, QuestionID: questionID, Values: values}
}

// AtLeast builds a numeric threshold leaf.
func AtLeast(questionID string, min float64) Condition {
	return Condition{Kind: ConditionAtLeast, QuestionID: questionID, Min: &min}
}

// And builds a conjunction.
func And(children ...Condition) Condition {
	return Condition{Kind: ConditionAnd, Children: children}
}

// Validate checks the node shape for its kind, recursively.
func (c *Condition) Validate() error {
	switch c.Kind {
	case ConditionEquals:
		if c.QuestionID == "" || c.Value == nil {
			return fmt.Errorf("%w: equals needs question_id and value", ErrInvalidCondition)
		}
		if len(c.Values) > 0 || c.Min != nil || len(c.Children) > 0 {
			return fmt.Errorf("%w: equals on %s carries foreign fields", ErrInvalidCondition, c.QuestionID)
		}
	case ConditionInSet:
		if c.QuestionID == "" || len(c.Values) == 0 {
			return fmt.Errorf("%w: in_set needs question_id and values", ErrInvalidCondition)
		}
		if c.Value != nil || c.Min != nil || len(c.Children) > 0 {
			return fmt.Errorf("%w: in_set on %s carries foreign fields", ErrInvalidCondition, c.QuestionID)
		}
	case ConditionAtLeast:
		if c.QuestionID == "" || c.Min == nil {
			return fmt.Errorf("%w: at_least needs question_id and min", ErrInvalidCondition)
		}
		if c.Value != nil || len(c.Values) > 0 || len(c.Children) > 0 {
			return fmt.Errorf("%w: at_least on %s carries foreign fields", ErrInvalidCondition, c.QuestionID)
		}
	case ConditionAnd:
		if len(c.Children) == 0 {
			return fmt.Errorf("%w: and needs at least one child", ErrInvalidCondition)
		}
		if c.QuestionID != "" || c.Value != nil || len(c.Values) > 0 || c.Min != nil {
			return fmt.Errorf("%w: and carries leaf fields", ErrInvalidCondition)
		}
		for i := range c.Children {
			if err := c.Children[i].Validate(); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidCondition, c.Kind)
	}
	return nil
}

// QuestionIDs returns the question ids referenced by the tree, in tree order.
func (c *Condition) QuestionIDs() []string {
	if c.Kind == ConditionAnd {
		var ids []string
		for i := range c.Children {
			ids = append(ids, c.Children[i].QuestionIDs()...)
		}
		return ids
	}
	return []string{c.QuestionID}
}

// FormulaOp is one step of a gain formula. Exactly one of Var or Result is set.
type FormulaOp struct {
	Var      string  `json:"var,omitempty"`
	Result   bool    `json:"result,omitempty"`
	Multiply float64 `json:"multiply"`
}

// Formula is an ordered sequence of operations.
type Formula []FormulaOp

// Validate checks the formula can be executed and stays monotone.
func (f Formula) Validate() error {
	if len(f) == 0 {
		return fmt.Errorf("%w: no operations", ErrInvalidFormula)
	}
	for i, op := range f {
		if (op.Var == "") == !op.Result {
			return fmt.Errorf("%w: operation %d must set exactly one of var or result", ErrInvalidFormula, i)
		}
		if op.Multiply < 0 || math.IsNaN(op.Multiply) || math.IsInf(op.Multiply, 0) {
			return fmt.Errorf("%w: operation %d has invalid multiplier %v", ErrInvalidFormula, i, op.Multiply)
		}
	}
	return nil
}

// Rule is a declarative eligibility rule for a product.
type Rule struct {
	ID          string    `json:"id" db:"id"`
	ProductID   string    `json:"product_id" db:"product_id"`
	Condition   Condition `json:"condition" db:"condition_tree"`
	Formula     Formula   `json:"formula,omitempty" db:"formula"`
	Priority    int       `json:"priority" db:"priority"`
	Score       int       `json:"score" db:"score"`
	Active      bool      `json:"active" db:"is_active"`
	Description string    `json:"description,omitempty" db:"description"`
}

// Validate checks the rule shape.
func (r *Rule) Validate() error {
	if r.ID == "" || r.ProductID == "" {
		return fmt.Errorf("%w: rule needs id and product_id", ErrInvalidCatalog)
	}
	if r.Score < 0 || r.Score > 100 {
		return fmt.Errorf("%w: rule %s score %d outside 0-100", ErrInvalidCatalog, r.ID, r.Score)
	}
	if err := r.Condition.Validate(); err != nil {
		return fmt.Errorf("rule %s: %w", r.ID, err)
	}
	if r.Formula != nil {
		if err := r.Formula.Validate(); err != nil {
			return fmt.Errorf("rule %s: %w", r.ID, err)
		}
	}
	return nil
}
