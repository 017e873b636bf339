// Package models defines the data structures for the eligibility engine.
package models

// ConfidenceLevel is a coarse indicator of how much of the relevant
// questionnaire was answered.
type ConfidenceLevel string

const (
	ConfidenceLow    ConfidenceLevel = "low"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceHigh   ConfidenceLevel = "high"
)

// Rank orders confidence levels, high first.
func (c ConfidenceLevel) Rank() int {
	switch c {
	case ConfidenceHigh:
		return 2
	case ConfidenceMedium:
		return 1
	default:
		return 0
	}
}

// EvaluationResult is the scored outcome for one product.
type EvaluationResult struct {
	ProductID       string          `json:"product_id"`
	Eligible        bool            `json:"eligible"`
	Score           int             `json:"score"`
	EstimatedGain   int64           `json:"estimated_gain"`
	ConfidenceLevel ConfidenceLevel `json:"confidence_level"`
	MatchedRuleID   string          `json:"matched_rule_id"`
	Reasons         []string        `json:"reasons"`
}

// Ineligible builds the result reported when no rule matched.
func Ineligible(productID string, reasons []string) EvaluationResult {
	if reasons == nil {
		reasons = []string{}
	}
	return EvaluationResult{
		ProductID:       productID,
		Eligible:        false,
		Score:           0,
		EstimatedGain:   0,
		ConfidenceLevel: ConfidenceLow,
		MatchedRuleID:   "",
		Reasons:         reasons,
	}
}

// EligibleResults filters results down to eligible products.
func EligibleResults(results []EvaluationResult) []EvaluationResult {
	eligible := make([]EvaluationResult, 0, len(results))
	for _, r := range results {
		if r.Eligible {
			eligible = append(eligible, r)
		}
	}
	return eligible
}
