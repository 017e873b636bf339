// Package formatter ranks and groups evaluation results for presentation.
package formatter

import (
	"cmp"
	"slices"

	"fiscal-eligibility-engine/internal/models"
)

// FormattedResults is the presentation view of an evaluation run.
type FormattedResults struct {
	Ranked             []models.EvaluationResult `json:"ranked"`
	TotalEstimatedGain int64                     `json:"total_estimated_gain"`
	EligibleCount      int                       `json:"eligible_count"`
}

// Compare orders results by gain descending, then score descending, then product id.
func Compare(a, b models.EvaluationResult) int {
	if c := cmp.Compare(b.EstimatedGain, a.EstimatedGain); c != 0 {
		return c
	}
	if c := cmp.Compare(b.Score, a.Score); c != 0 {
		return c
	}
	return cmp.Compare(a.ProductID, b.ProductID)
}

// Format ranks results and totals the gain of eligible products.
// The input slice is not modified.
func Format(results []models.EvaluationResult) FormattedResults {
	ranked := slices.Clone(results)
	if ranked == nil {
		ranked = []models.EvaluationResult{}
	}
	slices.SortStableFunc(ranked, Compare)

	out := FormattedResults{Ranked: ranked}
	for _, r := range ranked {
		if !r.Eligible {
			continue
		}
		out.EligibleCount++
		out.TotalEstimatedGain += r.EstimatedGain
	}
	return out
}

// TopN returns the first n eligible ranked results.
func TopN(formatted FormattedResults, n int) []models.EvaluationResult {
	top := make([]models.EvaluationResult, 0, max(n, 0))
	for _, r := range formatted.Ranked {
		if len(top) >= n {
			break
		}
		if r.Eligible {
			top = append(top, r)
		}
	}
	return top
}

// GroupByConfidence buckets eligible results by confidence level, each bucket in ranked order.
func GroupByConfidence(results []models.EvaluationResult) map[models.ConfidenceLevel][]models.EvaluationResult {
	groups := map[models.ConfidenceLevel][]models.EvaluationResult{
		models.ConfidenceHigh:   {},
		models.ConfidenceMedium: {},
		models.ConfidenceLow:    {},
	}
	for _, r := range Format(results).Ranked {
		if r.Eligible {
			groups[r.ConfidenceLevel] = append(groups[r.ConfidenceLevel], r)
		}
	}
	return groups
}
