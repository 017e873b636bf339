// Package evaluator turns an answer set into one scored result per active product.
package evaluator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"fiscal-eligibility-engine/internal/models"
	"fiscal-eligibility-engine/internal/services/catalog"
	"fiscal-eligibility-engine/internal/services/formula"
	"fiscal-eligibility-engine/internal/services/metrics"
	"fiscal-eligibility-engine/internal/services/rules"
	"fiscal-eligibility-engine/internal/utils"
)

// DefaultConcurrency bounds parallel product evaluations when none is configured.
const DefaultConcurrency = 8

// Evaluator computes eligibility results against a catalog snapshot.
// It holds no per-call state and is safe for concurrent use.
type Evaluator struct {
	concurrency int
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// New creates an evaluator. m may be nil.
func New(concurrency int, m *metrics.Metrics) *Evaluator {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	return &Evaluator{
		concurrency: concurrency,
		metrics:     m,
		logger:      utils.Named("evaluator"),
	}
}

// Evaluate collapses raw answers (latest wins) and evaluates every active product.
func (e *Evaluator) Evaluate(ctx context.Context, snap *catalog.Snapshot, answers []models.Answer) ([]models.EvaluationResult, error) {
	return e.EvaluateSet(ctx, snap, models.Latest(answers))
}

// EvaluateSet evaluates every active product of snap against answers.
// Results are ordered by product id.
func (e *Evaluator) EvaluateSet(ctx context.Context, snap *catalog.Snapshot, answers models.AnswerSet) ([]models.EvaluationResult, error) {
	if snap == nil {
		e.metrics.EvaluationFailed("catalog_unavailable")
		return nil, fmt.Errorf("%w: no catalog snapshot", models.ErrCatalogUnavailable)
	}
	start := time.Now()

	clean, notes := snap.Sanitize(answers)
	products := snap.Products()
	results := make([]models.EvaluationResult, len(products))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, product := range products {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = Product(snap, product.ID, clean, notes)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		e.metrics.EvaluationFailed("canceled")
		return nil, fmt.Errorf("failed to evaluate products: %w", err)
	}

	eligible := len(models.EligibleResults(results))
	e.metrics.ObserveEvaluation(start, eligible)
	e.logger.Debug("Evaluation completed",
		utils.CatalogVersion(snap.Version()),
		zap.Int("products", len(results)),
		zap.Int("eligible", eligible),
		zap.Int("notes", len(notes)))

	return results, nil
}

// Product evaluates a single product. answers must already be sanitized
// against snap; notes are appended to the result's reasons.
func Product(snap *catalog.Snapshot, productID string, answers models.AnswerSet, notes []string) models.EvaluationResult {
	rule, ok := rules.Match(snap.RulesFor(productID), answers)
	if !ok {
		reasons := append([]string{"no rule matched"}, notes...)
		return models.Ineligible(productID, reasons)
	}

	reasons := []string{fmt.Sprintf("rule %s matched at priority %d", rule.ID, rule.Priority)}
	var gain int64
	if len(rule.Formula) > 0 {
		var formulaNotes []string
		gain, formulaNotes = formula.Compute(rule.Formula, answers)
		reasons = append(reasons, formulaNotes...)
	} else {
		reasons = append(reasons, "no gain formula, amount not estimated")
	}
	reasons = append(reasons, notes...)

	return models.EvaluationResult{
		ProductID:       productID,
		Eligible:        true,
		Score:           rule.Score,
		EstimatedGain:   gain,
		ConfidenceLevel: Confidence(snap, productID, rule, answers),
		MatchedRuleID:   rule.ID,
		Reasons:         reasons,
	}
}

// Confidence derives the confidence level of a matched product from its key
// questions that are currently visible.
//
//   - high: every such key question is answered, or the product has none
//   - medium: at least one answered key question beyond the rule's own triggers
//   - low: only the triggering questions were answered
func Confidence(snap *catalog.Snapshot, productID string, rule *models.Rule, answers models.AnswerSet) models.ConfidenceLevel {
	if rule == nil {
		return models.ConfidenceLow
	}

	visible := make(map[string]bool)
	for q := range snap.VisibleQuestions(answers) {
		visible[q.ID] = true
	}

	triggers := rules.Triggers(rule)
	total, answered, beyondTriggers := 0, 0, 0
	for _, q := range snap.KeyQuestions(productID) {
		if !visible[q.ID] {
			continue
		}
		total++
		if _, ok := answers.Get(q.ID); !ok {
			continue
		}
		answered++
		if !triggers[q.ID] {
			beyondTriggers++
		}
	}

	switch {
	case answered == total:
		return models.ConfidenceHigh
	case beyondTriggers > 0:
		return models.ConfidenceMedium
	default:
		return models.ConfidenceLow
	}
}
