// Package accounts re-evaluates authenticated accounts against their own answers.
package accounts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"fiscal-eligibility-engine/internal/models"
	"fiscal-eligibility-engine/internal/services/catalog"
	"fiscal-eligibility-engine/internal/services/evaluator"
	"fiscal-eligibility-engine/internal/services/formatter"
	"fiscal-eligibility-engine/internal/services/metrics"
	"fiscal-eligibility-engine/internal/utils"
)

// Store is the persistence account re-evaluation needs.
type Store interface {
	AppendAnswers(ctx context.Context, kind models.OwnerKind, ownerID string, answers []models.Answer) error
	ListAnswers(ctx context.Context, kind models.OwnerKind, ownerID string) ([]models.Answer, error)
	UpsertRecord(ctx context.Context, record *models.AccountEligibilityRecord) (models.UpsertOutcome, error)
	ListRecords(ctx context.Context, accountID string) ([]models.AccountEligibilityRecord, error)
}

// Reevaluation is the outcome of re-running the evaluator for an account.
type Reevaluation struct {
	AccountID string                            `json:"account_id"`
	Results   formatter.FormattedResults        `json:"results"`
	Records   []models.AccountEligibilityRecord `json:"records"`
}

// Service manages account-owned answers and eligibility records.
type Service struct {
	store     Store
	source    catalog.Source
	evaluator *evaluator.Evaluator
	metrics   *metrics.Metrics
	now       func() time.Time
	logger    *zap.Logger
}

// NewService creates an account service. m may be nil.
func NewService(store Store, source catalog.Source, eval *evaluator.Evaluator, m *metrics.Metrics) *Service {
	return &Service{
		store:     store,
		source:    source,
		evaluator: eval,
		metrics:   m,
		now:       time.Now,
		logger:    utils.Named("accounts"),
	}
}

// RecordAnswers appends answers owned by the account.
func (s *Service) RecordAnswers(ctx context.Context, accountID string, answers []models.Answer) error {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return models.ErrEmptyAccountID
	}
	now := s.now().UTC()
	for i := range answers {
		if strings.TrimSpace(answers[i].QuestionID) == "" {
			return fmt.Errorf("%w: question_id is required", models.ErrInvalidAnswer)
		}
		answers[i].OwnerID = accountID
		if answers[i].Timestamp.IsZero() {
			answers[i].Timestamp = now
		}
	}
	if err := s.store.AppendAnswers(ctx, models.OwnerAccount, accountID, answers); err != nil {
		return fmt.Errorf("failed to record account answers: %w", err)
	}
	return nil
}

// Records lists the account's eligibility records.
func (s *Service) Records(ctx context.Context, accountID string) ([]models.AccountEligibilityRecord, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, models.ErrEmptyAccountID
	}
	return s.store.ListRecords(ctx, accountID)
}

// Reevaluate evaluates the account's answers and updates its records.
//
// Eligible products are upserted. A product that is no longer eligible only
// has its existing record updated to not_eligible; no record is created for it.
// Source session ids of existing records are left untouched.
func (s *Service) Reevaluate(ctx context.Context, accountID string) (*Reevaluation, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, models.ErrEmptyAccountID
	}

	snap, err := s.source.Load(ctx)
	if err != nil {
		return nil, err
	}
	answers, err := s.store.ListAnswers(ctx, models.OwnerAccount, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list account answers: %w", err)
	}
	results, err := s.evaluator.Evaluate(ctx, snap, answers)
	if err != nil {
		return nil, err
	}

	existing, err := s.store.ListRecords(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	known := make(map[string]bool, len(existing))
	for _, r := range existing {
		known[r.ProductID] = true
	}

	for _, result := range results {
		if !result.Eligible && !known[result.ProductID] {
			continue
		}
		record := models.RecordFromResult(accountID, result, nil)
		outcome, err := s.store.UpsertRecord(ctx, record)
		if err != nil {
			s.metrics.IncrementUpsert("failed")
			return nil, fmt.Errorf("failed to upsert record for %s: %w", result.ProductID, err)
		}
		s.metrics.IncrementUpsert(string(outcome))
	}

	records, err := s.store.ListRecords(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	formatted := formatter.Format(results)
	s.logger.Info("Account re-evaluated",
		utils.AccountID(accountID),
		utils.CatalogVersion(snap.Version()),
		zap.Int("eligible", formatted.EligibleCount))

	return &Reevaluation{AccountID: accountID, Results: formatted, Records: records}, nil
}
