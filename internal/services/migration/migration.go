// Package migration commits an evaluated anonymous session to durable
// per-account eligibility records.
//
// A migration claims the session by moving it to migrating with the account
// recorded in migrated_account_id. Every later save is conditioned on that
// claim, so another account cannot take over a migration in flight. Records
// are upserts keyed by (account_id, product_id), so a retried migration
// converges on one record per product.
package migration

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"fiscal-eligibility-engine/internal/models"
	"fiscal-eligibility-engine/internal/services/identity"
	"fiscal-eligibility-engine/internal/services/metrics"
	"fiscal-eligibility-engine/internal/utils"
)

// Store is the persistence the migration needs.
type Store interface {
	GetSessionByToken(ctx context.Context, token string) (*models.Session, error)
	SaveSession(ctx context.Context, s *models.Session, expect models.SessionExpect) error
	ListAnswers(ctx context.Context, kind models.OwnerKind, ownerID string) ([]models.Answer, error)
	AppendAnswers(ctx context.Context, kind models.OwnerKind, ownerID string, answers []models.Answer) error
	UpsertRecord(ctx context.Context, record *models.AccountEligibilityRecord) (models.UpsertOutcome, error)
}

// Status summarizes a migration attempt.
type Status string

const (
	StatusCompleted       Status = "completed"
	StatusPartial         Status = "partial"
	StatusAlreadyMigrated Status = "already_migrated"
)

// Report lists precisely which products were committed.
type Report struct {
	SessionID          string            `json:"session_id"`
	AccountID          string            `json:"account_id"`
	Status             Status            `json:"status"`
	MigratedProductIDs []string          `json:"migrated_product_ids"`
	InsertedProductIDs []string          `json:"inserted_product_ids"`
	FailedProductIDs   []string          `json:"failed_product_ids"`
	Failures           map[string]string `json:"failures,omitempty"`
	Error              string            `json:"error,omitempty"`
}

// AlreadyMigrated reports whether the session had been migrated before this call.
func (r *Report) AlreadyMigrated() bool {
	return r.Status == StatusAlreadyMigrated
}

// Err returns ErrPartialMigrationFailure when some products were not written
// or a step after the record writes failed.
func (r *Report) Err() error {
	switch {
	case len(r.FailedProductIDs) > 0:
		return fmt.Errorf("%w: %s", models.ErrPartialMigrationFailure, strings.Join(r.FailedProductIDs, ", "))
	case r.Error != "":
		return fmt.Errorf("%w: %s", models.ErrPartialMigrationFailure, r.Error)
	}
	return nil
}

func newReport(sess *models.Session, accountID string) *Report {
	return &Report{
		SessionID:          sess.ID,
		AccountID:          accountID,
		MigratedProductIDs: []string{},
		InsertedProductIDs: []string{},
		FailedProductIDs:   []string{},
	}
}

// Event is passed to notifiers after a completed migration.
type Event struct {
	Report         *Report
	Principal      identity.Principal
	Results        []models.EvaluationResult
	CatalogVersion string
}

// Notifier is told about completed migrations. Errors are logged only.
type Notifier interface {
	NotifyMigration(ctx context.Context, event Event) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, event Event) error

// NotifyMigration calls f.
func (f NotifierFunc) NotifyMigration(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Service migrates sessions to accounts.
type Service struct {
	store     Store
	notifiers []Notifier
	metrics   *metrics.Metrics
	now       func() time.Time
	logger    *zap.Logger
}

// NewService creates a migration service. m may be nil.
func NewService(store Store, m *metrics.Metrics, notifiers ...Notifier) *Service {
	return &Service{
		store:     store,
		notifiers: notifiers,
		metrics:   m,
		now:       time.Now,
		logger:    utils.Named("migration"),
	}
}

// Migrate commits the eligible results of a session to accountID.
func (s *Service) Migrate(ctx context.Context, sessionToken, accountID string) (*Report, error) {
	return s.MigrateFor(ctx, sessionToken, identity.Principal{ID: accountID})
}

// MigrateFor commits the eligible results of a session to the principal's account.
//
// Once records may have been written, failures are not returned as errors:
// the report lists what was committed, Report.Err describes what was not, and
// the session is handed back as evaluated so the call can be retried. Only the
// claiming account can resume a session left migrating.
func (s *Service) MigrateFor(ctx context.Context, sessionToken string, principal identity.Principal) (*Report, error) {
	accountID := strings.TrimSpace(principal.ID)
	if accountID == "" {
		return nil, models.ErrEmptyAccountID
	}
	sessionToken = strings.TrimSpace(sessionToken)
	if sessionToken == "" {
		return nil, models.ErrEmptySessionToken
	}

	sess, err := s.store.GetSessionByToken(ctx, sessionToken)
	if err != nil {
		return nil, err
	}
	log := s.logger.With(utils.SessionID(sess.ID), utils.AccountID(accountID))

	eligible := models.EligibleResults(sess.Results)
	slices.SortFunc(eligible, func(a, b models.EvaluationResult) int { return cmp.Compare(a.ProductID, b.ProductID) })

	if sess.State == models.SessionStateMigrated {
		if sess.MigratedAccountID != accountID {
			return nil, fmt.Errorf("%w: bound to another account", models.ErrSessionConsumed)
		}
		report := newReport(sess, accountID)
		report.Status = StatusAlreadyMigrated
		for _, r := range eligible {
			report.MigratedProductIDs = append(report.MigratedProductIDs, r.ProductID)
		}
		s.metrics.IncrementMigration(string(StatusAlreadyMigrated))
		log.Info("Session already migrated")
		return report, nil
	}

	if sess.IsExpired(s.now()) {
		return nil, models.ErrSessionExpired
	}
	switch sess.State {
	case models.SessionStateEvaluated, models.SessionStateFailed:
	case models.SessionStateMigrating:
		if sess.MigratedAccountID != accountID {
			return nil, models.ErrSessionBusy
		}
	default:
		return nil, fmt.Errorf("%w: session is %s", models.ErrNoEligibleResults, sess.State)
	}
	if len(eligible) == 0 {
		return nil, models.ErrNoEligibleResults
	}

	expect := sess.Expect()
	if sess.State == models.SessionStateFailed {
		if err := sess.Transition(models.SessionStateEvaluated); err != nil {
			return nil, err
		}
	}
	if err := sess.Transition(models.SessionStateMigrating); err != nil {
		return nil, err
	}
	sess.MigratedAccountID = accountID
	if err := s.save(ctx, sess, expect); err != nil {
		return nil, err
	}
	claim := sess.Expect()

	report := newReport(sess, accountID)
	sourceSessionID := sess.ID
	for _, result := range eligible {
		record := models.RecordFromResult(accountID, result, &sourceSessionID)
		outcome, err := s.store.UpsertRecord(ctx, record)
		if err != nil {
			if report.Failures == nil {
				report.Failures = make(map[string]string)
			}
			report.FailedProductIDs = append(report.FailedProductIDs, result.ProductID)
			report.Failures[result.ProductID] = err.Error()
			s.metrics.IncrementUpsert("failed")
			log.Warn("Record upsert failed", utils.ProductID(result.ProductID), zap.Error(err))
			continue
		}

		report.MigratedProductIDs = append(report.MigratedProductIDs, result.ProductID)
		if outcome == models.UpsertInserted {
			report.InsertedProductIDs = append(report.InsertedProductIDs, result.ProductID)
		}
		s.metrics.IncrementUpsert(string(outcome))
	}

	if len(report.FailedProductIDs) > 0 {
		return s.abandon(ctx, log, sess, claim, report, nil), nil
	}
	if err := s.copyAnswers(ctx, sess, accountID); err != nil {
		return s.abandon(ctx, log, sess, claim, report, err), nil
	}

	if err := sess.Transition(models.SessionStateMigrated); err != nil {
		return nil, err
	}
	migratedAt := s.now().UTC()
	sess.MigratedAt = &migratedAt
	if err := s.save(ctx, sess, claim); err != nil {
		if errors.Is(err, models.ErrSessionConsumed) {
			// A concurrent retry under the same claim committed first.
			report.Status = StatusAlreadyMigrated
			s.metrics.IncrementMigration(string(StatusAlreadyMigrated))
			return report, nil
		}
		sess.State = claim.State
		sess.MigratedAt = nil
		return s.abandon(ctx, log, sess, claim, report, err), nil
	}

	report.Status = StatusCompleted
	s.metrics.IncrementMigration(string(StatusCompleted))
	log.Info("Session migrated",
		zap.Strings("migrated", report.MigratedProductIDs),
		zap.Strings("inserted", report.InsertedProductIDs))

	s.notify(ctx, Event{
		Report:         report,
		Principal:      identity.Principal{ID: accountID, Email: principal.Email, Role: principal.Role},
		Results:        eligible,
		CatalogVersion: sess.CatalogVersion,
	})
	return report, nil
}

// abandon marks the report partial and hands the claimed session back.
// If the release fails the session stays migrating under this account's
// claim, and only a retry by the same account can resume it.
func (s *Service) abandon(ctx context.Context, log *zap.Logger, sess *models.Session, claim models.SessionExpect, report *Report, stepErr error) *Report {
	report.Status = StatusPartial
	if stepErr != nil {
		report.Error = stepErr.Error()
	}
	s.metrics.IncrementMigration(string(StatusPartial))
	log.Warn("Migration partially failed",
		zap.Strings("migrated", report.MigratedProductIDs),
		zap.Strings("failed", report.FailedProductIDs),
		zap.Error(stepErr))

	if err := s.release(ctx, sess, claim); err != nil {
		log.Error("Failed to release session", zap.Error(err))
	}
	return report
}

// release moves a migrating session back to evaluated through failed and
// drops the claim.
func (s *Service) release(ctx context.Context, sess *models.Session, claim models.SessionExpect) error {
	if err := sess.Transition(models.SessionStateFailed); err != nil {
		return err
	}
	if err := sess.Transition(models.SessionStateEvaluated); err != nil {
		return err
	}
	sess.MigratedAccountID = ""
	return s.save(ctx, sess, claim)
}

func (s *Service) save(ctx context.Context, sess *models.Session, expect models.SessionExpect) error {
	sess.UpdatedAt = s.now().UTC()
	if err := s.store.SaveSession(ctx, sess, expect); err != nil {
		return fmt.Errorf("failed to save session state %s: %w", sess.State, err)
	}
	return nil
}

type answerKey struct {
	questionID string
	at         int64
	kind       models.ValueKind
	value      string
}

func keyOf(a models.Answer) answerKey {
	return answerKey{
		questionID: a.QuestionID,
		at:         a.Timestamp.UnixMicro(),
		kind:       a.Value.Kind(),
		value:      a.Value.Display(),
	}
}

// copyAnswers gives the account its own copy of the session's answers.
// The session's answers are kept for audit. Answers a previous attempt
// already copied are skipped, so a resumed migration copies each once.
func (s *Service) copyAnswers(ctx context.Context, sess *models.Session, accountID string) error {
	answers, err := s.store.ListAnswers(ctx, models.OwnerSession, sess.ID)
	if err != nil {
		return fmt.Errorf("failed to read session answers: %w", err)
	}
	if len(answers) == 0 {
		return nil
	}
	existing, err := s.store.ListAnswers(ctx, models.OwnerAccount, accountID)
	if err != nil {
		return fmt.Errorf("failed to read account answers: %w", err)
	}
	copied := make(map[answerKey]int, len(existing))
	for _, a := range existing {
		copied[keyOf(a)]++
	}

	missing := make([]models.Answer, 0, len(answers))
	for _, a := range answers {
		if k := keyOf(a); copied[k] > 0 {
			copied[k]--
			continue
		}
		a.OwnerID = accountID
		missing = append(missing, a)
	}
	if len(missing) == 0 {
		return nil
	}
	if err := s.store.AppendAnswers(ctx, models.OwnerAccount, accountID, missing); err != nil {
		return fmt.Errorf("failed to copy answers to account: %w", err)
	}
	return nil
}

func (s *Service) notify(ctx context.Context, event Event) {
	for _, n := range s.notifiers {
		if err := n.NotifyMigration(ctx, event); err != nil {
			s.logger.Warn("Migration notifier failed",
				utils.SessionID(event.Report.SessionID),
				utils.AccountID(event.Report.AccountID),
				zap.Error(err))
		}
	}
}
