// Package session collects anonymous questionnaire answers and caches their evaluation.
package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fiscal-eligibility-engine/internal/models"
	"fiscal-eligibility-engine/internal/services/catalog"
	"fiscal-eligibility-engine/internal/services/evaluator"
	"fiscal-eligibility-engine/internal/services/formatter"
	"fiscal-eligibility-engine/internal/utils"
)

// DefaultTTL is how long an anonymous session stays usable.
const DefaultTTL = 24 * time.Hour

// Store persists sessions and their append-only answers.
type Store interface {
	CreateSession(ctx context.Context, s *models.Session) error
	GetSessionByToken(ctx context.Context, token string) (*models.Session, error)
	SaveSession(ctx context.Context, s *models.Session, expect models.SessionExpect) error
	AppendAnswers(ctx context.Context, kind models.OwnerKind, ownerID string, answers []models.Answer) error
	ListAnswers(ctx context.Context, kind models.OwnerKind, ownerID string) ([]models.Answer, error)
}

// Service is the answer collector for anonymous sessions.
type Service struct {
	store     Store
	source    catalog.Source
	evaluator *evaluator.Evaluator
	ttl       time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// NewService creates a session service. A zero ttl uses DefaultTTL.
func NewService(store Store, source catalog.Source, eval *evaluator.Evaluator, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		store:     store,
		source:    source,
		evaluator: eval,
		ttl:       ttl,
		now:       time.Now,
		logger:    utils.Named("session"),
	}
}

// Create starts a new anonymous session.
func (s *Service) Create(ctx context.Context) (*models.Session, error) {
	now := s.now().UTC()
	sess := &models.Session{
		ID:        uuid.New().String(),
		Token:     uuid.New().String(),
		State:     models.SessionStateCollecting,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.logger.Info("Session created", utils.SessionID(sess.ID), zap.Time("expires_at", sess.ExpiresAt))
	return sess, nil
}

// Get returns a live session.
func (s *Service) Get(ctx context.Context, token string) (*models.Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, models.ErrEmptySessionToken
	}
	sess, err := s.store.GetSessionByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if sess.IsExpired(s.now()) {
		return nil, fmt.Errorf("%w: expired at %s", models.ErrSessionExpired, sess.ExpiresAt.Format(time.RFC3339))
	}
	return sess, nil
}

// RecordAnswers appends answers to a session. Recording on an evaluated
// session drops its cached results and reopens it for collection.
func (s *Service) RecordAnswers(ctx context.Context, token string, answers []models.Answer) (*models.Session, error) {
	sess, err := s.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := checkOpen(sess); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	stamped := make([]models.Answer, 0, len(answers))
	for _, a := range answers {
		if strings.TrimSpace(a.QuestionID) == "" {
			return nil, fmt.Errorf("%w: question_id is required", models.ErrInvalidAnswer)
		}
		a.OwnerID = sess.ID
		if a.Timestamp.IsZero() {
			a.Timestamp = now
		}
		stamped = append(stamped, a)
	}
	if len(stamped) == 0 {
		return sess, nil
	}

	// The session is saved before the answers go in, so a session claimed
	// by a migration in the meantime rejects them.
	expect := sess.Expect()
	if sess.State == models.SessionStateEvaluated {
		if err := sess.Transition(models.SessionStateCollecting); err != nil {
			return nil, err
		}
		sess.Results = nil
		sess.CatalogVersion = ""
	}
	sess.UpdatedAt = now
	if err := s.store.SaveSession(ctx, sess, expect); err != nil {
		return nil, fmt.Errorf("failed to update session: %w", err)
	}

	if err := s.store.AppendAnswers(ctx, models.OwnerSession, sess.ID, stamped); err != nil {
		return nil, fmt.Errorf("failed to record answers: %w", err)
	}

	s.logger.Debug("Answers recorded", utils.SessionID(sess.ID), zap.Int("count", len(stamped)))
	return sess, nil
}

// Answers returns the logical answer set of a session.
func (s *Service) Answers(ctx context.Context, sess *models.Session) (models.AnswerSet, error) {
	answers, err := s.store.ListAnswers(ctx, models.OwnerSession, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list answers: %w", err)
	}
	return models.Latest(answers), nil
}

// VisibleQuestions returns the questions to show given the answers recorded so far.
func (s *Service) VisibleQuestions(ctx context.Context, token string) ([]models.Question, error) {
	sess, err := s.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	snap, err := s.source.Load(ctx)
	if err != nil {
		return nil, err
	}
	answered, err := s.Answers(ctx, sess)
	if err != nil {
		return nil, err
	}

	var visible []models.Question
	for q := range snap.VisibleQuestions(answered) {
		visible = append(visible, q)
	}
	return visible, nil
}

// Evaluate runs the evaluator over the session's answers and caches the results.
func (s *Service) Evaluate(ctx context.Context, token string) (*formatter.FormattedResults, *models.Session, error) {
	sess, err := s.Get(ctx, token)
	if err != nil {
		return nil, nil, err
	}
	if err := checkOpen(sess); err != nil {
		return nil, nil, err
	}

	snap, err := s.source.Load(ctx)
	if err != nil {
		return nil, nil, err
	}
	answered, err := s.Answers(ctx, sess)
	if err != nil {
		return nil, nil, err
	}
	results, err := s.evaluator.EvaluateSet(ctx, snap, answered)
	if err != nil {
		return nil, nil, err
	}

	expect := sess.Expect()
	if err := sess.Transition(models.SessionStateEvaluated); err != nil {
		return nil, nil, err
	}
	sess.Results = results
	sess.CatalogVersion = snap.Version()
	sess.UpdatedAt = s.now().UTC()
	if err := s.store.SaveSession(ctx, sess, expect); err != nil {
		return nil, nil, fmt.Errorf("failed to cache results: %w", err)
	}

	formatted := formatter.Format(results)
	s.logger.Info("Session evaluated",
		utils.SessionID(sess.ID),
		utils.CatalogVersion(snap.Version()),
		zap.Int("eligible", formatted.EligibleCount),
		zap.Int64("total_estimated_gain", formatted.TotalEstimatedGain))
	return &formatted, sess, nil
}

func checkOpen(sess *models.Session) error {
	switch sess.State {
	case models.SessionStateMigrated:
		return models.ErrSessionConsumed
	case models.SessionStateCollecting, models.SessionStateEvaluated:
		return nil
	default:
		return fmt.Errorf("%w: session is %s", models.ErrInvalidTransition, sess.State)
	}
}
