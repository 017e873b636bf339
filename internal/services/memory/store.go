// Package memory is an in-process implementation of the engine's stores,
// used by tests and by the server when no database is configured.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"fiscal-eligibility-engine/internal/models"
)

type ownerKey struct {
	kind models.OwnerKind
	id   string
}

type recordKey struct {
	accountID string
	productID string
}

// Store keeps sessions, answers and account records in memory.
type Store struct {
	mu         sync.RWMutex
	sessions   map[string]*models.Session
	answers    map[ownerKey][]models.Answer
	records    map[recordKey]*models.AccountEligibilityRecord
	failUpsert func(*models.AccountEligibilityRecord) error
	now        func() time.Time
}

// New constructs an empty store.
func New() *Store {
	return &Store{
		sessions: make(map[string]*models.Session),
		answers:  make(map[ownerKey][]models.Answer),
		records:  make(map[recordKey]*models.AccountEligibilityRecord),
		now:      time.Now,
	}
}

// FailUpserts makes UpsertRecord return the error produced by fn, when non-nil.
// Pass nil to restore normal behavior.
func (s *Store) FailUpserts(fn func(*models.AccountEligibilityRecord) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failUpsert = fn
}

// CreateSession stores a new session; the token must be unused.
func (s *Store) CreateSession(_ context.Context, sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[sess.Token]; exists {
		return fmt.Errorf("session token %s already exists", sess.Token)
	}
	s.sessions[sess.Token] = cloneSession(sess)
	return nil
}

// GetSessionByToken returns a copy of the session, or ErrSessionNotFound.
func (s *Store) GetSessionByToken(_ context.Context, token string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[token]
	if !ok {
		return nil, models.ErrSessionNotFound
	}
	return cloneSession(sess), nil
}

// SaveSession overwrites the stored session if it still matches expect.
// A migrated session can only be saved again as migrated to the same account.
func (s *Store) SaveSession(_ context.Context, sess *models.Session, expect models.SessionExpect) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.sessions[sess.Token]
	if !ok {
		return models.ErrSessionNotFound
	}
	if !expect.Matches(stored) {
		return models.SaveConflict(stored.State)
	}
	if stored.State == models.SessionStateMigrated &&
		(sess.State != models.SessionStateMigrated || sess.MigratedAccountID != stored.MigratedAccountID) {
		return models.ErrSessionConsumed
	}
	s.sessions[sess.Token] = cloneSession(sess)
	return nil
}

// AppendAnswers stores answers in order. Nothing is deduplicated: among
// answers with equal timestamps the one appended last wins.
func (s *Store) AppendAnswers(_ context.Context, kind models.OwnerKind, ownerID string, answers []models.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ownerKey{kind: kind, id: ownerID}
	for _, a := range answers {
		a.OwnerID = ownerID
		s.answers[key] = append(s.answers[key], a)
	}
	return nil
}

// ListAnswers returns the owner's answers by timestamp, in insertion order
// for equal timestamps.
func (s *Store) ListAnswers(_ context.Context, kind models.OwnerKind, ownerID string) ([]models.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	answers := slices.Clone(s.answers[ownerKey{kind: kind, id: ownerID}])
	slices.SortStableFunc(answers, func(a, b models.Answer) int { return a.Timestamp.Compare(b.Timestamp) })
	return answers, nil
}

// UpsertRecord inserts or updates the (account, product) record. CreatedAt
// is kept on update; a nil SourceSessionID keeps the stored one.
func (s *Store) UpsertRecord(_ context.Context, record *models.AccountEligibilityRecord) (models.UpsertOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpsert != nil {
		if err := s.failUpsert(record); err != nil {
			return "", err
		}
	}

	now := s.now().UTC()
	key := recordKey{accountID: record.AccountID, productID: record.ProductID}
	existing, ok := s.records[key]
	if !ok {
		stored := *record
		stored.ID = uuid.New().String()
		stored.CreatedAt = now
		stored.UpdatedAt = now
		s.records[key] = &stored
		*record = stored
		return models.UpsertInserted, nil
	}

	existing.Status = record.Status
	existing.Score = record.Score
	existing.EstimatedGain = record.EstimatedGain
	existing.ConfidenceLevel = record.ConfidenceLevel
	if record.SourceSessionID != nil {
		id := *record.SourceSessionID
		existing.SourceSessionID = &id
	}
	existing.UpdatedAt = now
	*record = *existing
	return models.UpsertUpdated, nil
}

// ListRecords returns an account's records ordered by product id.
func (s *Store) ListRecords(_ context.Context, accountID string) ([]models.AccountEligibilityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var records []models.AccountEligibilityRecord
	for key, r := range s.records {
		if key.accountID == accountID {
			records = append(records, *r)
		}
	}
	slices.SortFunc(records, func(a, b models.AccountEligibilityRecord) int { return cmp.Compare(a.ProductID, b.ProductID) })
	return records, nil
}

func cloneSession(sess *models.Session) *models.Session {
	c := *sess
	c.Results = slices.Clone(sess.Results)
	for i := range c.Results {
		c.Results[i].Reasons = slices.Clone(c.Results[i].Reasons)
	}
	if sess.MigratedAt != nil {
		t := *sess.MigratedAt
		c.MigratedAt = &t
	}
	return &c
}
