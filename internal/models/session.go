// Package models defines the data structures for the eligibility engine.
package models

import (
	"fmt"
	"time"
)

// SessionState represents the lifecycle position of an anonymous session.
type SessionState string

const (
	SessionStateCollecting SessionState = "collecting"
	SessionStateEvaluated  SessionState = "evaluated"
	SessionStateMigrating  SessionState = "migrating"
	SessionStateMigrated   SessionState = "migrated"
	SessionStateFailed     SessionState = "failed"
)

// sessionTransitions lists the allowed moves of the session state machine.
// migrated is terminal.
var sessionTransitions = map[SessionState][]SessionState{
	SessionStateCollecting: {SessionStateEvaluated},
	SessionStateEvaluated:  {SessionStateCollecting, SessionStateEvaluated, SessionStateMigrating},
	SessionStateMigrating:  {SessionStateMigrated, SessionStateFailed, SessionStateMigrating},
	SessionStateFailed:     {SessionStateEvaluated},
}

// CanTransition checks if the state machine allows moving from s to next.
func (s SessionState) CanTransition(next SessionState) bool {
	for _, allowed := range sessionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Session owns the answers and cached results of an anonymous run.
type Session struct {
	ID                string             `json:"id" db:"id"`
	Token             string             `json:"session_token" db:"session_token"`
	State             SessionState       `json:"state" db:"state"`
	Results           []EvaluationResult `json:"results,omitempty" db:"evaluation_results"`
	CatalogVersion    string             `json:"catalog_version,omitempty" db:"catalog_version"`
	MigratedAccountID string             `json:"migrated_account_id,omitempty" db:"migrated_account_id"`
	CreatedAt         time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at" db:"updated_at"`
	ExpiresAt         time.Time          `json:"expires_at" db:"expires_at"`
	MigratedAt        *time.Time         `json:"migrated_at,omitempty" db:"migrated_at"`
}

// IsExpired checks if the session lifetime is over. Migrated sessions never expire.
func (s *Session) IsExpired(now time.Time) bool {
	if s.State == SessionStateMigrated {
		return false
	}
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Transition moves the session to next or returns ErrInvalidTransition.
func (s *Session) Transition(next SessionState) error {
	if !s.State.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.State, next)
	}
	s.State = next
	return nil
}

// AcceptsAnswers reports whether answers may still be recorded.
func (s *Session) AcceptsAnswers() bool {
	return s.State == SessionStateCollecting || s.State == SessionStateEvaluated
}

// SessionExpect is the stored state a session save is conditioned on.
// AccountID is the claim held in migrated_account_id, empty when unclaimed.
type SessionExpect struct {
	State     SessionState
	AccountID string
}

// Expect captures s as it was read, to condition a later save on it.
func (s *Session) Expect() SessionExpect {
	return SessionExpect{State: s.State, AccountID: s.MigratedAccountID}
}

// Matches reports whether the stored session still satisfies e.
func (e SessionExpect) Matches(stored *Session) bool {
	return stored.State == e.State && stored.MigratedAccountID == e.AccountID
}

// SaveConflict is the error for a conditional save that found the stored
// session in state stored.
func SaveConflict(stored SessionState) error {
	switch stored {
	case SessionStateMigrated:
		return ErrSessionConsumed
	case SessionStateMigrating:
		return ErrSessionBusy
	default:
		return fmt.Errorf("%w: session changed concurrently, now %s", ErrInvalidTransition, stored)
	}
}
