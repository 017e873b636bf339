package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"fiscal-eligibility-engine/internal/models"
)

// SessionRepository handles anonymous session persistence.
type SessionRepository struct {
	db *DB
}

// NewSessionRepository creates a new session repository.
func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// CreateSession inserts a new session.
func (r *SessionRepository) CreateSession(ctx context.Context, s *models.Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (
			id, session_token, state, evaluation_results, catalog_version,
			migrated_account_id, created_at, updated_at, expires_at, migrated_at
		) VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10)`,
		s.ID,
		s.Token,
		string(s.State),
		s.Results,
		s.CatalogVersion,
		s.MigratedAccountID,
		s.CreatedAt,
		s.UpdatedAt,
		s.ExpiresAt,
		s.MigratedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetSessionByToken retrieves a session by its token.
func (r *SessionRepository) GetSessionByToken(ctx context.Context, token string) (*models.Session, error) {
	var s models.Session
	var state string
	var accountID *string

	err := r.db.QueryRowContext(ctx, `
		SELECT id, session_token, state, evaluation_results, catalog_version,
		       migrated_account_id, created_at, updated_at, expires_at, migrated_at
		FROM sessions
		WHERE session_token = $1`,
		token,
	).Scan(
		&s.ID,
		&s.Token,
		&state,
		&s.Results,
		&s.CatalogVersion,
		&accountID,
		&s.CreatedAt,
		&s.UpdatedAt,
		&s.ExpiresAt,
		&s.MigratedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	s.State = models.SessionState(state)
	if accountID != nil {
		s.MigratedAccountID = *accountID
	}
	return &s, nil
}

// SaveSession updates a session if the stored row still matches expect.
// The condition runs in the UPDATE itself so two callers cannot both move
// the session out of the same state, and a migrating session can only be
// saved by the account holding the claim. A migrated session can only be
// saved again as migrated to the same account.
func (r *SessionRepository) SaveSession(ctx context.Context, s *models.Session, expect models.SessionExpect) error {
	affected, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET
			state = $2,
			evaluation_results = $3,
			catalog_version = $4,
			migrated_account_id = NULLIF($5, ''),
			updated_at = $6,
			expires_at = $7,
			migrated_at = $8
		WHERE session_token = $1
		  AND state = $9
		  AND COALESCE(migrated_account_id, '') = $10
		  AND (state <> 'migrated' OR ($2 = 'migrated' AND migrated_account_id = NULLIF($5, '')))`,
		s.Token,
		string(s.State),
		s.Results,
		s.CatalogVersion,
		s.MigratedAccountID,
		s.UpdatedAt,
		s.ExpiresAt,
		s.MigratedAt,
		string(expect.State),
		expect.AccountID,
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	if affected == 1 {
		return nil
	}

	var state string
	err = r.db.QueryRowContext(ctx,
		`SELECT state FROM sessions WHERE session_token = $1`, s.Token,
	).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check session: %w", err)
	}
	return models.SaveConflict(models.SessionState(state))
}

// DeleteExpired removes sessions past expiry that were never migrated.
func (r *SessionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	affected, err := r.db.ExecContext(ctx, `
		DELETE FROM sessions WHERE state <> 'migrated' AND expires_at < NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return affected, nil
}
