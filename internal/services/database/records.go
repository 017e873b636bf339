package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fiscal-eligibility-engine/internal/models"
)

// RecordRepository handles account eligibility records.
type RecordRepository struct {
	db *DB
}

// NewRecordRepository creates a new record repository.
func NewRecordRepository(db *DB) *RecordRepository {
	return &RecordRepository{db: db}
}

// UpsertRecord inserts or updates the (account, product) record in one statement.
// created_at and id are kept on update; a nil source session keeps the stored one.
// record is refreshed with the stored row.
func (r *RecordRepository) UpsertRecord(ctx context.Context, record *models.AccountEligibilityRecord) (models.UpsertOutcome, error) {
	query := `
		INSERT INTO account_eligibility_records (
			id, account_id, product_id, status, score, estimated_gain,
			confidence_level, source_session_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (account_id, product_id) DO UPDATE SET
			status = EXCLUDED.status,
			score = EXCLUDED.score,
			estimated_gain = EXCLUDED.estimated_gain,
			confidence_level = EXCLUDED.confidence_level,
			source_session_id = COALESCE(EXCLUDED.source_session_id, account_eligibility_records.source_session_id),
			updated_at = EXCLUDED.updated_at
		RETURNING id, source_session_id, created_at, updated_at, (xmax = 0) AS inserted`

	now := time.Now().UTC()
	var inserted bool

	err := r.db.QueryRowContext(ctx, query,
		uuid.New().String(),
		record.AccountID,
		record.ProductID,
		string(record.Status),
		record.Score,
		record.EstimatedGain,
		string(record.ConfidenceLevel),
		record.SourceSessionID,
		now,
	).Scan(&record.ID, &record.SourceSessionID, &record.CreatedAt, &record.UpdatedAt, &inserted)
	if err != nil {
		return "", fmt.Errorf("failed to upsert eligibility record: %w", err)
	}

	if inserted {
		return models.UpsertInserted, nil
	}
	return models.UpsertUpdated, nil
}

// ListRecords returns an account's records ordered by product id.
func (r *RecordRepository) ListRecords(ctx context.Context, accountID string) ([]models.AccountEligibilityRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, account_id, product_id, status, score, estimated_gain,
		       confidence_level, source_session_id, created_at, updated_at
		FROM account_eligibility_records
		WHERE account_id = $1
		ORDER BY product_id`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list eligibility records: %w", err)
	}
	defer rows.Close()

	var records []models.AccountEligibilityRecord
	for rows.Next() {
		var rec models.AccountEligibilityRecord
		var status, confidence string
		if err := rows.Scan(
			&rec.ID,
			&rec.AccountID,
			&rec.ProductID,
			&status,
			&rec.Score,
			&rec.EstimatedGain,
			&confidence,
			&rec.SourceSessionID,
			&rec.CreatedAt,
			&rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan eligibility record: %w", err)
		}
		rec.Status = models.RecordStatus(status)
		rec.ConfidenceLevel = models.ConfidenceLevel(confidence)
		records = append(records, rec)
	}
	return records, rows.Err()
}
