// Package models defines the data structures for the eligibility engine.
package models

import (
	"time"
)

// RecordStatus represents the status of an account eligibility record.
type RecordStatus string

const (
	RecordStatusEligible    RecordStatus = "eligible"
	RecordStatusNotEligible RecordStatus = "not_eligible"
)

// AccountEligibilityRecord is the durable per-account, per-product record.
// (AccountID, ProductID) is unique.
type AccountEligibilityRecord struct {
	ID              string          `json:"id" db:"id"`
	AccountID       string          `json:"account_id" db:"account_id"`
	ProductID       string          `json:"product_id" db:"product_id"`
	Status          RecordStatus    `json:"status" db:"status"`
	Score           int             `json:"score" db:"score"`
	EstimatedGain   int64           `json:"estimated_gain" db:"estimated_gain"`
	ConfidenceLevel ConfidenceLevel `json:"confidence_level" db:"confidence_level"`
	SourceSessionID *string         `json:"source_session_id,omitempty" db:"source_session_id"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// RecordFromResult builds the record written for an evaluation result.
func RecordFromResult(accountID string, result EvaluationResult, sourceSessionID *string) *AccountEligibilityRecord {
	status := RecordStatusNotEligible
	if result.Eligible {
		status = RecordStatusEligible
	}
	return &AccountEligibilityRecord{
		AccountID:       accountID,
		ProductID:       result.ProductID,
		Status:          status,
		Score:           result.Score,
		EstimatedGain:   result.EstimatedGain,
		ConfidenceLevel: result.ConfidenceLevel,
		SourceSessionID: sourceSessionID,
	}
}

// UpsertOutcome tells whether an upsert created or updated the record.
type UpsertOutcome string

const (
	UpsertInserted UpsertOutcome = "inserted"
	UpsertUpdated  UpsertOutcome = "updated"
)
