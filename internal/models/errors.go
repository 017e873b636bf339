// Package models defines the data structures for the eligibility engine.
package models

import (
	"errors"
	"strings"
)

// Common errors
var (
	ErrInvalidAnswer           = errors.New("invalid answer")
	ErrCatalogUnavailable      = errors.New("catalog unavailable")
	ErrInvalidCatalog          = errors.New("invalid catalog")
	ErrInvalidCondition        = errors.New("invalid condition")
	ErrInvalidFormula          = errors.New("invalid formula")
	ErrNoEligibleResults       = errors.New("no eligible results")
	ErrPartialMigrationFailure = errors.New("partial migration failure")
	ErrSessionNotFound         = errors.New("session not found")
	ErrSessionConsumed         = errors.New("session already migrated")
	ErrSessionBusy             = errors.New("session is being migrated by another account")
	ErrSessionExpired          = errors.New("session expired")
	ErrInvalidTransition       = errors.New("invalid session state transition")
	ErrEmptyAccountID          = errors.New("account_id cannot be empty")
	ErrEmptySessionToken       = errors.New("session_token cannot be empty")
)

// NormalizeKey converts a free-form label to the snake_case form used for
// question ids, e.g. "Carburant Litres-An" -> "carburant_litres_an".
func NormalizeKey(label string) string {
	normalized := strings.ToLower(strings.TrimSpace(label))
	normalized = strings.ReplaceAll(normalized, " ", "_")
	normalized = strings.ReplaceAll(normalized, "-", "_")
	return normalized
}
