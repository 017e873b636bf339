package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"fiscal-eligibility-engine/internal/models"
)

// AnswerRepository handles append-only answer storage for sessions and accounts.
type AnswerRepository struct {
	db *DB
}

// NewAnswerRepository creates a new answer repository.
func NewAnswerRepository(db *DB) *AnswerRepository {
	return &AnswerRepository{db: db}
}

// AppendAnswers stores answers in one batch, in order. Nothing is
// deduplicated: ids follow the batch order, so among answers with equal
// timestamps the one appended last wins.
func (r *AnswerRepository) AppendAnswers(ctx context.Context, kind models.OwnerKind, ownerID string, answers []models.Answer) error {
	if len(answers) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, a := range answers {
		batch.Queue(`
			INSERT INTO answers (owner_kind, owner_id, question_id, value, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
			string(kind), ownerID, a.QuestionID, a.Value, a.Timestamp.UTC(),
		)
	}

	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		results := tx.SendBatch(ctx, batch)
		for i := range answers {
			if _, err := results.Exec(); err != nil {
				results.Close()
				return fmt.Errorf("failed to append answer %s: %w", answers[i].QuestionID, err)
			}
		}
		return results.Close()
	})
}

// ListAnswers returns an owner's answers in timestamp order, insertion order on ties.
func (r *AnswerRepository) ListAnswers(ctx context.Context, kind models.OwnerKind, ownerID string) ([]models.Answer, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT question_id, owner_id, value, created_at
		FROM answers
		WHERE owner_kind = $1 AND owner_id = $2
		ORDER BY created_at, id`,
		string(kind), ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list answers: %w", err)
	}
	defer rows.Close()

	var answers []models.Answer
	for rows.Next() {
		var a models.Answer
		if err := rows.Scan(&a.QuestionID, &a.OwnerID, &a.Value, &a.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan answer: %w", err)
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}
