package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"fiscal-eligibility-engine/internal/models"
	"fiscal-eligibility-engine/internal/services/catalog"
)

// CatalogRepository stores the question, product and rule catalogs.
// It implements catalog.Source.
type CatalogRepository struct {
	db *DB
}

// NewCatalogRepository creates a new catalog repository.
func NewCatalogRepository(db *DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// Load reads the current catalog and builds a snapshot from it.
func (r *CatalogRepository) Load(ctx context.Context) (*catalog.Snapshot, error) {
	doc, err := r.Document(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrCatalogUnavailable, err)
	}
	return doc.Snapshot()
}

// Document reads the raw catalog at its latest published version.
func (r *CatalogRepository) Document(ctx context.Context) (*catalog.Document, error) {
	doc := &catalog.Document{}

	err := r.db.QueryRowContext(ctx,
		`SELECT version FROM catalog_versions ORDER BY published_at DESC, version DESC LIMIT 1`,
	).Scan(&doc.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New("no catalog version published")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get catalog version: %w", err)
	}

	if doc.Questions, err = r.listQuestions(ctx); err != nil {
		return nil, err
	}
	if doc.Products, err = r.listProducts(ctx); err != nil {
		return nil, err
	}
	if doc.Rules, err = r.listRules(ctx); err != nil {
		return nil, err
	}
	return doc, nil
}

func (r *CatalogRepository) listQuestions(ctx context.Context) ([]models.Question, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, text, phase, question_order, value_type, options, targeted_products, is_key, visibility
		FROM questions
		ORDER BY phase, question_order`)
	if err != nil {
		return nil, fmt.Errorf("failed to list questions: %w", err)
	}
	defer rows.Close()

	var questions []models.Question
	for rows.Next() {
		var q models.Question
		var valueType string
		if err := rows.Scan(
			&q.ID, &q.Text, &q.Phase, &q.Order, &valueType,
			&q.Options, &q.TargetedProducts, &q.Key, &q.Visibility,
		); err != nil {
			return nil, fmt.Errorf("failed to scan question: %w", err)
		}
		q.ValueType = models.QuestionValueType(valueType)
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

func (r *CatalogRepository) listProducts(ctx context.Context) ([]models.Product, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, description, category, is_active
		FROM products
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		var p models.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Category, &p.Active); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (r *CatalogRepository) listRules(ctx context.Context) ([]models.Rule, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, product_id, priority, score, condition_tree, formula, is_active, description
		FROM rules
		ORDER BY product_id, priority`)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rules []models.Rule
	for rows.Next() {
		var rule models.Rule
		if err := rows.Scan(
			&rule.ID, &rule.ProductID, &rule.Priority, &rule.Score,
			&rule.Condition, &rule.Formula, &rule.Active, &rule.Description,
		); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// Publish validates doc and replaces the stored catalog with it in one transaction.
func (r *CatalogRepository) Publish(ctx context.Context, doc *catalog.Document) error {
	if _, err := doc.Snapshot(); err != nil {
		return err
	}

	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		for _, stmt := range []string{`DELETE FROM rules`, `DELETE FROM questions`, `DELETE FROM products`} {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("failed to clear catalog: %w", err)
			}
		}

		for _, p := range doc.Products {
			if _, err := tx.Exec(ctx, `
				INSERT INTO products (id, name, description, category, is_active)
				VALUES ($1, $2, $3, $4, $5)`,
				p.ID, p.Name, p.Description, p.Category, p.Active,
			); err != nil {
				return fmt.Errorf("failed to insert product %s: %w", p.ID, err)
			}
		}

		for _, q := range doc.Questions {
			if _, err := tx.Exec(ctx, `
				INSERT INTO questions (
					id, text, phase, question_order, value_type, options, targeted_products, is_key, visibility
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				q.ID, q.Text, q.Phase, q.Order, string(q.ValueType),
				q.Options, q.TargetedProducts, q.Key, q.Visibility,
			); err != nil {
				return fmt.Errorf("failed to insert question %s: %w", q.ID, err)
			}
		}

		for _, rule := range doc.Rules {
			if _, err := tx.Exec(ctx, `
				INSERT INTO rules (
					id, product_id, priority, score, condition_tree, formula, is_active, description
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				rule.ID, rule.ProductID, rule.Priority, rule.Score,
				rule.Condition, rule.Formula, rule.Active, rule.Description,
			); err != nil {
				return fmt.Errorf("failed to insert rule %s: %w", rule.ID, err)
			}
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO catalog_versions (version, published_at) VALUES ($1, NOW())
			ON CONFLICT (version) DO UPDATE SET published_at = EXCLUDED.published_at`,
			doc.Version,
		); err != nil {
			return fmt.Errorf("failed to record catalog version: %w", err)
		}
		return nil
	})
}
