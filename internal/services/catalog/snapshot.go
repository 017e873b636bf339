// Package catalog holds immutable, versioned snapshots of the question,
// product and rule catalogs, and the questionnaire visibility filter.
package catalog

import (
	"cmp"
	"fmt"
	"slices"

	"fiscal-eligibility-engine/internal/models"
)

// Snapshot is a validated, read-only view of the catalog at one version.
// It is safe for concurrent use.
type Snapshot struct {
	version   string
	questions []models.Question
	byID      map[string]*models.Question
	products  []models.Product
	rules     map[string][]models.Rule
}

// Build validates the raw catalog and returns a snapshot.
// Inactive products and rules are kept out of evaluation but still validated.
func Build(version string, questions []models.Question, products []models.Product, rules []models.Rule) (*Snapshot, error) {
	s := &Snapshot{
		version:   version,
		questions: slices.Clone(questions),
		byID:      make(map[string]*models.Question, len(questions)),
		rules:     make(map[string][]models.Rule),
	}

	slices.SortStableFunc(s.questions, models.CompareQuestions)
	if err := s.indexQuestions(); err != nil {
		return nil, err
	}

	known := make(map[string]bool, len(products))
	for _, p := range products {
		if p.ID == "" {
			return nil, fmt.Errorf("%w: product without id", models.ErrInvalidCatalog)
		}
		if known[p.ID] {
			return nil, fmt.Errorf("%w: duplicate product %s", models.ErrInvalidCatalog, p.ID)
		}
		known[p.ID] = true
		if p.Active {
			s.products = append(s.products, p)
		}
	}
	slices.SortFunc(s.products, func(a, b models.Product) int { return cmp.Compare(a.ID, b.ID) })

	if err := s.indexRules(rules, known); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Snapshot) indexQuestions() error {
	positions := make(map[[2]int]string, len(s.questions))
	for i := range s.questions {
		q := &s.questions[i]
		if q.ID == "" {
			return fmt.Errorf("%w: question at %s without id", models.ErrInvalidCatalog, q.Position())
		}
		if _, dup := s.byID[q.ID]; dup {
			return fmt.Errorf("%w: duplicate question %s", models.ErrInvalidCatalog, q.ID)
		}
		if !q.ValueType.IsValid() {
			return fmt.Errorf("%w: question %s has unknown value type %q", models.ErrInvalidCatalog, q.ID, q.ValueType)
		}
		pos := [2]int{q.Phase, q.Order}
		if other, dup := positions[pos]; dup {
			return fmt.Errorf("%w: questions %s and %s share position %s", models.ErrInvalidCatalog, other, q.ID, q.Position())
		}
		positions[pos] = q.ID

		// Questions are sorted, so a valid reference is already indexed.
		if q.Visibility != nil {
			ref, ok := s.byID[q.Visibility.QuestionID]
			if !ok {
				return fmt.Errorf("%w: question %s depends on %q which does not precede it",
					models.ErrInvalidCatalog, q.ID, q.Visibility.QuestionID)
			}
			if models.CompareQuestions(*ref, *q) >= 0 {
				return fmt.Errorf("%w: question %s depends on later question %s", models.ErrInvalidCatalog, q.ID, ref.ID)
			}
		}
		s.byID[q.ID] = q
	}
	return nil
}

func (s *Snapshot) indexRules(rules []models.Rule, known map[string]bool) error {
	seenIDs := make(map[string]bool, len(rules))
	slots := make(map[string]string, len(rules))

	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return err
		}
		if seenIDs[r.ID] {
			return fmt.Errorf("%w: duplicate rule %s", models.ErrInvalidCatalog, r.ID)
		}
		seenIDs[r.ID] = true
		if !known[r.ProductID] {
			return fmt.Errorf("%w: rule %s references unknown product %s", models.ErrInvalidCatalog, r.ID, r.ProductID)
		}
		for _, qid := range r.Condition.QuestionIDs() {
			if _, ok := s.byID[qid]; !ok {
				return fmt.Errorf("%w: rule %s references unknown question %s", models.ErrInvalidCatalog, r.ID, qid)
			}
		}
		for _, op := range r.Formula {
			if op.Var == "" {
				continue
			}
			if _, ok := s.byID[op.Var]; !ok {
				return fmt.Errorf("%w: rule %s formula references unknown question %s", models.ErrInvalidCatalog, r.ID, op.Var)
			}
		}
		if !r.Active {
			continue
		}
		slot := fmt.Sprintf("%s/%d", r.ProductID, r.Priority)
		if other, dup := slots[slot]; dup {
			return fmt.Errorf("%w: rules %s and %s are both active at priority %d for %s",
				models.ErrInvalidCatalog, other, r.ID, r.Priority, r.ProductID)
		}
		slots[slot] = r.ID
		s.rules[r.ProductID] = append(s.rules[r.ProductID], r)
	}

	for pid := range s.rules {
		slices.SortFunc(s.rules[pid], func(a, b models.Rule) int { return cmp.Compare(a.Priority, b.Priority) })
	}
	return nil
}

// Version identifies the catalog snapshot.
func (s *Snapshot) Version() string {
	return s.version
}

// Questions returns all questions ordered by (phase, order).
func (s *Snapshot) Questions() []models.Question {
	return slices.Clone(s.questions)
}

// Question looks up a question by id.
func (s *Snapshot) Question(id string) (models.Question, bool) {
	q, ok := s.byID[id]
	if !ok {
		return models.Question{}, false
	}
	return *q, true
}

// Products returns the active products ordered by id.
func (s *Snapshot) Products() []models.Product {
	return slices.Clone(s.products)
}

// RulesFor returns the active rules of a product in ascending priority.
func (s *Snapshot) RulesFor(productID string) []models.Rule {
	return slices.Clone(s.rules[productID])
}

// KeyQuestions returns the key questions targeting a product.
func (s *Snapshot) KeyQuestions(productID string) []models.Question {
	var keys []models.Question
	for _, q := range s.questions {
		if q.Key && q.Targets(productID) {
			keys = append(keys, q)
		}
	}
	return keys
}
