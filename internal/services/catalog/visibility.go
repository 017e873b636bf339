package catalog

import (
	"fmt"
	"iter"
	"slices"

	"fiscal-eligibility-engine/internal/models"
)

// VisibleQuestions yields the questions currently visible, ordered by (phase, order).
//
// A question is visible when it has no condition, or when the question it
// depends on is itself visible and its recorded answer matches the expected
// value. An unanswered dependency hides the question. The sequence is lazy and
// can be ranged over any number of times.
func VisibleQuestions(questions []models.Question, answered models.AnswerSet) iter.Seq[models.Question] {
	ordered := slices.Clone(questions)
	slices.SortStableFunc(ordered, models.CompareQuestions)

	return func(yield func(models.Question) bool) {
		visible := make(map[string]bool, len(ordered))
		for _, q := range ordered {
			if !isVisible(q, answered, visible) {
				continue
			}
			visible[q.ID] = true
			if !yield(q) {
				return
			}
		}
	}
}

func isVisible(q models.Question, answered models.AnswerSet, visible map[string]bool) bool {
	cond := q.Visibility
	if cond == nil {
		return true
	}
	if !visible[cond.QuestionID] {
		return false
	}
	value, ok := answered.Get(cond.QuestionID)
	if !ok {
		return false
	}
	return value.Matches(cond.Answer)
}

// VisibleQuestions runs the visibility filter over the snapshot's questions.
func (s *Snapshot) VisibleQuestions(answered models.AnswerSet) iter.Seq[models.Question] {
	return VisibleQuestions(s.questions, answered)
}

// Sanitize keeps only answers to known, currently visible questions.
// Dropped answers are described in the returned notes, sorted by question id.
func (s *Snapshot) Sanitize(answers models.AnswerSet) (models.AnswerSet, []string) {
	visible := make(map[string]bool, len(s.questions))
	for q := range s.VisibleQuestions(answers) {
		visible[q.ID] = true
	}

	ids := make([]string, 0, len(answers))
	for id := range answers {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	clean := make(models.AnswerSet, len(answers))
	var notes []string
	for _, id := range ids {
		switch {
		case s.byID[id] == nil:
			notes = append(notes, fmt.Sprintf("%s: unknown question %q ignored", models.ErrInvalidAnswer, id))
		case !visible[id]:
			notes = append(notes, fmt.Sprintf("answer to hidden question %q ignored", id))
		default:
			clean[id] = answers[id]
		}
	}
	return clean, notes
}
