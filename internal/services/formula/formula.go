// Package formula computes estimated gains from declarative formulas.
package formula

import (
	"fmt"
	"math"

	"fiscal-eligibility-engine/internal/models"
)

// Compute runs the operations of f in order and returns the rounded gain.
//
// The accumulator starts at zero. A var operation adds answer*multiply, a
// result operation multiplies the accumulator. A missing or non-numeric
// operand counts as zero and is reported in the returned notes. The result is
// rounded to the nearest unit and never negative.
func Compute(f models.Formula, answers models.AnswerSet) (int64, []string) {
	var acc float64
	var notes []string

	for _, op := range f {
		if op.Result {
			acc *= op.Multiply
			continue
		}

		value, ok := answers.Get(op.Var)
		if !ok {
			notes = append(notes, fmt.Sprintf("formula: %s not answered, counted as 0", op.Var))
			continue
		}
		n, isNumber := value.Number()
		if !isNumber || math.IsNaN(n) || math.IsInf(n, 0) {
			notes = append(notes, fmt.Sprintf("formula: %s is not numeric (%s), counted as 0", op.Var, value.Display()))
			continue
		}
		acc += n * op.Multiply
	}

	return round(acc), notes
}

func round(v float64) int64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0
	}
	if v >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(math.Round(v))
}
