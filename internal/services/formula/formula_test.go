package formula

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"fiscal-eligibility-engine/internal/models"
)

func TestCompute_TICPE(t *testing.T) {
	f := models.Formula{{Var: "carburant_litres_an", Multiply: 0.17}}
	gain, notes := Compute(f, models.AnswerSet{"carburant_litres_an": models.NumberValue(45000)})

	assert.Equal(t, int64(7650), gain)
	assert.Empty(t, notes)
}

func TestCompute_ResultStep(t *testing.T) {
	f := models.Formula{
		{Var: "nb_employes", Multiply: 35000},
		{Result: true, Multiply: 0.10},
	}
	gain, _ := Compute(f, models.AnswerSet{"nb_employes": models.NumberValue(3)})
	assert.Equal(t, int64(10500), gain)
}

func TestCompute_Rounding(t *testing.T) {
	f := models.Formula{{Var: "x", Multiply: 0.5}}

	gain, _ := Compute(f, models.AnswerSet{"x": models.NumberValue(3)})
	assert.Equal(t, int64(2), gain)

	gain, _ = Compute(f, models.AnswerSet{"x": models.NumberValue(2.9)})
	assert.Equal(t, int64(1), gain)
}

func TestCompute_DegradedOperands(t *testing.T) {
	f := models.Formula{
		{Var: "missing", Multiply: 10},
		{Var: "text", Multiply: 10},
		{Var: "ok", Multiply: 2},
	}
	gain, notes := Compute(f, models.AnswerSet{
		"text": models.StringValue("beaucoup"),
		"ok":   models.NumberValue(21),
	})

	assert.Equal(t, int64(42), gain)
	assert.Len(t, notes, 2)
	assert.Contains(t, notes[0], "missing")
	assert.Contains(t, notes[1], "text")
}

func TestCompute_NeverNegative(t *testing.T) {
	f := models.Formula{{Var: "x", Multiply: 1}}
	gain, _ := Compute(f, models.AnswerSet{"x": models.NumberValue(-500)})
	assert.Equal(t, int64(0), gain)
}

func TestCompute_EmptyFormula(t *testing.T) {
	gain, notes := Compute(nil, models.AnswerSet{})
	assert.Equal(t, int64(0), gain)
	assert.Empty(t, notes)
}

func TestCompute_Monotone(t *testing.T) {
	f := models.Formula{
		{Var: "a", Multiply: 1.5},
		{Result: true, Multiply: 0.3},
		{Var: "b", Multiply: 12},
		{Result: true, Multiply: 2},
	}

	prev := int64(-1)
	for a := 0.0; a <= 10000; a += 250 {
		gain, _ := Compute(f, models.AnswerSet{"a": models.NumberValue(a), "b": models.NumberValue(40)})
		assert.GreaterOrEqual(t, gain, prev, "a=%v", a)
		prev = gain
	}

	prev = -1
	for b := 0.0; b <= 1000; b += 7 {
		gain, _ := Compute(f, models.AnswerSet{"a": models.NumberValue(100), "b": models.NumberValue(b)})
		assert.GreaterOrEqual(t, gain, prev, "b=%v", b)
		prev = gain
	}
}
