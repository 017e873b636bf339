// Package models defines the data structures for the eligibility engine.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"time"
)

// ValueKind identifies which variant an AnswerValue holds.
type ValueKind string

const (
	ValueKindString     ValueKind = "string"
	ValueKindNumber     ValueKind = "number"
	ValueKindBoolean    ValueKind = "boolean"
	ValueKindStringList ValueKind = "string_list"
)

// AnswerValue is a closed variant: string | number | boolean | []string.
// The zero value is an empty string.
type AnswerValue struct {
	kind ValueKind
	str  string
	num  float64
	b    bool
	list []string
}

// StringValue creates a string answer.
func StringValue(s string) AnswerValue {
	return AnswerValue{kind: ValueKindString, str: s}
}

// NumberValue creates a numeric answer.
func NumberValue(n float64) AnswerValue {
	return AnswerValue{kind: ValueKindNumber, num: n}
}

// BoolValue creates a boolean answer.
func BoolValue(b bool) AnswerValue {
	return AnswerValue{kind: ValueKindBoolean, b: b}
}

// ListValue creates a multi-valued answer.
func ListValue(items ...string) AnswerValue {
	return AnswerValue{kind: ValueKindStringList, list: slices.Clone(items)}
}

// Kind returns the variant held by the value.
func (v AnswerValue) Kind() ValueKind {
	if v.kind == "" {
		return ValueKindString
	}
	return v.kind
}

// String returns the string variant.
func (v AnswerValue) String() (string, bool) {
	return v.str, v.Kind() == ValueKindString
}

// Number returns the numeric variant.
func (v AnswerValue) Number() (float64, bool) {
	return v.num, v.kind == ValueKindNumber
}

// Bool returns the boolean variant.
func (v AnswerValue) Bool() (bool, bool) {
	return v.b, v.kind == ValueKindBoolean
}

// List returns a copy of the multi-valued variant.
func (v AnswerValue) List() ([]string, bool) {
	return slices.Clone(v.list), v.kind == ValueKindStringList
}

// Display renders the value for reason strings and logs.
func (v AnswerValue) Display() string {
	switch v.Kind() {
	case ValueKindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case ValueKindBoolean:
		return strconv.FormatBool(v.b)
	case ValueKindStringList:
		return fmt.Sprintf("%v", v.list)
	default:
		return v.str
	}
}

// Equal reports whether both values hold the same variant and content.
func (v AnswerValue) Equal(other AnswerValue) bool {
	if v.Kind() != other.Kind() {
		return false
	}
	switch v.Kind() {
	case ValueKindNumber:
		return v.num == other.num
	case ValueKindBoolean:
		return v.b == other.b
	case ValueKindStringList:
		return slices.Equal(v.list, other.list)
	default:
		return v.str == other.str
	}
}

// Matches reports whether an answer satisfies an expected value.
//
// A list expectation is satisfied when any of its items matches. A list answer
// satisfies a scalar string expectation when it contains that string. Values of
// different variants never match.
func (v AnswerValue) Matches(expected AnswerValue) bool {
	if expected.Kind() == ValueKindStringList {
		for _, item := range expected.list {
			if v.Matches(StringValue(item)) {
				return true
			}
		}
		return false
	}
	if v.Kind() == ValueKindStringList && expected.Kind() == ValueKindString {
		return slices.Contains(v.list, expected.str)
	}
	return v.Equal(expected)
}

// MarshalJSON encodes the value as its natural JSON form.
func (v AnswerValue) MarshalJSON() ([]byte, error) {
	switch v.Kind() {
	case ValueKindNumber:
		return json.Marshal(v.num)
	case ValueKindBoolean:
		return json.Marshal(v.b)
	case ValueKindStringList:
		if v.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.list)
	default:
		return json.Marshal(v.str)
	}
}

// UnmarshalJSON decodes a JSON string, number, boolean or array of strings.
func (v *AnswerValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return fmt.Errorf("%w: answer value cannot be null", ErrInvalidAnswer)
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidAnswer, err)
		}
		*v = StringValue(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidAnswer, err)
		}
		*v = BoolValue(b)
	case '[':
		var items []string
		if err := json.Unmarshal(data, &items); err != nil {
			return fmt.Errorf("%w: lists must contain strings only", ErrInvalidAnswer)
		}
		*v = ListValue(items...)
	default:
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("%w: unsupported value %s", ErrInvalidAnswer, string(data))
		}
		*v = NumberValue(n)
	}
	return nil
}

// OwnerKind tells whether answers belong to an anonymous session or an account.
type OwnerKind string

const (
	OwnerSession OwnerKind = "session"
	OwnerAccount OwnerKind = "account"
)

// Answer is a single recorded answer to a question.
type Answer struct {
	QuestionID string      `json:"question_id" db:"question_id"`
	OwnerID    string      `json:"owner_id,omitempty" db:"owner_id"`
	Value      AnswerValue `json:"value" db:"value"`
	Timestamp  time.Time   `json:"timestamp" db:"created_at"`
}

// AnswerSet is the logical view of answers keyed by question id.
type AnswerSet map[string]AnswerValue

// Get returns the answer for a question.
func (s AnswerSet) Get(questionID string) (AnswerValue, bool) {
	v, ok := s[questionID]
	return v, ok
}

// Latest collapses append-only answers into one value per question.
// The answer with the latest timestamp wins; on equal timestamps the one
// appearing later in the slice wins.
func Latest(answers []Answer) AnswerSet {
	set := make(AnswerSet, len(answers))
	seen := make(map[string]time.Time, len(answers))
	for _, a := range answers {
		if prev, ok := seen[a.QuestionID]; ok && a.Timestamp.Before(prev) {
			continue
		}
		seen[a.QuestionID] = a.Timestamp
		set[a.QuestionID] = a.Value
	}
	return set
}
