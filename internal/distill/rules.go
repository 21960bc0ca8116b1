package distill

import (
	"fmt"
)

// Operator is a comparison in a scoring-rule condition.
type Operator string

// Supported condition operators.
const (
	OpGTE Operator = "gte"
	OpGT  Operator = "gt"
	OpLTE Operator = "lte"
	OpLT  Operator = "lt"
	OpEQ  Operator = "eq"
	OpNEQ Operator = "neq"
)

// Condition is one comparison against a named fact. Rules are data, never
// evaluated text: the interpreter below is the only execution path.
type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    float64  `json:"value"`
}

// ScoringRule adds a boost to the lead score when its condition holds.
type ScoringRule struct {
	ID        string    `json:"id"`
	Condition Condition `json:"condition"`
	Boost     float64   `json:"boost"`
	Enabled   bool      `json:"enabled"`
}

// Eval interprets the condition against the fact table. Unknown fields
// evaluate false; unknown operators are an error.
func (c Condition) Eval(facts map[string]float64) (bool, error) {
	actual, ok := facts[c.Field]
	if !ok {
		return false, nil
	}
	switch c.Operator {
	case OpGTE:
		return actual >= c.Value, nil
	case OpGT:
		return actual > c.Value, nil
	case OpLTE:
		return actual <= c.Value, nil
	case OpLT:
		return actual < c.Value, nil
	case OpEQ:
		return actual == c.Value, nil
	case OpNEQ:
		return actual != c.Value, nil
	default:
		return false, fmt.Errorf("unknown operator %q", c.Operator)
	}
}
