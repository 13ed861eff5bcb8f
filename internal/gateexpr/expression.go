package gateexpr

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// Expression is a compiled gate condition, safe to evaluate repeatedly
// against different rows.
type Expression struct {
	source  string
	program cel.Program
}

// Source returns the original expression text.
func (e *Expression) Source() string { return e.source }

// Eval evaluates the expression against row and returns the raw CEL
// result value (bool for most gate conditions, but ternaries may yield a
// string or number). Runtime errors — e.g. int("not a number") — are
// returned as plain errors, failing only this one evaluation per spec
// §4.9, not the run.
func (e *Expression) Eval(row map[string]any) (any, error) {
	out, _, err := e.program.Eval(map[string]any{"row": row})
	if err != nil {
		return nil, fmt.Errorf("gate expression %q: evaluation error: %w", e.source, err)
	}
	return out.Value(), nil
}

// EvalBool evaluates the expression and requires a boolean result, the
// shape a Gate node's true/false routing table expects.
func (e *Expression) EvalBool(row map[string]any) (bool, error) {
	v, err := e.Eval(row)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("gate expression %q: expected boolean result, got %T", e.source, v)
	}
	return b, nil
}
