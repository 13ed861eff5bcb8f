// Package gateexpr implements the sandboxed gate-condition language of
// spec §4.9: a restricted subset supporting arithmetic, comparisons,
// boolean logic, membership, ternary conditionals, row[key]/row.get(key,
// default) access, and a fixed builtin whitelist (len, str, int, float,
// bool, abs). Forbidden constructs — arbitrary names, attribute access
// beyond row.get, arbitrary function calls, comprehensions — are rejected
// at compile time, before the expression is ever evaluated against a row.
//
// The implementation compiles through CEL (as cmd/workflow-runner/condition
// does for workflow branch conditions in the reference orchestrator),
// with macros disabled and a whitelist walk of the parsed AST standing in
// for Python's restricted-grammar parser.
package gateexpr

import (
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/tachyon-beep/elspeth/internal/engineerr"
)

// Compiler compiles and caches gate expressions by source string, the
// same cache-by-source-text strategy as the reference condition
// evaluator.
type Compiler struct {
	env   *cel.Env
	mu    sync.RWMutex
	cache map[string]*Expression
}

// NewCompiler builds a Compiler with a fresh sandboxed CEL environment.
func NewCompiler() (*Compiler, error) {
	env, err := buildEnv()
	if err != nil {
		return nil, &engineerr.ConfigurationError{Reason: "gate environment: " + err.Error()}
	}
	return &Compiler{env: env, cache: map[string]*Expression{}}, nil
}

// Compile parses, validates, and compiles source, returning a cached
// Expression. Invalid syntax and forbidden constructs both surface as
// *engineerr.ConfigurationError, matching spec §4.9's "fail at config
// load" requirement.
func (c *Compiler) Compile(source string) (*Expression, error) {
	c.mu.RLock()
	cached, ok := c.cache[source]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	ast, issues := c.env.Parse(source)
	if issues != nil && issues.Err() != nil {
		return nil, &engineerr.ConfigurationError{Reason: "gate expression syntax error: " + issues.Err().Error()}
	}

	parsed, err := cel.AstToParsedExpr(ast)
	if err != nil {
		return nil, &engineerr.ConfigurationError{Reason: "gate expression could not be inspected: " + err.Error()}
	}
	if err := validateExpr(parsed.GetExpr()); err != nil {
		return nil, &engineerr.ConfigurationError{Reason: "gate expression forbidden construct: " + err.Error()}
	}

	checked, issues := c.env.Check(ast)
	if issues != nil && issues.Err() != nil {
		return nil, &engineerr.ConfigurationError{Reason: "gate expression type error: " + issues.Err().Error()}
	}

	program, err := c.env.Program(checked)
	if err != nil {
		return nil, &engineerr.ConfigurationError{Reason: "gate expression could not be compiled: " + err.Error()}
	}

	expr := &Expression{source: source, program: program}

	c.mu.Lock()
	c.cache[source] = expr
	c.mu.Unlock()

	return expr, nil
}
