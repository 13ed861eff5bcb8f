package gateexpr

import "testing"

func mustCompiler(t *testing.T) *Compiler {
	t.Helper()
	c, err := NewCompiler()
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func evalBool(t *testing.T, c *Compiler, source string, row map[string]any) bool {
	t.Helper()
	expr, err := c.Compile(source)
	if err != nil {
		t.Fatalf("compile(%q): %v", source, err)
	}
	got, err := expr.EvalBool(row)
	if err != nil {
		t.Fatalf("eval(%q, %v): %v", source, row, err)
	}
	return got
}

func TestAllowedComparisons(t *testing.T) {
	c := mustCompiler(t)
	if !evalBool(t, c, `row["status"] == "active"`, map[string]any{"status": "active"}) {
		t.Fatal("expected equality match")
	}
	if evalBool(t, c, `row["status"] == "active"`, map[string]any{"status": "inactive"}) {
		t.Fatal("expected equality mismatch")
	}
	if !evalBool(t, c, `row["confidence"] >= 0.85`, map[string]any{"confidence": 0.9}) {
		t.Fatal("expected >= to pass")
	}
}

func TestAllowedBooleanOperators(t *testing.T) {
	c := mustCompiler(t)
	if !evalBool(t, c, `row["status"] == "active" && row["balance"] > 0`, map[string]any{"status": "active", "balance": int64(100)}) {
		t.Fatal("expected && true")
	}
	if !evalBool(t, c, `row["status"] == "active" || row["override"] == true`, map[string]any{"status": "inactive", "override": true}) {
		t.Fatal("expected || true")
	}
	if !evalBool(t, c, `!row["disabled"]`, map[string]any{"disabled": false}) {
		t.Fatal("expected negation true")
	}
}

func TestAllowedMembership(t *testing.T) {
	c := mustCompiler(t)
	if !evalBool(t, c, `row["status"] in ["active", "pending"]`, map[string]any{"status": "active"}) {
		t.Fatal("expected membership true")
	}
	if !evalBool(t, c, `!(row["category"] in ["spam", "trash"])`, map[string]any{"category": "inbox"}) {
		t.Fatal("expected not-in true")
	}
}

func TestAllowedRowGet(t *testing.T) {
	c := mustCompiler(t)
	if !evalBool(t, c, `row.get("status") == "active"`, map[string]any{"status": "active"}) {
		t.Fatal("expected row.get basic true")
	}
	if !evalBool(t, c, `row.get("missing") == null`, map[string]any{}) {
		t.Fatal("expected missing key to resolve to null")
	}
	if !evalBool(t, c, `row.get("status", "unknown") == "unknown"`, map[string]any{}) {
		t.Fatal("expected default value when key absent")
	}
	if !evalBool(t, c, `row.get("status", "default") == "active"`, map[string]any{"status": "active"}) {
		t.Fatal("expected present key to win over default")
	}
}

func TestAllowedArithmetic(t *testing.T) {
	c := mustCompiler(t)
	if !evalBool(t, c, `row["a"] + row["b"] > 10`, map[string]any{"a": int64(5), "b": int64(6)}) {
		t.Fatal("expected addition comparison true")
	}
	if !evalBool(t, c, `row["number"] % 2 == 0`, map[string]any{"number": int64(4)}) {
		t.Fatal("expected modulo true")
	}
	if !evalBool(t, c, `-row["value"] < 0`, map[string]any{"value": int64(5)}) {
		t.Fatal("expected unary minus true")
	}
}

func TestAllowedTernary(t *testing.T) {
	c := mustCompiler(t)
	expr, err := c.Compile(`row["score"] >= 0.8 ? "high" : "low"`)
	if err != nil {
		t.Fatal(err)
	}
	v, err := expr.Eval(map[string]any{"score": 0.9})
	if err != nil {
		t.Fatal(err)
	}
	if v != "high" {
		t.Fatalf("expected high, got %v", v)
	}
}

func TestAllowedBuiltins(t *testing.T) {
	c := mustCompiler(t)
	if !evalBool(t, c, `len(row["text"]) > 10`, map[string]any{"text": "hello world!"}) {
		t.Fatal("expected len builtin true")
	}
	if !evalBool(t, c, `str(row["code"]) == "42"`, map[string]any{"code": int64(42)}) {
		t.Fatal("expected str builtin true")
	}
	if !evalBool(t, c, `int(row["amount"]) > 100`, map[string]any{"amount": "200"}) {
		t.Fatal("expected int builtin true")
	}
	if !evalBool(t, c, `float(row["score"]) >= 0.5`, map[string]any{"score": "0.75"}) {
		t.Fatal("expected float builtin true")
	}
	if !evalBool(t, c, `bool(row["count"]) == false`, map[string]any{"count": int64(0)}) {
		t.Fatal("expected bool builtin true")
	}
	if !evalBool(t, c, `abs(row["delta"]) < 10`, map[string]any{"delta": int64(-5)}) {
		t.Fatal("expected abs builtin true")
	}
	if !evalBool(t, c, `len(str(int(row["value"]))) <= 3`, map[string]any{"value": int64(42)}) {
		t.Fatal("expected composed builtins true")
	}
}

func TestEvaluationErrorFailsOnlyThatEvaluation(t *testing.T) {
	c := mustCompiler(t)
	expr, err := c.Compile(`int(row["text"]) > 0`)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := expr.Eval(map[string]any{"text": "not_a_number"}); err == nil {
		t.Fatal("expected evaluation error for non-numeric int() argument")
	}
}

func TestForbiddenConstructsRejectedAtCompileTime(t *testing.T) {
	c := mustCompiler(t)
	cases := []string{
		`some_var == "value"`,                 // arbitrary name
		`row.__class__`,                       // dunder attribute access
		`row.items()`,                         // arbitrary method call
		`row.keys()`,                          // method call not get
		`sorted(row)`,                         // arbitrary function call
		`list(row)`,                           // non-whitelisted builtin
		`dict(row)`,                           // non-whitelisted builtin
		`type(row)`,                           // non-whitelisted builtin
		`row.get()`,                           // too few args
		`row.get("a", "b", "c")`,              // too many args
	}
	for _, source := range cases {
		if _, err := c.Compile(source); err == nil {
			t.Fatalf("expected %q to be rejected at compile time", source)
		}
	}
}

func TestInvalidSyntaxRejected(t *testing.T) {
	c := mustCompiler(t)
	cases := []string{
		`row["field" ==`,
		`row["field"] ==`,
		`(row["field"] == "value"`,
	}
	for _, source := range cases {
		if _, err := c.Compile(source); err == nil {
			t.Fatalf("expected %q to fail as invalid syntax", source)
		}
	}
}

func TestCompileIsCachedBySourceText(t *testing.T) {
	c := mustCompiler(t)
	e1, err := c.Compile(`row["x"] == 1`)
	if err != nil {
		t.Fatal(err)
	}
	e2, err := c.Compile(`row["x"] == 1`)
	if err != nil {
		t.Fatal(err)
	}
	if e1 != e2 {
		t.Fatal("expected identical source text to return the cached Expression")
	}
}
