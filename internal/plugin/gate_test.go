package plugin

import (
	"testing"

	"github.com/tachyon-beep/elspeth/internal/gateexpr"
)

func TestExpressionGateRoutesOnCondition(t *testing.T) {
	c, err := gateexpr.NewCompiler()
	if err != nil {
		t.Fatal(err)
	}
	expr, err := c.Compile(`row["confidence"] >= row.get("threshold", 0.5)`)
	if err != nil {
		t.Fatal(err)
	}

	gate := NewExpressionGate(expr, RoutingTable{OnTrue: "accept", OnFalse: "review"})

	ok, err := gate.Evaluate(map[string]any{"confidence": 0.9})
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected condition to pass with default threshold")
	}
	if gate.RoutingTable().OnTrue != "accept" {
		t.Fatal("expected routing table to carry through")
	}

	ok, err = gate.Evaluate(map[string]any{"confidence": 0.1})
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected condition to fail below threshold")
	}
}
