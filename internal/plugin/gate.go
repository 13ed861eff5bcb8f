package plugin

import "github.com/tachyon-beep/elspeth/internal/gateexpr"

// ExpressionGate is the reference Gate implementation: a compiled
// gateexpr.Expression plus the routing table spec §6 attaches to every
// gate node.
type ExpressionGate struct {
	expr    *gateexpr.Expression
	routing RoutingTable
}

// NewExpressionGate wraps a compiled condition and its routing table.
func NewExpressionGate(expr *gateexpr.Expression, routing RoutingTable) *ExpressionGate {
	return &ExpressionGate{expr: expr, routing: routing}
}

func (g *ExpressionGate) Evaluate(row map[string]any) (bool, error) {
	return g.expr.EvalBool(row)
}

func (g *ExpressionGate) RoutingTable() RoutingTable {
	return g.routing
}
