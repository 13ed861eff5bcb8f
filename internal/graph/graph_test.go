package graph

import "testing"

func TestValidateEdgeCompatibilityDetectsMissingField(t *testing.T) {
	nodes := []NodeSpec{
		{NodeID: "src", Type: NodeSource, Schema: SchemaConfig{GuaranteedFields: []string{"id"}}},
		{NodeID: "xf", Type: NodeTransform, Schema: SchemaConfig{RequiredFields: []string{"id", "name"}}},
	}
	edges := []EdgeSpec{{FromNodeID: "src", ToNodeID: "xf", Label: "continue", Mode: ModeMove}}

	g, err := BuildFromSpecs(nodes, edges)
	if err != nil {
		t.Fatal(err)
	}
	errs := g.ValidateEdgeCompatibility()
	if len(errs) != 1 {
		t.Fatalf("expected 1 compatibility error, got %d: %v", len(errs), errs)
	}
}

func TestPassThroughInheritsUpstreamSchema(t *testing.T) {
	nodes := []NodeSpec{
		{NodeID: "src", Type: NodeSource, Schema: SchemaConfig{GuaranteedFields: []string{"id", "name"}}},
		{NodeID: "gate", Type: NodeGate, Schema: SchemaConfig{PassThrough: true}},
		{NodeID: "sink", Type: NodeSink, Schema: SchemaConfig{RequiredFields: []string{"id", "name"}}},
	}
	edges := []EdgeSpec{
		{FromNodeID: "src", ToNodeID: "gate", Label: "continue", Mode: ModeMove},
		{FromNodeID: "gate", ToNodeID: "sink", Label: "true", Mode: ModeMove},
	}

	g, err := BuildFromSpecs(nodes, edges)
	if err != nil {
		t.Fatal(err)
	}
	if errs := g.ValidateEdgeCompatibility(); len(errs) != 0 {
		t.Fatalf("pass-through should inherit upstream guarantees, got errors: %v", errs)
	}

	got := g.EffectiveGuaranteedFields("gate")
	if len(got) != 2 {
		t.Fatalf("expected gate to report 2 inherited fields, got %v", got)
	}
}

func TestPassThroughWithNoUpstreamSchemaIsEmptyNotError(t *testing.T) {
	nodes := []NodeSpec{
		{NodeID: "g1", Type: NodeGate, Schema: SchemaConfig{PassThrough: true}},
		{NodeID: "g2", Type: NodeGate, Schema: SchemaConfig{PassThrough: true}},
	}
	edges := []EdgeSpec{{FromNodeID: "g1", ToNodeID: "g2", Label: "true", Mode: ModeMove}}

	g, err := BuildFromSpecs(nodes, edges)
	if err != nil {
		t.Fatal(err)
	}
	got := g.EffectiveGuaranteedFields("g2")
	if len(got) != 0 {
		t.Fatalf("expected empty guarantee set for chained pass-throughs with no producer, got %v", got)
	}
}

func TestDuplicateEdgeLabelRejected(t *testing.T) {
	nodes := []NodeSpec{{NodeID: "a"}, {NodeID: "b"}}
	g, err := BuildFromSpecs(nodes, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.AddEdge("a", "b", "continue", ModeMove); err != nil {
		t.Fatal(err)
	}
	if _, err := g.AddEdge("a", "b", "continue", ModeMove); err == nil {
		t.Fatal("expected duplicate edge label to be rejected")
	}
	if _, err := g.AddEdge("a", "b", "on_error", ModeDivert); err != nil {
		t.Fatalf("distinct label between same endpoints should be allowed: %v", err)
	}
}
