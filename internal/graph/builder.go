package graph

// NodeSpec is the declarative description of one node as derived from
// plugin instances and their settings — the Go analogue of
// from_plugin_instances' per-plugin inputs, generalized away from any
// specific plugin registry so this package stays free of a dependency on
// the plugin capability interfaces.
type NodeSpec struct {
	NodeID      string
	PluginName  string
	Type        NodeType
	Determinism Determinism
	Schema      SchemaConfig
}

// EdgeSpec is one declared routing edge: on_success, on_error, a fork
// branch name, or a plain "continue".
type EdgeSpec struct {
	FromNodeID string
	ToNodeID   string
	Label      string
	Mode       RoutingMode
}

// BuildFromSpecs is the from_plugin_instances equivalent: it produces a
// graph whose edges implement the caller's declared routing. Callers
// assemble NodeSpec/EdgeSpec from source/transform/sink/gate/aggregation/
// coalesce plugin instances and their settings before calling this.
func BuildFromSpecs(nodes []NodeSpec, edges []EdgeSpec) (*ExecutionGraph, error) {
	g := New()
	for _, n := range nodes {
		if _, err := g.AddNode(NodeInfo{
			NodeID:      n.NodeID,
			PluginName:  n.PluginName,
			Type:        n.Type,
			Determinism: n.Determinism,
			Schema:      n.Schema,
		}); err != nil {
			return nil, err
		}
	}
	for _, e := range edges {
		if _, err := g.AddEdge(e.FromNodeID, e.ToNodeID, e.Label, e.Mode); err != nil {
			return nil, err
		}
	}
	return g, nil
}
