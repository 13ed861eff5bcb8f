package graph

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// ExecutionGraph holds nodes, edges, and per-node NodeInfo, and validates
// schema compatibility across the DAG.
type ExecutionGraph struct {
	nodes map[string]*NodeInfo
	order []string // registration order, used for sequence_in_pipeline

	edges    []*Edge
	outgoing map[string][]*Edge // from_node_id -> edges
	incoming map[string][]*Edge // to_node_id -> edges
}

// New creates an empty ExecutionGraph.
func New() *ExecutionGraph {
	return &ExecutionGraph{
		nodes:    map[string]*NodeInfo{},
		outgoing: map[string][]*Edge{},
		incoming: map[string][]*Edge{},
	}
}

// AddNode registers a node once per run before execution starts.
func (g *ExecutionGraph) AddNode(info NodeInfo) (*NodeInfo, error) {
	if _, exists := g.nodes[info.NodeID]; exists {
		return nil, fmt.Errorf("graph: node %s already registered", info.NodeID)
	}
	info.SequenceInPipeline = len(g.order)
	n := info
	g.nodes[info.NodeID] = &n
	g.order = append(g.order, info.NodeID)
	return &n, nil
}

// AddEdge adds a labeled directed edge; multiple edges between the same
// endpoints are allowed provided their labels differ.
func (g *ExecutionGraph) AddEdge(fromNodeID, toNodeID, label string, mode RoutingMode) (*Edge, error) {
	if _, ok := g.nodes[fromNodeID]; !ok {
		return nil, fmt.Errorf("graph: unknown from_node_id %s", fromNodeID)
	}
	if _, ok := g.nodes[toNodeID]; !ok {
		return nil, fmt.Errorf("graph: unknown to_node_id %s", toNodeID)
	}
	for _, e := range g.outgoing[fromNodeID] {
		if e.ToNodeID == toNodeID && e.Label == label {
			return nil, fmt.Errorf("graph: duplicate edge %s->%s label %q", fromNodeID, toNodeID, label)
		}
	}

	e := &Edge{
		EdgeID:      uuid.NewString(),
		FromNodeID:  fromNodeID,
		ToNodeID:    toNodeID,
		Label:       label,
		DefaultMode: mode,
	}
	g.edges = append(g.edges, e)
	g.outgoing[fromNodeID] = append(g.outgoing[fromNodeID], e)
	g.incoming[toNodeID] = append(g.incoming[toNodeID], e)
	return e, nil
}

// Node returns the NodeInfo for nodeID.
func (g *ExecutionGraph) Node(nodeID string) (*NodeInfo, bool) {
	n, ok := g.nodes[nodeID]
	return n, ok
}

// Nodes returns all nodes in registration order.
func (g *ExecutionGraph) Nodes() []*NodeInfo {
	out := make([]*NodeInfo, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id])
	}
	return out
}

// OutgoingEdges returns the edges leaving nodeID, ordered by label for
// determinism.
func (g *ExecutionGraph) OutgoingEdges(nodeID string) []*Edge {
	edges := append([]*Edge(nil), g.outgoing[nodeID]...)
	sort.Slice(edges, func(i, j int) bool { return edges[i].Label < edges[j].Label })
	return edges
}

// OutgoingEdgesByLabel returns the edge(s) leaving nodeID carrying label.
func (g *ExecutionGraph) OutgoingEdgesByLabel(nodeID, label string) []*Edge {
	var out []*Edge
	for _, e := range g.outgoing[nodeID] {
		if e.Label == label {
			out = append(out, e)
		}
	}
	return out
}

// IncomingEdges returns the edges arriving at nodeID.
func (g *ExecutionGraph) IncomingEdges(nodeID string) []*Edge {
	return append([]*Edge(nil), g.incoming[nodeID]...)
}

// effectiveGuaranteedFields computes the union of a node's own guaranteed
// fields with the guarantees walked from upstream when the node is a
// pass-through (gate/coalesce) producer. Per spec §9's resolved Open
// Question, a pass-through whose only upstream is itself another
// pass-through with no computed schema yields an empty guarantee set
// rather than erroring — the walk simply bottoms out.
func (g *ExecutionGraph) effectiveGuaranteedFields(nodeID string, visiting map[string]bool) []string {
	n, ok := g.nodes[nodeID]
	if !ok {
		return nil
	}
	if !n.Schema.PassThrough {
		return n.Schema.GuaranteedFields
	}
	if visiting[nodeID] {
		return nil // cycle guard; DAG invariant should prevent this
	}
	visiting[nodeID] = true

	fieldSet := map[string]bool{}
	for _, f := range n.Schema.GuaranteedFields {
		fieldSet[f] = true
	}
	for _, e := range g.incoming[nodeID] {
		for _, f := range g.effectiveGuaranteedFields(e.FromNodeID, visiting) {
			fieldSet[f] = true
		}
	}

	out := make([]string, 0, len(fieldSet))
	for f := range fieldSet {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// EffectiveGuaranteedFields is the exported, fresh-visiting-set entry
// point used by the engine to resolve a pass-through node's real output
// guarantees at routing time.
func (g *ExecutionGraph) EffectiveGuaranteedFields(nodeID string) []string {
	return g.effectiveGuaranteedFields(nodeID, map[string]bool{})
}

// CompatibilityError reports one edge whose downstream required fields
// are not guaranteed by its upstream.
type CompatibilityError struct {
	Edge    *Edge
	Missing []string
}

func (e *CompatibilityError) Error() string {
	return fmt.Sprintf("graph: edge %s->%s (%s) missing guaranteed fields %v",
		e.Edge.FromNodeID, e.Edge.ToNodeID, e.Edge.Label, e.Missing)
}

// ValidateEdgeCompatibility checks every edge u->v: the effective
// guaranteed fields of u must be a superset of v's required_fields.
func (g *ExecutionGraph) ValidateEdgeCompatibility() []error {
	var errs []error
	for _, e := range g.edges {
		toNode, ok := g.nodes[e.ToNodeID]
		if !ok {
			continue
		}
		if len(toNode.Schema.RequiredFields) == 0 {
			continue
		}
		guaranteed := map[string]bool{}
		for _, f := range g.EffectiveGuaranteedFields(e.FromNodeID) {
			guaranteed[f] = true
		}
		var missing []string
		for _, req := range toNode.Schema.RequiredFields {
			if !guaranteed[req] {
				missing = append(missing, req)
			}
		}
		if len(missing) > 0 {
			errs = append(errs, &CompatibilityError{Edge: e, Missing: missing})
		}
	}
	return errs
}
