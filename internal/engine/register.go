package engine

import (
	"context"

	"github.com/tachyon-beep/elspeth/internal/audit"
	"github.com/tachyon-beep/elspeth/internal/checkpoint"
	"github.com/tachyon-beep/elspeth/internal/graph"
)

// registerGraph mirrors every node and edge of e.Graph into the audit
// trail exactly once, at the start of a run. Node.ConfigHash/ConfigJSON
// come from NodeConfigs; Node.SchemaHash/SchemaMode/SchemaFields come
// from Contracts, when a node declares one.
func (e *Engine) registerGraph(ctx context.Context, runID string) error {
	for _, n := range e.Graph.Nodes() {
		node := audit.Node{
			NodeID:             n.NodeID,
			RunID:              runID,
			PluginName:         n.PluginName,
			NodeType:           audit.NodeType(n.Type),
			Determinism:        audit.Determinism(n.Determinism),
			ConfigJSON:         e.pluginConfigFor(n.NodeID),
			SequenceInPipeline: n.SequenceInPipeline,
		}
		if cfgHash, err := checkpoint.NodeConfigHash(node.ConfigJSON); err == nil {
			node.ConfigHash = cfgHash
		}
		if c, ok := e.Contracts[n.NodeID]; ok && c != nil {
			node.SchemaHash = c.VersionHash()
			node.SchemaMode = string(c.Mode())
			fields := c.Fields()
			shaped := make([]map[string]any, 0, len(fields))
			for _, f := range fields {
				shaped = append(shaped, map[string]any{
					"normalized": f.NormalizedName,
					"original":   f.OriginalName,
					"kind":       f.Kind,
					"required":   f.Required,
				})
			}
			node.SchemaFields = shaped
		}
		if _, err := e.Recorder.RegisterNode(ctx, node); err != nil {
			return err
		}
	}

	for _, n := range e.Graph.Nodes() {
		for _, edge := range e.Graph.OutgoingEdges(n.NodeID) {
			ed := audit.Edge{
				EdgeID:      edge.EdgeID,
				RunID:       runID,
				FromNodeID:  edge.FromNodeID,
				ToNodeID:    edge.ToNodeID,
				Label:       edge.Label,
				DefaultMode: audit.RoutingMode(edge.DefaultMode),
			}
			if _, err := e.Recorder.AddEdge(ctx, ed); err != nil {
				return err
			}
		}
	}
	return nil
}

// nodeInfo is a small convenience wrapper so call sites don't repeat the
// two-value graph.Node lookup.
func (e *Engine) nodeInfo(nodeID string) (*graph.NodeInfo, bool) {
	return e.Graph.Node(nodeID)
}
