package engine

import (
	"context"

	"github.com/tachyon-beep/elspeth/internal/audit"
	"github.com/tachyon-beep/elspeth/internal/engineerr"
	"github.com/tachyon-beep/elspeth/internal/graph"
)

// deliverToNode dispatches a token+row arriving at nodeID to the handler
// matching its type. Every node type's handler is responsible for
// calling advance to continue the walk once it has decided where the
// token goes next.
func (e *Engine) deliverToNode(ctx context.Context, nodeID string, tok *audit.Token, row map[string]any, stepIndex int) error {
	n, ok := e.nodeInfo(nodeID)
	if !ok {
		return &engineerr.FrameworkBugError{Invariant: "node-registered", Detail: "unknown node " + nodeID}
	}

	switch n.Type {
	case graph.NodeTransform:
		return e.runTransformNode(ctx, nodeID, tok, row, stepIndex)
	case graph.NodeGate:
		return e.runGateNode(ctx, nodeID, tok, row, stepIndex)
	case graph.NodeSink:
		return e.runSinkNode(ctx, nodeID, tok, row, stepIndex)
	case graph.NodeAggregation:
		return e.runAggregationNode(ctx, nodeID, tok, row, stepIndex)
	case graph.NodeCoalesce:
		return e.runCoalesceNode(ctx, nodeID, tok, row, stepIndex)
	default:
		return &engineerr.FrameworkBugError{Invariant: "reachable-node-type", Detail: "node " + nodeID + " has unroutable type " + string(n.Type)}
	}
}

// advance records one RoutingEvent per edge carrying label out of
// fromNodeID (all sharing a RoutingGroupID, ordinal-numbered — this is
// how a COPY fan-out to several same-labeled edges is told apart from a
// single MOVE/DIVERT edge) and recurses into each destination. stateID
// is the NodeState whose completion produced this routing decision; it
// is empty when a COALESCE merge continues the walk, since the merge has
// no NodeState of its own, and then no RoutingEvent is recorded. (The
// first hop out of the SOURCE node does not go through advance at all.)
func (e *Engine) advance(ctx context.Context, fromNodeID, stateID, label string, tok *audit.Token, row map[string]any, stepIndex int) error {
	edges := e.Graph.OutgoingEdgesByLabel(fromNodeID, label)
	if len(edges) == 0 {
		// No outgoing edge for this label: the token's path ends here
		// without reaching a sink. Record it as discarded so every
		// token still has exactly one terminal outcome.
		return e.Recorder.RecordTokenOutcome(ctx, audit.TokenOutcome{TokenID: tok.TokenID, Outcome: audit.OutcomeDiscarded})
	}

	groupID := newID()
	for i, edge := range edges {
		if stateID != "" {
			if _, err := e.Recorder.RecordRoutingEvent(ctx, audit.RoutingEvent{
				StateID:        stateID,
				EdgeID:         edge.EdgeID,
				RoutingGroupID: groupID,
				Ordinal:        i,
				Mode:           edge.DefaultMode,
			}); err != nil {
				return err
			}
		}
		if err := e.deliverToNode(ctx, edge.ToNodeID, tok, row, stepIndex+1); err != nil {
			return err
		}
	}
	return nil
}
