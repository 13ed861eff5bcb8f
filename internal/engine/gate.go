package engine

import (
	"context"
	"time"

	"github.com/tachyon-beep/elspeth/internal/audit"
	"github.com/tachyon-beep/elspeth/internal/engineerr"
)

// runGateNode evaluates a boolean condition against row and routes the
// token accordingly. A gate's RoutingTable.ForkTo takes precedence on a
// true evaluation: the token forks into one branch per listed edge
// label, each branch carrying the same row, rather than moving along a
// single OnTrue edge — a gate declares fork_to exactly when it wants
// fan-out on the happy path, matching the reference compiler's
// conditional-branch-with-fanout nodes.
func (e *Engine) runGateNode(ctx context.Context, nodeID string, tok *audit.Token, row map[string]any, stepIndex int) error {
	g, ok := e.Gates[nodeID]
	if !ok {
		return &engineerr.FrameworkBugError{Invariant: "gate-registered", Detail: "no Gate bound to node " + nodeID}
	}

	state, err := e.Recorder.BeginNodeState(ctx, tok.TokenID, nodeID, e.runID, stepIndex, row, 0, nil)
	if err != nil {
		return err
	}

	started := time.Now()
	result, err := g.Evaluate(row)
	elapsedMS := time.Since(started).Milliseconds()
	if err != nil {
		if _, ferr := e.Recorder.FailNodeState(ctx, state.StateID, errJSON(err), elapsedMS, nil); ferr != nil {
			return ferr
		}
		return e.Recorder.RecordTokenOutcome(ctx, audit.TokenOutcome{TokenID: tok.TokenID, Outcome: audit.OutcomeFailed})
	}

	if _, cerr := e.Recorder.CompleteNodeState(ctx, state.StateID, map[string]any{"result": result}, nil, nil, elapsedMS); cerr != nil {
		return cerr
	}

	rt := g.RoutingTable()
	if result && len(rt.ForkTo) > 0 {
		return e.forkGate(ctx, nodeID, state.StateID, tok, row, rt.ForkTo, stepIndex)
	}

	label := rt.OnFalse
	if result {
		label = rt.OnTrue
	}
	return e.advance(ctx, nodeID, state.StateID, label, tok, row, stepIndex)
}

// forkGate creates one child token per branch, each delivered along the
// outgoing edge carrying that branch's label. The parent's outcome is
// recorded as FORKED by Recorder.ForkToken itself.
func (e *Engine) forkGate(ctx context.Context, nodeID, stateID string, tok *audit.Token, row map[string]any, branches []string, stepIndex int) error {
	stepCopy := stepIndex
	children, groupID, err := e.Recorder.ForkToken(ctx, tok.TokenID, tok.RowID, branches, e.runID, &stepCopy)
	if err != nil {
		return err
	}
	for i, child := range children {
		if _, rerr := e.Recorder.RecordRoutingEvent(ctx, audit.RoutingEvent{
			StateID:        stateID,
			EdgeID:         e.edgeForLabel(nodeID, branches[i]),
			RoutingGroupID: groupID,
			Ordinal:        i,
			Mode:           audit.ModeMove,
		}); rerr != nil {
			return rerr
		}
		for _, edge := range e.Graph.OutgoingEdgesByLabel(nodeID, branches[i]) {
			if err := e.deliverToNode(ctx, edge.ToNodeID, child, row, stepIndex+1); err != nil {
				return err
			}
		}
	}
	return nil
}

// edgeForLabel returns the edge id for nodeID's first edge carrying
// label, or empty if none exists — used only to populate
// RoutingEvent.EdgeID for a forked branch whose routing is otherwise
// driven directly rather than through advance.
func (e *Engine) edgeForLabel(nodeID, label string) string {
	edges := e.Graph.OutgoingEdgesByLabel(nodeID, label)
	if len(edges) == 0 {
		return ""
	}
	return edges[0].EdgeID
}
