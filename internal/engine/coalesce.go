package engine

import (
	"context"

	"github.com/tachyon-beep/elspeth/internal/audit"
	"github.com/tachyon-beep/elspeth/internal/engineerr"
)

// coalesceState accumulates the branches that have arrived for one
// fork/join group waiting at a COALESCE node.
type coalesceState struct {
	arrived map[string]string // branch name -> token id
	rows    map[string]map[string]any
}

// coalesceKey scopes waiting groups by node and fork group, since the
// same COALESCE node may be waiting on several independent fork events
// from different source rows concurrently.
func coalesceKey(nodeID, groupID string) string { return nodeID + "|" + groupID }

// runCoalesceNode waits for every branch named in the node's
// CoalesceBranches config to arrive from the same ForkGroupID before
// merging. The merge is a shallow field union across arrived rows; a
// field present in more than one branch is an ambiguity this engine
// resolves by last-branch-wins in CoalesceBranches order, which callers
// should treat as a reason to keep merged fields disjoint across
// branches in practice.
func (e *Engine) runCoalesceNode(ctx context.Context, nodeID string, tok *audit.Token, row map[string]any, stepIndex int) error {
	cfg, ok := e.NodeConfigs[nodeID]
	if !ok || len(cfg.CoalesceBranches) == 0 {
		return &engineerr.FrameworkBugError{Invariant: "coalesce-branches-configured", Detail: "node " + nodeID + " has no CoalesceBranches configured"}
	}
	if tok.ForkGroupID == "" {
		return &engineerr.FrameworkBugError{Invariant: "coalesce-requires-fork-group", Detail: "token " + tok.TokenID + " arrived at coalesce node " + nodeID + " without a ForkGroupID"}
	}

	key := coalesceKey(nodeID, tok.ForkGroupID)

	e.coalesceMu.Lock()
	st, exists := e.coalesce[key]
	if !exists {
		st = &coalesceState{arrived: map[string]string{}, rows: map[string]map[string]any{}}
		e.coalesce[key] = st
	}
	st.arrived[tok.BranchName] = tok.TokenID
	st.rows[tok.BranchName] = row

	complete := true
	for _, b := range cfg.CoalesceBranches {
		if _, ok := st.arrived[b]; !ok {
			complete = false
			break
		}
	}
	var parentIDs []string
	var merged map[string]any
	if complete {
		delete(e.coalesce, key)
		parentIDs = make([]string, 0, len(cfg.CoalesceBranches))
		merged = map[string]any{}
		for _, b := range cfg.CoalesceBranches {
			parentIDs = append(parentIDs, st.arrived[b])
			for k, v := range st.rows[b] {
				merged[k] = v
			}
		}
	}
	e.coalesceMu.Unlock()

	if !complete {
		return nil
	}

	stepCopy := stepIndex
	child, err := e.Recorder.CoalesceTokens(ctx, parentIDs, tok.RowID, &stepCopy)
	if err != nil {
		return err
	}
	return e.advance(ctx, nodeID, "", "success", child, merged, stepIndex)
}
