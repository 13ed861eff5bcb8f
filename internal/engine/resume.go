package engine

import (
	"context"

	"github.com/tachyon-beep/elspeth/internal/audit"
)

// ResumeToken re-enters a transform node for a token whose NodeState is
// suspended (spec §4.8 step 3: re-invoke with the same inputs, the
// plugin consults ctx.GetCheckpoint() to learn whether the external job
// it is waiting on has completed). Locating every suspended token after
// a crash is a storage-layer concern — internal/audit/pgstore can list
// NodeStates by Status=PENDING and join back to the row data a sink-
// durable payload store retained — which this package leaves to the
// resume command built on top of it; ResumeToken is the re-entry point
// that command calls once it has reconstructed (nodeID, token, row).
//
// The audit recorder's dense-attempt-numbering invariant (spec §4.4) is
// per-(token,node) and persists across the suspend, so re-entering via
// runTransformNode's attempt=0 would collide with the attempts the
// suspended NodeState already consumed. ResumeToken looks up the
// highest recorded attempt for this token/node and seeds the resumed
// retry sequence one past it.
func (e *Engine) ResumeToken(ctx context.Context, nodeID string, tokenID, rowID string, row map[string]any, stepIndex int) error {
	startAttempt, err := e.nextAttemptFor(ctx, tokenID, nodeID)
	if err != nil {
		return err
	}
	tok := &tokenRef{tokenID: tokenID, rowID: rowID}
	return e.runTransformNodeFrom(ctx, nodeID, tok.toAuditToken(), row, stepIndex, startAttempt)
}

// nextAttemptFor returns one past the highest attempt already recorded
// for (tokenID, nodeID) in this run, or 0 if none exist yet.
func (e *Engine) nextAttemptFor(ctx context.Context, tokenID, nodeID string) (int, error) {
	states, err := e.Recorder.ListNodeStates(ctx, e.runID)
	if err != nil {
		return 0, err
	}
	next := 0
	for _, s := range states {
		if s.TokenID != tokenID || s.NodeID != nodeID {
			continue
		}
		if s.Attempt+1 > next {
			next = s.Attempt + 1
		}
	}
	return next, nil
}

// tokenRef is the minimal identity ResumeToken's caller supplies; audit
// history (fork/expand/join group membership) for a token that already
// existed before the crash lives in the recorder already, so the engine
// does not need to reconstruct the full audit.Token to resume it.
type tokenRef struct {
	tokenID string
	rowID   string
}

func (r *tokenRef) toAuditToken() *audit.Token {
	return &audit.Token{TokenID: r.tokenID, RowID: r.rowID}
}
