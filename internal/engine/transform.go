package engine

import (
	"context"
	"time"

	"github.com/tachyon-beep/elspeth/internal/audit"
	"github.com/tachyon-beep/elspeth/internal/engineerr"
	"github.com/tachyon-beep/elspeth/internal/plugin"
	"github.com/tachyon-beep/elspeth/internal/retry"
)

// transformAttempt is what the retry operation hands back on a non-error
// return: the plugin's result together with the NodeState it was
// recorded against, so the caller can route on Kind without re-deriving
// the state id.
type transformAttempt struct {
	result  plugin.TransformResult
	stateID string
}

// runTransformNode drives one token through a transform, opening a fresh
// NodeState per attempt and retrying only attempts the transform itself
// marks retryable (via a returned Go error the engine classifies with
// IsRetryable, or a TransformResult{Kind: OutcomeError, Retryable: true}).
// It starts dense attempt numbering at 0; ResumeToken re-enters at the
// count already consumed before suspension via runTransformNodeFrom.
func (e *Engine) runTransformNode(ctx context.Context, nodeID string, tok *audit.Token, row map[string]any, stepIndex int) error {
	return e.runTransformNodeFrom(ctx, nodeID, tok, row, stepIndex, 0)
}

// runTransformNodeFrom is runTransformNode with the dense attempt counter
// seeded at startAttempt rather than 0. The audit recorder enforces a
// persistent, monotonic per-(token,node) attempt sequence (spec §4.4):
// a suspended NodeState already consumed attempts 0..startAttempt-1, so
// resuming it must hand BeginNodeState startAttempt, not restart at 0,
// or the recorder rejects the call as a dense-attempt-numbering
// violation.
func (e *Engine) runTransformNodeFrom(ctx context.Context, nodeID string, tok *audit.Token, row map[string]any, stepIndex int, startAttempt int) error {
	t, ok := e.Transforms[nodeID]
	if !ok {
		return &engineerr.FrameworkBugError{Invariant: "transform-registered", Detail: "no Transform bound to node " + nodeID}
	}

	mgr := retry.NewManager(e.retryConfigFor(nodeID))
	isRetryable := func(err error) bool {
		if err == nil {
			return false
		}
		if _, ok := err.(*retryableOutcomeError); ok {
			return true
		}
		return e.IsRetryable(err)
	}

	op := func(ctx context.Context, attempt int) (any, error) {
		state, err := e.Recorder.BeginNodeState(ctx, tok.TokenID, nodeID, e.runID, stepIndex, row, startAttempt+attempt, nil)
		if err != nil {
			return nil, err
		}

		pctx := e.newPluginContext(nodeID, state.StateID, "", tok.TokenID)
		started := time.Now()
		result, perr := t.Process(ctx, []map[string]any{row}, pctx)
		elapsedMS := time.Since(started).Milliseconds()

		if bp, ok := perr.(*engineerr.BatchPendingError); ok {
			result, perr = plugin.Pending(plugin.PendingInfo{BatchID: bp.BatchID, Status: bp.Status, CheckAfterSeconds: bp.CheckAfterSeconds, Checkpoint: bp.Checkpoint}), nil
		}
		if perr != nil {
			if _, ferr := e.Recorder.FailNodeState(ctx, state.StateID, errJSON(perr), elapsedMS, nil); ferr != nil {
				return nil, ferr
			}
			return nil, perr
		}

		switch result.Kind {
		case plugin.OutcomeSuccess:
			var outputRow map[string]any
			if len(result.Rows) > 0 {
				outputRow = result.Rows[0]
			}
			if _, cerr := e.Recorder.CompleteNodeState(ctx, state.StateID, outputRow, result.SuccessReason, result.ContextAfter, elapsedMS); cerr != nil {
				return nil, cerr
			}
			return transformAttempt{result: result, stateID: state.StateID}, nil

		case plugin.OutcomePending:
			if _, serr := e.Recorder.SuspendNodeState(ctx, state.StateID, result.Pending.Checkpoint, elapsedMS); serr != nil {
				return nil, serr
			}
			if pctx.Checkpoint != nil {
				if uerr := pctx.Checkpoint.Update(result.Pending.Checkpoint); uerr != nil {
					return nil, uerr
				}
			}
			return transformAttempt{result: result, stateID: state.StateID}, nil

		case plugin.OutcomeError:
			if _, ferr := e.Recorder.FailNodeState(ctx, state.StateID, result.ErrorReason, elapsedMS, nil); ferr != nil {
				return nil, ferr
			}
			if result.Retryable {
				return nil, &retryableOutcomeError{reason: result.ErrorReason}
			}
			return transformAttempt{result: result, stateID: state.StateID}, nil

		default:
			return nil, &engineerr.FrameworkBugError{Invariant: "transform-result-kind", Detail: "unknown kind " + string(result.Kind)}
		}
	}

	res, _, err := mgr.ExecuteWithRetry(ctx, op, isRetryable)
	if err != nil {
		if _, ok := err.(*engineerr.MaxRetriesExceeded); ok {
			if terr := e.Recorder.RecordTokenOutcome(ctx, audit.TokenOutcome{TokenID: tok.TokenID, Outcome: audit.OutcomeFailed}); terr != nil {
				return terr
			}
			return nil
		}
		return &engineerr.PluginInvocationError{NodeID: nodeID, Cause: err}
	}

	attempt := res.(transformAttempt)
	switch attempt.result.Kind {
	case plugin.OutcomePending:
		return nil // token suspended; resume is driven externally via the checkpoint

	case plugin.OutcomeError:
		if err := e.advance(ctx, nodeID, attempt.stateID, "error", tok, row, stepIndex); err != nil {
			return err
		}
		return nil

	case plugin.OutcomeSuccess:
		return e.routeTransformSuccess(ctx, nodeID, tok, attempt, stepIndex)
	}
	return nil
}

// routeTransformSuccess implements the MOVE vs EXPAND split on a
// successful transform outcome: a single output row continues the same
// token down the "success" edge; more than one row is an EXPAND (row
// deaggregation) only for nodes explicitly marked ExpandNodeIDs — any
// other multi-row result is a framework bug, since a plain transform
// must be 1-in-1-out unless it opted into expansion.
func (e *Engine) routeTransformSuccess(ctx context.Context, nodeID string, tok *audit.Token, attempt transformAttempt, stepIndex int) error {
	rows := attempt.result.Rows
	if len(rows) == 1 {
		return e.advance(ctx, nodeID, attempt.stateID, "success", tok, rows[0], stepIndex)
	}
	if len(rows) == 0 {
		return e.Recorder.RecordTokenOutcome(ctx, audit.TokenOutcome{TokenID: tok.TokenID, Outcome: audit.OutcomeDiscarded})
	}
	if !e.ExpandNodeIDs[nodeID] {
		return &engineerr.FrameworkBugError{
			Invariant: "transform-single-row-unless-expand",
			Detail:    "node " + nodeID + " returned multiple rows but is not registered as an expand node",
		}
	}

	stepCopy := stepIndex
	children, _, err := e.Recorder.ExpandToken(ctx, tok.TokenID, tok.RowID, len(rows), e.runID, &stepCopy, true)
	if err != nil {
		return err
	}
	for i, child := range children {
		if err := e.advance(ctx, nodeID, attempt.stateID, "success", child, rows[i], stepIndex); err != nil {
			return err
		}
	}
	return nil
}
