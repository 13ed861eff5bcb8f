package engine

import (
	"context"
	"time"

	"github.com/tachyon-beep/elspeth/internal/audit"
	"github.com/tachyon-beep/elspeth/internal/engineerr"
	"github.com/tachyon-beep/elspeth/internal/plugin"
)

// aggregationState tracks one in-flight batch for an AGGREGATION node.
// Only one batch is open per node at a time; a COUNT trigger closes it
// as soon as membership reaches Trigger().Count, a TIME trigger closes
// it opportunistically on the next arrival once Interval has elapsed
// (this engine has no background timer goroutine, so a TIME trigger with
// no further arrivals only fires when FlushAggregations is called at
// shutdown).
type aggregationState struct {
	batchID   string
	members   []string
	rows      []map[string]any
	startedAt time.Time
}

// runAggregationNode adds row to nodeID's open batch, opening one if
// none exists, and reduces the batch once its trigger condition is met.
func (e *Engine) runAggregationNode(ctx context.Context, nodeID string, tok *audit.Token, row map[string]any, stepIndex int) error {
	agg, ok := e.Aggregators[nodeID]
	if !ok {
		return &engineerr.FrameworkBugError{Invariant: "aggregator-registered", Detail: "no Aggregator bound to node " + nodeID}
	}

	trigger := agg.Trigger()

	e.aggMu.Lock()
	st, exists := e.agg[nodeID]
	if !exists {
		batch, err := e.Recorder.RecordBatch(ctx, audit.Batch{
			RunID:             e.runID,
			AggregationNodeID: nodeID,
			TriggerType:       audit.TriggerType(trigger.Kind),
			Status:            audit.BatchDraft,
		})
		if err != nil {
			e.aggMu.Unlock()
			return err
		}
		st = &aggregationState{batchID: batch.BatchID, startedAt: time.Now()}
		e.agg[nodeID] = st
	}
	st.members = append(st.members, tok.TokenID)
	st.rows = append(st.rows, row)
	batchID := st.batchID

	fire := false
	switch trigger.Kind {
	case plugin.TriggerCount:
		fire = trigger.Count > 0 && len(st.members) >= trigger.Count
	case plugin.TriggerTime:
		fire = trigger.Interval > 0 && time.Since(st.startedAt) >= trigger.Interval
	case plugin.TriggerManual:
		fire = false
	}

	var members []string
	var rows []map[string]any
	if fire {
		members, rows = st.members, st.rows
		delete(e.agg, nodeID)
	}
	e.aggMu.Unlock()

	if _, err := e.Recorder.AppendBatchMember(ctx, batchID, tok.TokenID); err != nil {
		return err
	}
	if !fire {
		return nil
	}
	return e.reduceBatch(ctx, nodeID, agg, batchID, members, rows, stepIndex)
}

// FlushAggregations force-reduces every open batch, used at shutdown so
// a TIME or MANUAL trigger that never otherwise fired still completes
// rather than leaving its members permanently unconsumed.
func (e *Engine) FlushAggregations(ctx context.Context) error {
	e.aggMu.Lock()
	pending := e.agg
	e.agg = map[string]*aggregationState{}
	e.aggMu.Unlock()

	for nodeID, st := range pending {
		if len(st.members) == 0 {
			continue
		}
		agg := e.Aggregators[nodeID]
		if err := e.reduceBatch(ctx, nodeID, agg, st.batchID, st.members, st.rows, 0); err != nil {
			return err
		}
	}
	return nil
}

// reduceBatch runs Reduce over a closed batch's rows and routes each
// output row as a freshly rooted token down the aggregation node's
// success edge. The reduce call itself is recorded as a NodeState owned
// by the batch's first member token, a deliberate simplification: a
// Reduce call has no single natural owning token, and the audit schema
// requires every NodeState to name exactly one.
func (e *Engine) reduceBatch(ctx context.Context, nodeID string, agg plugin.Aggregator, batchID string, members []string, rows []map[string]any, stepIndex int) error {
	if err := e.Recorder.UpdateBatchStatus(ctx, batchID, audit.BatchExecuting, nil); err != nil {
		return err
	}

	state, err := e.Recorder.BeginNodeState(ctx, members[0], nodeID, e.runID, stepIndex, map[string]any{"batch_size": len(rows)}, 0, nil)
	if err != nil {
		return err
	}
	pctx := e.newPluginContext(nodeID, state.StateID, "", members[0])

	started := time.Now()
	outRows, rerr := agg.Reduce(ctx, rows, pctx)
	elapsedMS := time.Since(started).Milliseconds()

	if rerr != nil {
		_, _ = e.Recorder.FailNodeState(ctx, state.StateID, errJSON(rerr), elapsedMS, nil)
		completedAt := time.Now()
		_ = e.Recorder.UpdateBatchStatus(ctx, batchID, audit.BatchFailed, &completedAt)
		for _, m := range members {
			if terr := e.Recorder.RecordTokenOutcome(ctx, audit.TokenOutcome{TokenID: m, Outcome: audit.OutcomeFailed}); terr != nil {
				return terr
			}
		}
		return &engineerr.PluginInvocationError{NodeID: nodeID, Cause: rerr}
	}

	if _, cerr := e.Recorder.CompleteNodeState(ctx, state.StateID, map[string]any{"output_count": len(outRows)}, nil, nil, elapsedMS); cerr != nil {
		return cerr
	}
	completedAt := time.Now()
	if err := e.Recorder.UpdateBatchStatus(ctx, batchID, audit.BatchCompleted, &completedAt); err != nil {
		return err
	}
	for _, m := range members {
		if err := e.Recorder.RecordTokenOutcome(ctx, audit.TokenOutcome{TokenID: m, Outcome: audit.OutcomeConsumedInBatch}); err != nil {
			return err
		}
	}
	for _, outRow := range outRows {
		e.aggMu.Lock()
		idx := e.aggOutputSeq[nodeID]
		e.aggOutputSeq[nodeID] = idx + 1
		e.aggMu.Unlock()

		newRow, err := e.Recorder.CreateRow(ctx, e.runID, nodeID, idx, outRow, "")
		if err != nil {
			return err
		}
		newTok, err := e.Recorder.CreateToken(ctx, newRow.RowID, "")
		if err != nil {
			return err
		}
		if err := e.advance(ctx, nodeID, state.StateID, "success", newTok, outRow, stepIndex); err != nil {
			return err
		}
	}
	return nil
}
