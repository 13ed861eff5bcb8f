package audit

import (
	"context"
	"testing"

	"github.com/tachyon-beep/elspeth/internal/engineerr"
)

func newTestRun(t *testing.T, r *MemoryRecorder) string {
	t.Helper()
	run, err := r.BeginRun(context.Background(), map[string]any{"x": 1}, "cv1")
	if err != nil {
		t.Fatal(err)
	}
	return run.RunID
}

func TestCallIndexAllocationIsContiguous(t *testing.T) {
	r := NewMemoryRecorder()
	ctx := context.Background()
	runID := newTestRun(t, r)

	row, _ := r.CreateRow(ctx, runID, "src", 0, map[string]any{"a": 1}, "")
	tok, _ := r.CreateToken(ctx, row.RowID, "")
	state, err := r.BeginNodeState(ctx, tok.TokenID, "node-1", runID, 0, map[string]any{}, 0, nil)
	if err != nil {
		t.Fatal(err)
	}

	for want := 0; want < 5; want++ {
		idx, err := r.AllocateCallIndex(ctx, state.StateID)
		if err != nil {
			t.Fatal(err)
		}
		if idx != want {
			t.Fatalf("expected contiguous index %d, got %d", want, idx)
		}
	}
}

func TestRecordCallRejectsNeitherOrBothSet(t *testing.T) {
	r := NewMemoryRecorder()
	ctx := context.Background()

	if _, err := r.RecordCall(ctx, Call{CallType: CallHTTP}); err == nil {
		t.Fatal("expected error when neither state_id nor operation_id set")
	} else if _, ok := err.(*engineerr.FrameworkBugError); !ok {
		t.Fatalf("expected FrameworkBugError, got %T", err)
	}

	if _, err := r.RecordCall(ctx, Call{StateID: "s1", OperationID: "o1", CallType: CallHTTP}); err == nil {
		t.Fatal("expected error when both state_id and operation_id set")
	}
}

func TestRecordCallAcceptsExactlyOne(t *testing.T) {
	r := NewMemoryRecorder()
	ctx := context.Background()
	if _, err := r.RecordCall(ctx, Call{StateID: "s1", CallType: CallHTTP, Status: CallSuccess}); err != nil {
		t.Fatalf("expected state-only call to succeed: %v", err)
	}
	if _, err := r.RecordCall(ctx, Call{OperationID: "o1", CallType: CallSQL, Status: CallSuccess}); err != nil {
		t.Fatalf("expected operation-only call to succeed: %v", err)
	}
}

func TestForkTokenAtomicWithOutcome(t *testing.T) {
	r := NewMemoryRecorder()
	ctx := context.Background()
	runID := newTestRun(t, r)

	row, _ := r.CreateRow(ctx, runID, "src", 0, map[string]any{"a": 1}, "")
	parent, _ := r.CreateToken(ctx, row.RowID, "")

	children, groupID, err := r.ForkToken(ctx, parent.TokenID, row.RowID, []string{"a", "b"}, runID, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 2 {
		t.Fatalf("expected 2 children, got %d", len(children))
	}
	if groupID == "" {
		t.Fatal("expected non-empty fork group id")
	}

	outcomes, err := r.ListTokenOutcomes(ctx, runID)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, o := range outcomes {
		if o.TokenID == parent.TokenID && o.Outcome == OutcomeForked {
			found = true
		}
	}
	if !found {
		t.Fatal("expected parent token to carry FORKED outcome immediately after fork")
	}
}

func TestDoubleOperationCompletionIsFrameworkBug(t *testing.T) {
	r := NewMemoryRecorder()
	ctx := context.Background()
	runID := newTestRun(t, r)

	op, err := r.BeginOperation(ctx, runID, "node-1", OperationSourceLoad, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.CompleteOperation(ctx, op.OperationID, OperationCompleted, "", 10, "", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := r.CompleteOperation(ctx, op.OperationID, OperationCompleted, "", 10, "", ""); err == nil {
		t.Fatal("expected second completion to fail")
	} else if _, ok := err.(*engineerr.FrameworkBugError); !ok {
		t.Fatalf("expected FrameworkBugError, got %T", err)
	}
}

func TestDenseAttemptNumberingEnforced(t *testing.T) {
	r := NewMemoryRecorder()
	ctx := context.Background()
	runID := newTestRun(t, r)

	row, _ := r.CreateRow(ctx, runID, "src", 0, map[string]any{"a": 1}, "")
	tok, _ := r.CreateToken(ctx, row.RowID, "")

	if _, err := r.BeginNodeState(ctx, tok.TokenID, "node-1", runID, 0, map[string]any{}, 0, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := r.BeginNodeState(ctx, tok.TokenID, "node-1", runID, 0, map[string]any{}, 5, nil); err == nil {
		t.Fatal("expected non-dense attempt number to be rejected")
	}
	if _, err := r.BeginNodeState(ctx, tok.TokenID, "node-1", runID, 0, map[string]any{}, 1, nil); err != nil {
		t.Fatalf("expected attempt 1 to be accepted after attempt 0: %v", err)
	}
}

func TestNodeStateSingleTerminalVariant(t *testing.T) {
	r := NewMemoryRecorder()
	ctx := context.Background()
	runID := newTestRun(t, r)

	row, _ := r.CreateRow(ctx, runID, "src", 0, map[string]any{"a": 1}, "")
	tok, _ := r.CreateToken(ctx, row.RowID, "")
	state, _ := r.BeginNodeState(ctx, tok.TokenID, "node-1", runID, 0, map[string]any{}, 0, nil)

	if _, err := r.CompleteNodeState(ctx, state.StateID, map[string]any{"out": true}, nil, nil, 5); err != nil {
		t.Fatal(err)
	}
	if _, err := r.FailNodeState(ctx, state.StateID, map[string]any{"msg": "x"}, 5, nil); err == nil {
		t.Fatal("expected completed state to reject a second terminal transition")
	}
}

func TestBatchMemberOrdinalsAreSubmissionOrdered(t *testing.T) {
	r := NewMemoryRecorder()
	ctx := context.Background()
	runID := newTestRun(t, r)

	batch, err := r.RecordBatch(ctx, Batch{RunID: runID, AggregationNodeID: "agg", TriggerType: TriggerCount})
	if err != nil {
		t.Fatal(err)
	}
	for i, tokenID := range []string{"t1", "t2", "t3"} {
		m, err := r.AppendBatchMember(ctx, batch.BatchID, tokenID)
		if err != nil {
			t.Fatal(err)
		}
		if m.Ordinal != i {
			t.Fatalf("expected ordinal %d, got %d", i, m.Ordinal)
		}
	}
}

func TestRunCannotCompleteTwice(t *testing.T) {
	r := NewMemoryRecorder()
	ctx := context.Background()
	runID := newTestRun(t, r)

	if err := r.CompleteRun(ctx, runID, RunCompleted); err != nil {
		t.Fatal(err)
	}
	if err := r.CompleteRun(ctx, runID, RunFailed); err == nil {
		t.Fatal("expected second completion to fail")
	}
}

func TestSourceDataHashIsDeterministic(t *testing.T) {
	r := NewMemoryRecorder()
	ctx := context.Background()
	runID := newTestRun(t, r)

	row1, err := r.CreateRow(ctx, runID, "src", 0, map[string]any{"a": 1, "b": 2}, "")
	if err != nil {
		t.Fatal(err)
	}
	row2, err := r.CreateRow(ctx, runID, "src", 1, map[string]any{"b": 2, "a": 1}, "")
	if err != nil {
		t.Fatal(err)
	}
	if row1.SourceDataHash != row2.SourceDataHash {
		t.Fatalf("expected key-order-independent hash equality, got %s vs %s", row1.SourceDataHash, row2.SourceDataHash)
	}
}
