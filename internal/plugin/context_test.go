package plugin

import (
	"context"
	"testing"

	"github.com/tachyon-beep/elspeth/internal/audit"
	"github.com/tachyon-beep/elspeth/internal/obslog"
)

func newTestRecorder(t *testing.T) (audit.Recorder, *audit.Run) {
	t.Helper()
	rec := audit.NewMemoryRecorder()
	run, err := rec.BeginRun(context.Background(), map[string]any{}, "cv1")
	if err != nil {
		t.Fatal(err)
	}
	return rec, run
}

func TestRecordCallRejectsNeitherIDSet(t *testing.T) {
	rec, run := newTestRecorder(t)
	pctx := NewContext(run.RunID, "node1", rec, nil, nil, obslog.New("error", "console"), nil)

	if _, err := pctx.RecordCall(context.Background(), CallOpts{CallType: audit.CallHTTP, Status: audit.CallSuccess}); err == nil {
		t.Fatal("expected FrameworkBugError when neither StateID nor OperationID is set")
	}
}

func TestRecordCallRejectsBothIDsSet(t *testing.T) {
	rec, run := newTestRecorder(t)
	pctx := NewContext(run.RunID, "node1", rec, nil, nil, obslog.New("error", "console"), nil)
	pctx.StateID = "state1"
	pctx.OperationID = "op1"

	if _, err := pctx.RecordCall(context.Background(), CallOpts{CallType: audit.CallHTTP, Status: audit.CallSuccess}); err == nil {
		t.Fatal("expected FrameworkBugError when both StateID and OperationID are set")
	}
}

func TestRecordCallAcceptsOperationParented(t *testing.T) {
	rec, run := newTestRecorder(t)
	op, err := rec.BeginOperation(context.Background(), run.RunID, "sink1", audit.OperationSinkWrite, "", "")
	if err != nil {
		t.Fatal(err)
	}

	pctx := NewContext(run.RunID, "sink1", rec, nil, nil, obslog.New("error", "console"), nil)
	pctx.OperationID = op.OperationID

	call, err := pctx.RecordCall(context.Background(), CallOpts{CallType: audit.CallHTTP, Status: audit.CallSuccess})
	if err != nil {
		t.Fatal(err)
	}
	if call.CallIndex != 0 {
		t.Fatalf("expected first call index 0, got %d", call.CallIndex)
	}
}

func TestGetCheckpointWithoutManagerIsConfigurationError(t *testing.T) {
	rec, run := newTestRecorder(t)
	pctx := NewContext(run.RunID, "node1", rec, nil, nil, obslog.New("error", "console"), nil)

	if _, err := pctx.GetCheckpoint(); err == nil {
		t.Fatal("expected ConfigurationError when no checkpoint manager is configured")
	}
}

func TestRouteToSinkWithoutRouterIsFrameworkBug(t *testing.T) {
	rec, run := newTestRecorder(t)
	pctx := NewContext(run.RunID, "node1", rec, nil, nil, obslog.New("error", "console"), nil)

	if err := pctx.RouteToSink(context.Background(), "errors", map[string]any{}, nil); err == nil {
		t.Fatal("expected FrameworkBugError when no SinkRouter is wired")
	}
}
