package engine

import (
	"context"
	"sort"
	"testing"

	"github.com/tachyon-beep/elspeth/internal/audit"
	"github.com/tachyon-beep/elspeth/internal/canon"
	"github.com/tachyon-beep/elspeth/internal/checkpoint"
	"github.com/tachyon-beep/elspeth/internal/graph"
	"github.com/tachyon-beep/elspeth/internal/obslog"
	"github.com/tachyon-beep/elspeth/internal/payloadstore"
	"github.com/tachyon-beep/elspeth/internal/plugin"
	"github.com/tachyon-beep/elspeth/internal/retry"
)

type fakeSource struct{ rows []map[string]any }

type fakeIterator struct {
	rows []map[string]any
	i    int
}

func (s *fakeSource) Iterate(_ context.Context, _ *plugin.Context) (plugin.RowIterator, error) {
	return &fakeIterator{rows: s.rows}, nil
}

func (it *fakeIterator) Next(_ context.Context) (map[string]any, bool, error) {
	if it.i >= len(it.rows) {
		return nil, false, nil
	}
	row := it.rows[it.i]
	it.i++
	return row, true, nil
}

func (it *fakeIterator) Close() error { return nil }

type fakeTransform struct {
	process func(row map[string]any, pctx *plugin.Context) (plugin.TransformResult, error)
}

func (t *fakeTransform) Process(_ context.Context, rows []map[string]any, pctx *plugin.Context) (plugin.TransformResult, error) {
	return t.process(rows[0], pctx)
}
func (t *fakeTransform) IsBatchAware() bool { return false }

type fakeSink struct{ written []map[string]any }

func (s *fakeSink) Write(_ context.Context, rows []map[string]any, _ *plugin.Context) (plugin.ArtifactDescriptor, error) {
	s.written = append(s.written, rows...)
	return plugin.ArtifactDescriptor{ArtifactType: "memory", PathOrURI: "mem://sink", ContentHash: "h"}, nil
}
func (s *fakeSink) Flush(context.Context) error    { return nil }
func (s *fakeSink) Close(context.Context) error    { return nil }
func (s *fakeSink) SupportsResume() bool           { return false }

type fakeGate struct {
	cond    func(row map[string]any) bool
	routing plugin.RoutingTable
}

func (g *fakeGate) Evaluate(row map[string]any) (bool, error) { return g.cond(row), nil }
func (g *fakeGate) RoutingTable() plugin.RoutingTable          { return g.routing }

func newTestEngine(t *testing.T) (*Engine, audit.Recorder) {
	t.Helper()
	rec := audit.NewMemoryRecorder()
	payloads := payloadstore.NewMemoryStore(canon.Version)
	logger := obslog.New("error", "console")
	e := New(graph.New(), rec, payloads, nil, logger, checkpoint.NewMemoryStore())
	e.RetryCfg = retry.Config{MaxAttempts: 3, BaseDelay: 0, MaxDelay: 0, ExponentialBase: 2, Jitter: 0}
	e.IsRetryable = func(err error) bool { return err != nil && err.Error() == "transient" }
	return e, rec
}

func TestLinearSourceTransformSinkCompletesToken(t *testing.T) {
	e, rec := newTestEngine(t)

	g := e.Graph
	g.AddNode(graph.NodeInfo{NodeID: "src", Type: graph.NodeSource})
	g.AddNode(graph.NodeInfo{NodeID: "double", Type: graph.NodeTransform})
	g.AddNode(graph.NodeInfo{NodeID: "sink1", Type: graph.NodeSink})
	g.AddEdge("src", "double", "out", graph.ModeMove)
	g.AddEdge("double", "sink1", "success", graph.ModeMove)

	e.SourceNodeID = "src"
	e.Source = &fakeSource{rows: []map[string]any{{"n": 1.0}, {"n": 2.0}}}
	e.Transforms["double"] = &fakeTransform{process: func(row map[string]any, _ *plugin.Context) (plugin.TransformResult, error) {
		return plugin.Success(map[string]any{"n": row["n"].(float64) * 2}), nil
	}}
	sink := &fakeSink{}
	e.Sinks["sink1"] = sink

	run, err := e.Run(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if run.Status != audit.RunCompleted {
		t.Fatalf("expected run completed, got %s", run.Status)
	}
	if len(sink.written) != 2 {
		t.Fatalf("expected 2 rows written, got %d", len(sink.written))
	}
	if sink.written[0]["n"] != 2.0 || sink.written[1]["n"] != 4.0 {
		t.Fatalf("unexpected sink rows: %+v", sink.written)
	}

	outcomes, err := rec.ListTokenOutcomes(context.Background(), run.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("expected 2 token outcomes, got %d", len(outcomes))
	}
	for _, o := range outcomes {
		if o.Outcome != audit.OutcomeCompletedAtSink {
			t.Fatalf("expected COMPLETED_AT_SINK, got %s", o.Outcome)
		}
	}
}

func TestTransformRetriesTransientFailureThenSucceeds(t *testing.T) {
	e, rec := newTestEngine(t)

	g := e.Graph
	g.AddNode(graph.NodeInfo{NodeID: "src", Type: graph.NodeSource})
	g.AddNode(graph.NodeInfo{NodeID: "flaky", Type: graph.NodeTransform})
	g.AddNode(graph.NodeInfo{NodeID: "sink1", Type: graph.NodeSink})
	g.AddEdge("src", "flaky", "out", graph.ModeMove)
	g.AddEdge("flaky", "sink1", "success", graph.ModeMove)

	e.SourceNodeID = "src"
	e.Source = &fakeSource{rows: []map[string]any{{"n": 1.0}}}

	attempts := 0
	e.Transforms["flaky"] = &fakeTransform{process: func(row map[string]any, _ *plugin.Context) (plugin.TransformResult, error) {
		attempts++
		if attempts == 1 {
			return plugin.TransformResult{}, errTransient{}
		}
		return plugin.Success(row), nil
	}}
	sink := &fakeSink{}
	e.Sinks["sink1"] = sink

	run, err := e.Run(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
	if len(sink.written) != 1 {
		t.Fatalf("expected row to reach sink after retry, got %d written", len(sink.written))
	}

	states, err := rec.ListNodeStates(context.Background(), run.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if len(states) != 2 {
		t.Fatalf("expected 2 node states (1 failed attempt + 1 completed), got %d", len(states))
	}
}

type errTransient struct{}

func (errTransient) Error() string { return "transient" }

func TestSuspendThenResumeCompletesToken(t *testing.T) {
	e, rec := newTestEngine(t)

	g := e.Graph
	g.AddNode(graph.NodeInfo{NodeID: "src", Type: graph.NodeSource})
	g.AddNode(graph.NodeInfo{NodeID: "poll", Type: graph.NodeTransform})
	g.AddNode(graph.NodeInfo{NodeID: "sink1", Type: graph.NodeSink})
	g.AddEdge("src", "poll", "out", graph.ModeMove)
	g.AddEdge("poll", "sink1", "success", graph.ModeMove)

	e.SourceNodeID = "src"
	e.Source = &fakeSource{rows: []map[string]any{{"n": 1.0}}}

	calls := 0
	e.Transforms["poll"] = &fakeTransform{process: func(row map[string]any, _ *plugin.Context) (plugin.TransformResult, error) {
		calls++
		if calls == 1 {
			return plugin.Pending(plugin.PendingInfo{BatchID: "job-1", Status: "RUNNING", CheckAfterSeconds: 30}), nil
		}
		return plugin.Success(row), nil
	}}
	sink := &fakeSink{}
	e.Sinks["sink1"] = sink

	run, err := e.Run(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 call before suspension, got %d", calls)
	}
	if len(sink.written) != 0 {
		t.Fatalf("expected no rows at sink while suspended, got %d", len(sink.written))
	}

	ctx := context.Background()
	states, err := rec.ListNodeStates(ctx, run.RunID)
	if err != nil {
		t.Fatal(err)
	}
	var pending *audit.NodeState
	for _, s := range states {
		if s.NodeID == "poll" && s.Status == audit.StatePending {
			pending = s
		}
	}
	if pending == nil {
		t.Fatalf("expected a suspended NodeState on poll, states: %+v", states)
	}

	tokens, err := rec.ListTokens(ctx, run.RunID)
	if err != nil {
		t.Fatal(err)
	}
	var tok *audit.Token
	for _, tk := range tokens {
		if tk.TokenID == pending.TokenID {
			tok = tk
		}
	}
	if tok == nil {
		t.Fatalf("could not find token %s", pending.TokenID)
	}

	if err := e.ResumeToken(ctx, "poll", tok.TokenID, tok.RowID, map[string]any{"n": 1.0}, pending.StepIndex); err != nil {
		t.Fatalf("resume failed: %v", err)
	}

	if calls != 2 {
		t.Fatalf("expected resume to re-invoke the transform once, got %d total calls", calls)
	}
	if len(sink.written) != 1 {
		t.Fatalf("expected resumed token to reach the sink, got %d written", len(sink.written))
	}

	states, err = rec.ListNodeStates(ctx, run.RunID)
	if err != nil {
		t.Fatal(err)
	}
	var attempts []int
	for _, s := range states {
		if s.NodeID == "poll" {
			attempts = append(attempts, s.Attempt)
		}
	}
	sort.Ints(attempts) // ListNodeStates returns states in no defined order
	if len(attempts) != 2 || attempts[0] != 0 || attempts[1] != 1 {
		t.Fatalf("expected dense attempts [0 1] across suspend/resume, got %v", attempts)
	}
}

func TestGateForkAndCoalesceMergesBranches(t *testing.T) {
	e, rec := newTestEngine(t)

	g := e.Graph
	g.AddNode(graph.NodeInfo{NodeID: "src", Type: graph.NodeSource})
	g.AddNode(graph.NodeInfo{NodeID: "splitter", Type: graph.NodeGate})
	g.AddNode(graph.NodeInfo{NodeID: "left", Type: graph.NodeTransform})
	g.AddNode(graph.NodeInfo{NodeID: "right", Type: graph.NodeTransform})
	g.AddNode(graph.NodeInfo{NodeID: "join", Type: graph.NodeCoalesce})
	g.AddNode(graph.NodeInfo{NodeID: "sink1", Type: graph.NodeSink})
	g.AddEdge("src", "splitter", "out", graph.ModeMove)
	g.AddEdge("splitter", "left", "left", graph.ModeMove)
	g.AddEdge("splitter", "right", "right", graph.ModeMove)
	g.AddEdge("left", "join", "success", graph.ModeMove)
	g.AddEdge("right", "join", "success", graph.ModeMove)
	g.AddEdge("join", "sink1", "success", graph.ModeMove)

	e.SourceNodeID = "src"
	e.Source = &fakeSource{rows: []map[string]any{{"n": 1.0}}}
	e.Gates["splitter"] = &fakeGate{
		cond:    func(map[string]any) bool { return true },
		routing: plugin.RoutingTable{ForkTo: []string{"left", "right"}},
	}
	e.Transforms["left"] = &fakeTransform{process: func(row map[string]any, _ *plugin.Context) (plugin.TransformResult, error) {
		return plugin.Success(map[string]any{"left_val": 10.0}), nil
	}}
	e.Transforms["right"] = &fakeTransform{process: func(row map[string]any, _ *plugin.Context) (plugin.TransformResult, error) {
		return plugin.Success(map[string]any{"right_val": 20.0}), nil
	}}
	e.NodeConfigs["join"] = NodeConfig{CoalesceBranches: []string{"left", "right"}}
	sink := &fakeSink{}
	e.Sinks["sink1"] = sink

	run, err := e.Run(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(sink.written) != 1 {
		t.Fatalf("expected exactly one merged row at the sink, got %d", len(sink.written))
	}
	merged := sink.written[0]
	if merged["left_val"] != 10.0 || merged["right_val"] != 20.0 {
		t.Fatalf("expected merged fields from both branches, got %+v", merged)
	}

	outcomes, err := rec.ListTokenOutcomes(context.Background(), run.RunID)
	if err != nil {
		t.Fatal(err)
	}
	var forked, joined, completed int
	for _, o := range outcomes {
		switch o.Outcome {
		case audit.OutcomeForked:
			forked++
		case audit.OutcomeJoined:
			joined++
		case audit.OutcomeCompletedAtSink:
			completed++
		}
	}
	if forked != 1 || joined != 2 || completed != 1 {
		t.Fatalf("expected 1 forked + 2 joined + 1 completed outcome, got forked=%d joined=%d completed=%d", forked, joined, completed)
	}
}
