package checkpoint

import (
	"testing"

	"github.com/tachyon-beep/elspeth/internal/graph"
)

func buildTestGraph(t *testing.T) *graph.ExecutionGraph {
	t.Helper()
	g := graph.New()
	if _, err := g.AddNode(graph.NodeInfo{NodeID: "source", Type: graph.NodeSource}); err != nil {
		t.Fatal(err)
	}
	if _, err := g.AddNode(graph.NodeInfo{NodeID: "llm_batch", Type: graph.NodeTransform}); err != nil {
		t.Fatal(err)
	}
	if _, err := g.AddNode(graph.NodeInfo{NodeID: "sink", Type: graph.NodeSink}); err != nil {
		t.Fatal(err)
	}
	if _, err := g.AddEdge("source", "llm_batch", "default", graph.ModeMove); err != nil {
		t.Fatal(err)
	}
	if _, err := g.AddEdge("llm_batch", "sink", "default", graph.ModeMove); err != nil {
		t.Fatal(err)
	}
	return g
}

func TestTopologyHashStableAcrossRebuilds(t *testing.T) {
	g1 := buildTestGraph(t)
	g2 := buildTestGraph(t)

	h1, err := TopologyHash(g1, "llm_batch")
	if err != nil {
		t.Fatal(err)
	}
	h2, err := TopologyHash(g2, "llm_batch")
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatalf("expected identical topology to hash identically, got %s vs %s", h1, h2)
	}
}

func TestTopologyHashChangesWhenUpstreamChanges(t *testing.T) {
	g := buildTestGraph(t)
	before, err := TopologyHash(g, "llm_batch")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := g.AddNode(graph.NodeInfo{NodeID: "pre_filter", Type: graph.NodeGate}); err != nil {
		t.Fatal(err)
	}
	if _, err := g.AddEdge("pre_filter", "llm_batch", "default", graph.ModeMove); err != nil {
		t.Fatal(err)
	}

	after, err := TopologyHash(g, "llm_batch")
	if err != nil {
		t.Fatal(err)
	}
	if before == after {
		t.Fatal("expected topology hash to change when a new upstream edge is added")
	}
}

func TestManagerRoundTripGetUpdateClear(t *testing.T) {
	store := NewMemoryStore()
	key := Key{RunID: "run1", NodeID: "llm_batch", TokenID: "tok1"}
	m := NewManager(store, key, "topo-hash", "config-hash")

	got, err := m.Get()
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatal("expected no checkpoint on first read")
	}

	if err := m.Update(map[string]any{"batch_id": "batch-123", "status": "submitted"}); err != nil {
		t.Fatal(err)
	}

	got, err = m.Get()
	if err != nil {
		t.Fatal(err)
	}
	if got["batch_id"] != "batch-123" {
		t.Fatalf("expected batch_id to round-trip, got %v", got)
	}

	if err := m.Clear(); err != nil {
		t.Fatal(err)
	}
	got, err = m.Get()
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatal("expected checkpoint to be gone after Clear")
	}
}

func TestManagerRejectsTopologyMismatchOnResume(t *testing.T) {
	store := NewMemoryStore()
	key := Key{RunID: "run1", NodeID: "llm_batch", TokenID: "tok1"}

	writer := NewManager(store, key, "topo-v1", "config-hash")
	if err := writer.Update(map[string]any{"batch_id": "batch-123"}); err != nil {
		t.Fatal(err)
	}

	reader := NewManager(store, key, "topo-v2", "config-hash")
	if _, err := reader.Get(); err == nil {
		t.Fatal("expected DataIntegrityError on topology hash mismatch")
	}
}

func TestManagerRejectsNodeConfigMismatchOnResume(t *testing.T) {
	store := NewMemoryStore()
	key := Key{RunID: "run1", NodeID: "llm_batch", TokenID: "tok1"}

	writer := NewManager(store, key, "topo-hash", "config-v1")
	if err := writer.Update(map[string]any{"batch_id": "batch-123"}); err != nil {
		t.Fatal(err)
	}

	reader := NewManager(store, key, "topo-hash", "config-v2")
	if _, err := reader.Get(); err == nil {
		t.Fatal("expected DataIntegrityError on node config hash mismatch")
	}
}

func TestStoreSequenceNumberIsMonotonic(t *testing.T) {
	store := NewMemoryStore()
	key := Key{RunID: "run1", NodeID: "llm_batch", TokenID: "tok1"}

	for i := 0; i < 3; i++ {
		if err := store.Put(&Checkpoint{Key: key, Data: map[string]any{"i": i}}); err != nil {
			t.Fatal(err)
		}
	}
	cp, ok, err := store.Get(key)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected checkpoint to exist")
	}
	if cp.SequenceNumber != 3 {
		t.Fatalf("expected sequence number 3 after three puts, got %d", cp.SequenceNumber)
	}
}

func TestDiffAndApplyPatchRoundTrip(t *testing.T) {
	before := map[string]any{"status": "pending", "batch_id": "b1"}
	after := map[string]any{"status": "completed", "batch_id": "b1", "result": "ok"}

	patch, err := Diff(before, after)
	if err != nil {
		t.Fatal(err)
	}

	reconstructed, err := ApplyPatch(before, patch)
	if err != nil {
		t.Fatal(err)
	}
	if reconstructed["status"] != "completed" || reconstructed["result"] != "ok" {
		t.Fatalf("expected patch to reconstruct context_after, got %v", reconstructed)
	}
}

func TestNodeConfigHashDeterministic(t *testing.T) {
	cfg := map[string]any{"deployment_name": "gpt-4o-batch", "temperature": 0.0}
	h1, err := NodeConfigHash(cfg)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := NodeConfigHash(map[string]any{"temperature": 0.0, "deployment_name": "gpt-4o-batch"})
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatal("expected key-order independence in node config hash")
	}
}
