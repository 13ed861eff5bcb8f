// Package checkpoint implements the batch-pending protocol of spec §4.8:
// when a plugin signals external-completion wait via
// *engineerr.BatchPendingError, the engine persists a Checkpoint keyed by
// (run_id, node_id, token_id) and, on resume, verifies it against the
// graph topology and node config that produced it before handing it back
// to the plugin. A mismatch on either hash is a DataIntegrityError — the
// checkpoint was taken against a different pipeline than the one
// resuming it, and trusting it would silently corrupt the run.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"sort"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/tachyon-beep/elspeth/internal/canon"
	"github.com/tachyon-beep/elspeth/internal/engineerr"
	"github.com/tachyon-beep/elspeth/internal/graph"
)

// Key identifies one checkpoint slot.
type Key struct {
	RunID   string
	NodeID  string
	TokenID string
}

func (k Key) String() string {
	return fmt.Sprintf("%s|%s|%s", k.RunID, k.NodeID, k.TokenID)
}

// Checkpoint is the persisted state of a suspended, externally-pending
// node invocation.
type Checkpoint struct {
	Key
	SequenceNumber       int
	UpstreamTopologyHash string
	NodeConfigHash       string
	Data                 map[string]any
}

// TopologyHash hashes the subgraph of ancestors that can reach nodeID,
// including nodeID itself: the node IDs, their types, and every edge
// among them, sorted for determinism. A checkpoint taken against one
// topology and resumed against a pipeline whose upstream shape changed
// (a transform inserted or removed upstream, a label renamed) must fail
// loudly rather than resume against data the new topology never
// produced.
func TopologyHash(g *graph.ExecutionGraph, nodeID string) (string, error) {
	ancestors := map[string]bool{nodeID: true}
	frontier := []string{nodeID}
	for len(frontier) > 0 {
		var next []string
		for _, id := range frontier {
			for _, e := range g.IncomingEdges(id) {
				if !ancestors[e.FromNodeID] {
					ancestors[e.FromNodeID] = true
					next = append(next, e.FromNodeID)
				}
			}
		}
		frontier = next
	}

	nodeIDs := make([]string, 0, len(ancestors))
	for id := range ancestors {
		nodeIDs = append(nodeIDs, id)
	}
	sort.Strings(nodeIDs)

	type nodeShape struct {
		NodeID string `json:"node_id"`
		Type   string `json:"type"`
	}
	type edgeShape struct {
		From  string `json:"from"`
		To    string `json:"to"`
		Label string `json:"label"`
		Mode  string `json:"mode"`
	}

	shape := struct {
		Nodes []nodeShape `json:"nodes"`
		Edges []edgeShape `json:"edges"`
	}{}

	for _, id := range nodeIDs {
		n, ok := g.Node(id)
		if !ok {
			continue
		}
		shape.Nodes = append(shape.Nodes, nodeShape{NodeID: n.NodeID, Type: string(n.Type)})
		for _, e := range g.OutgoingEdges(id) {
			if ancestors[e.ToNodeID] {
				shape.Edges = append(shape.Edges, edgeShape{
					From: e.FromNodeID, To: e.ToNodeID, Label: e.Label, Mode: string(e.DefaultMode),
				})
			}
		}
	}
	sort.Slice(shape.Edges, func(i, j int) bool {
		if shape.Edges[i].From != shape.Edges[j].From {
			return shape.Edges[i].From < shape.Edges[j].From
		}
		if shape.Edges[i].To != shape.Edges[j].To {
			return shape.Edges[i].To < shape.Edges[j].To
		}
		return shape.Edges[i].Label < shape.Edges[j].Label
	})

	// canon encodes only maps, slices and scalars, so the shape is handed
	// over in that form.
	nodes := make([]any, 0, len(shape.Nodes))
	for _, n := range shape.Nodes {
		nodes = append(nodes, map[string]any{"node_id": n.NodeID, "type": n.Type})
	}
	edges := make([]any, 0, len(shape.Edges))
	for _, e := range shape.Edges {
		edges = append(edges, map[string]any{"from": e.From, "to": e.To, "label": e.Label, "mode": e.Mode})
	}
	return canon.StableHash(map[string]any{"nodes": nodes, "edges": edges})
}

// NodeConfigHash hashes the plugin config a node was constructed with, so
// a checkpoint resumed after that config changed (a different
// deployment_name, a different template) is detected rather than
// silently replayed against the old config's assumptions.
func NodeConfigHash(config map[string]any) (string, error) {
	return canon.StableHash(config)
}

// Diff computes a JSON merge patch taking contextBefore to contextAfter,
// a compact delta form of NodeState.context_before_json/
// context_after_json for audit review. Neither the engine nor Manager
// calls it; a checkpoint stores only its Data.
func Diff(contextBefore, contextAfter map[string]any) ([]byte, error) {
	before, err := canon.Marshal(contextBefore)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: marshal context_before: %w", err)
	}
	after, err := canon.Marshal(contextAfter)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: marshal context_after: %w", err)
	}
	patch, err := jsonpatch.CreateMergePatch(before, after)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: create merge patch: %w", err)
	}
	return patch, nil
}

// ApplyPatch reconstructs context_after from a stored context_before and
// the merge patch produced by Diff. This is the read-side counterpart an
// audit-review tool uses to reconstruct a NodeState's full context_after
// from a compacted patch; FORK/EXPAND/COALESCE routing itself does not
// use it — those paths (internal/engine/gate.go, transform.go,
// coalesce.go) carry context forward as plain map copies through
// audit.Recorder, independent of the checkpoint diffing this package
// implements for spec §4.8.
func ApplyPatch(contextBefore map[string]any, patch []byte) (map[string]any, error) {
	before, err := canon.Marshal(contextBefore)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: marshal context_before: %w", err)
	}
	merged, err := jsonpatch.MergePatch(before, patch)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: apply merge patch: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(merged, &out); err != nil {
		return nil, fmt.Errorf("checkpoint: unmarshal merged context: %w", err)
	}
	return out, nil
}

// verifyHashes is the check Manager.Get runs before trusting a stored
// checkpoint.
func verifyHashes(cp *Checkpoint, wantTopology, wantNodeConfig string) error {
	if cp.UpstreamTopologyHash != wantTopology {
		return &engineerr.DataIntegrityError{
			Subject:  fmt.Sprintf("checkpoint topology (%s)", cp.Key),
			Expected: wantTopology,
			Actual:   cp.UpstreamTopologyHash,
		}
	}
	if cp.NodeConfigHash != wantNodeConfig {
		return &engineerr.DataIntegrityError{
			Subject:  fmt.Sprintf("checkpoint node config (%s)", cp.Key),
			Expected: wantNodeConfig,
			Actual:   cp.NodeConfigHash,
		}
	}
	return nil
}
