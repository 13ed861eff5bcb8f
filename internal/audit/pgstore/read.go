package pgstore

import (
	"context"
	"fmt"

	"github.com/tachyon-beep/elspeth/internal/audit"
)

func (s *Store) GetRun(ctx context.Context, runID string) (*audit.Run, error) {
	r := &audit.Run{}
	err := s.Pool.QueryRow(ctx, `
		SELECT run_id, status, started_at, completed_at, config_hash, settings_json, canonical_version
		FROM runs WHERE run_id = $1
	`, runID).Scan(&r.RunID, &r.Status, &r.StartedAt, &r.CompletedAt, &r.ConfigHash, &r.SettingsJSON, &r.CanonicalVersion)
	if err != nil {
		return nil, fmt.Errorf("audit: unknown run %s: %w", runID, err)
	}
	return r, nil
}

func (s *Store) ListNodes(ctx context.Context, runID string) ([]*audit.Node, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT node_id, run_id, plugin_name, node_type, plugin_version, determinism,
			config_hash, config_json, schema_hash, schema_mode, schema_fields, sequence_in_pipeline
		FROM nodes WHERE run_id = $1 ORDER BY sequence_in_pipeline
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("audit: list nodes: %w", err)
	}
	defer rows.Close()

	var out []*audit.Node
	for rows.Next() {
		n := &audit.Node{}
		if err := rows.Scan(&n.NodeID, &n.RunID, &n.PluginName, &n.NodeType, &n.PluginVersion, &n.Determinism,
			&n.ConfigHash, &n.ConfigJSON, &n.SchemaHash, &n.SchemaMode, &n.SchemaFields, &n.SequenceInPipeline); err != nil {
			return nil, fmt.Errorf("audit: scan node: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) ListEdges(ctx context.Context, runID string) ([]*audit.Edge, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT edge_id, run_id, from_node_id, to_node_id, label, default_mode FROM edges WHERE run_id = $1
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("audit: list edges: %w", err)
	}
	defer rows.Close()

	var out []*audit.Edge
	for rows.Next() {
		e := &audit.Edge{}
		if err := rows.Scan(&e.EdgeID, &e.RunID, &e.FromNodeID, &e.ToNodeID, &e.Label, &e.DefaultMode); err != nil {
			return nil, fmt.Errorf("audit: scan edge: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) ListRows(ctx context.Context, runID string) ([]*audit.Row, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT row_id, run_id, source_node_id, row_index, source_data_hash, source_data_ref
		FROM rows WHERE run_id = $1 ORDER BY row_index
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("audit: list rows: %w", err)
	}
	defer rows.Close()

	var out []*audit.Row
	for rows.Next() {
		r := &audit.Row{}
		if err := rows.Scan(&r.RowID, &r.RunID, &r.SourceNodeID, &r.RowIndex, &r.SourceDataHash, &r.SourceDataRef); err != nil {
			return nil, fmt.Errorf("audit: scan row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ListTokens(ctx context.Context, runID string) ([]*audit.Token, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT t.token_id, t.row_id, t.created_at, t.fork_group_id, t.branch_name, t.join_group_id, t.expand_group_id, t.step_in_pipeline
		FROM tokens t JOIN rows r ON r.row_id = t.row_id WHERE r.run_id = $1
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("audit: list tokens: %w", err)
	}
	defer rows.Close()

	var out []*audit.Token
	for rows.Next() {
		t := &audit.Token{}
		if err := rows.Scan(&t.TokenID, &t.RowID, &t.CreatedAt, &t.ForkGroupID, &t.BranchName, &t.JoinGroupID, &t.ExpandGroupID, &t.StepInPipeline); err != nil {
			return nil, fmt.Errorf("audit: scan token: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) ListTokenParents(ctx context.Context, runID string) ([]*audit.TokenParent, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT tp.token_id, tp.parent_token_id, tp.ordinal
		FROM token_parents tp
		JOIN tokens t ON t.token_id = tp.token_id
		JOIN rows r ON r.row_id = t.row_id
		WHERE r.run_id = $1
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("audit: list token parents: %w", err)
	}
	defer rows.Close()

	var out []*audit.TokenParent
	for rows.Next() {
		tp := &audit.TokenParent{}
		if err := rows.Scan(&tp.TokenID, &tp.ParentTokenID, &tp.Ordinal); err != nil {
			return nil, fmt.Errorf("audit: scan token parent: %w", err)
		}
		out = append(out, tp)
	}
	return out, rows.Err()
}

func (s *Store) ListNodeStates(ctx context.Context, runID string) ([]*audit.NodeState, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT state_id, token_id, node_id, run_id, step_index, attempt, input_hash, context_before_json,
			started_at, status, context_after_json, duration_ms, completed_at, output_hash, success_reason_json, error_json
		FROM node_states WHERE run_id = $1
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("audit: list node states: %w", err)
	}
	defer rows.Close()

	var out []*audit.NodeState
	for rows.Next() {
		st := &audit.NodeState{}
		if err := rows.Scan(&st.StateID, &st.TokenID, &st.NodeID, &st.RunID, &st.StepIndex, &st.Attempt, &st.InputHash, &st.ContextBeforeJSON,
			&st.StartedAt, &st.Status, &st.ContextAfterJSON, &st.DurationMS, &st.CompletedAt, &st.OutputHash, &st.SuccessReasonJSON, &st.ErrorJSON); err != nil {
			return nil, fmt.Errorf("audit: scan node state: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) ListCalls(ctx context.Context, runID string) ([]*audit.Call, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT c.call_id, COALESCE(c.state_id, ''), COALESCE(c.operation_id, ''), c.call_index, c.call_type, c.status,
			c.request_hash, c.response_hash, c.request_ref, c.response_ref, c.latency_ms, c.error_json, c.created_at, c.provider
		FROM calls c
		LEFT JOIN node_states ns ON ns.state_id = c.state_id
		LEFT JOIN operations op ON op.operation_id = c.operation_id
		WHERE ns.run_id = $1 OR op.run_id = $1
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("audit: list calls: %w", err)
	}
	defer rows.Close()

	var out []*audit.Call
	for rows.Next() {
		c := &audit.Call{}
		if err := rows.Scan(&c.CallID, &c.StateID, &c.OperationID, &c.CallIndex, &c.CallType, &c.Status,
			&c.RequestHash, &c.ResponseHash, &c.RequestRef, &c.ResponseRef, &c.LatencyMS, &c.ErrorJSON, &c.CreatedAt, &c.Provider); err != nil {
			return nil, fmt.Errorf("audit: scan call: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) ListOperations(ctx context.Context, runID string) ([]*audit.Operation, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT operation_id, run_id, node_id, operation_type, status, started_at, completed_at, duration_ms,
			error_message, input_data_ref, input_data_hash, output_data_ref, output_data_hash
		FROM operations WHERE run_id = $1
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("audit: list operations: %w", err)
	}
	defer rows.Close()

	var out []*audit.Operation
	for rows.Next() {
		op := &audit.Operation{}
		if err := rows.Scan(&op.OperationID, &op.RunID, &op.NodeID, &op.OperationType, &op.Status, &op.StartedAt, &op.CompletedAt, &op.DurationMS,
			&op.ErrorMessage, &op.InputDataRef, &op.InputDataHash, &op.OutputDataRef, &op.OutputDataHash); err != nil {
			return nil, fmt.Errorf("audit: scan operation: %w", err)
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

func (s *Store) ListRoutingEvents(ctx context.Context, runID string) ([]*audit.RoutingEvent, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT ev.event_id, ev.state_id, ev.edge_id, ev.routing_group_id, ev.ordinal, ev.mode, ev.reason_hash, ev.reason_ref, ev.created_at
		FROM routing_events ev JOIN node_states ns ON ns.state_id = ev.state_id
		WHERE ns.run_id = $1
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("audit: list routing events: %w", err)
	}
	defer rows.Close()

	var out []*audit.RoutingEvent
	for rows.Next() {
		ev := &audit.RoutingEvent{}
		if err := rows.Scan(&ev.EventID, &ev.StateID, &ev.EdgeID, &ev.RoutingGroupID, &ev.Ordinal, &ev.Mode, &ev.ReasonHash, &ev.ReasonRef, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: scan routing event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *Store) ListBatches(ctx context.Context, runID string) ([]*audit.Batch, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT batch_id, run_id, aggregation_node_id, attempt, status, trigger_type, trigger_reason, created_at, completed_at
		FROM batches WHERE run_id = $1
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("audit: list batches: %w", err)
	}
	defer rows.Close()

	var out []*audit.Batch
	for rows.Next() {
		b := &audit.Batch{}
		if err := rows.Scan(&b.BatchID, &b.RunID, &b.AggregationNodeID, &b.Attempt, &b.Status, &b.TriggerType, &b.TriggerReason, &b.CreatedAt, &b.CompletedAt); err != nil {
			return nil, fmt.Errorf("audit: scan batch: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) ListBatchMembers(ctx context.Context, runID string) ([]*audit.BatchMember, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT bm.batch_id, bm.token_id, bm.ordinal
		FROM batch_members bm JOIN batches b ON b.batch_id = bm.batch_id
		WHERE b.run_id = $1
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("audit: list batch members: %w", err)
	}
	defer rows.Close()

	var out []*audit.BatchMember
	for rows.Next() {
		bm := &audit.BatchMember{}
		if err := rows.Scan(&bm.BatchID, &bm.TokenID, &bm.Ordinal); err != nil {
			return nil, fmt.Errorf("audit: scan batch member: %w", err)
		}
		out = append(out, bm)
	}
	return out, rows.Err()
}

func (s *Store) ListArtifacts(ctx context.Context, runID string) ([]*audit.Artifact, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT artifact_id, run_id, sink_node_id, COALESCE(produced_by_state_id, ''), artifact_type, path_or_uri, content_hash, size_bytes, created_at
		FROM artifacts WHERE run_id = $1
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("audit: list artifacts: %w", err)
	}
	defer rows.Close()

	var out []*audit.Artifact
	for rows.Next() {
		a := &audit.Artifact{}
		if err := rows.Scan(&a.ArtifactID, &a.RunID, &a.SinkNodeID, &a.ProducedByStateID, &a.ArtifactType, &a.PathOrURI, &a.ContentHash, &a.SizeBytes, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: scan artifact: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) ListTokenOutcomes(ctx context.Context, runID string) ([]*audit.TokenOutcome, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT o.token_id, o.outcome, o.expected_branches_json
		FROM token_outcomes o
		JOIN tokens t ON t.token_id = o.token_id
		JOIN rows r ON r.row_id = t.row_id
		WHERE r.run_id = $1
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("audit: list token outcomes: %w", err)
	}
	defer rows.Close()

	var out []*audit.TokenOutcome
	for rows.Next() {
		o := &audit.TokenOutcome{}
		if err := rows.Scan(&o.TokenID, &o.Outcome, &o.ExpectedBranchesJSON); err != nil {
			return nil, fmt.Errorf("audit: scan token outcome: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) CountValidationErrors(ctx context.Context, runID string) (int, error) {
	var n int
	if err := s.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM validation_errors WHERE run_id = $1`, runID).Scan(&n); err != nil {
		return 0, fmt.Errorf("audit: count validation errors: %w", err)
	}
	return n, nil
}
