package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tachyon-beep/elspeth/internal/audit"
)

func (s *Store) RecordRoutingEvent(ctx context.Context, ev audit.RoutingEvent) (*audit.RoutingEvent, error) {
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO routing_events (event_id, state_id, edge_id, routing_group_id, ordinal, mode, reason_hash, reason_ref, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, ev.EventID, ev.StateID, ev.EdgeID, ev.RoutingGroupID, ev.Ordinal, ev.Mode, ev.ReasonHash, ev.ReasonRef, ev.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("audit: record routing event: %w", err)
	}
	return &ev, nil
}

func (s *Store) RecordBatch(ctx context.Context, b audit.Batch) (*audit.Batch, error) {
	if b.BatchID == "" {
		b.BatchID = uuid.NewString()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO batches (batch_id, run_id, aggregation_node_id, attempt, status, trigger_type, trigger_reason, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, b.BatchID, b.RunID, b.AggregationNodeID, b.Attempt, b.Status, b.TriggerType, b.TriggerReason, b.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("audit: record batch: %w", err)
	}
	return &b, nil
}

func (s *Store) UpdateBatchStatus(ctx context.Context, batchID string, status audit.BatchStatus, completedAt *time.Time) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE batches SET status = $2, completed_at = COALESCE($3, completed_at) WHERE batch_id = $1
	`, batchID, status, completedAt)
	if err != nil {
		return fmt.Errorf("audit: update batch status: %w", err)
	}
	return nil
}

// AppendBatchMember allocates a FIFO ordinal from batch_member_counters
// with the same upsert-and-return-prior-value pattern used elsewhere in
// this package, matching audit.MemoryRecorder's in-memory ordinal map.
func (s *Store) AppendBatchMember(ctx context.Context, batchID, tokenID string) (*audit.BatchMember, error) {
	var ordinal int
	err := s.Pool.QueryRow(ctx, `
		INSERT INTO batch_member_counters (batch_id, next_ordinal) VALUES ($1, 1)
		ON CONFLICT (batch_id) DO UPDATE SET next_ordinal = batch_member_counters.next_ordinal + 1
		RETURNING next_ordinal - 1
	`, batchID).Scan(&ordinal)
	if err != nil {
		return nil, fmt.Errorf("audit: append batch member: %w", err)
	}

	bm := &audit.BatchMember{BatchID: batchID, TokenID: tokenID, Ordinal: ordinal}
	_, err = s.Pool.Exec(ctx, `
		INSERT INTO batch_members (batch_id, token_id, ordinal) VALUES ($1,$2,$3)
	`, bm.BatchID, bm.TokenID, bm.Ordinal)
	if err != nil {
		return nil, fmt.Errorf("audit: append batch member: %w", err)
	}
	return bm, nil
}

func (s *Store) RecordArtifact(ctx context.Context, a audit.Artifact) (*audit.Artifact, error) {
	if a.ArtifactID == "" {
		a.ArtifactID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO artifacts (artifact_id, run_id, sink_node_id, produced_by_state_id, artifact_type, path_or_uri, content_hash, size_bytes, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, a.ArtifactID, a.RunID, a.SinkNodeID, a.ProducedByStateID, a.ArtifactType, a.PathOrURI, a.ContentHash, a.SizeBytes, a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("audit: record artifact: %w", err)
	}
	return &a, nil
}

func (s *Store) RecordValidationError(ctx context.Context, v audit.ValidationErrorRecord) error {
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO validation_errors (run_id, node_id, row_index, violations, schema_mode, destination, routed_to_sink, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, v.RunID, v.NodeID, v.RowIndex, v.Violations, v.SchemaMode, v.Destination, v.RoutedToSink, v.CreatedAt)
	if err != nil {
		return fmt.Errorf("audit: record validation error: %w", err)
	}
	return nil
}

func (s *Store) RecordTransformError(ctx context.Context, v audit.TransformErrorRecord) error {
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO transform_errors (run_id, token_id, transform_id, error_detail, destination, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, v.RunID, v.TokenID, v.TransformID, v.ErrorDetail, v.Destination, v.CreatedAt)
	if err != nil {
		return fmt.Errorf("audit: record transform error: %w", err)
	}
	return nil
}
