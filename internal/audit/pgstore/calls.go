package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tachyon-beep/elspeth/internal/audit"
	"github.com/tachyon-beep/elspeth/internal/engineerr"
)

// AllocateCallIndex and AllocateOperationCallIndex use the same
// upsert-and-return-prior-value counter pattern as BeginNodeState's
// attempt numbering, scoped per state/operation instead of per
// token+node.

func (s *Store) AllocateCallIndex(ctx context.Context, stateID string) (int, error) {
	var idx int
	err := s.Pool.QueryRow(ctx, `
		INSERT INTO call_index_counters (state_id, next_index) VALUES ($1, 1)
		ON CONFLICT (state_id) DO UPDATE SET next_index = call_index_counters.next_index + 1
		RETURNING next_index - 1
	`, stateID).Scan(&idx)
	if err != nil {
		return 0, fmt.Errorf("audit: allocate call index: %w", err)
	}
	return idx, nil
}

func (s *Store) AllocateOperationCallIndex(ctx context.Context, operationID string) (int, error) {
	var idx int
	err := s.Pool.QueryRow(ctx, `
		INSERT INTO operation_call_index_counters (operation_id, next_index) VALUES ($1, 1)
		ON CONFLICT (operation_id) DO UPDATE SET next_index = operation_call_index_counters.next_index + 1
		RETURNING next_index - 1
	`, operationID).Scan(&idx)
	if err != nil {
		return 0, fmt.Errorf("audit: allocate operation call index: %w", err)
	}
	return idx, nil
}

func (s *Store) RecordCall(ctx context.Context, c audit.Call) (*audit.Call, error) {
	hasState := c.StateID != ""
	hasOp := c.OperationID != ""
	if hasState == hasOp {
		return nil, &engineerr.FrameworkBugError{
			Invariant: "calls-exactly-one-of(state_id,operation_id)",
			Detail:    fmt.Sprintf("state_id=%q operation_id=%q", c.StateID, c.OperationID),
		}
	}
	if c.CallID == "" {
		c.CallID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	var stateID, opID *string
	if hasState {
		stateID = &c.StateID
	}
	if hasOp {
		opID = &c.OperationID
	}

	_, err := s.Pool.Exec(ctx, `
		INSERT INTO calls (
			call_id, state_id, operation_id, call_index, call_type, status,
			request_hash, response_hash, request_ref, response_ref, latency_ms, error_json, created_at, provider
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, c.CallID, stateID, opID, c.CallIndex, c.CallType, c.Status,
		c.RequestHash, c.ResponseHash, c.RequestRef, c.ResponseRef, c.LatencyMS, c.ErrorJSON, c.CreatedAt, c.Provider)
	if err != nil {
		return nil, fmt.Errorf("audit: record call: %w", err)
	}
	return &c, nil
}
