package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tachyon-beep/elspeth/internal/audit"
	"github.com/tachyon-beep/elspeth/internal/canon"
	"github.com/tachyon-beep/elspeth/internal/engineerr"
)

// BeginNodeState allocates the next attempt number from
// node_state_attempt_counters with an upsert-and-return-prior-value, the
// durable form of audit.MemoryRecorder.nextAttempt's in-memory counter
// map, then enforces that the caller's attempt argument matches — the
// same dense-numbering invariant, checked against a row instead of a
// mutex-guarded map.
func (s *Store) BeginNodeState(ctx context.Context, tokenID, nodeID, runID string, stepIndex int, input map[string]any, attempt int, contextBefore map[string]any) (*audit.NodeState, error) {
	inputHash, err := canon.StableHash(input)
	if err != nil {
		return nil, err
	}

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit: begin node state: %w", err)
	}
	defer tx.Rollback(ctx)

	var expected int
	err = tx.QueryRow(ctx, `
		INSERT INTO node_state_attempt_counters (token_id, node_id, next_attempt)
		VALUES ($1, $2, 1)
		ON CONFLICT (token_id, node_id) DO UPDATE SET next_attempt = node_state_attempt_counters.next_attempt + 1
		RETURNING next_attempt - 1
	`, tokenID, nodeID).Scan(&expected)
	if err != nil {
		return nil, fmt.Errorf("audit: begin node state: %w", err)
	}
	if attempt != expected {
		return nil, &engineerr.FrameworkBugError{
			Invariant: "dense-attempt-numbering",
			Detail:    fmt.Sprintf("token %s node %s expected attempt %d, got %d", tokenID, nodeID, expected, attempt),
		}
	}

	st := &audit.NodeState{
		StateID:           newStateID(),
		TokenID:           tokenID,
		NodeID:            nodeID,
		RunID:             runID,
		StepIndex:         stepIndex,
		Attempt:           attempt,
		InputHash:         inputHash,
		ContextBeforeJSON: contextBefore,
		StartedAt:         time.Now().UTC(),
		Status:            audit.StateOpen,
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO node_states (state_id, token_id, node_id, run_id, step_index, attempt, input_hash, context_before_json, started_at, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, st.StateID, st.TokenID, st.NodeID, st.RunID, st.StepIndex, st.Attempt, st.InputHash, st.ContextBeforeJSON, st.StartedAt, st.Status)
	if err != nil {
		return nil, fmt.Errorf("audit: begin node state: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("audit: begin node state: %w", err)
	}
	return st, nil
}

func newStateID() string { return uuid.NewString() }

func (s *Store) mustOpenState(ctx context.Context, tx pgx.Tx, stateID string) error {
	var status audit.NodeStateStatus
	if err := tx.QueryRow(ctx, `SELECT status FROM node_states WHERE state_id = $1 FOR UPDATE`, stateID).Scan(&status); err != nil {
		return fmt.Errorf("audit: unknown state %s: %w", stateID, err)
	}
	if status != audit.StateOpen {
		return &engineerr.FrameworkBugError{Invariant: "single-terminal-variant", Detail: fmt.Sprintf("state %s already %s", stateID, status)}
	}
	return nil
}

func (s *Store) CompleteNodeState(ctx context.Context, stateID string, output map[string]any, successReason map[string]any, contextAfter map[string]any, durationMS int64) (*audit.NodeState, error) {
	outputHash, err := canon.StableHash(output)
	if err != nil {
		return nil, err
	}

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit: complete node state: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.mustOpenState(ctx, tx, stateID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	_, err = tx.Exec(ctx, `
		UPDATE node_states SET status = $2, output_hash = $3, success_reason_json = $4,
			context_after_json = $5, duration_ms = $6, completed_at = $7
		WHERE state_id = $1
	`, stateID, audit.StateCompleted, outputHash, successReason, contextAfter, durationMS, now)
	if err != nil {
		return nil, fmt.Errorf("audit: complete node state: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("audit: complete node state: %w", err)
	}
	return s.GetNodeState(ctx, stateID)
}

func (s *Store) FailNodeState(ctx context.Context, stateID string, errJSON map[string]any, durationMS int64, contextAfter map[string]any) (*audit.NodeState, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit: fail node state: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.mustOpenState(ctx, tx, stateID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	_, err = tx.Exec(ctx, `
		UPDATE node_states SET status = $2, error_json = $3, context_after_json = $4, duration_ms = $5, completed_at = $6
		WHERE state_id = $1
	`, stateID, audit.StateFailed, errJSON, contextAfter, durationMS, now)
	if err != nil {
		return nil, fmt.Errorf("audit: fail node state: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("audit: fail node state: %w", err)
	}
	return s.GetNodeState(ctx, stateID)
}

func (s *Store) SuspendNodeState(ctx context.Context, stateID string, contextAfter map[string]any, durationMS int64) (*audit.NodeState, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit: suspend node state: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.mustOpenState(ctx, tx, stateID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	_, err = tx.Exec(ctx, `
		UPDATE node_states SET status = $2, context_after_json = $3, duration_ms = $4, completed_at = $5
		WHERE state_id = $1
	`, stateID, audit.StatePending, contextAfter, durationMS, now)
	if err != nil {
		return nil, fmt.Errorf("audit: suspend node state: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("audit: suspend node state: %w", err)
	}
	return s.GetNodeState(ctx, stateID)
}

func (s *Store) GetNodeState(ctx context.Context, stateID string) (*audit.NodeState, error) {
	st := &audit.NodeState{}
	err := s.Pool.QueryRow(ctx, `
		SELECT state_id, token_id, node_id, run_id, step_index, attempt, input_hash, context_before_json,
			started_at, status, context_after_json, duration_ms, completed_at, output_hash, success_reason_json, error_json
		FROM node_states WHERE state_id = $1
	`, stateID).Scan(
		&st.StateID, &st.TokenID, &st.NodeID, &st.RunID, &st.StepIndex, &st.Attempt, &st.InputHash, &st.ContextBeforeJSON,
		&st.StartedAt, &st.Status, &st.ContextAfterJSON, &st.DurationMS, &st.CompletedAt, &st.OutputHash, &st.SuccessReasonJSON, &st.ErrorJSON,
	)
	if err != nil {
		return nil, fmt.Errorf("audit: unknown state %s: %w", stateID, err)
	}
	return st, nil
}
