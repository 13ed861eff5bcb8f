package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tachyon-beep/elspeth/internal/audit"
	"github.com/tachyon-beep/elspeth/internal/engineerr"
)

func (s *Store) BeginOperation(ctx context.Context, runID, nodeID string, opType audit.OperationType, inputRef, inputHash string) (*audit.Operation, error) {
	op := &audit.Operation{
		OperationID:   uuid.NewString(),
		RunID:         runID,
		NodeID:        nodeID,
		OperationType: opType,
		Status:        audit.OperationOpen,
		StartedAt:     time.Now().UTC(),
		InputDataRef:  inputRef,
		InputDataHash: inputHash,
	}
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO operations (operation_id, run_id, node_id, operation_type, status, started_at, input_data_ref, input_data_hash)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, op.OperationID, op.RunID, op.NodeID, op.OperationType, op.Status, op.StartedAt, op.InputDataRef, op.InputDataHash)
	if err != nil {
		return nil, fmt.Errorf("audit: begin operation: %w", err)
	}
	return op, nil
}

func (s *Store) CompleteOperation(ctx context.Context, operationID string, status audit.OperationStatus, errMsg string, durationMS int64, outputRef, outputHash string) (*audit.Operation, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit: complete operation: %w", err)
	}
	defer tx.Rollback(ctx)

	var current audit.OperationStatus
	if err := tx.QueryRow(ctx, `SELECT status FROM operations WHERE operation_id = $1 FOR UPDATE`, operationID).Scan(&current); err != nil {
		return nil, &engineerr.FrameworkBugError{Invariant: "operation-exists", Detail: operationID}
	}
	if current != audit.OperationOpen {
		return nil, &engineerr.FrameworkBugError{Invariant: "operation-completes-exactly-once", Detail: fmt.Sprintf("operation %s already %s", operationID, current)}
	}

	now := time.Now().UTC()
	_, err = tx.Exec(ctx, `
		UPDATE operations SET status = $2, error_message = $3, duration_ms = $4, completed_at = $5,
			output_data_ref = $6, output_data_hash = $7
		WHERE operation_id = $1
	`, operationID, status, errMsg, durationMS, now, outputRef, outputHash)
	if err != nil {
		return nil, fmt.Errorf("audit: complete operation: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("audit: complete operation: %w", err)
	}

	op := &audit.Operation{}
	err = s.Pool.QueryRow(ctx, `
		SELECT operation_id, run_id, node_id, operation_type, status, started_at, completed_at, duration_ms,
			error_message, input_data_ref, input_data_hash, output_data_ref, output_data_hash
		FROM operations WHERE operation_id = $1
	`, operationID).Scan(
		&op.OperationID, &op.RunID, &op.NodeID, &op.OperationType, &op.Status, &op.StartedAt, &op.CompletedAt, &op.DurationMS,
		&op.ErrorMessage, &op.InputDataRef, &op.InputDataHash, &op.OutputDataRef, &op.OutputDataHash,
	)
	if err != nil {
		return nil, fmt.Errorf("audit: complete operation: %w", err)
	}
	return op, nil
}
