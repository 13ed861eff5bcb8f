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

func (s *Store) CreateRow(ctx context.Context, runID, sourceNodeID string, rowIndex int, data map[string]any, rowID string) (*audit.Row, error) {
	hash, err := canon.StableHash(data)
	if err != nil {
		return nil, err
	}
	if rowID == "" {
		rowID = uuid.NewString()
	}

	r := &audit.Row{RowID: rowID, RunID: runID, SourceNodeID: sourceNodeID, RowIndex: rowIndex, SourceDataHash: hash}
	_, err = s.Pool.Exec(ctx, `
		INSERT INTO rows (row_id, run_id, source_node_id, row_index, source_data_hash, source_data_ref)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, r.RowID, r.RunID, r.SourceNodeID, r.RowIndex, r.SourceDataHash, r.SourceDataRef)
	if err != nil {
		return nil, fmt.Errorf("audit: create row: %w", err)
	}
	return r, nil
}

func (s *Store) CreateToken(ctx context.Context, rowID, tokenID string) (*audit.Token, error) {
	if tokenID == "" {
		tokenID = uuid.NewString()
	}
	t := &audit.Token{TokenID: tokenID, RowID: rowID, CreatedAt: time.Now().UTC()}
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO tokens (token_id, row_id, created_at) VALUES ($1,$2,$3)
	`, t.TokenID, t.RowID, t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("audit: create token: %w", err)
	}
	return t, nil
}

// ForkToken opens one transaction for every child insert, the
// token_parents lineage rows, and the parent's FORKED outcome, so a
// reader never observes children without the parent's outcome or vice
// versa — the same atomicity audit.MemoryRecorder.ForkToken gives
// in-process, here enforced by the transaction boundary instead of a
// mutex.
func (s *Store) ForkToken(ctx context.Context, parentTokenID, rowID string, branches []string, runID string, stepInPipeline *int) ([]*audit.Token, string, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("audit: fork token: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := mustTokenExists(ctx, tx, parentTokenID); err != nil {
		return nil, "", err
	}

	groupID := uuid.NewString()
	children := make([]*audit.Token, 0, len(branches))
	for i, branch := range branches {
		child := &audit.Token{
			TokenID:        uuid.NewString(),
			RowID:          rowID,
			CreatedAt:      time.Now().UTC(),
			ForkGroupID:    groupID,
			BranchName:     branch,
			StepInPipeline: stepInPipeline,
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO tokens (token_id, row_id, created_at, fork_group_id, branch_name, step_in_pipeline)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, child.TokenID, child.RowID, child.CreatedAt, child.ForkGroupID, child.BranchName, child.StepInPipeline); err != nil {
			return nil, "", fmt.Errorf("audit: fork token: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO token_parents (token_id, parent_token_id, ordinal) VALUES ($1,$2,$3)
		`, child.TokenID, parentTokenID, i); err != nil {
			return nil, "", fmt.Errorf("audit: fork token: %w", err)
		}
		children = append(children, child)
	}

	if err := upsertOutcome(ctx, tx, parentTokenID, audit.OutcomeForked, branches); err != nil {
		return nil, "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, "", fmt.Errorf("audit: fork token: %w", err)
	}
	return children, groupID, nil
}

// ExpandToken mirrors ForkToken's atomicity for the deaggregation case.
func (s *Store) ExpandToken(ctx context.Context, parentTokenID, rowID string, count int, runID string, stepInPipeline *int, recordParentOutcome bool) ([]*audit.Token, string, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("audit: expand token: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := mustTokenExists(ctx, tx, parentTokenID); err != nil {
		return nil, "", err
	}

	groupID := uuid.NewString()
	children := make([]*audit.Token, 0, count)
	for i := 0; i < count; i++ {
		child := &audit.Token{
			TokenID:        uuid.NewString(),
			RowID:          rowID,
			CreatedAt:      time.Now().UTC(),
			ExpandGroupID:  groupID,
			StepInPipeline: stepInPipeline,
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO tokens (token_id, row_id, created_at, expand_group_id, step_in_pipeline)
			VALUES ($1,$2,$3,$4,$5)
		`, child.TokenID, child.RowID, child.CreatedAt, child.ExpandGroupID, child.StepInPipeline); err != nil {
			return nil, "", fmt.Errorf("audit: expand token: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO token_parents (token_id, parent_token_id, ordinal) VALUES ($1,$2,$3)
		`, child.TokenID, parentTokenID, i); err != nil {
			return nil, "", fmt.Errorf("audit: expand token: %w", err)
		}
		children = append(children, child)
	}

	if recordParentOutcome {
		branches := make([]string, count)
		for i := range branches {
			branches[i] = fmt.Sprintf("%d", i)
		}
		if err := upsertOutcome(ctx, tx, parentTokenID, audit.OutcomeExpanded, branches); err != nil {
			return nil, "", err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, "", fmt.Errorf("audit: expand token: %w", err)
	}
	return children, groupID, nil
}

func (s *Store) CoalesceTokens(ctx context.Context, parentTokenIDs []string, rowID string, stepInPipeline *int) (*audit.Token, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit: coalesce tokens: %w", err)
	}
	defer tx.Rollback(ctx)

	child := &audit.Token{
		TokenID:        uuid.NewString(),
		RowID:          rowID,
		CreatedAt:      time.Now().UTC(),
		JoinGroupID:    uuid.NewString(),
		StepInPipeline: stepInPipeline,
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO tokens (token_id, row_id, created_at, join_group_id, step_in_pipeline)
		VALUES ($1,$2,$3,$4,$5)
	`, child.TokenID, child.RowID, child.CreatedAt, child.JoinGroupID, child.StepInPipeline); err != nil {
		return nil, fmt.Errorf("audit: coalesce tokens: %w", err)
	}

	for i, p := range parentTokenIDs {
		if err := mustTokenExists(ctx, tx, p); err != nil {
			return nil, err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO token_parents (token_id, parent_token_id, ordinal) VALUES ($1,$2,$3)
		`, child.TokenID, p, i); err != nil {
			return nil, fmt.Errorf("audit: coalesce tokens: %w", err)
		}
		if err := upsertOutcome(ctx, tx, p, audit.OutcomeJoined, nil); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("audit: coalesce tokens: %w", err)
	}
	return child, nil
}

func (s *Store) RecordTokenOutcome(ctx context.Context, outcome audit.TokenOutcome) error {
	tag, err := s.Pool.Exec(ctx, `
		INSERT INTO token_outcomes (token_id, outcome, expected_branches_json)
		VALUES ($1,$2,$3)
		ON CONFLICT (token_id) DO NOTHING
	`, outcome.TokenID, outcome.Outcome, outcome.ExpectedBranchesJSON)
	if err != nil {
		return fmt.Errorf("audit: record token outcome: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var existing audit.TokenOutcomeKind
		_ = s.Pool.QueryRow(ctx, `SELECT outcome FROM token_outcomes WHERE token_id = $1`, outcome.TokenID).Scan(&existing)
		return &engineerr.FrameworkBugError{Invariant: "token_outcomes.token_id UNIQUE", Detail: fmt.Sprintf("token %s already has outcome %s", outcome.TokenID, existing)}
	}
	return nil
}

func mustTokenExists(ctx context.Context, tx pgx.Tx, tokenID string) error {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM tokens WHERE token_id = $1)`, tokenID).Scan(&exists); err != nil {
		return fmt.Errorf("audit: check token %s: %w", tokenID, err)
	}
	if !exists {
		return fmt.Errorf("audit: unknown parent token %s", tokenID)
	}
	return nil
}

func upsertOutcome(ctx context.Context, tx pgx.Tx, tokenID string, outcome audit.TokenOutcomeKind, branches []string) error {
	tag, err := tx.Exec(ctx, `
		INSERT INTO token_outcomes (token_id, outcome, expected_branches_json)
		VALUES ($1,$2,$3)
		ON CONFLICT (token_id) DO UPDATE SET outcome = EXCLUDED.outcome, expected_branches_json = EXCLUDED.expected_branches_json
	`, tokenID, outcome, branches)
	if err != nil {
		return fmt.Errorf("audit: record outcome for %s: %w", tokenID, err)
	}
	_ = tag
	return nil
}
