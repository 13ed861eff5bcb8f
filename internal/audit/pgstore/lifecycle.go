package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tachyon-beep/elspeth/internal/audit"
	"github.com/tachyon-beep/elspeth/internal/canon"
	"github.com/tachyon-beep/elspeth/internal/engineerr"
)

func (s *Store) BeginRun(ctx context.Context, settings map[string]any, canonicalVersion string) (*audit.Run, error) {
	configHash, err := canon.StableHash(settings)
	if err != nil {
		return nil, &engineerr.ConfigurationError{Reason: err.Error()}
	}

	r := &audit.Run{
		RunID:            uuid.NewString(),
		Status:           audit.RunRunning,
		StartedAt:        time.Now().UTC(),
		ConfigHash:       configHash,
		SettingsJSON:     settings,
		CanonicalVersion: canonicalVersion,
	}

	_, err = s.Pool.Exec(ctx, `
		INSERT INTO runs (run_id, status, started_at, config_hash, settings_json, canonical_version)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, r.RunID, r.Status, r.StartedAt, r.ConfigHash, r.SettingsJSON, r.CanonicalVersion)
	if err != nil {
		return nil, fmt.Errorf("audit: begin run: %w", err)
	}
	return r, nil
}

func (s *Store) CompleteRun(ctx context.Context, runID string, status audit.RunStatus) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("audit: complete run: %w", err)
	}
	defer tx.Rollback(ctx)

	var current audit.RunStatus
	if err := tx.QueryRow(ctx, `SELECT status FROM runs WHERE run_id = $1 FOR UPDATE`, runID).Scan(&current); err != nil {
		return fmt.Errorf("audit: complete run: %w", err)
	}
	if current != audit.RunRunning {
		return &engineerr.FrameworkBugError{Invariant: "run-status-forward-only", Detail: fmt.Sprintf("run %s already %s", runID, current)}
	}

	if _, err := tx.Exec(ctx, `UPDATE runs SET status = $2, completed_at = $3 WHERE run_id = $1`, runID, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("audit: complete run: %w", err)
	}
	return tx.Commit(ctx)
}
