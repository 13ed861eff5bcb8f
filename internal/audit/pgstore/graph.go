package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tachyon-beep/elspeth/internal/audit"
	"github.com/tachyon-beep/elspeth/internal/engineerr"
)

const pgUniqueViolation = "23505"

// RegisterNode assigns SequenceInPipeline as the node's insertion order
// within its run. The run row's FOR UPDATE lock serializes concurrent
// registrations for the same run so two nodes never race for the same
// sequence number; in practice the engine registers every node from one
// goroutine before Run starts, so contention here is theoretical.
func (s *Store) RegisterNode(ctx context.Context, n audit.Node) (*audit.Node, error) {
	if n.NodeID == "" {
		n.NodeID = uuid.NewString()
	}

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit: register node: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT 1 FROM runs WHERE run_id = $1 FOR UPDATE`, n.RunID); err != nil {
		return nil, fmt.Errorf("audit: register node: %w", err)
	}

	var seq int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM nodes WHERE run_id = $1`, n.RunID).Scan(&seq); err != nil {
		return nil, fmt.Errorf("audit: register node: %w", err)
	}
	n.SequenceInPipeline = seq

	_, err = tx.Exec(ctx, `
		INSERT INTO nodes (
			node_id, run_id, plugin_name, node_type, plugin_version, determinism,
			config_hash, config_json, schema_hash, schema_mode, schema_fields, sequence_in_pipeline
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, n.NodeID, n.RunID, n.PluginName, n.NodeType, n.PluginVersion, n.Determinism,
		n.ConfigHash, n.ConfigJSON, n.SchemaHash, n.SchemaMode, n.SchemaFields, n.SequenceInPipeline)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, &engineerr.FrameworkBugError{Invariant: "unique(run_id,node_id)", Detail: err.Error()}
		}
		return nil, fmt.Errorf("audit: register node: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("audit: register node: %w", err)
	}
	return &n, nil
}

func (s *Store) AddEdge(ctx context.Context, e audit.Edge) (*audit.Edge, error) {
	if e.EdgeID == "" {
		e.EdgeID = uuid.NewString()
	}

	_, err := s.Pool.Exec(ctx, `
		INSERT INTO edges (edge_id, run_id, from_node_id, to_node_id, label, default_mode)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, e.EdgeID, e.RunID, e.FromNodeID, e.ToNodeID, e.Label, e.DefaultMode)
	if err != nil {
		return nil, fmt.Errorf("audit: add edge: %w", err)
	}
	return &e, nil
}
