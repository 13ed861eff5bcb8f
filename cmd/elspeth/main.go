// Command elspeth runs one ELSPETH pipeline to completion. It wires the
// durable audit store, the rate-limit registry, the execution graph, and
// a small set of reference plugins together the way the reference
// orchestrator's cmd/orchestrator wires its HTTP surface, adapted from a
// server's request lifecycle to a single run's begin-drain-complete
// lifecycle.
//
// Pipeline-authored configuration (datasource/transform/sink profiles) is
// an explicit Non-goal of the core (see internal/config's package doc);
// the graph assembled here is a fixed reference pipeline — newline-
// delimited JSON on stdin through to a CSV file — meant to exercise every
// wired component end to end, not to be a general-purpose pipeline
// compiler.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/tachyon-beep/elspeth/internal/audit"
	"github.com/tachyon-beep/elspeth/internal/audit/pgstore"
	"github.com/tachyon-beep/elspeth/internal/checkpoint"
	"github.com/tachyon-beep/elspeth/internal/config"
	"github.com/tachyon-beep/elspeth/internal/engine"
	"github.com/tachyon-beep/elspeth/internal/graph"
	"github.com/tachyon-beep/elspeth/internal/obslog"
	"github.com/tachyon-beep/elspeth/internal/payloadstore"
	"github.com/tachyon-beep/elspeth/internal/plugin"
	"github.com/tachyon-beep/elspeth/internal/plugins/sinks"
	"github.com/tachyon-beep/elspeth/internal/ratelimit"
	"github.com/tachyon-beep/elspeth/internal/retry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load("elspeth")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := obslog.New(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger.Info("starting elspeth", "environment", cfg.Service.Environment)

	store, err := pgstore.Connect(ctx, cfg.DatabaseURL(), pgstore.PoolConfig{
		MaxConns:    int32(cfg.Database.MaxConns),
		MinConns:    int32(cfg.Database.MinConns),
		MaxLifetime: cfg.Database.MaxLifetime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	})
	if err != nil {
		logger.Error("failed to connect to audit store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		logger.Error("failed to migrate audit schema", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RateLimit.RedisAddr,
		DB:   cfg.RateLimit.RedisDB,
	})
	defer redisClient.Close()
	rateLimits := ratelimit.NewRegistry(ratelimit.NewLimiter(redisClient))

	payloads := payloadstore.NewMemoryStore(cfg.Service.CanonicalVersion)
	checkpoints := checkpoint.NewMemoryStore()

	g, err := buildGraph()
	if err != nil {
		logger.Error("failed to build execution graph", "error", err)
		os.Exit(1)
	}

	csvSink, err := sinks.NewCSV("output.csv", []string{"id", "value"})
	if err != nil {
		logger.Error("failed to open csv sink", "error", err)
		os.Exit(1)
	}

	eng := engine.New(g, store, payloads, rateLimits, logger, checkpoints)
	eng.SourceNodeID = "stdin-source"
	eng.Source = &jsonLinesSource{r: os.Stdin}
	eng.Sinks["csv-sink"] = csvSink
	eng.RetryCfg = retry.Config{
		MaxAttempts:     cfg.Retry.MaxAttempts,
		BaseDelay:       cfg.Retry.BaseDelay,
		MaxDelay:        cfg.Retry.MaxDelay,
		ExponentialBase: cfg.Retry.ExponentialBase,
		Jitter:          cfg.Retry.Jitter,
	}

	run, err := eng.Run(ctx, map[string]any{"pipeline": "reference-csv-passthrough"})
	if err != nil {
		logger.Error("run failed", "error", err, "run_id", safeRunID(run))
		os.Exit(1)
	}
	logger.Info("run completed", "run_id", run.RunID)
}

func safeRunID(run *audit.Run) string {
	if run == nil {
		return ""
	}
	return run.RunID
}

// buildGraph assembles the fixed reference pipeline this binary runs:
// one source, one sink, connected by a plain success edge.
func buildGraph() (*graph.ExecutionGraph, error) {
	return graph.BuildFromSpecs(
		[]graph.NodeSpec{
			{
				NodeID:      "stdin-source",
				PluginName:  "jsonlines-stdin",
				Type:        graph.NodeSource,
				Determinism: graph.IORead,
			},
			{
				NodeID:      "csv-sink",
				PluginName:  "csv",
				Type:        graph.NodeSink,
				Determinism: graph.IOWrite,
				Schema:      graph.SchemaConfig{PassThrough: true},
			},
		},
		[]graph.EdgeSpec{
			{FromNodeID: "stdin-source", ToNodeID: "csv-sink", Label: "success", Mode: graph.ModeMove},
		},
	)
}

// jsonLinesSource reads newline-delimited JSON objects from r. It is the
// simplest possible Source plugin, wired here purely to give the engine
// a concrete input as the process runs, not as ELSPETH's one true
// ingestion format.
type jsonLinesSource struct {
	r io.Reader
}

func (s *jsonLinesSource) Iterate(ctx context.Context, pctx *plugin.Context) (plugin.RowIterator, error) {
	return &jsonLinesIterator{scanner: bufio.NewScanner(s.r)}, nil
}

type jsonLinesIterator struct {
	scanner *bufio.Scanner
}

func (it *jsonLinesIterator) Next(ctx context.Context) (map[string]any, bool, error) {
	for it.scanner.Scan() {
		line := it.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var row map[string]any
		if err := json.Unmarshal(line, &row); err != nil {
			return nil, false, fmt.Errorf("jsonlines source: %w", err)
		}
		return row, true, nil
	}
	if err := it.scanner.Err(); err != nil {
		return nil, false, err
	}
	return nil, false, nil
}

func (it *jsonLinesIterator) Close() error { return nil }

var _ plugin.Source = (*jsonLinesSource)(nil)
