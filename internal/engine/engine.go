// Package engine implements the engine loop of spec §4.7: per-row
// orchestration that advances tokens through an ExecutionGraph, invoking
// plugin capabilities at each node, applying MOVE/COPY/DIVERT/FORK/
// EXPAND/COALESCE routing, and recording every state transition, call,
// and routing decision through an audit.Recorder.
//
// The teacher's coordinator (cmd/workflow-runner/coordinator) drives a
// comparable counter-and-dependency DAG walk over a Redis-backed token
// ledger; this package keeps that same "one orchestrator owns the walk,
// plugins never see each other" shape but replaces the counter semantics
// with the audit trail's NodeState/Call/RoutingEvent model, since every
// transition here must be durably recorded rather than just counted.
package engine

import (
	"sync"

	"github.com/google/uuid"

	"github.com/tachyon-beep/elspeth/internal/audit"
	"github.com/tachyon-beep/elspeth/internal/checkpoint"
	"github.com/tachyon-beep/elspeth/internal/contracts"
	"github.com/tachyon-beep/elspeth/internal/graph"
	"github.com/tachyon-beep/elspeth/internal/obslog"
	"github.com/tachyon-beep/elspeth/internal/payloadstore"
	"github.com/tachyon-beep/elspeth/internal/plugin"
	"github.com/tachyon-beep/elspeth/internal/ratelimit"
	"github.com/tachyon-beep/elspeth/internal/retry"
)

// NodeConfig is per-node static configuration the engine needs outside
// what graph.NodeInfo already tracks: the raw plugin config (hashed into
// Node.ConfigHash and exposed through PluginContext.Get), and, for
// COALESCE nodes, which branch names must all arrive before merging.
type NodeConfig struct {
	PluginConfig map[string]any
	// CoalesceBranches lists the branch names a COALESCE node waits for
	// before merging. Required for every NodeCoalesce node.
	CoalesceBranches []string
	// RetryCfg overrides Engine.RetryCfg for this node. A zero value
	// (MaxAttempts == 0) means "use the engine default".
	RetryCfg *retry.Config
}

// Engine owns one run's worth of plugin instances and drives them
// through Graph.
type Engine struct {
	Graph    *graph.ExecutionGraph
	Recorder audit.Recorder
	Payloads payloadstore.Store
	RateLimits *ratelimit.Registry
	Logger   *obslog.Logger

	CheckpointStore checkpoint.Store

	SourceNodeID string
	Source       plugin.Source
	Transforms   map[string]plugin.Transform
	Sinks        map[string]plugin.Sink
	Gates        map[string]plugin.Gate
	Aggregators  map[string]plugin.Aggregator

	NodeConfigs map[string]NodeConfig
	// Contracts holds the current SchemaContract per node. A nil entry
	// means the node is unvalidated (no contract declared); a present
	// entry is validated against as it stands, and the engine never adds
	// fields to it as rows are observed (no WithField growth for FLEXIBLE/
	// OBSERVED); callers lock FIXED contracts before Run.
	Contracts map[string]*contracts.Contract

	// ExpandNodeIDs marks transform nodes whose multi-row TransformResult
	// is an EXPAND (row deaggregation) rather than a batch-aware
	// transform's 1:1 row mapping.
	ExpandNodeIDs map[string]bool

	RetryCfg    retry.Config
	IsRetryable func(error) bool

	runID string

	aggMu        sync.Mutex
	agg          map[string]*aggregationState
	aggOutputSeq map[string]int

	coalesceMu sync.Mutex
	coalesce   map[string]*coalesceState
}

// New constructs an Engine. Callers populate the exported maps before
// calling Run.
func New(g *graph.ExecutionGraph, recorder audit.Recorder, payloads payloadstore.Store, rateLimits *ratelimit.Registry, logger *obslog.Logger, checkpoints checkpoint.Store) *Engine {
	return &Engine{
		Graph:           g,
		Recorder:        recorder,
		Payloads:        payloads,
		RateLimits:      rateLimits,
		Logger:          logger,
		CheckpointStore: checkpoints,
		Transforms:      map[string]plugin.Transform{},
		Sinks:           map[string]plugin.Sink{},
		Gates:           map[string]plugin.Gate{},
		Aggregators:     map[string]plugin.Aggregator{},
		NodeConfigs:     map[string]NodeConfig{},
		Contracts:       map[string]*contracts.Contract{},
		ExpandNodeIDs:   map[string]bool{},
		IsRetryable:     func(error) bool { return false },
		agg:             map[string]*aggregationState{},
		aggOutputSeq:    map[string]int{},
		coalesce:        map[string]*coalesceState{},
	}
}

// pluginConfigFor returns the declared plugin config for nodeID, or an
// empty map.
func (e *Engine) pluginConfigFor(nodeID string) map[string]any {
	if cfg, ok := e.NodeConfigs[nodeID]; ok && cfg.PluginConfig != nil {
		return cfg.PluginConfig
	}
	return map[string]any{}
}

// newPluginContext builds the per-invocation PluginContext for nodeID.
// Exactly one of stateID/operationID should be non-empty.
func (e *Engine) newPluginContext(nodeID, stateID, operationID, tokenID string) *plugin.Context {
	pctx := plugin.NewContext(e.runID, nodeID, e.Recorder, e.RateLimits, e.Payloads, e.Logger, e)
	pctx.StateID = stateID
	pctx.OperationID = operationID
	pctx.TokenID = tokenID
	pctx.Config = e.pluginConfigFor(nodeID)

	if e.CheckpointStore != nil {
		key := checkpoint.Key{RunID: e.runID, NodeID: nodeID, TokenID: tokenID}
		topoHash, err := checkpoint.TopologyHash(e.Graph, nodeID)
		if err == nil {
			cfgHash, err := checkpoint.NodeConfigHash(e.pluginConfigFor(nodeID))
			if err == nil {
				pctx.Checkpoint = checkpoint.NewManager(e.CheckpointStore, key, topoHash, cfgHash)
			}
		}
	}
	return pctx
}

func newID() string { return uuid.NewString() }

// retryConfigFor returns the node's override retry config, or the
// engine-wide default.
func (e *Engine) retryConfigFor(nodeID string) retry.Config {
	if cfg, ok := e.NodeConfigs[nodeID]; ok && cfg.RetryCfg != nil && cfg.RetryCfg.MaxAttempts > 0 {
		return *cfg.RetryCfg
	}
	return e.RetryCfg
}
