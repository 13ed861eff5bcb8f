package plugin

import (
	"context"
	"time"
)

// Source iterates rows from a datasource. Implementations must honor
// their own declared output schema; a row that doesn't is the engine's
// problem to catch (via internal/contracts), not the source's to coerce.
type Source interface {
	// Iterate returns a RowIterator the engine drives to exhaustion.
	// Validation failures the source itself detects while iterating
	// (a malformed record it can still surface rather than skip
	// silently) go through PluginContext.RecordValidationError; the
	// returned row is the engine's best-effort value for that record,
	// which may be nil if nothing usable could be produced.
	Iterate(ctx context.Context, pctx *Context) (RowIterator, error)
}

// RowIterator is a single pass over a Source's rows.
type RowIterator interface {
	// Next returns the next row. ok is false when iteration is
	// exhausted; err is non-nil only on a genuine read failure.
	Next(ctx context.Context) (row map[string]any, ok bool, err error)
	Close() error
}

// Transform processes one or more rows into zero or more output rows.
// IsBatchAware declares whether Process expects to receive every row of
// a batch at once (len(rows) > 1 possible) or whether the engine will
// always call it with a single-element slice — matching the
// is_batch_aware static flag of the reference LLM batch transform.
type Transform interface {
	Process(ctx context.Context, rows []map[string]any, pctx *Context) (TransformResult, error)
	IsBatchAware() bool
}

// Sink writes rows to an external destination and returns a descriptor
// of what was produced. Flush and Close must be idempotent: the engine
// may call either more than once during shutdown or retry handling.
// SupportsResume is a static capability flag; the engine does not consult
// it, and ResumeToken resumes a token whatever its sinks report.
type Sink interface {
	Write(ctx context.Context, rows []map[string]any, pctx *Context) (ArtifactDescriptor, error)
	Flush(ctx context.Context) error
	Close(ctx context.Context) error
	SupportsResume() bool
}

// ArtifactDescriptor is what a Sink.Write call reports back for the
// engine to persist as an audit Artifact.
type ArtifactDescriptor struct {
	ArtifactType string
	PathOrURI    string
	ContentHash  string
	SizeBytes    int64
}

// RoutingTable is a Gate's {true, false, fork_to} outbound edge
// selection, labels matching the edges registered on the node in the
// execution graph.
type RoutingTable struct {
	OnTrue  string
	OnFalse string
	ForkTo  []string
}

// Gate evaluates a boolean condition against a row and reports where to
// route it.
type Gate interface {
	Evaluate(row map[string]any) (bool, error)
	RoutingTable() RoutingTable
}

// TriggerKind enumerates how an Aggregator's batch fires.
type TriggerKind string

const (
	TriggerCount  TriggerKind = "COUNT"
	TriggerTime   TriggerKind = "TIME"
	TriggerManual TriggerKind = "MANUAL"
)

// Trigger is an Aggregator's batching policy.
type Trigger struct {
	Kind     TriggerKind
	Count    int
	Interval time.Duration
}

// Aggregator accumulates rows under a Trigger and reduces a completed
// batch into output rows.
type Aggregator interface {
	Trigger() Trigger
	Reduce(ctx context.Context, batchRows []map[string]any, pctx *Context) ([]map[string]any, error)
}
