package plugin

import (
	"context"
	"time"

	"github.com/tachyon-beep/elspeth/internal/audit"
	"github.com/tachyon-beep/elspeth/internal/checkpoint"
	"github.com/tachyon-beep/elspeth/internal/engineerr"
	"github.com/tachyon-beep/elspeth/internal/obslog"
	"github.com/tachyon-beep/elspeth/internal/payloadstore"
	"github.com/tachyon-beep/elspeth/internal/ratelimit"
)

// SinkRouter is the narrow capability PluginContext.RouteToSink needs
// from the engine: deliver row to a named sink outside the token's
// normal routing path. The engine implements this against its own
// graph/dispatch state; PluginContext only needs the capability.
type SinkRouter interface {
	RouteToSink(ctx context.Context, sinkName string, row map[string]any, metadata map[string]any) error
}

// Context is the PluginContext of spec §6: the one object every plugin
// capability method receives, carrying identity (run/node/state/
// operation/token), the audit recorder, checkpoint access scoped to this
// invocation, the rate-limit registry, the payload store, and a logger.
// Exactly one of StateID/OperationID is set — RecordCall enforces this
// as a FrameworkBugError, matching the XOR constraint the audit schema
// places on calls.
type Context struct {
	RunID       string
	NodeID      string
	StateID     string
	OperationID string
	TokenID     string

	Config map[string]any

	Recorder   audit.Recorder
	Checkpoint *checkpoint.Manager // nil when the engine has no checkpoint store
	RateLimits *ratelimit.Registry
	Payloads   payloadstore.Store
	Logger     *obslog.Logger

	sinkRouter SinkRouter
}

// NewContext builds a Context for one plugin invocation. sinkRouter may
// be nil for capabilities that never call RouteToSink (e.g. a Gate).
func NewContext(runID, nodeID string, recorder audit.Recorder, rateLimits *ratelimit.Registry, payloads payloadstore.Store, logger *obslog.Logger, sinkRouter SinkRouter) *Context {
	return &Context{
		RunID:      runID,
		NodeID:     nodeID,
		Recorder:   recorder,
		RateLimits: rateLimits,
		Payloads:   payloads,
		Logger:     logger,
		sinkRouter: sinkRouter,
	}
}

// WireSinkRouter attaches or replaces the SinkRouter after construction.
// The engine passes itself as the router to NewContext for every
// invocation, so every Context it builds already has one.
func (c *Context) WireSinkRouter(r SinkRouter) {
	c.sinkRouter = r
}

// Get reads a config value declared on this node, the ctx.get(config_key)
// of spec §6.
func (c *Context) Get(key string) (any, bool) {
	v, ok := c.Config[key]
	return v, ok
}

// Span is the handle StartSpan returns; call End when the traced work
// completes.
type Span struct {
	name      string
	started   time.Time
	logger    *obslog.Logger
}

// End logs the span's duration, attaching err if the traced work failed.
func (s *Span) End(err error) {
	elapsedMS := time.Since(s.started).Milliseconds()
	if err != nil {
		s.logger.Error("span failed", "span", s.name, "duration_ms", elapsedMS, "error", err)
		return
	}
	s.logger.Debug("span completed", "span", s.name, "duration_ms", elapsedMS)
}

// StartSpan begins a lightweight timing span, the ctx.start_span(name) of
// spec §6. Neither the teacher nor the rest of the example pack pulls in
// a tracing client, so a span here is a local elapsed-time measurement
// logged at completion through internal/obslog rather than an exported
// trace.
func (c *Context) StartSpan(name string) *Span {
	return &Span{name: name, started: time.Now(), logger: c.Logger}
}

// CallOpts is the set of fields RecordCall needs; RequestData/ResponseData
// are hashed and persisted to the payload store by the caller before
// reaching here (the engine, not PluginContext, owns that boundary) —
// RecordCall only needs the resulting refs and hashes.
type CallOpts struct {
	CallType     audit.CallType
	Status       audit.CallStatus
	RequestHash  string
	RequestRef   string
	ResponseHash string
	ResponseRef  string
	LatencyMS    *int64
	ErrorJSON    map[string]any
	Provider     string
}

// RecordCall persists a Call parented to whichever of StateID/OperationID
// is set on c. Both-set or neither-set is a FrameworkBugError: the
// engine must have one open context at a time, never zero or two.
func (c *Context) RecordCall(ctx context.Context, opts CallOpts) (*audit.Call, error) {
	hasState := c.StateID != ""
	hasOp := c.OperationID != ""
	if hasState == hasOp {
		return nil, &engineerr.FrameworkBugError{
			Invariant: "call-exactly-one-parent",
			Detail:    "PluginContext.RecordCall requires exactly one of StateID/OperationID",
		}
	}

	var callIndex int
	var err error
	if hasState {
		callIndex, err = c.Recorder.AllocateCallIndex(ctx, c.StateID)
	} else {
		callIndex, err = c.Recorder.AllocateOperationCallIndex(ctx, c.OperationID)
	}
	if err != nil {
		return nil, err
	}

	return c.Recorder.RecordCall(ctx, audit.Call{
		StateID:      c.StateID,
		OperationID:  c.OperationID,
		CallIndex:    callIndex,
		CallType:     opts.CallType,
		Status:       opts.Status,
		RequestHash:  opts.RequestHash,
		RequestRef:   opts.RequestRef,
		ResponseHash: opts.ResponseHash,
		ResponseRef:  opts.ResponseRef,
		LatencyMS:    opts.LatencyMS,
		ErrorJSON:    opts.ErrorJSON,
		Provider:     opts.Provider,
	})
}

// RecordValidationError records a ContractViolation at row ingress.
func (c *Context) RecordValidationError(ctx context.Context, rowIndex int, violations []string, schemaMode, destination, routedToSink string) error {
	return c.Recorder.RecordValidationError(ctx, audit.ValidationErrorRecord{
		RunID:        c.RunID,
		NodeID:       c.NodeID,
		RowIndex:     rowIndex,
		Violations:   violations,
		SchemaMode:   schemaMode,
		Destination:  destination,
		RoutedToSink: routedToSink,
	})
}

// RecordTransformError records a non-retryable transform failure routed
// away from the normal success path.
func (c *Context) RecordTransformError(ctx context.Context, transformID, errorDetail, destination string) error {
	return c.Recorder.RecordTransformError(ctx, audit.TransformErrorRecord{
		RunID:       c.RunID,
		TokenID:     c.TokenID,
		TransformID: transformID,
		ErrorDetail: errorDetail,
		Destination: destination,
	})
}

// RouteToSink delivers row directly to sinkName, spec §9's second
// validation-error-routing mechanism: recorded alongside the destination
// string on ValidationErrorRecord.RoutedToSink whenever both fire for the
// same token, per the Open Question's resolution.
func (c *Context) RouteToSink(ctx context.Context, sinkName string, row map[string]any, metadata map[string]any) error {
	if c.sinkRouter == nil {
		return &engineerr.FrameworkBugError{
			Invariant: "sink-router-configured",
			Detail:    "PluginContext.RouteToSink called with no SinkRouter wired",
		}
	}
	return c.sinkRouter.RouteToSink(ctx, sinkName, row, metadata)
}

// GetCheckpoint/UpdateCheckpoint/ClearCheckpoint implement spec §4.8's
// resume protocol. They are no-ops returning a clear error when
// Checkpoint is nil.
func (c *Context) GetCheckpoint() (map[string]any, error) {
	if c.Checkpoint == nil {
		return nil, &engineerr.ConfigurationError{Reason: "node " + c.NodeID + " has no checkpoint manager configured"}
	}
	return c.Checkpoint.Get()
}

func (c *Context) UpdateCheckpoint(data map[string]any) error {
	if c.Checkpoint == nil {
		return &engineerr.ConfigurationError{Reason: "node " + c.NodeID + " has no checkpoint manager configured"}
	}
	return c.Checkpoint.Update(data)
}

func (c *Context) ClearCheckpoint() error {
	if c.Checkpoint == nil {
		return &engineerr.ConfigurationError{Reason: "node " + c.NodeID + " has no checkpoint manager configured"}
	}
	return c.Checkpoint.Clear()
}

// TelemetryEmit emits a named metric/event. No metrics backend exists in
// this stack (see DESIGN.md); emission is a structured log line.
func (c *Context) TelemetryEmit(name string, attrs map[string]any) {
	args := make([]any, 0, len(attrs)*2+2)
	args = append(args, "event", name)
	for k, v := range attrs {
		args = append(args, k, v)
	}
	c.Logger.Info("telemetry", args...)
}
