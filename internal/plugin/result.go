// Package plugin defines the capability interfaces of spec §6 — Source,
// Transform, Sink, Gate, Aggregator — and PluginContext, the per-invocation
// handle each one uses to reach the audit trail, checkpoint store,
// rate-limit registry, and payload store without any of them being an
// ambient global. Per spec §9's redesign guidance, BatchPendingError's
// exception-style control-flow signal is kept at the engineerr boundary
// (a plugin may still raise it, matching the reference Python transform)
// but Transform.Process's own return type is the explicit PluginOutcome
// sum type {Success, Error(retryable), Pending(checkpoint, retry_at)} so
// the engine's dispatch on a transform's result never needs a type switch
// on an error value to tell a retryable failure from a successful row.
package plugin

// OutcomeKind discriminates a TransformResult.
type OutcomeKind string

const (
	OutcomeSuccess OutcomeKind = "SUCCESS"
	OutcomeError   OutcomeKind = "ERROR"
	OutcomePending OutcomeKind = "PENDING"
)

// PendingInfo carries the batch-pending state spec §4.8 persists as a
// checkpoint: the external job id, its last-seen status, how long to
// wait before checking again, and the checkpoint payload itself.
type PendingInfo struct {
	BatchID           string
	Status            string
	CheckAfterSeconds float64
	Checkpoint        map[string]any
}

// TransformResult is the sum type a Transform.Process call returns: on
// success, zero or more output rows plus an optional context_after
// carried into the next NodeState; on error, a reason payload and
// whether the engine should retry; on pending, the external-completion
// signal the engine suspends the NodeState against.
type TransformResult struct {
	Kind OutcomeKind

	// OutcomeSuccess
	Rows          []map[string]any
	SuccessReason map[string]any
	ContextAfter  map[string]any

	// OutcomeError
	ErrorReason map[string]any
	Retryable   bool

	// OutcomePending
	Pending *PendingInfo
}

// Success wraps a single output row.
func Success(row map[string]any) TransformResult {
	return TransformResult{Kind: OutcomeSuccess, Rows: []map[string]any{row}}
}

// SuccessMulti wraps multiple output rows, e.g. a batch transform
// fanning one input row into several, or an aggregator's reduce.
func SuccessMulti(rows []map[string]any) TransformResult {
	return TransformResult{Kind: OutcomeSuccess, Rows: rows}
}

// SuccessWithContext wraps rows plus a success reason and a context to
// carry forward into the token's next NodeState.
func SuccessWithContext(rows []map[string]any, successReason, contextAfter map[string]any) TransformResult {
	return TransformResult{Kind: OutcomeSuccess, Rows: rows, SuccessReason: successReason, ContextAfter: contextAfter}
}

// Error wraps a non-retryable or retryable transform failure. Retryable
// errors are re-raised by the engine through internal/retry rather than
// recorded as a terminal TransformResult.error; see spec §6's Transform
// semantics.
func Error(reason map[string]any, retryable bool) TransformResult {
	return TransformResult{Kind: OutcomeError, ErrorReason: reason, Retryable: retryable}
}

// Pending wraps an external-completion wait, the explicit-sum-type
// equivalent of raising *engineerr.BatchPendingError.
func Pending(info PendingInfo) TransformResult {
	return TransformResult{Kind: OutcomePending, Pending: &info}
}
