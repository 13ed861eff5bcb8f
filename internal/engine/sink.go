package engine

import (
	"context"
	"time"

	"github.com/tachyon-beep/elspeth/internal/audit"
	"github.com/tachyon-beep/elspeth/internal/engineerr"
)

// runSinkNode writes one row to a terminal sink. Sinks are
// Operation-parented rather than NodeState-parented: a sink write is not
// retried per spec §4.6 (retries apply to transforms calling unreliable
// external services, not to the durable final write), so there is no
// per-attempt state to open.
func (e *Engine) runSinkNode(ctx context.Context, nodeID string, tok *audit.Token, row map[string]any, _ int) error {
	s, ok := e.Sinks[nodeID]
	if !ok {
		return &engineerr.FrameworkBugError{Invariant: "sink-registered", Detail: "no Sink bound to node " + nodeID}
	}

	op, err := e.Recorder.BeginOperation(ctx, e.runID, nodeID, audit.OperationSinkWrite, "", "")
	if err != nil {
		return err
	}

	pctx := e.newPluginContext(nodeID, "", op.OperationID, tok.TokenID)

	started := time.Now()
	artifact, werr := s.Write(ctx, []map[string]any{row}, pctx)
	elapsedMS := time.Since(started).Milliseconds()

	if werr != nil {
		_, _ = e.Recorder.CompleteOperation(ctx, op.OperationID, audit.OperationFailed, werr.Error(), elapsedMS, "", "")
		return e.Recorder.RecordTokenOutcome(ctx, audit.TokenOutcome{TokenID: tok.TokenID, Outcome: audit.OutcomeFailed})
	}

	if _, cerr := e.Recorder.CompleteOperation(ctx, op.OperationID, audit.OperationCompleted, "", elapsedMS, artifact.PathOrURI, artifact.ContentHash); cerr != nil {
		return cerr
	}

	if _, aerr := e.Recorder.RecordArtifact(ctx, audit.Artifact{
		RunID:        e.runID,
		SinkNodeID:   nodeID,
		ArtifactType: artifact.ArtifactType,
		PathOrURI:    artifact.PathOrURI,
		ContentHash:  artifact.ContentHash,
		SizeBytes:    artifact.SizeBytes,
	}); aerr != nil {
		return aerr
	}

	return e.Recorder.RecordTokenOutcome(ctx, audit.TokenOutcome{TokenID: tok.TokenID, Outcome: audit.OutcomeCompletedAtSink})
}

// RouteToSink implements plugin.SinkRouter: a plugin anywhere in the run
// may deliver a row directly to a named sink outside the token's normal
// routing path (e.g. a dead-letter sink for a validation failure). The
// row bypasses NodeState/RoutingEvent entirely — it never belonged to a
// token's own walk, so it is written and recorded as its own
// unattributed Operation.
func (e *Engine) RouteToSink(ctx context.Context, sinkName string, row map[string]any, _ map[string]any) error {
	s, ok := e.Sinks[sinkName]
	if !ok {
		return &engineerr.ConfigurationError{Reason: "no sink registered under name " + sinkName}
	}

	op, err := e.Recorder.BeginOperation(ctx, e.runID, sinkName, audit.OperationSinkWrite, "", "")
	if err != nil {
		return err
	}
	pctx := e.newPluginContext(sinkName, "", op.OperationID, "")

	started := time.Now()
	artifact, werr := s.Write(ctx, []map[string]any{row}, pctx)
	elapsedMS := time.Since(started).Milliseconds()
	if werr != nil {
		_, _ = e.Recorder.CompleteOperation(ctx, op.OperationID, audit.OperationFailed, werr.Error(), elapsedMS, "", "")
		return werr
	}
	_, err = e.Recorder.CompleteOperation(ctx, op.OperationID, audit.OperationCompleted, "", elapsedMS, artifact.PathOrURI, artifact.ContentHash)
	return err
}
