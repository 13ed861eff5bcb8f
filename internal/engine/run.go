package engine

import (
	"context"

	"github.com/tachyon-beep/elspeth/internal/audit"
	"github.com/tachyon-beep/elspeth/internal/canon"
	"github.com/tachyon-beep/elspeth/internal/engineerr"
)

// Run drives one end-to-end execution of e.Graph: begin_run, register
// nodes/edges, validate edge compatibility, stream every row the source
// produces through the DAG, then complete_run. It implements spec §4.7.
func (e *Engine) Run(ctx context.Context, settings map[string]any) (*audit.Run, error) {
	run, err := e.Recorder.BeginRun(ctx, settings, canon.Version)
	if err != nil {
		return nil, err
	}
	e.runID = run.RunID

	if err := e.registerGraph(ctx, run.RunID); err != nil {
		_ = e.Recorder.CompleteRun(ctx, run.RunID, audit.RunFailed)
		return run, err
	}

	if errs := e.Graph.ValidateEdgeCompatibility(); len(errs) > 0 {
		_ = e.Recorder.CompleteRun(ctx, run.RunID, audit.RunFailed)
		return run, &engineerr.ConfigurationError{Reason: errs[0].Error()}
	}

	if err := e.runSource(ctx); err != nil {
		_ = e.Recorder.CompleteRun(ctx, run.RunID, audit.RunFailed)
		return run, err
	}

	if err := e.flushSinks(ctx); err != nil {
		_ = e.Recorder.CompleteRun(ctx, run.RunID, audit.RunFailed)
		return run, err
	}

	if err := e.Recorder.CompleteRun(ctx, run.RunID, audit.RunCompleted); err != nil {
		return run, err
	}
	return run, nil
}

// runSource opens the source's load Operation, iterates every row, and
// walks each one into the graph as its own token. Per spec §5's
// cancellation semantics, a context cancellation mid-iteration fails the
// load Operation and returns immediately rather than draining the rest
// of the source.
func (e *Engine) runSource(ctx context.Context) error {
	op, err := e.Recorder.BeginOperation(ctx, e.runID, e.SourceNodeID, audit.OperationSourceLoad, "", "")
	if err != nil {
		return err
	}

	pctx := e.newPluginContext(e.SourceNodeID, "", op.OperationID, "")
	iter, err := e.Source.Iterate(ctx, pctx)
	if err != nil {
		_, _ = e.Recorder.CompleteOperation(ctx, op.OperationID, audit.OperationFailed, err.Error(), 0, "", "")
		return err
	}
	defer iter.Close()

	rowIndex := 0
	for {
		select {
		case <-ctx.Done():
			_, _ = e.Recorder.CompleteOperation(ctx, op.OperationID, audit.OperationFailed, "cancelled", 0, "", "")
			return ctx.Err()
		default:
		}

		row, ok, err := iter.Next(ctx)
		if err != nil {
			_, _ = e.Recorder.CompleteOperation(ctx, op.OperationID, audit.OperationFailed, err.Error(), 0, "", "")
			return err
		}
		if !ok {
			break
		}

		if violations := e.validateRow(e.SourceNodeID, row); len(violations) > 0 {
			reasons := make([]string, 0, len(violations))
			for _, v := range violations {
				reasons = append(reasons, v.String())
			}
			if err := pctx.RecordValidationError(ctx, rowIndex, reasons, e.schemaModeFor(e.SourceNodeID), "discard", ""); err != nil {
				return err
			}
			rowIndex++
			continue
		}

		if err := e.ingestRow(ctx, rowIndex, row); err != nil {
			return err
		}
		rowIndex++
	}

	if _, err := e.Recorder.CompleteOperation(ctx, op.OperationID, audit.OperationCompleted, "", 0, "", ""); err != nil {
		return err
	}
	return nil
}

// ingestRow creates the Row and its root Token, then advances that token
// along every edge leaving the source node.
func (e *Engine) ingestRow(ctx context.Context, rowIndex int, row map[string]any) error {
	auditRow, err := e.Recorder.CreateRow(ctx, e.runID, e.SourceNodeID, rowIndex, row, "")
	if err != nil {
		return err
	}
	tok, err := e.Recorder.CreateToken(ctx, auditRow.RowID, "")
	if err != nil {
		return err
	}

	for _, edge := range e.Graph.OutgoingEdges(e.SourceNodeID) {
		if err := e.deliverToNode(ctx, edge.ToNodeID, tok, row, 1); err != nil {
			return err
		}
	}
	return nil
}

// flushSinks flushes and closes every sink once the source is exhausted
// and every in-flight token has either reached a terminal outcome or
// been suspended on a pending checkpoint.
func (e *Engine) flushSinks(ctx context.Context) error {
	for nodeID, sink := range e.Sinks {
		if err := sink.Flush(ctx); err != nil {
			return &engineerr.PluginInvocationError{NodeID: nodeID, Cause: err}
		}
		if err := sink.Close(ctx); err != nil {
			return &engineerr.PluginInvocationError{NodeID: nodeID, Cause: err}
		}
	}
	return nil
}
