// Package transforms collects reference Transform implementations: a
// fanout transform that runs several sub-queries per row under an
// adaptive concurrency budget, and an HTTP-fetch transform that enriches
// a row from an external endpoint.
package transforms

import (
	"context"
	"fmt"

	"github.com/tachyon-beep/elspeth/internal/plugin"
	"github.com/tachyon-beep/elspeth/internal/retry"
)

// Branch is one named sub-query a Fanout transform runs per row. Call
// receives the row and must return the fields it contributes, merged
// into the output row under its own key namespace by Fanout.
type Branch struct {
	Name string
	Call func(ctx context.Context, row map[string]any) (map[string]any, error)
}

// Fanout runs every Branch concurrently for each row under a shared
// retry.Pool, merging each branch's result under branches[name] in the
// output row. It is IsBatchAware-false: rows arrive one at a time, and
// the concurrency this transform exploits is across branches within a
// row, not across rows — matching how the reference AIMD pool scopes a
// single shared budget to the set of sub-calls one logical unit of work
// issues, not to unrelated units racing each other.
//
// A branch failure is recorded as a non-retryable TransformResult.error
// unless the branch's own error satisfies retry.CapacityError, in which
// case Fanout reports Retryable so the engine's retry manager reopens a
// fresh NodeState attempt for the whole row.
type Fanout struct {
	Branches []Branch
	Pool     *retry.Pool
}

// NewFanout builds a Fanout transform with its own dedicated pool, sized
// by cfg.
func NewFanout(branches []Branch, cfg retry.PoolConfig) *Fanout {
	return &Fanout{Branches: branches, Pool: retry.NewPool(cfg)}
}

func (f *Fanout) IsBatchAware() bool { return false }

func (f *Fanout) Process(ctx context.Context, rows []map[string]any, pctx *plugin.Context) (plugin.TransformResult, error) {
	if len(rows) != 1 {
		return plugin.TransformResult{}, fmt.Errorf("fanout transform: expected exactly one row, got %d", len(rows))
	}
	row := rows[0]

	tasks := make([]retry.Task, len(f.Branches))
	for i, branch := range f.Branches {
		branch := branch
		tasks[i] = func(ctx context.Context) (any, error) {
			return branch.Call(ctx, row)
		}
	}

	results := f.Pool.RunAll(ctx, tasks)

	out := make(map[string]any, len(row)+1)
	for k, v := range row {
		out[k] = v
	}
	branchOut := make(map[string]any, len(f.Branches))

	for i, res := range results {
		name := f.Branches[i].Name
		if res.Err != nil {
			var capErr *retry.CapacityError
			retryable := false
			if ce, ok := res.Err.(*retry.CapacityError); ok {
				capErr = ce
				retryable = true
			}
			reason := map[string]any{"branch": name, "error": res.Err.Error()}
			if capErr != nil {
				reason["capacity_exceeded"] = true
			}
			return plugin.Error(reason, retryable), nil
		}
		if fields, ok := res.Value.(map[string]any); ok {
			branchOut[name] = fields
		}
	}
	out["branches"] = branchOut

	return plugin.Success(out), nil
}

var _ plugin.Transform = (*Fanout)(nil)
