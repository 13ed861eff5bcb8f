package retry

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// CapacityError signals the pooled executor's caller hit a backend
// capacity limit (rate-limited, overloaded) and the pool's AIMD budget
// should shrink. It is distinct from a plain task error, which does not
// affect the budget.
type CapacityError struct {
	Cause error
}

func (e *CapacityError) Error() string { return "capacity exceeded: " + e.Cause.Error() }
func (e *CapacityError) Unwrap() error { return e.Cause }

// PoolConfig tunes the AIMD-controlled pooled executor of spec §4.6.
type PoolConfig struct {
	InitialBudget int
	MinBudget     int
	MaxBudget     int
	// AdditiveIncrease is added to the budget after each successful
	// task that runs to completion without a CapacityError.
	AdditiveIncrease int
	// MultiplicativeDecreaseFactor shrinks the budget on CapacityError,
	// e.g. 0.5 halves it.
	MultiplicativeDecreaseFactor float64
	// RatePerSecond, when positive, caps the pool's sustained dispatch
	// rate independently of the AIMD budget: the budget bounds how many
	// tasks run concurrently, this bounds how fast new ones start. Zero
	// leaves dispatch unrated.
	RatePerSecond float64
	// BurstSize is the token-bucket's burst capacity when RatePerSecond
	// is set. Defaults to InitialBudget if zero.
	BurstSize int
}

// Pool runs tasks with a shared, adaptively-sized concurrency budget: all
// AIMD state (current budget) lives behind a single lock, matching the
// "only the recorder and pool hold locks" discipline of spec §5. An
// optional token-bucket limiter throttles how fast new tasks start,
// independent of the AIMD-controlled concurrency ceiling.
type Pool struct {
	mu     sync.Mutex
	budget int
	cfg    PoolConfig

	sem     chan struct{}
	limiter *rate.Limiter
}

// NewPool builds a Pool with the given configuration. sem is sized to
// MaxBudget; RunAll and RunAllGrouped do not use it, and bound their
// concurrency with a per-call channel sized to the budget at call time.
func NewPool(cfg PoolConfig) *Pool {
	if cfg.InitialBudget < 1 {
		cfg.InitialBudget = 1
	}
	p := &Pool{
		budget: cfg.InitialBudget,
		cfg:    cfg,
		sem:    make(chan struct{}, cfg.MaxBudget),
	}
	if cfg.RatePerSecond > 0 {
		burst := cfg.BurstSize
		if burst < 1 {
			burst = cfg.InitialBudget
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return p
}

// waitForDispatch blocks until the token bucket (if configured) admits
// one more task start, or ctx is cancelled.
func (p *Pool) waitForDispatch(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}

func (p *Pool) currentBudget() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.budget
}

func (p *Pool) onSuccess() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.budget += p.cfg.AdditiveIncrease
	if p.budget > p.cfg.MaxBudget {
		p.budget = p.cfg.MaxBudget
	}
}

func (p *Pool) onCapacityError() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.budget = int(float64(p.budget) * p.cfg.MultiplicativeDecreaseFactor)
	if p.budget < p.cfg.MinBudget {
		p.budget = p.cfg.MinBudget
	}
}

// Task is one unit of pooled work, identified by its submission index so
// the caller can correlate results back to inputs.
type Task func(ctx context.Context) (any, error)

// Result pairs a task's outcome with its submission index.
type Result struct {
	Index int
	Value any
	Err   error
}

// RunAll executes tasks under the pool's AIMD budget and returns results
// in submission order regardless of completion order, so the engine
// always observes FIFO results from intra-row parallelism (e.g. multi-query
// LLM fanout).
func (p *Pool) RunAll(ctx context.Context, tasks []Task) []Result {
	results := make([]Result, len(tasks))
	var wg sync.WaitGroup
	limiter := make(chan struct{}, p.currentBudget())

	for i, task := range tasks {
		wg.Add(1)
		go func(i int, task Task) {
			defer wg.Done()

			select {
			case limiter <- struct{}{}:
			case <-ctx.Done():
				results[i] = Result{Index: i, Err: ctx.Err()}
				return
			}
			defer func() { <-limiter }()

			if err := p.waitForDispatch(ctx); err != nil {
				results[i] = Result{Index: i, Err: err}
				return
			}

			value, err := task(ctx)
			var capErr *CapacityError
			switch {
			case err == nil:
				p.onSuccess()
			case asCapacityError(err, &capErr):
				p.onCapacityError()
			}
			results[i] = Result{Index: i, Value: value, Err: err}
		}(i, task)
	}

	wg.Wait()
	return results
}

func asCapacityError(err error, target **CapacityError) bool {
	ce, ok := err.(*CapacityError)
	if ok {
		*target = ce
	}
	return ok
}

// RunAllGrouped is a stricter variant built on errgroup: the first
// non-CapacityError failure cancels the remaining tasks. Use RunAll when
// partial results (one per task, including errors) are wanted instead.
func (p *Pool) RunAllGrouped(ctx context.Context, tasks []Task) ([]any, error) {
	results := make([]any, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	limiter := make(chan struct{}, p.currentBudget())

	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			select {
			case limiter <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			defer func() { <-limiter }()

			if err := p.waitForDispatch(gctx); err != nil {
				return err
			}

			value, err := task(gctx)
			if err != nil {
				var capErr *CapacityError
				if asCapacityError(err, &capErr) {
					p.onCapacityError()
				}
				return err
			}
			p.onSuccess()
			results[i] = value
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
