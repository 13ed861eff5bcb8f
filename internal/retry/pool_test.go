package retry

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"
)

func TestPoolRunAllReturnsResultsInSubmissionOrder(t *testing.T) {
	p := NewPool(PoolConfig{InitialBudget: 4, MinBudget: 1, MaxBudget: 8, AdditiveIncrease: 1, MultiplicativeDecreaseFactor: 0.5})

	tasks := make([]Task, 10)
	for i := 0; i < 10; i++ {
		i := i
		tasks[i] = func(ctx context.Context) (any, error) {
			time.Sleep(time.Duration(rand.Intn(5)) * time.Millisecond)
			return i, nil
		}
	}

	results := p.RunAll(context.Background(), tasks)
	for i, r := range results {
		if r.Index != i {
			t.Fatalf("result at position %d has Index %d", i, r.Index)
		}
		if r.Value != i {
			t.Fatalf("expected FIFO-ordered value %d at position %d, got %v", i, i, r.Value)
		}
	}
}

func TestPoolBudgetShrinksOnCapacityError(t *testing.T) {
	p := NewPool(PoolConfig{InitialBudget: 8, MinBudget: 1, MaxBudget: 8, AdditiveIncrease: 1, MultiplicativeDecreaseFactor: 0.5})

	tasks := []Task{
		func(ctx context.Context) (any, error) { return nil, &CapacityError{Cause: errors.New("rate limited")} },
	}
	p.RunAll(context.Background(), tasks)

	if got := p.currentBudget(); got != 4 {
		t.Fatalf("expected budget halved to 4 after capacity error, got %d", got)
	}
}

func TestPoolBudgetGrowsAdditivelyOnSuccess(t *testing.T) {
	p := NewPool(PoolConfig{InitialBudget: 2, MinBudget: 1, MaxBudget: 8, AdditiveIncrease: 1, MultiplicativeDecreaseFactor: 0.5})

	p.RunAll(context.Background(), []Task{
		func(ctx context.Context) (any, error) { return nil, nil },
	})

	if got := p.currentBudget(); got != 3 {
		t.Fatalf("expected budget to grow additively to 3, got %d", got)
	}
}

func TestPoolRateLimiterThrottlesDispatch(t *testing.T) {
	p := NewPool(PoolConfig{
		InitialBudget: 8, MinBudget: 1, MaxBudget: 8, AdditiveIncrease: 1, MultiplicativeDecreaseFactor: 0.5,
		RatePerSecond: 20, BurstSize: 1,
	})

	tasks := make([]Task, 5)
	for i := range tasks {
		tasks[i] = func(ctx context.Context) (any, error) { return nil, nil }
	}

	started := time.Now()
	results := p.RunAll(context.Background(), tasks)
	elapsed := time.Since(started)

	for _, r := range results {
		if r.Err != nil {
			t.Fatalf("unexpected task error under rate limiting: %v", r.Err)
		}
	}
	// Burst 1 at 20/s admits the first dispatch immediately; the remaining
	// 4 each wait ~50ms for a fresh token, so the batch cannot finish in
	// much less than 4*50ms.
	if elapsed < 150*time.Millisecond {
		t.Fatalf("expected rate limiter to spread dispatch over time, finished in %s", elapsed)
	}
}

func TestPoolWithoutRateConfigDispatchesImmediately(t *testing.T) {
	p := NewPool(PoolConfig{InitialBudget: 8, MinBudget: 1, MaxBudget: 8, AdditiveIncrease: 1, MultiplicativeDecreaseFactor: 0.5})
	if p.limiter != nil {
		t.Fatalf("expected no limiter when RatePerSecond is unset")
	}
}
