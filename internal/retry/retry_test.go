package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tachyon-beep/elspeth/internal/engineerr"
)

func TestWaitExponentialJitterReceivesEveryParameterExplicitly(t *testing.T) {
	// Regression guard for spec's documented "forgotten plumbing" class:
	// exponential_base=3.0 must actually reach the computation, not a
	// hardcoded default of 2.0.
	noJitter := WaitExponentialJitter(0, 2*time.Second, 120*time.Second, 3.0, 0.0)
	if noJitter != 2*time.Second {
		t.Fatalf("attempt 0 with base_delay=2s should yield 2s, got %v", noJitter)
	}

	second := WaitExponentialJitter(1, 2*time.Second, 120*time.Second, 3.0, 0.0)
	if second != 6*time.Second {
		t.Fatalf("exp_base=3.0 at attempt 1 should yield base*3=6s, got %v (if this is 4s, exp_base defaulted to 2.0)", second)
	}

	capped := WaitExponentialJitter(10, 2*time.Second, 120*time.Second, 3.0, 0.0)
	if capped != 120*time.Second {
		t.Fatalf("expected delay capped at max_delay=120s, got %v", capped)
	}
}

func TestExecuteWithRetrySucceedsOnThirdAttempt(t *testing.T) {
	m := NewManager(Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Second, ExponentialBase: 2.0, Jitter: 0})
	calls := 0
	result, attempt, err := m.ExecuteWithRetry(context.Background(), func(ctx context.Context, a int) (any, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("transient")
		}
		return "ok", nil
	}, func(error) bool { return true })

	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if result != "ok" || attempt != 2 {
		t.Fatalf("expected success on attempt 2 (0-indexed), got result=%v attempt=%d", result, attempt)
	}
}

func TestExecuteWithRetryPropagatesNonRetryableImmediately(t *testing.T) {
	m := NewManager(Config{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: time.Second, ExponentialBase: 2.0, Jitter: 0})
	calls := 0
	_, _, err := m.ExecuteWithRetry(context.Background(), func(ctx context.Context, a int) (any, error) {
		calls++
		return nil, errors.New("permanent")
	}, func(error) bool { return false })

	if err == nil {
		t.Fatal("expected error to propagate")
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 call for a non-retryable error, got %d", calls)
	}
}

func TestExecuteWithRetryExhaustionRaisesMaxRetriesExceeded(t *testing.T) {
	m := NewManager(Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, ExponentialBase: 2.0, Jitter: 0})
	calls := 0
	_, _, err := m.ExecuteWithRetry(context.Background(), func(ctx context.Context, a int) (any, error) {
		calls++
		return nil, errors.New("always fails")
	}, func(error) bool { return true })

	var mre *engineerr.MaxRetriesExceeded
	if !errors.As(err, &mre) {
		t.Fatalf("expected MaxRetriesExceeded, got %T: %v", err, err)
	}
	if mre.Attempts != 3 || calls != 3 {
		t.Fatalf("expected 3 attempts recorded, got Attempts=%d calls=%d", mre.Attempts, calls)
	}
}
