// Package retry implements the exponential-backoff-with-jitter retry core
// of spec §4.6. The regression class this guards against is forgotten
// plumbing: every configured parameter (base delay, max delay,
// exponential base, jitter) must reach the backoff computation rather
// than silently falling back to a hardcoded default, so WaitExponentialJitter
// takes them all as explicit arguments and Manager never substitutes its own.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/tachyon-beep/elspeth/internal/engineerr"
)

// Config is RuntimeRetryConfig: max_attempts, base_delay, max_delay,
// exponential_base, jitter.
type Config struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	ExponentialBase float64
	Jitter          float64
}

// WaitExponentialJitter computes the delay before retry attempt n
// (0-indexed: the delay before the *second* try is attempt=0). It takes
// every tunable explicitly; callers must never hardcode a substitute.
func WaitExponentialJitter(attempt int, baseDelay, maxDelay time.Duration, exponentialBase, jitter float64) time.Duration {
	raw := float64(baseDelay) * math.Pow(exponentialBase, float64(attempt))
	if raw > float64(maxDelay) {
		raw = float64(maxDelay)
	}
	if jitter > 0 {
		spread := raw * jitter
		raw = raw - spread + rand.Float64()*2*spread
		if raw < 0 {
			raw = 0
		}
	}
	return time.Duration(raw)
}

// IsRetryable classifies an error as eligible for another attempt.
type IsRetryable func(error) bool

// Operation is the unit of work retried. It returns the NodeState-worthy
// result alongside any error.
type Operation func(ctx context.Context, attempt int) (any, error)

// Manager runs Operation under Config, sleeping between attempts via
// WaitExponentialJitter and respecting ctx cancellation during the sleep.
type Manager struct {
	cfg Config
}

// NewManager builds a Manager bound to cfg. cfg is never defaulted or
// partially overridden internally.
func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg}
}

// ExecuteWithRetry runs operation, retrying on retryable errors until
// cfg.MaxAttempts is exhausted. A non-retryable error propagates
// immediately without consuming further attempts. On exhaustion it
// returns *engineerr.MaxRetriesExceeded.
func (m *Manager) ExecuteWithRetry(ctx context.Context, op Operation, isRetryable IsRetryable) (any, int, error) {
	var lastErr error
	for attempt := 0; attempt < m.cfg.MaxAttempts; attempt++ {
		result, err := op(ctx, attempt)
		if err == nil {
			return result, attempt, nil
		}
		lastErr = err

		if !isRetryable(err) {
			return nil, attempt, err
		}

		if attempt == m.cfg.MaxAttempts-1 {
			break
		}

		delay := WaitExponentialJitter(attempt, m.cfg.BaseDelay, m.cfg.MaxDelay, m.cfg.ExponentialBase, m.cfg.Jitter)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, attempt, ctx.Err()
		case <-timer.C:
		}
	}

	return nil, m.cfg.MaxAttempts - 1, &engineerr.MaxRetriesExceeded{Attempts: m.cfg.MaxAttempts, LastError: lastErr}
}
