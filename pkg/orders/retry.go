package orders

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"
)

// RetryPolicy bounds how often a retryable failure is attempted again.
type RetryPolicy struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// DefaultRetryPolicy is three attempts with exponential backoff from 200ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second}
}

// backoff computes exponential backoff with 0-25% jitter.
func (p RetryPolicy) backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	delay := p.BaseDelay * time.Duration(1<<uint(attempt))
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay + time.Duration(rand.Int64N(int64(delay/4)+1))
}

func retry[T any](ctx context.Context, p RetryPolicy, logger *slog.Logger, op string, fn func(context.Context) (T, error)) (T, error) {
	attempts := max(p.MaxAttempts, 1)
	var (
		out T
		err error
	)
	for attempt := 0; attempt < attempts; attempt++ {
		out, err = fn(ctx)
		if err == nil || !IsRetryable(err) || ctx.Err() != nil {
			return out, err
		}
		if attempt == attempts-1 {
			break
		}
		delay := p.backoff(attempt)
		logger.Info("Retrying after error", "op", op, "attempt", attempt+1, "delay", delay, "err", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return out, ctx.Err()
		}
	}
	return out, err
}
