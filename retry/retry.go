package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"
)

// Policy controls backoff between retries. MaxAttempts counts retries, not
// invocations: a call may run MaxAttempts+1 times in total. Zero MaxAttempts
// disables retrying.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// DefaultPolicy matches the usual provider guidance: up to 2 retries starting
// at half a second, doubling, capped at 8 seconds.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  2,
		InitialDelay: 500 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     8 * time.Second,
	}
}

// ExhaustedError reports that all attempts failed. It wraps the last error so
// errors.Is still reaches the underlying sentinel.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Delay computes the backoff before retry n (1-based): the exponential delay
// with a ±15% jitter applied before capping at MaxDelay, so the cap is a hard
// upper bound on the actual sleep.
func (p Policy) Delay(n int) time.Duration {
	d := float64(p.InitialDelay)
	for i := 1; i < n; i++ {
		d *= p.Multiplier
	}
	d *= 0.85 + 0.3*rand.Float64()
	if max := float64(p.MaxDelay); p.MaxDelay > 0 && d > max {
		d = max
	}
	return time.Duration(d)
}

// Do invokes op until it succeeds, fails permanently, the retry budget runs
// out, or ctx is done. Only errors classified transient are retried; a nil
// classifier means no retries. After exhaustion the last error is returned
// wrapped in an ExhaustedError.
func Do[T any](ctx context.Context, p Policy, c Classifier, logger *slog.Logger, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if logger == nil {
		logger = slog.Default()
	}

	total := p.MaxAttempts + 1
	if c == nil {
		total = 1
	}
	var lastErr error
	for attempt := 1; attempt <= total; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if c == nil {
			return zero, err
		}
		cl := c.Classify(err)
		if !cl.Retryable() {
			return zero, err
		}
		if attempt == total {
			return zero, &ExhaustedError{Attempts: total, Err: lastErr}
		}

		delay := p.Delay(attempt)
		logger.Warn("retrying after transient error",
			"attempt", attempt,
			"max_attempts", p.MaxAttempts,
			"delay", delay,
			"category", cl.Category.String(),
			"error", err,
		)
		if err := sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
	return zero, lastErr
}

// sleep waits for d or until ctx is done, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
