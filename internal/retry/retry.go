// Package retry wraps source calls with bounded exponential backoff.
//
// Classification is taxonomy-only: retryable failures (rate limit, timeout,
// connection) consume retry budget, terminal failures short-circuit on the
// first attempt. The delay before attempt n doubles from BaseDelay and is
// jittered to [0.5, 1.5) of its value so concurrent callers spread out.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/AakashShah07/Market-Data-Collection-Publishing/internal/source"
)

// Policy bounds retry behavior for one logical operation.
type Policy struct {
	MaxAttempts    int           // total attempts including the first
	BaseDelay      time.Duration // pre-jitter delay before the second attempt
	MaxDelay       time.Duration // pre-jitter cap on the exponential delay, 0 = uncapped
	AttemptTimeout time.Duration // per-attempt deadline, 0 = none
	Logger         *slog.Logger  // nil = silent
}

// DefaultPolicy returns the tuning used when configuration leaves retries
// unset: 3 attempts, 2s base delay capped at 10s, 10s per-attempt timeout.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		BaseDelay:      2 * time.Second,
		MaxDelay:       10 * time.Second,
		AttemptTimeout: 10 * time.Second,
	}
}

// ExhaustedError marks a failure that survived the whole retry budget. The
// last observed failure is the wrapped cause.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Do runs op under p. Retryable failures are retried with jittered
// exponential backoff until the budget runs out, then come back wrapped in
// *ExhaustedError. Terminal failures return immediately, unwrapped. A
// context cancelled between attempts ends the loop with ctx.Err().
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := jitter(backoffDelay(attempt, p.BaseDelay, p.MaxDelay))
			if p.Logger != nil {
				p.Logger.Debug("retrying source call",
					"attempt", attempt,
					"delay", delay,
					"err", lastErr,
				)
			}

			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}

		var (
			v   T
			err error
		)
		if p.AttemptTimeout > 0 {
			attemptCtx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
			v, err = op(attemptCtx)
			cancel()
		} else {
			v, err = op(ctx)
		}

		if err == nil {
			return v, nil
		}
		lastErr = err

		if !source.Retryable(err) {
			return zero, err
		}
	}

	return zero, &ExhaustedError{Attempts: p.MaxAttempts, Err: lastErr}
}

// backoffDelay returns the pre-jitter delay before attempt n (n >= 2):
// base, doubling per attempt, capped at max.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 2; i < attempt; i++ {
		d *= 2
		if max > 0 && d >= max {
			return max
		}
	}
	if max > 0 && d > max {
		return max
	}
	return d
}

// jitter spreads d uniformly over [0.5d, 1.5d).
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d/2 + time.Duration(rand.Int63n(int64(d)))
}
