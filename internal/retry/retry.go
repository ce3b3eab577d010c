// Package retry runs operations with bounded attempts and jittered
// exponential backoff. Waiting suspends only the calling goroutine.
package retry

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/JakeFAU/docs-archiver/internal/failure"
)

// Jitter selects how computed waits are randomized.
type Jitter string

const (
	// JitterNone sleeps the exact computed backoff.
	JitterNone Jitter = "none"
	// JitterFull draws uniformly from [0, wait].
	JitterFull Jitter = "full"
	// JitterDecorrelated draws uniformly from [baseDelay, previousWait*3],
	// capped at MaxDelay. Anchoring to the previous wait keeps independent
	// concurrent callers from retrying in lockstep.
	JitterDecorrelated Jitter = "decorrelated"
)

// OnRetry observes a failed attempt before the executor waits. It has no
// control-flow effect.
type OnRetry func(attempt int, err error, wait time.Duration)

// Options bound one retried operation.
type Options struct {
	MaxAttempts int
	Delay       time.Duration
	Backoff     float64
	MaxDelay    time.Duration
	Jitter      Jitter
	OnRetry     OnRetry
}

// FromPolicy converts a failure.RetryPolicy into executor options.
func FromPolicy(p failure.RetryPolicy, jitter Jitter) Options {
	return Options{
		MaxAttempts: p.MaxAttempts,
		Delay:       p.BaseDelay,
		Backoff:     p.Multiplier,
		MaxDelay:    p.MaxDelay,
		Jitter:      jitter,
	}
}

// Do runs op up to MaxAttempts times, waiting between attempts. The success
// value of the first passing attempt is returned; after the final failed
// attempt the last error is returned unchanged. Cancelling ctx during a wait
// aborts with the context error.
func Do[T any](ctx context.Context, opts Options, op func(context.Context) (T, error)) (T, error) {
	var zero T
	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = 1
	}

	var lastErr error
	prevWait := opts.Delay
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if attempt == attempts {
			break
		}

		wait := nextWait(opts, backoff, attempt, prevWait)
		prevWait = wait
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, err, wait)
		}
		if err := sleep(ctx, wait); err != nil {
			return zero, fmt.Errorf("retry wait after attempt %d: %w", attempt, err)
		}
	}
	return zero, lastErr
}

func nextWait(opts Options, backoff float64, attempt int, prevWait time.Duration) time.Duration {
	if opts.Jitter == JitterDecorrelated {
		wait := randBetween(opts.Delay, 3*prevWait)
		return capWait(wait, opts.MaxDelay)
	}
	wait := time.Duration(float64(opts.Delay) * math.Pow(backoff, float64(attempt-1)))
	wait = capWait(wait, opts.MaxDelay)
	if opts.Jitter == JitterFull {
		wait = randBetween(0, wait)
	}
	return wait
}

func capWait(wait, ceiling time.Duration) time.Duration {
	if ceiling > 0 && wait > ceiling {
		return ceiling
	}
	return wait
}

// randBetween draws uniformly from [lo, hi]. A degenerate range returns lo.
func randBetween(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	span := big.NewInt(int64(hi-lo) + 1)
	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return lo + (hi-lo)/2
	}
	return lo + time.Duration(n.Int64())
}

func sleep(ctx context.Context, wait time.Duration) error {
	if wait <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
