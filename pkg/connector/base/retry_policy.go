package base

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Backoff selects how the delay grows between attempts
type Backoff string

const (
	// BackoffFixed waits InitialDelay before every retry
	BackoffFixed Backoff = "fixed"
	// BackoffExponential multiplies the delay by Multiplier after every retry
	BackoffExponential Backoff = "exponential"
)

// RetryPolicy defines retry behavior. MaxRetries counts reattempts after the
// first failure, so an operation runs at most MaxRetries+1 times.
type RetryPolicy struct {
	MaxRetries      int
	Backoff         Backoff
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	RandomizeFactor float64
}

// NewFixedPolicy retries up to maxRetries times, waiting interval each time
func NewFixedPolicy(maxRetries int, interval time.Duration) *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:   maxRetries,
		Backoff:      BackoffFixed,
		InitialDelay: interval,
		MaxDelay:     interval,
		Multiplier:   1,
	}
}

// NewExponentialPolicy retries up to maxRetries times with exponential backoff
func NewExponentialPolicy(maxRetries int, initialDelay, maxDelay time.Duration, multiplier float64) *RetryPolicy {
	if maxDelay <= 0 {
		maxDelay = 5 * time.Minute
	}
	if multiplier < 1 {
		multiplier = 2.0
	}
	return &RetryPolicy{
		MaxRetries:   maxRetries,
		Backoff:      BackoffExponential,
		InitialDelay: initialDelay,
		MaxDelay:     maxDelay,
		Multiplier:   multiplier,
	}
}

// ExecuteWithCondition runs fn, retrying while shouldRetry accepts the error
// and retries remain. onRetry, when set, is called before each wait.
func (rp *RetryPolicy) ExecuteWithCondition(ctx context.Context, fn func() error, shouldRetry func(error) bool, onRetry func(retry int, delay time.Duration, err error)) error {
	var lastErr error

	for attempt := 0; attempt <= rp.MaxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		if !shouldRetry(err) {
			return err
		}

		// Don't wait after the last attempt
		if attempt == rp.MaxRetries {
			break
		}

		delay := rp.Delay(attempt)
		if onRetry != nil {
			onRetry(attempt+1, delay, err)
		}
		if err := Wait(ctx, delay); err != nil {
			return fmt.Errorf("retry cancelled: %w", err)
		}
	}

	return fmt.Errorf("all %d attempts failed: %w", rp.MaxRetries+1, lastErr)
}

// Delay returns the wait before retry number attempt+1 (attempt is zero based).
func (rp *RetryPolicy) Delay(attempt int) time.Duration {
	delay := float64(rp.InitialDelay)

	if rp.Backoff == BackoffExponential {
		delay *= math.Pow(rp.Multiplier, float64(attempt))
		if rp.MaxDelay > 0 && delay > float64(rp.MaxDelay) {
			delay = float64(rp.MaxDelay)
		}
	}

	// Apply randomization factor (jitter)
	if rp.RandomizeFactor > 0 {
		delta := delay * rp.RandomizeFactor
		minDelay := delay - delta
		maxDelay := delay + delta

		delay = minDelay + (rand.Float64() * (maxDelay - minDelay)) //nolint:gosec // jitter, not security
	}

	return time.Duration(delay)
}

// Clone creates a copy of the retry policy
func (rp *RetryPolicy) Clone() *RetryPolicy {
	c := *rp
	return &c
}

// WithRandomization returns a new policy with updated randomization
func (rp *RetryPolicy) WithRandomization(factor float64) *RetryPolicy {
	policy := rp.Clone()
	policy.RandomizeFactor = factor
	return policy
}

// Wait blocks for d or until ctx is done.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
