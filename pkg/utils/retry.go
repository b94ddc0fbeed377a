package utils

import (
	"context"
	"errors"
	"math"
	"time"
)

// RetryPolicy holds the parameters for the retry strategy.
// Attempt n (0-based) that fails waits BaseDelay * BackoffFactor^n before the next one
type RetryPolicy struct {
	MaxAttempts   int
	BackoffFactor float64
	BaseDelay     time.Duration

	// OnRetry is called after a failed attempt that will be retried
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultRetryPolicy is 3 attempts waiting 1s then 2s
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BackoffFactor: 2, BaseDelay: time.Second}
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. Retry returns the wrapped error as is
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Wait returns the delay after the given failed attempt
func (p RetryPolicy) Wait(attempt int) time.Duration {
	return time.Duration(float64(p.BaseDelay) * math.Pow(p.BackoffFactor, float64(attempt)))
}

// Retry executes fn until it succeeds or the policy is exhausted.
// The last error is returned unchanged so callers can branch on its kind
func Retry[T any](ctx context.Context, p RetryPolicy, fn func() (T, error)) (T, error) {
	var zero T
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return zero, perm.err
		}
		lastErr = err

		if attempt == attempts-1 {
			break
		}

		wait := p.Wait(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, err, wait)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
	return zero, lastErr
}
