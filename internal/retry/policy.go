// Package retry implements the client-side RetryPolicy and server-side
// FailoverPolicy described in §4.8.
package retry

import (
	"context"
	"time"

	"github.com/ryanflavor/aegistrader/internal/backoff"
	"github.com/ryanflavor/aegistrader/internal/domain"
)

// Policy is the immutable client-side retry policy (§4.8).
type Policy struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	JitterFactor      float64
	RetryableErrors   map[domain.ErrorCode]bool
}

// DefaultPolicy returns the default client-side RetryPolicy (§4.8).
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:       5,
		InitialDelay:      100 * time.Millisecond,
		MaxDelay:          5 * time.Second,
		BackoffMultiplier: 2.0,
		JitterFactor:      0.1,
		RetryableErrors: map[domain.ErrorCode]bool{
			domain.ErrNotActive:          true,
			domain.ErrServiceUnavailable: true,
			domain.ErrTimeout:            true,
			domain.ErrElecting:           true,
		},
	}
}

// New validates and constructs a Policy. maxAttempts must be >= 1. A
// non-positive initialDelay or maxDelay, a multiplier below 1, a jitter
// outside [0, 1] or an empty retryable list falls back to the §4.8 default;
// a jitter of 0 is kept and disables jitter.
func New(maxAttempts int, initialDelay, maxDelay time.Duration, multiplier, jitter float64, retryable ...domain.ErrorCode) (Policy, error) {
	d := DefaultPolicy()
	d.MaxAttempts = maxAttempts
	if initialDelay > 0 {
		d.InitialDelay = initialDelay
	}
	if maxDelay > 0 {
		d.MaxDelay = maxDelay
	}
	if multiplier >= 1 {
		d.BackoffMultiplier = multiplier
	}
	if jitter >= 0 && jitter <= 1 {
		d.JitterFactor = jitter
	}
	if len(retryable) > 0 {
		d.RetryableErrors = map[domain.ErrorCode]bool{}
		for _, c := range retryable {
			d.RetryableErrors[c] = true
		}
	}
	if d.MaxAttempts < 1 {
		return Policy{}, domain.NewError(domain.ErrInvalidRequest, "max_attempts must be >= 1")
	}
	if d.MaxDelay < d.InitialDelay {
		return Policy{}, domain.NewError(domain.ErrInvalidRequest, "max_delay must be >= initial_delay")
	}
	return d, nil
}

func (p Policy) isRetryable(code domain.ErrorCode) bool {
	return p.RetryableErrors[code]
}

func (p Policy) backoffPolicy() backoff.Policy {
	return backoff.Policy{
		InitialDelay: p.InitialDelay,
		MaxDelay:     p.MaxDelay,
		Multiplier:   p.BackoffMultiplier,
		JitterFactor: p.JitterFactor,
	}
}

// CacheInvalidator is invoked to drop a cached discovery entry before
// retrying after NOT_ACTIVE, so the next attempt can resolve a new leader.
type CacheInvalidator func(service string)

// Call is the operation retried by Apply. It returns the result and a
// domain error whose Code drives the retry decision.
type Call func(ctx context.Context, attempt int) (result interface{}, err error)

// Apply executes call under p: on a retryable error it waits the computed
// backoff delay (respecting ctx cancellation) and retries, up to
// MaxAttempts. On NOT_ACTIVE it additionally invalidates invalidate(service)
// before the retry delay, per §4.8. After the last attempt it returns the
// last error unmodified.
func Apply(ctx context.Context, p Policy, service string, invalidate CacheInvalidator, call Call) (interface{}, error) {
	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		result, err := call(ctx, attempt)
		if err == nil {
			return result, nil
		}
		lastErr = err

		code := domain.CodeOf(err)
		if !p.isRetryable(code) {
			return nil, err
		}
		if attempt == p.MaxAttempts-1 {
			break
		}
		if code == domain.ErrNotActive && invalidate != nil {
			invalidate(service)
		}

		delay := backoff.Delay(p.backoffPolicy(), attempt)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}
