// Package backoff computes jittered exponential delays for both the
// client-side RetryPolicy (§4.8) and transport reconnect (§4.1), wrapping
// github.com/cenkalti/backoff/v4 since its exponential/jitter primitives
// are exactly what both call sites need.
package backoff

import (
	"time"

	cb "github.com/cenkalti/backoff/v4"
)

// Policy describes a bounded exponential backoff with jitter.
type Policy struct {
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	Multiplier        float64
	JitterFactor      float64 // [0,1]
}

// NewExponentialBackOff builds a cenkalti/backoff ExponentialBackOff
// configured from p, with infinite retries (the caller bounds attempts).
func (p Policy) NewExponentialBackOff() *cb.ExponentialBackOff {
	b := cb.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	b.MaxInterval = p.MaxDelay
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.JitterFactor
	b.MaxElapsedTime = 0 // caller-bounded via max_attempts, not elapsed time
	return b
}

// Delay computes the delay before retry attempt n (0-indexed: n=0 is the
// delay before the first retry, i.e. after the first failure) by driving a
// fresh cenkalti/backoff ExponentialBackOff through n+1 NextBackOff calls,
// so the exponential growth and jitter are exactly what the wrapped library
// computes rather than a re-derivation of its formula.
func Delay(p Policy, n int) time.Duration {
	b := p.NewExponentialBackOff()
	var d time.Duration
	for i := 0; i <= n; i++ {
		d = b.NextBackOff()
	}
	if d < 0 {
		d = 0
	}
	return d
}
