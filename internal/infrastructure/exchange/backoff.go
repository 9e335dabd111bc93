package exchange

import (
	"math/rand"
	"time"
)

// Backoff computes reconnect delays with exponential growth and jitter.
type Backoff struct {
	Min    time.Duration
	Max    time.Duration
	Factor float64
	Jitter float64
}

// DefaultBackoff provides conservative reconnect defaults.
func DefaultBackoff() Backoff {
	return Backoff{
		Min:    500 * time.Millisecond,
		Max:    30 * time.Second,
		Factor: 2.0,
		Jitter: 0.2,
	}
}

// Next returns the delay before the given attempt (1-based).
func (b Backoff) Next(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	wait := b.Min
	if wait <= 0 {
		wait = 100 * time.Millisecond
	}
	limit := b.Max
	if limit <= 0 {
		limit = 30 * time.Second
	}
	factor := b.Factor
	if factor <= 1 {
		factor = 2.0
	}

	for i := 1; i < attempt; i++ {
		next := time.Duration(float64(wait) * factor)
		if next > limit {
			wait = limit
			break
		}
		wait = next
	}

	if b.Jitter <= 0 {
		return wait
	}
	jitter := b.Jitter
	if jitter > 1 {
		jitter = 1
	}
	delta := float64(wait) * jitter
	return wait - time.Duration(delta) + time.Duration(rand.Float64()*2*delta)
}
