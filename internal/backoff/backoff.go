// Package backoff computes exponential retry delays for the step
// engine's transport retry loop.
package backoff

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy parameterizes an exponential backoff schedule: the delay for
// attempt n (1-indexed) is min(Cap, Base * Factor^(n-1)), stretched by
// up to Jitter*delay of randomness when Jitter is non-zero.
type Policy struct {
	Base   time.Duration
	Cap    time.Duration
	Factor float64

	// Jitter is the randomization fraction (0.0 to 1.0) added on top of
	// the computed delay.
	Jitter float64
}

// Core returns the transport-retry schedule: base 1s, factor 2, cap
// 30s, no jitter. Jitter stays zero so the schedule is deterministic
// for tests that assert exact delays; callers that want spread can set
// it on their own Policy.
func Core() Policy {
	return Policy{Base: time.Second, Cap: 30 * time.Second, Factor: 2}
}

// Delay returns the backoff duration for attempt (1-indexed).
func (p Policy) Delay(attempt int) time.Duration {
	return p.delayWithRand(attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// delayWithRand separates the random contribution so tests can pin it.
func (p Policy) delayWithRand(attempt int, random float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	d := float64(p.Base) * math.Pow(p.Factor, exp)
	d += d * p.Jitter * random
	if limit := float64(p.Cap); p.Cap > 0 && d > limit {
		d = limit
	}
	return time.Duration(d)
}

// Sleep blocks for the attempt's delay, returning early with ctx.Err()
// if ctx is cancelled first.
func (p Policy) Sleep(ctx context.Context, attempt int) error {
	d := p.Delay(attempt)
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
