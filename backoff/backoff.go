// Package backoff provides pluggable retry delay strategies.
// All strategies are safe for concurrent use (they are stateless).
package backoff

import (
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before the next retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retrying a job that has
	// already failed `attempts` times (0-indexed: the first failure
	// passes 0).
	Delay(attempts int) time.Duration
}

// Constant always returns the same delay regardless of attempt count.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// Exponential doubles the delay each attempt.
// Delay = min(Base * 2^attempts, Cap).
type Exponential struct {
	Base time.Duration
	Cap  time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(base, cap time.Duration) *Exponential {
	return &Exponential{Base: base, Cap: cap}
}

// Delay returns Base * 2^attempts, capped at Cap.
func (e *Exponential) Delay(attempts int) time.Duration {
	d := e.Base
	for range attempts {
		d *= 2
		if e.Cap > 0 && d >= e.Cap {
			return e.Cap
		}
	}
	if e.Cap > 0 && d > e.Cap {
		return e.Cap
	}
	return d
}

// ExponentialWithJitter applies full jitter to an exponential base:
// a random value in [0, min(Base * 2^attempts, Cap)]. This prevents a
// thundering herd when many retries become eligible simultaneously.
type ExponentialWithJitter struct {
	exp Exponential
}

// NewExponentialWithJitter creates an exponential backoff with full jitter.
func NewExponentialWithJitter(base, cap time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{exp: Exponential{Base: base, Cap: cap}}
}

// Delay returns a random duration in [0, min(Base * 2^attempts, Cap)].
func (e *ExponentialWithJitter) Delay(attempts int) time.Duration {
	bound := e.exp.Delay(attempts)
	return time.Duration(rand.Float64() * float64(bound)) //nolint:gosec // jitter intentionally uses non-crypto rand
}

// Default returns the backoff used when none is configured:
// Exponential with 1s base and 5m cap.
func Default() Strategy {
	return NewExponential(1*time.Second, 5*time.Minute)
}
