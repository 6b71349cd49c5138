// Package backoff computes retry delays for scheduler jobs and for
// redelivery of outcome messages the consumer could not process.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retry attempt n. Attempt 1 is
	// the first retry after the initial failure.
	Delay(attempt int) time.Duration
}

// Constant always waits the same interval. The consumer uses it for
// negative-acknowledge redelivery delays.
type Constant time.Duration

// Delay returns the fixed interval.
func (c Constant) Delay(_ int) time.Duration { return time.Duration(c) }

// Exponential doubles the delay each attempt up to Max. With Jitter set
// the result is drawn uniformly from [0, delay].
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  bool
}

// Delay returns Initial * 2^(attempt-1), capped at Max.
func (e Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(e.Initial) * math.Pow(2, float64(attempt-1))
	if e.Max > 0 && base > float64(e.Max) {
		base = float64(e.Max)
	}
	if e.Jitter {
		return time.Duration(rand.Float64() * base) //nolint:gosec // jitter does not need crypto rand
	}
	return time.Duration(base)
}

// DefaultStrategy is the scheduler's retry backoff: exponential with full
// jitter from 1s to 1m.
func DefaultStrategy() Strategy {
	return Exponential{Initial: time.Second, Max: time.Minute, Jitter: true}
}
