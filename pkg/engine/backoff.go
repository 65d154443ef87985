package engine

import (
	"math"
	"math/rand/v2"
	"time"
)

const (
	// MinRetryDelay is the floor applied to every computed delay.
	MinRetryDelay = 100 * time.Millisecond

	// jitterFraction is the maximum relative perturbation applied by jitter.
	jitterFraction = 0.25
)

// ComputeDelay returns the wait before the attempt following attempt.
// attempt is 1-based: ComputeDelay(1, p, nil) is the delay between the first
// and the second attempt. rnd returns values in [0, 1); nil uses math/rand/v2.
func ComputeDelay(attempt int, policy RetryPolicy, rnd func() float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	// Exponential backoff: initial * multiplier^(attempt-1)
	delay := float64(policy.InitialDelay) * math.Pow(policy.BackoffMultiplier, float64(attempt-1))

	// Cap at the policy maximum
	if delay > float64(policy.MaxDelay) || math.IsInf(delay, 0) || math.IsNaN(delay) {
		delay = float64(policy.MaxDelay)
	}

	// Add jitter (±25%)
	if policy.JitterEnabled {
		if rnd == nil {
			rnd = rand.Float64
		}
		delay += delay * jitterFraction * (rnd()*2 - 1)
	}

	d := time.Duration(delay)
	if d < MinRetryDelay {
		d = MinRetryDelay
	}
	return d
}
