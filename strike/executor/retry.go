package executor

import (
	"math/rand"
	"time"
)

// Decision is the retry policy's verdict on one failure.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// RetryPolicy decides whether and when a failed attempt is retried.
// Exponential backoff from BaseDelay doubling per attempt up to MaxDelay;
// rate limits wait the fixed RateLimitDelay instead. Jitter spreads
// concurrent retries so agents in the same phase do not stampede.
type RetryPolicy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	RateLimitDelay time.Duration
	Jitter         float64

	// Rand is injectable for deterministic tests. Defaults to rand.Float64.
	Rand func() float64
}

// DefaultRetryPolicy matches the pipeline defaults: three attempts,
// 5s base doubling to a 60s cap, 60s flat wait on rate limits, 20% jitter.
func DefaultRetryPolicy(maxAttempts int) RetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return RetryPolicy{
		MaxAttempts:    maxAttempts,
		BaseDelay:      5 * time.Second,
		MaxDelay:       60 * time.Second,
		RateLimitDelay: 60 * time.Second,
		Jitter:         0.2,
	}
}

// Decide returns the verdict for a failure on the given attempt number
// (1-based). Non-retryable errors and exhausted budgets never retry.
func (p RetryPolicy) Decide(err error, attempt int) Decision {
	if attempt >= p.MaxAttempts {
		return Decision{}
	}
	ee, ok := AsExecError(err)
	if !ok {
		// Unclassified errors are treated as transient.
		return Decision{Retry: true, Delay: p.backoff(attempt)}
	}
	if !ee.Retryable {
		return Decision{}
	}
	if ee.Type == ErrorRateLimit {
		return Decision{Retry: true, Delay: p.jittered(p.RateLimitDelay)}
	}
	return Decision{Retry: true, Delay: p.backoff(attempt)}
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return p.jittered(d)
}

// jittered scales d by a random factor in [1-Jitter, 1+Jitter].
func (p RetryPolicy) jittered(d time.Duration) time.Duration {
	if p.Jitter <= 0 {
		return d
	}
	r := p.Rand
	if r == nil {
		r = rand.Float64
	}
	factor := 1 + p.Jitter*(2*r()-1)
	return time.Duration(float64(d) * factor)
}
