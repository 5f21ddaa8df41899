// Package backoff computes jittered exponential delays for retrying
// transient failures, chiefly provider stream opens.
package backoff

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy parameterizes the delay curve. Attempt numbers start at 1.
type Policy struct {
	// Initial is the delay after the first failed attempt.
	Initial time.Duration

	// Max caps the delay regardless of attempt count.
	Max time.Duration

	// Factor multiplies the delay per attempt.
	Factor float64

	// Jitter randomizes the delay upward by up to this fraction, spreading
	// retries from concurrent agents hitting the same provider outage.
	Jitter float64
}

// Default is tuned for model provider rate limits and transient 5xx.
func Default() Policy {
	return Policy{
		Initial: time.Second,
		Max:     30 * time.Second,
		Factor:  2,
		Jitter:  0.1,
	}
}

// Delay returns the jittered delay for an attempt.
func (p Policy) Delay(attempt int) time.Duration {
	return p.delay(attempt, rand.Float64())
}

func (p Policy) delay(attempt int, random float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := float64(p.Initial) * math.Pow(p.Factor, exp)
	jittered := base + base*p.Jitter*random
	return time.Duration(math.Min(jittered, float64(p.Max)))
}

// Sleep waits the attempt's delay, returning early with the context error if
// ctx ends first.
func Sleep(ctx context.Context, p Policy, attempt int) error {
	timer := time.NewTimer(p.Delay(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
