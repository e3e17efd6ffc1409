package ratelimit

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"imgharvest/pkg/logger"
	"imgharvest/pkg/retry"
)

// Pacer decides the pause between two categories
type Pacer interface {
	// Delay returns the pause before the next category. rateLimited reports
	// whether the category that just finished was throttled by the engine.
	Delay(rateLimited bool) time.Duration
}

// Pause sleeps for the pacer's delay. Only cancellation cuts it short.
func Pause(ctx context.Context, p Pacer, rateLimited bool, log logger.Logger) (time.Duration, error) {
	d := p.Delay(rateLimited)
	if log != nil {
		reason := "politeness"
		if rateLimited {
			reason = "rate_limited"
		}
		logger.LogPacing(log, d, reason)
	}
	return d, sleep(ctx, d)
}

// Fixed pauses for the same duration every time
type Fixed time.Duration

func (f Fixed) Delay(bool) time.Duration { return time.Duration(f) }

// Jitter pauses for a uniformly random duration in [Min, Max]
type Jitter struct {
	Min, Max time.Duration

	mu   sync.Mutex
	rand *rand.Rand
}

// NewJitter creates a bounded random pacer. Max below Min is raised to Min.
func NewJitter(minDelay, maxDelay time.Duration) *Jitter {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &Jitter{Min: minDelay, Max: maxDelay}
}

// NewSeededJitter is NewJitter with a deterministic random source
func NewSeededJitter(minDelay, maxDelay time.Duration, seed uint64) *Jitter {
	j := NewJitter(minDelay, maxDelay)
	j.rand = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	return j
}

func (j *Jitter) Delay(bool) time.Duration {
	span := int64(j.Max - j.Min)
	if span <= 0 {
		return j.Min
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.rand == nil {
		return j.Min + time.Duration(rand.Int64N(span+1))
	}
	return j.Min + time.Duration(j.rand.Int64N(span+1))
}

// Adaptive wraps a pacer and adds exponential backoff after each consecutive
// rate-limited category. A category that was not throttled resets it.
type Adaptive struct {
	base    Pacer
	backoff *retry.ExponentialBackoff

	mu      sync.Mutex
	strikes int
}

// NewAdaptive creates an adaptive pacer whose extra delay starts at step and
// never exceeds maxExtra.
func NewAdaptive(base Pacer, step, maxExtra time.Duration) *Adaptive {
	return &Adaptive{
		base: base,
		backoff: &retry.ExponentialBackoff{
			BaseDelay:  step,
			MaxDelay:   maxExtra,
			Multiplier: 2.0,
		},
	}
}

func (a *Adaptive) Delay(rateLimited bool) time.Duration {
	d := a.base.Delay(rateLimited)

	a.mu.Lock()
	defer a.mu.Unlock()
	if !rateLimited {
		a.strikes = 0
		return d
	}
	a.strikes++
	return d + a.backoff.NextDelay(a.strikes)
}

// Strikes returns the number of consecutive rate-limited categories
func (a *Adaptive) Strikes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.strikes
}
