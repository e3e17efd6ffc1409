package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	errs "imgharvest/pkg/errors"
)

// BackoffStrategy defines the interface for different backoff strategies
type BackoffStrategy interface {
	// NextDelay returns the delay after the given failed attempt (1-based)
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff implements exponential backoff with jitter
type ExponentialBackoff struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	// JitterFactor adds randomness to avoid thundering herd (0.0 to 1.0)
	JitterFactor float64
}

// DefaultExponentialBackoff returns a backoff with sensible defaults
func DefaultExponentialBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		BaseDelay:    1 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// NextDelay calculates the next delay with exponential backoff and jitter
func (eb *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	multiplier := eb.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	delay := float64(eb.BaseDelay) * math.Pow(multiplier, float64(attempt-1))
	if eb.MaxDelay > 0 && delay > float64(eb.MaxDelay) {
		delay = float64(eb.MaxDelay)
	}
	return jitter(delay, eb.JitterFactor)
}

// LinearBackoff implements linear backoff strategy
type LinearBackoff struct {
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	Increment    time.Duration
	JitterFactor float64
}

// NextDelay calculates the next delay with linear backoff
func (lb *LinearBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	delay := float64(lb.BaseDelay + lb.Increment*time.Duration(attempt-1))
	if lb.MaxDelay > 0 && delay > float64(lb.MaxDelay) {
		delay = float64(lb.MaxDelay)
	}
	return jitter(delay, lb.JitterFactor)
}

// ConstantBackoff implements constant delay backoff
type ConstantBackoff struct {
	Delay time.Duration
}

// NextDelay returns a constant delay
func (cb *ConstantBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return cb.Delay
}

// NewBackoff builds a named strategy from a base and a maximum delay.
// Exponential doubles from base, linear adds base per attempt, constant
// always waits base. An empty name means exponential.
func NewBackoff(strategy string, base, maxDelay time.Duration) (BackoffStrategy, error) {
	switch strategy {
	case "", "exponential":
		return &ExponentialBackoff{BaseDelay: base, MaxDelay: maxDelay, Multiplier: 2.0, JitterFactor: 0.1}, nil
	case "linear":
		return &LinearBackoff{BaseDelay: base, MaxDelay: maxDelay, Increment: base, JitterFactor: 0.1}, nil
	case "constant":
		return &ConstantBackoff{Delay: base}, nil
	default:
		return nil, fmt.Errorf("unknown backoff strategy %q", strategy)
	}
}

func jitter(delay, factor float64) time.Duration {
	if factor > 0 {
		spread := delay * factor
		delay += rand.Float64()*2*spread - spread
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// Wait waits for the specified duration or until context is cancelled
func Wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ErrorTypeBackoff picks a strategy from the failure type of the last error
type ErrorTypeBackoff struct {
	NetworkErrorBackoff BackoffStrategy
	// RateLimitBackoff for rate limit errors (typically longer delays)
	RateLimitBackoff   BackoffStrategy
	ServerErrorBackoff BackoffStrategy
	DefaultBackoff     BackoffStrategy
}

// NewErrorTypeBackoff creates a new error-type based backoff scaled from base
func NewErrorTypeBackoff(base, maxDelay time.Duration) *ErrorTypeBackoff {
	return &ErrorTypeBackoff{
		NetworkErrorBackoff: &ExponentialBackoff{
			BaseDelay:    base,
			MaxDelay:     maxDelay,
			Multiplier:   2.0,
			JitterFactor: 0.2,
		},
		RateLimitBackoff: &ExponentialBackoff{
			BaseDelay:    base * 3,
			MaxDelay:     maxDelay * 3,
			Multiplier:   1.5,
			JitterFactor: 0.3,
		},
		ServerErrorBackoff: &ExponentialBackoff{
			BaseDelay:    base,
			MaxDelay:     maxDelay,
			Multiplier:   2.0,
			JitterFactor: 0.1,
		},
		DefaultBackoff: &ExponentialBackoff{
			BaseDelay:    base,
			MaxDelay:     maxDelay,
			Multiplier:   2.0,
			JitterFactor: 0.1,
		},
	}
}

// ForError returns the strategy for err's failure type
func (etb *ErrorTypeBackoff) ForError(err error) BackoffStrategy {
	switch errs.TypeOf(err) {
	case errs.ErrorTypeNetwork, errs.ErrorTypeTimeout:
		return etb.NetworkErrorBackoff
	case errs.ErrorTypeRateLimit:
		return etb.RateLimitBackoff
	case errs.ErrorTypeServerError:
		return etb.ServerErrorBackoff
	default:
		return etb.DefaultBackoff
	}
}
