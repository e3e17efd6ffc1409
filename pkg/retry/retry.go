package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	errs "imgharvest/pkg/errors"
	"imgharvest/pkg/logger"
)

// Operation is a function that performs an operation that might need retrying.
// attempt starts at 1.
type Operation func(ctx context.Context, attempt int) error

// OperationWithResult is a function that returns a result and might need retrying
type OperationWithResult[T any] func(ctx context.Context, attempt int) (T, error)

// Config holds retry configuration
type Config struct {
	// MaxAttempts is the maximum number of attempts; 1 disables retrying
	MaxAttempts int
	Backoff     BackoffStrategy
	// BackoffFor, when set, picks the strategy from the last error and
	// overrides Backoff
	BackoffFor func(error) BackoffStrategy
	// RetryIf determines if an error should be retried
	RetryIf func(error) bool
	// OnRetry is called before each retry attempt
	OnRetry func(attempt int, err error, delay time.Duration)
	Logger  logger.Logger
}

// DefaultConfig returns a retry configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts: 3,
		Backoff:     DefaultExponentialBackoff(),
		RetryIf:     DefaultRetryIf,
		Logger:      logger.NewNopLogger(),
	}
}

// DefaultRetryIf retries typed errors whose failure type is transient
func DefaultRetryIf(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return errs.IsRetryable(errs.TypeOf(err))
}

// ErrExhausted wraps the last error once every attempt failed
var ErrExhausted = errors.New("max retry attempts exceeded")

// Do executes an operation with retry logic
func Do(ctx context.Context, cfg *Config, op Operation) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}
	retryIf := cfg.RetryIf
	if retryIf == nil {
		retryIf = DefaultRetryIf
	}
	maxAttempts := max(cfg.MaxAttempts, 1)

	var lastErr error
	for attempt := 1; ; attempt++ {
		err := op(ctx, attempt)
		if err == nil {
			if attempt > 1 {
				log.DebugWithFields("operation succeeded after retry", map[string]interface{}{
					"attempt": attempt,
				})
			}
			return nil
		}
		lastErr = err

		if ctx.Err() != nil || !retryIf(err) {
			return err
		}
		if attempt >= maxAttempts {
			if maxAttempts == 1 {
				return err
			}
			log.WarnWithFields("max retry attempts exceeded", map[string]interface{}{
				"attempts":   attempt,
				"last_error": lastErr.Error(),
			})
			return fmt.Errorf("%w (%d): %w", ErrExhausted, maxAttempts, lastErr)
		}

		backoff := cfg.Backoff
		if cfg.BackoffFor != nil {
			backoff = cfg.BackoffFor(err)
		}
		var delay time.Duration
		if backoff != nil {
			delay = backoff.NextDelay(attempt)
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, delay)
		}
		log.WarnWithFields("retrying operation", map[string]interface{}{
			"attempt":      attempt,
			"error":        err.Error(),
			"delay_ms":     delay.Milliseconds(),
			"max_attempts": maxAttempts,
		})

		if err := Wait(ctx, delay); err != nil {
			return fmt.Errorf("retry cancelled: %w", err)
		}
	}
}

// DoWithResult executes an operation that returns a result with retry logic
func DoWithResult[T any](ctx context.Context, cfg *Config, op OperationWithResult[T]) (T, error) {
	var result T
	err := Do(ctx, cfg, func(ctx context.Context, attempt int) error {
		var opErr error
		result, opErr = op(ctx, attempt)
		return opErr
	})
	return result, err
}
