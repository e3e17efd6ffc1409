// Package retry provides bounded retries with backoff for transient failures
// such as dropped connections, 5xx responses and rate limiting.
//
//	err := retry.Do(ctx, &retry.Config{
//		MaxAttempts: 3,
//		BackoffFor:  retry.NewErrorTypeBackoff(time.Second, 30*time.Second).ForError,
//		Logger:      log,
//	}, func(ctx context.Context, attempt int) error {
//		return client.Download(ctx, url)
//	})
//
// Only errors whose failure type is transient are retried by default (see
// errors.IsRetryable). A MaxAttempts of 1 runs the operation exactly once.
package retry
