// Package retry runs an operation with exponential backoff.
//
// It is used at startup for dependencies that may come up after the service,
// such as the NATS server:
//
//	err := retry.Do(ctx, cfg, func() error {
//	    return client.Connect(ctx)
//	})
//
// Errors wrapped with NonRetryable stop the loop immediately. Cancelling the
// context stops the loop during backoff. MaxAttempts counts the first attempt.
package retry
