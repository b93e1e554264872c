package dynamodel

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"go.uber.org/zap"
)

// RetryOptions controls how throttled backend calls and unprocessed batch
// items are retried.
type RetryOptions struct {
	MaxAttempts int                  // total attempts including the first; at least 1
	MaxBackoff  time.Duration        // cap applied by the default backoff
	Backoff     retry.BackoffDelayer // defaults to capped exponential backoff with jitter
}

// DefaultRetryOptions returns the retry options used by NewTable.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MaxAttempts: 8,
		MaxBackoff:  retry.DefaultMaxBackoff,
	}
}

func (o RetryOptions) attempts() int {
	return max(o.MaxAttempts, 1)
}

func (o RetryOptions) delay(attempt int, err error) time.Duration {
	backoff := o.Backoff
	if backoff == nil {
		backoff = retry.NewExponentialJitterBackoff(o.MaxBackoff)
	}
	d, derr := backoff.BackoffDelay(attempt, err)
	if derr != nil {
		return o.MaxBackoff
	}
	return d
}

// NoBackoff retries immediately. It is intended for tests.
var NoBackoff retry.BackoffDelayer = retry.BackoffDelayerFunc(func(int, error) (time.Duration, error) {
	return 0, nil
})

var serverErrorCodes = map[string]struct{}{
	"InternalServerError":            {},
	"ServiceUnavailable":             {},
	"TransactionInProgressException": {},
}

// retryables classifies backend errors the way the SDK's standard retryer
// does: connection failures, 5xx responses and throttling codes, plus the
// DynamoDB server codes above. Canceled requests are never retried.
var retryables = retry.IsErrorRetryables(append([]retry.IsErrorRetryable{
	retry.RetryableErrorCode{Codes: serverErrorCodes},
}, retry.DefaultRetryables...))

// isRetryable reports whether err is a throttling, transport or transient
// server error.
func isRetryable(err error) bool {
	return retryables.IsErrorRetryable(err) == aws.TrueTernary
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// withRetry invokes fn until it succeeds, fails with a non-retryable error or
// the attempt budget is spent.
func withRetry[T any](ctx context.Context, t *Table, op string, fn func() (T, error)) (T, error) {
	var zero T
	attempts := t.Retry.attempts()

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		var out T
		out, err = fn()
		if err == nil {
			return out, nil
		}
		if !isRetryable(err) {
			return zero, err
		}
		if attempt == attempts {
			break
		}

		d := t.Retry.delay(attempt, err)
		t.logger().Debug("retrying throttled request",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", d),
			zap.Error(err))
		if serr := sleep(ctx, d); serr != nil {
			return zero, serr
		}
	}

	t.logger().Warn("retries exhausted", zap.String("operation", op), zap.Int("attempts", attempts), zap.Error(err))
	return zero, &BackendUnavailableError{Operation: op, Attempts: attempts, Err: err}
}
