package embedding

import (
	"context"
	"errors"
	"time"
)

// transientError marks a failure worth retrying: 5xx responses, connection
// failures, timeouts. Anything unmarked fails immediately.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// markTransient wraps err so that isTransient reports true for it.
func markTransient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

func isTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}

// retryPolicy parameterizes one retry loop: total attempt count, per-retry
// backoff schedule, and a predicate deciding whether an error is retryable.
type retryPolicy struct {
	maxAttempts int
	backoff     []time.Duration
	retryable   func(error) bool
}

// run invokes attempt until it succeeds, exhausts maxAttempts, returns a
// non-retryable error, or ctx is cancelled. The last error is returned.
func (p retryPolicy) run(ctx context.Context, attempt func(context.Context) error) error {
	var lastErr error
	for i := 0; i < p.maxAttempts; i++ {
		if i > 0 {
			wait := p.backoff[len(p.backoff)-1]
			if i-1 < len(p.backoff) {
				wait = p.backoff[i-1]
			}
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		lastErr = attempt(ctx)
		if lastErr == nil {
			return nil
		}
		if !p.retryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}
