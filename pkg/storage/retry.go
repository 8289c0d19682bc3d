package storage

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/lib/pq"
)

// retryablePQCodes are the PostgreSQL error classes that indicate a
// transient conflict rather than a real failure: serialization failures
// and deadlocks, both of which a retried transaction can resolve.
var retryablePQCodes = map[pq.ErrorCode]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
}

// IsRetryable reports whether err is a transient PostgreSQL conflict that
// a caller should retry rather than surface to the user.
func IsRetryable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return retryablePQCodes[pqErr.Code]
	}
	return false
}

// RetryOpts bounds the exponential backoff used by WithRetryTx.
type RetryOpts struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func (o RetryOpts) withDefaults() RetryOpts {
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 5
	}
	if o.BaseDelay == 0 {
		o.BaseDelay = 10 * time.Millisecond
	}
	if o.MaxDelay == 0 {
		o.MaxDelay = 500 * time.Millisecond
	}
	return o
}

// WithRetryTx runs fn inside a transaction, retrying with exponential
// backoff (plus jitter) when the transaction fails with a retryable
// PostgreSQL conflict. Used by every FSM transition per spec's
// "on a retryable DB error the transition is retried with exponential
// backoff up to a bounded number of attempts" requirement.
func (s *Store) WithRetryTx(ctx context.Context, opts RetryOpts, fn func(ctx context.Context) error) error {
	opts = opts.withDefaults()
	var lastErr error
	for attempt := 0; attempt < opts.MaxAttempts; attempt++ {
		lastErr = s.WithTx(ctx, fn)
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
		delay := backoffDelay(attempt, opts.BaseDelay, opts.MaxDelay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	d := base << attempt
	if d > max || d <= 0 {
		d = max
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 2 + 1))
	return d/2 + jitter
}
