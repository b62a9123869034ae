// retry.go wraps a store operation with bounded retry for the error
// kinds spec.md marks retriable (errs.Kind.Retriable(): Timeout,
// ResourceError) — transient MDBX lock contention or a momentarily
// full map, not data errors.
//
// The retry policy is cenkalti/backoff/v4's exponential-with-jitter
// backoff.
package store

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kvgraph/triplestore/internal/errs"
)

// RetryOptions bounds a WithRetry call.
type RetryOptions struct {
	MaxElapsed time.Duration
	MaxRetries uint64
}

func DefaultRetryOptions() RetryOptions {
	return RetryOptions{MaxElapsed: 10 * time.Second, MaxRetries: 5}
}

// WithRetry runs op, retrying on retriable errors per opts, and
// returns the first non-retriable error or op's eventual success.
func WithRetry(ctx context.Context, opts RetryOptions, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 20 * time.Millisecond
	bo.MaxElapsedTime = opts.MaxElapsed
	bounded := backoff.WithMaxRetries(bo, opts.MaxRetries)
	withCtx := backoff.WithContext(bounded, ctx)

	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !errs.KindOf(err).Retriable() {
			return backoff.Permanent(err)
		}
		return err
	}, withCtx)
}
