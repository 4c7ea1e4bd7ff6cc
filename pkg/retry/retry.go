// Package retry provides the exponential-backoff policies used by the
// crank loop and the history-log Postgres writer, adapted from
// pkg/backoff/backoff.go's named-policy idiom.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var crankOptions = []backoff.ExponentialBackOffOpts{
	func(b *backoff.ExponentialBackOff) { b.InitialInterval = 500 * time.Millisecond },
	func(b *backoff.ExponentialBackOff) { b.MaxInterval = 10 * time.Second },
	func(b *backoff.ExponentialBackOff) { b.Multiplier = 2 },
	func(b *backoff.ExponentialBackOff) { b.MaxElapsedTime = 0 }, // crank must never give up
}

var historyWriteOptions = []backoff.ExponentialBackOffOpts{
	func(b *backoff.ExponentialBackOff) { b.InitialInterval = 200 * time.Millisecond },
	func(b *backoff.ExponentialBackOff) { b.MaxInterval = 5 * time.Second },
	func(b *backoff.ExponentialBackOff) { b.MaxElapsedTime = 30 * time.Second },
}

// NewCrankBackoff never stops retrying: the crank loop must keep
// trying to make progress for as long as the process runs.
func NewCrankBackoff(_ context.Context) *backoff.ExponentialBackOff {
	return backoff.NewExponentialBackOff(crankOptions...)
}

// NewHistoryWriteBackoff bounds retries of a single Postgres write so
// a persistently down read-projection database doesn't block the
// crank loop forever: the history log is a read model, not
// part of the settlement path.
func NewHistoryWriteBackoff(_ context.Context) *backoff.ExponentialBackOff {
	return backoff.NewExponentialBackOff(historyWriteOptions...)
}
