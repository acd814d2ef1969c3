package chat

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds the exponential pause between failed attempts. A
// non-positive Initial disables the pause.
type RetryPolicy struct {
	Initial time.Duration
	Max     time.Duration
}

// DefaultRetryPolicy waits 250ms, doubling up to 2s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Initial: 250 * time.Millisecond, Max: 2 * time.Second}
}

// NoRetryDelay retries immediately.
func NoRetryDelay() RetryPolicy { return RetryPolicy{} }

func (p RetryPolicy) backOff() backoff.BackOff {
	if p.Initial <= 0 {
		return &backoff.ZeroBackOff{}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.MaxInterval = max(p.Max, p.Initial)
	b.Reset()
	return b
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
