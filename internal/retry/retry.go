// Package retry is a bounded retry combinator for single-attempt
// asynchronous sends. Policy (attempt limit, delay, what counts as
// retryable) stays out of the transports that use it.
package retry

import (
	"context"
	"time"
)

// Policy bounds a retry loop. Attempts is the total number of tries
// including the first; Delay separates consecutive tries. Retryable decides
// whether a given failure is worth another try; anything else aborts the
// loop immediately.
type Policy struct {
	Attempts  int
	Delay     time.Duration
	Retryable func(error) bool

	// OnRetry, when set, observes each re-attempt just before it runs. The
	// first attempt is never reported.
	OnRetry func(attempt int)
}

// Do runs fn under the policy. Retries are sequential; they never overlap
// for the same logical call. The last error is returned once attempts are
// exhausted or a non-retryable failure occurs. Context cancellation stops
// the loop between attempts.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-time.After(p.Delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			if p.OnRetry != nil {
				p.OnRetry(i + 1)
			}
		}
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
	}
	return err
}
