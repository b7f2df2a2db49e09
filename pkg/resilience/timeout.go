// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	"time"

	"github.com/jllopis/aion/pkg/errors"
)

// WithTimeout races fn against d. On expiry it returns a CodeTimeout error
// without waiting for fn, which keeps running with a canceled context.
// A zero d runs fn directly.
func WithTimeout[T any](ctx context.Context, d time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, d)

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		defer cancel()
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	select {
	case res := <-done:
		// fn may notice the deadline before the timer branch is chosen.
		if res.err != nil && ctx.Err() == context.DeadlineExceeded {
			var zero T
			return zero, timeoutError(d, ctx.Err())
		}
		return res.value, res.err
	case <-ctx.Done():
		var zero T
		if ctx.Err() == context.DeadlineExceeded {
			return zero, timeoutError(d, ctx.Err())
		}
		return zero, errors.New(errors.CodeContextLost, "context canceled", ctx.Err())
	}
}

func timeoutError(d time.Duration, cause error) *errors.Error {
	return errors.New(errors.CodeTimeout, "operation exceeded timeout", cause).
		WithContext("timeout", d.String()).
		WithRecoverable(true)
}
