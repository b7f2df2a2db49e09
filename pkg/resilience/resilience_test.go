// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jllopis/aion/pkg/errors"
)

func fastRetry(n int) RetryConfig {
	return RetryConfig{MaxAttempts: n, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestRetrySucceedsAfterTransientErrors(t *testing.T) {
	attempts := 0
	var retried []int
	rc := fastRetry(3)
	rc.OnRetry = func(attempt int, _ error, _ time.Duration) { retried = append(retried, attempt) }

	err := rc.Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return stderrors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestRetryReturnsLastError(t *testing.T) {
	attempts := 0
	err := fastRetry(2).Do(context.Background(), func() error {
		attempts++
		return stderrors.New("always fails")
	})
	assert.EqualError(t, err, "always fails")
	assert.Equal(t, 2, attempts)
}

func TestRetryStopsOnNonRecoverable(t *testing.T) {
	attempts := 0
	err := fastRetry(5).Do(context.Background(), func() error {
		attempts++
		return errors.New(errors.CodeConfiguration, "bad command", nil)
	})
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rc := RetryConfig{MaxAttempts: 3, InitialDelay: time.Hour}
	err := rc.Do(ctx, func() error { return stderrors.New("x") })
	assert.Equal(t, errors.CodeContextLost, errors.CodeOf(err))
}

func TestBackoffIsCapped(t *testing.T) {
	rc := RetryConfig{InitialDelay: 10 * time.Millisecond, MaxDelay: 15 * time.Millisecond}
	assert.Equal(t, 10*time.Millisecond, rc.backoff(1))
	assert.Equal(t, 15*time.Millisecond, rc.backoff(3))
}

func TestWithTimeout(t *testing.T) {
	v, err := WithTimeout(context.Background(), time.Second, func(context.Context) (string, error) {
		return "done", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "done", v)

	release := make(chan struct{})
	defer close(release)
	_, err = WithTimeout(context.Background(), 10*time.Millisecond, func(context.Context) (string, error) {
		<-release
		return "late", nil
	})
	assert.ErrorIs(t, err, errors.ErrTimeout)

	v, err = WithTimeout(context.Background(), 0, func(context.Context) (string, error) { return "direct", nil })
	require.NoError(t, err)
	assert.Equal(t, "direct", v)
}

func TestBreaker(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "worker", FailureThreshold: 2, Cooldown: time.Minute})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }

	require.NoError(t, b.Allow())
	b.Failure()
	require.NoError(t, b.Allow())
	b.Failure()
	assert.Equal(t, BreakerOpen, b.State())
	assert.Error(t, b.Allow())

	now = now.Add(2 * time.Minute)
	require.NoError(t, b.Allow())
	assert.Equal(t, BreakerHalfOpen, b.State())
	b.Failure()
	assert.Equal(t, BreakerOpen, b.State())

	now = now.Add(2 * time.Minute)
	require.NoError(t, b.Allow())
	b.Success()
	assert.Equal(t, BreakerClosed, b.State())
}
