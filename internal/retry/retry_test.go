package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := fastPolicy().Do(context.Background(), func(ctx context.Context) error {
		calls++
		return boom
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	notFound := errors.New("404")
	calls := 0
	err := fastPolicy().Do(context.Background(), func(ctx context.Context) error {
		calls++
		return Permanent(notFound)
	})
	assert.Equal(t, notFound, err)
	assert.Equal(t, 1, calls)
}

func TestDoHonoursRetryablePredicate(t *testing.T) {
	p := fastPolicy()
	p.Retryable = func(err error) bool { return false }
	calls := 0
	_ = p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("nope")
	})
	assert.Equal(t, 1, calls)
}

func TestDoReturnsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 3, BaseDelay: time.Hour}
	calls := 0
	err := p.Do(ctx, func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("fail")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDelayBackoffIsCapped(t *testing.T) {
	p := Default()
	assert.Equal(t, 4*time.Second, p.Delay(1))
	assert.Equal(t, 8*time.Second, p.Delay(2))
	assert.Equal(t, 32*time.Second, p.Delay(4))
	assert.Equal(t, 60*time.Second, p.Delay(5))
	assert.Equal(t, 60*time.Second, p.Delay(12))
}

func TestValueReturnsResult(t *testing.T) {
	calls := 0
	v, err := Value(context.Background(), fastPolicy(), func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("flaky")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestOnRetryCalledBetweenAttempts(t *testing.T) {
	p := fastPolicy()
	var seen []int
	p.OnRetry = func(attempt int, delay time.Duration, err error) { seen = append(seen, attempt) }
	_ = p.Do(context.Background(), func(ctx context.Context) error { return errors.New("x") })
	assert.Equal(t, []int{1, 2}, seen)
}
