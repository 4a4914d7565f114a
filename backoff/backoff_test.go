package backoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitrise-io/go-resumable/transport"
)

func TestShouldRetry(t *testing.T) {
	policy := Default()
	retryable := transport.RetryableFailure{Err: errors.New("503")}

	assert.True(t, policy.ShouldRetry(retryable, 1))
	assert.True(t, policy.ShouldRetry(retryable, 2))
	assert.False(t, policy.ShouldRetry(retryable, 3))

	assert.False(t, policy.ShouldRetry(transport.FatalFailure{Err: errors.New("404")}, 1))
	assert.False(t, policy.ShouldRetry(transport.Cancelled{Err: context.Canceled}, 1))
	assert.False(t, policy.ShouldRetry(transport.Committed{NextOffset: 10}, 1))
}

func TestDelayForWithoutJitter(t *testing.T) {
	policy := Policy{MaxTries: 10, InitialDelay: time.Second, MaxDelay: 10 * time.Second}

	assert.Equal(t, 1*time.Second, policy.DelayFor(1))
	assert.Equal(t, 2*time.Second, policy.DelayFor(2))
	assert.Equal(t, 4*time.Second, policy.DelayFor(3))
	assert.Equal(t, 8*time.Second, policy.DelayFor(4))
	assert.Equal(t, 10*time.Second, policy.DelayFor(5))
	assert.Equal(t, 10*time.Second, policy.DelayFor(40))
}

func TestDelayForWithJitter(t *testing.T) {
	policy := Policy{MaxTries: 10, InitialDelay: time.Second, MaxDelay: 5 * time.Second, Jitter: 500 * time.Millisecond}

	for i := 0; i < 100; i++ {
		delay := policy.DelayFor(2)
		assert.GreaterOrEqual(t, delay, 2*time.Second)
		assert.Less(t, delay, 2500*time.Millisecond)
	}
	for i := 0; i < 100; i++ {
		assert.LessOrEqual(t, policy.DelayFor(3), 5*time.Second)
	}
}

func TestDelayHonorsRetryAfter(t *testing.T) {
	policy := Policy{MaxTries: 3, InitialDelay: time.Second, MaxDelay: 10 * time.Second}

	assert.Equal(t, 7*time.Second, policy.Delay(transport.RetryableFailure{RetryAfter: 7 * time.Second}, 1))
	assert.Equal(t, 10*time.Second, policy.Delay(transport.RetryableFailure{RetryAfter: time.Minute}, 1))
	assert.Equal(t, 2*time.Second, policy.Delay(transport.RetryableFailure{}, 2))
}

func TestWait(t *testing.T) {
	policy := Default()

	start := time.Now()
	require.NoError(t, policy.Wait(context.Background(), 10*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := policy.Wait(ctx, time.Hour)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestWaitNoSleep(t *testing.T) {
	policy := Policy{NoSleep: true}

	require.NoError(t, policy.Wait(context.Background(), time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.True(t, errors.Is(policy.Wait(ctx, time.Hour), context.Canceled))
}

func TestDelayForUncapped(t *testing.T) {
	policy := Policy{InitialDelay: 100 * time.Millisecond}

	assert.Equal(t, 800*time.Millisecond, policy.DelayFor(4))
}
