package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cfgForTest() Config {
	return Config{
		CallTimeout:   time.Second,
		RollingWindow: time.Minute,
		MinCalls:      4,
		FailureRatio:  0.5,
		ResetTimeout:  10 * time.Second,
	}
}

func TestBreakerOpensAtFailureThreshold(t *testing.T) {
	now := time.UnixMilli(0)
	reg := NewRegistryWithClock(cfgForTest(), func() time.Time { return now })
	b := reg.Get("A:sendWebhook")
	ctx := context.Background()
	errBoom := errors.New("boom")

	fail := func(ctx context.Context) error { return errBoom }
	ok := func(ctx context.Context) error { return nil }

	require.NoError(t, b.Call(ctx, ok))
	require.Error(t, b.Call(ctx, fail))
	require.Error(t, b.Call(ctx, fail))
	// 2/3 failures so far, below MinCalls of 4; still closed.
	assert.Equal(t, Closed, b.State())

	require.Error(t, b.Call(ctx, fail))
	// 3/4 failures = 75% >= 50%: breaker opens.
	assert.Equal(t, Open, b.State())

	err := b.Call(ctx, ok)
	assert.ErrorIs(t, err, ErrOpen, "open breaker must fail fast without calling fn")
}

func TestBreakerHalfOpensAfterResetTimeout(t *testing.T) {
	now := time.UnixMilli(0)
	reg := NewRegistryWithClock(cfgForTest(), func() time.Time { return now })
	b := reg.Get("B:deleteMessage")
	ctx := context.Background()
	errBoom := errors.New("boom")

	for i := 0; i < 4; i++ {
		_ = b.Call(ctx, func(ctx context.Context) error { return errBoom })
	}
	require.Equal(t, Open, b.State())

	now = now.Add(11 * time.Second)
	assert.Equal(t, HalfOpen, b.State())

	// A single successful probe closes the breaker.
	require.NoError(t, b.Call(ctx, func(ctx context.Context) error { return nil }))
	assert.Equal(t, Closed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	now := time.UnixMilli(0)
	reg := NewRegistryWithClock(cfgForTest(), func() time.Time { return now })
	b := reg.Get("B:deleteMessage")
	ctx := context.Background()
	errBoom := errors.New("boom")

	for i := 0; i < 4; i++ {
		_ = b.Call(ctx, func(ctx context.Context) error { return errBoom })
	}
	now = now.Add(11 * time.Second)
	require.Equal(t, HalfOpen, b.State())

	err := b.Call(ctx, func(ctx context.Context) error { return errBoom })
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, Open, b.State())
}

func TestRegistryReturnsIndependentBreakersPerName(t *testing.T) {
	reg := NewRegistry(cfgForTest())
	a := reg.Get("A:sendWebhook")
	b := reg.Get("B:sendWebhook")
	assert.NotSame(t, a, b)
	assert.Same(t, a, reg.Get("A:sendWebhook"))
}
