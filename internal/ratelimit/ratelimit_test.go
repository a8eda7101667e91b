package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiterBurstThenRefill(t *testing.T) {
	m := NewMemoryLimiter(10, 2) // 10/s, burst 2
	defer m.Close()
	ctx := context.Background()

	ok, err := m.Allow(ctx, "cloud_a")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = m.Allow(ctx, "cloud_a")
	assert.True(t, ok)
	ok, _ = m.Allow(ctx, "cloud_a")
	assert.False(t, ok, "burst of 2 exhausted")

	time.Sleep(150 * time.Millisecond) // ~1.5 tokens refill
	ok, _ = m.Allow(ctx, "cloud_a")
	assert.True(t, ok)
}

func TestMemoryLimiterKeysAreIndependent(t *testing.T) {
	m := NewMemoryLimiter(1, 1)
	defer m.Close()
	ctx := context.Background()

	ok, _ := m.Allow(ctx, "a")
	assert.True(t, ok)
	ok, _ = m.Allow(ctx, "a")
	assert.False(t, ok)
	ok, _ = m.Allow(ctx, "b")
	assert.True(t, ok, "a's exhaustion must not affect b")
}

func TestIntervalZeroNeverBlocks(t *testing.T) {
	var gate *Interval
	assert.NoError(t, gate.Wait(context.Background()), "nil gate is a no-op")

	gate = NewInterval(0)
	start := time.Now()
	for range 5 {
		require.NoError(t, gate.Wait(context.Background()))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestIntervalSpacing(t *testing.T) {
	gate := NewInterval(60 * time.Millisecond)
	start := time.Now()
	for range 3 {
		require.NoError(t, gate.Wait(context.Background()))
	}
	assert.GreaterOrEqual(t, time.Since(start), 120*time.Millisecond)
}

func TestIntervalRespectsContext(t *testing.T) {
	gate := NewInterval(time.Hour)
	require.NoError(t, gate.Wait(context.Background()), "first call claims the slot immediately")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := gate.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
