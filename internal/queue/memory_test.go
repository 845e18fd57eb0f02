package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openvault/staked/internal/clock"
)

var queueStart = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func TestMemoryDeliversInOrder(t *testing.T) {
	clk := clock.NewSimulated(queueStart)
	m := NewMemory(clk)

	var got []string
	m.Subscribe("work", func(ctx context.Context, job Job) error {
		var s string
		require.NoError(t, json.Unmarshal(job.Payload, &s))
		got = append(got, s)
		return nil
	}, SubscribeOptions{})

	ctx := context.Background()
	require.NoError(t, m.Enqueue(ctx, "work", "a", EnqueueOptions{}))
	require.NoError(t, m.Enqueue(ctx, "work", "b", EnqueueOptions{}))
	require.NoError(t, m.Drain(ctx))

	assert.Equal(t, []string{"a", "b"}, got)
	assert.Empty(t, m.Pending())
	assert.Empty(t, m.Dead())
}

func TestMemoryDelayedJobWaitsForClock(t *testing.T) {
	clk := clock.NewSimulated(queueStart)
	m := NewMemory(clk)

	delivered := 0
	m.Subscribe("work", func(ctx context.Context, job Job) error {
		delivered++
		return nil
	}, SubscribeOptions{})

	ctx := context.Background()
	require.NoError(t, m.Enqueue(ctx, "work", struct{}{}, EnqueueOptions{Delay: time.Minute}))
	require.NoError(t, m.Drain(ctx))
	assert.Zero(t, delivered)

	next, ok := m.NextRunAt()
	require.True(t, ok)
	clk.Advance(next.Sub(clk.Now()))
	require.NoError(t, m.Drain(ctx))
	assert.Equal(t, 1, delivered)
}

func TestMemoryRetriesWithBackoff(t *testing.T) {
	clk := clock.NewSimulated(queueStart)
	m := NewMemory(clk)

	attempts := 0
	m.Subscribe("work", func(ctx context.Context, job Job) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	}, SubscribeOptions{Backoff: 10 * time.Second})

	ctx := context.Background()
	require.NoError(t, m.Enqueue(ctx, "work", struct{}{}, EnqueueOptions{MaxAttempts: 5}))

	require.NoError(t, m.Drain(ctx))
	assert.Equal(t, 1, attempts)

	// First retry is scheduled one base delay out.
	next, ok := m.NextRunAt()
	require.True(t, ok)
	assert.Equal(t, clk.Now().Add(10*time.Second), next)

	clk.Advance(10 * time.Second)
	require.NoError(t, m.Drain(ctx))
	assert.Equal(t, 2, attempts)

	// Second retry doubles.
	next, ok = m.NextRunAt()
	require.True(t, ok)
	assert.Equal(t, clk.Now().Add(20*time.Second), next)

	clk.Advance(20 * time.Second)
	require.NoError(t, m.Drain(ctx))
	assert.Equal(t, 3, attempts)
	assert.Empty(t, m.Pending())
	assert.Empty(t, m.Dead())
}

func TestMemoryDeadLettersAfterMaxAttempts(t *testing.T) {
	clk := clock.NewSimulated(queueStart)
	m := NewMemory(clk)

	attempts := 0
	m.Subscribe("work", func(ctx context.Context, job Job) error {
		attempts++
		return errors.New("permanent")
	}, SubscribeOptions{Backoff: time.Second})

	ctx := context.Background()
	require.NoError(t, m.Enqueue(ctx, "work", struct{}{}, EnqueueOptions{MaxAttempts: 2}))

	for i := 0; i < 5; i++ {
		require.NoError(t, m.Drain(ctx))
		if next, ok := m.NextRunAt(); ok {
			clk.Advance(next.Sub(clk.Now()))
		}
	}

	assert.Equal(t, 2, attempts)
	require.Len(t, m.Dead(), 1)
	assert.Empty(t, m.Pending())
}

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, defaultBackoff, retryDelay(0, 1))
	assert.Equal(t, 2*time.Second, retryDelay(time.Second, 2))
	assert.Equal(t, 8*time.Second, retryDelay(time.Second, 4))
	assert.Equal(t, maxBackoff, retryDelay(time.Minute, 20))
}
