package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	current time.Time
	waits   []time.Duration
}

func (c *fakeClock) now() time.Time { return c.current }

func (c *fakeClock) after(d time.Duration) <-chan time.Time {
	c.waits = append(c.waits, d)
	c.current = c.current.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.current
	return ch
}

func newTestLimiter(delay time.Duration) (*Limiter, *fakeClock) {
	clock := &fakeClock{current: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	l := New(delay)
	l.now = clock.now
	l.after = clock.after
	return l, clock
}

func TestLimiter_FirstCallDoesNotWait(t *testing.T) {
	l, clock := newTestLimiter(2 * time.Second)

	require.NoError(t, l.WaitIfNeeded(context.Background()))
	assert.Empty(t, clock.waits)
}

func TestLimiter_WaitsRemainingDelay(t *testing.T) {
	l, clock := newTestLimiter(2 * time.Second)

	require.NoError(t, l.WaitIfNeeded(context.Background()))
	clock.current = clock.current.Add(500 * time.Millisecond)
	require.NoError(t, l.WaitIfNeeded(context.Background()))

	require.Len(t, clock.waits, 1)
	assert.Equal(t, 1500*time.Millisecond, clock.waits[0])
}

func TestLimiter_NoWaitAfterDelayElapsed(t *testing.T) {
	l, clock := newTestLimiter(2 * time.Second)

	require.NoError(t, l.WaitIfNeeded(context.Background()))
	clock.current = clock.current.Add(3 * time.Second)
	require.NoError(t, l.WaitIfNeeded(context.Background()))

	assert.Empty(t, clock.waits)
}

func TestLimiter_Reset(t *testing.T) {
	l, clock := newTestLimiter(2 * time.Second)

	require.NoError(t, l.WaitIfNeeded(context.Background()))
	l.Reset()
	require.NoError(t, l.WaitIfNeeded(context.Background()))

	assert.Empty(t, clock.waits)
}

func TestLimiter_ContextCancelled(t *testing.T) {
	l := New(time.Hour)
	require.NoError(t, l.WaitIfNeeded(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := l.WaitIfNeeded(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLimiter_RealClock(t *testing.T) {
	l := New(50 * time.Millisecond)

	start := time.Now()
	require.NoError(t, l.WaitIfNeeded(context.Background()))
	require.NoError(t, l.WaitIfNeeded(context.Background()))

	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiter_SetDelay(t *testing.T) {
	l := New(time.Second)
	l.SetDelay(3 * time.Second)
	assert.Equal(t, 3*time.Second, l.Delay())
}
