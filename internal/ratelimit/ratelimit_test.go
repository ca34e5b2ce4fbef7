package ratelimit

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_GrantsImmediatelyUnderLimit(t *testing.T) {
	l := New("test", Window{Limit: 3, Period: time.Second})

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Acquire(context.Background()))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, 3, l.Len())
}

func TestLimiter_BlocksUntilSlotFrees(t *testing.T) {
	l := New("test", Window{Limit: 2, Period: 80 * time.Millisecond})

	require.NoError(t, l.Acquire(context.Background()))
	require.NoError(t, l.Acquire(context.Background()))

	start := time.Now()
	require.NoError(t, l.Acquire(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 70*time.Millisecond, "third call should wait for the window")
}

// No window of length Period ever holds more than Limit granted calls,
// across concurrent callers and both windows.
func TestLimiter_WindowBoundUnderConcurrency(t *testing.T) {
	short := Window{Limit: 3, Period: 40 * time.Millisecond}
	long := Window{Limit: 5, Period: 150 * time.Millisecond}

	var (
		mu      sync.Mutex
		granted []time.Time
	)
	l := New("test", short, long).WithAcquireHook(func(ts time.Time) {
		mu.Lock()
		granted = append(granted, ts)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Acquire(context.Background()))
		}()
	}
	wg.Wait()

	require.Len(t, granted, 12)
	sort.Slice(granted, func(i, j int) bool { return granted[i].Before(granted[j]) })

	for _, w := range []Window{short, long} {
		for i := range granted {
			count := 0
			for j := i; j < len(granted) && granted[j].Sub(granted[i]) < w.Period; j++ {
				count++
			}
			assert.LessOrEqual(t, count, w.Limit, "window %s starting at call %d", w, i)
		}
	}
}

func TestLimiter_ContextCancellation(t *testing.T) {
	l := New("test", Window{Limit: 1, Period: time.Hour})
	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, l.Len(), "cancelled call must not be recorded")
}

func TestLimiter_MaxWait(t *testing.T) {
	l := New("test", Window{Limit: 1, Period: time.Hour}).WithMaxWait(10 * time.Millisecond)
	require.NoError(t, l.Acquire(context.Background()))

	err := l.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrRateLimitExceeded)
	assert.Contains(t, err.Error(), "test")
}

func TestNewDual_IgnoresDisabledWindows(t *testing.T) {
	l := NewDual("test", 0, 0, time.Minute)
	for i := 0; i < 50; i++ {
		require.NoError(t, l.Acquire(context.Background()))
	}
}

func TestDispatchLimiter(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	d := NewDispatchLimiter(2, time.Hour).WithClock(func() time.Time { return now })

	assert.True(t, d.CanDispatch())
	d.RecordDispatch()
	assert.True(t, d.TryReserve())
	assert.False(t, d.CanDispatch(), "ceiling reached")
	assert.False(t, d.TryReserve())
	assert.Equal(t, 2, d.Count())

	now = now.Add(59 * time.Minute)
	assert.False(t, d.CanDispatch(), "still inside the rolling hour")

	now = now.Add(2 * time.Minute)
	assert.True(t, d.CanDispatch(), "first dispatches aged out")
	assert.Equal(t, 0, d.Count())
}

func TestDispatchLimiter_TryReserveIsAtomic(t *testing.T) {
	d := NewDispatchLimiter(5, time.Hour)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		reserved int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d.TryReserve() {
				mu.Lock()
				reserved++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, reserved)
}

func TestDispatchLimiter_Uncapped(t *testing.T) {
	d := NewDispatchLimiter(0, time.Hour)
	for i := 0; i < 100; i++ {
		require.True(t, d.TryReserve())
	}
}
