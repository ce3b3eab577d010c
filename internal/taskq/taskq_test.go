package taskq

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/docs-archiver/internal/events"
)

func newTestQueue(cfg Config) (*Queue, *events.Bus) {
	bus := events.NewBus(zap.NewNop())
	return New(cfg, bus, zap.NewNop()), bus
}

func TestConcurrencyOneNeverOverlaps(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(Config{Concurrency: 1, MaxHistory: 10})

	var running, maxRunning int32
	op := func(context.Context) (any, error) {
		cur := atomic.AddInt32(&running, 1)
		for {
			prev := atomic.LoadInt32(&maxRunning)
			if cur <= prev || atomic.CompareAndSwapInt32(&maxRunning, prev, cur) {
				break
			}
		}
		time.Sleep(15 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return nil, nil
	}

	for i := 0; i < 4; i++ {
		q.Add(string(rune('a'+i)), op)
	}
	require.NoError(t, q.WaitForIdle(context.Background()))
	require.Equal(t, int32(1), atomic.LoadInt32(&maxRunning), "two running windows overlapped")
}

func TestPriorityOrderWithEnqueueTiebreak(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(Config{Concurrency: 1, MaxHistory: 10})
	q.Pause()

	var mu sync.Mutex
	var order []string
	record := func(id string) Operation {
		return func(context.Context) (any, error) {
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			return nil, nil
		}
	}

	q.Add("low", record("low"), WithPriority(1))
	q.Add("high", record("high"), WithPriority(10))
	q.Add("mid", record("mid"), WithPriority(5))
	q.Add("high-second", record("high-second"), WithPriority(10))

	q.Resume()
	require.NoError(t, q.WaitForIdle(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"high", "high-second", "mid", "low"}, order)
}

func TestIntervalCapLimitsStartsPerWindow(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(Config{
		Concurrency: 10,
		Interval:    100 * time.Millisecond,
		IntervalCap: 2,
		MaxHistory:  10,
	})

	var mu sync.Mutex
	var starts []time.Time
	op := func(context.Context) (any, error) {
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()
		return nil, nil
	}

	for i := 0; i < 4; i++ {
		q.Add(string(rune('a'+i)), op)
	}
	require.NoError(t, q.WaitForIdle(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, starts, 4)
	// First two start immediately, the rest wait for the next window.
	require.Less(t, starts[1].Sub(starts[0]), 80*time.Millisecond)
	require.GreaterOrEqual(t, starts[2].Sub(starts[0]), 80*time.Millisecond)
	require.Less(t, starts[3].Sub(starts[2]), 80*time.Millisecond)
}

func TestAddBatchSettlesIndependently(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(Config{Concurrency: 2, MaxHistory: 10})
	boom := errors.New("navigation failed")

	results, err := q.AddBatch(context.Background(), []BatchItem{
		{ID: "one", Op: func(context.Context) (any, error) { return "ok-1", nil }},
		{ID: "two", Op: func(context.Context) (any, error) { return nil, boom }},
		{ID: "three", Op: func(context.Context) (any, error) { return "ok-3", nil }},
	})

	require.NoError(t, err)
	require.Len(t, results, 3)
	byID := map[string]BatchResult{}
	for _, r := range results {
		byID[r.ID] = r
	}
	require.NoError(t, byID["one"].Err)
	require.Equal(t, "ok-1", byID["one"].Result)
	require.ErrorIs(t, byID["two"].Err, boom)
	require.NoError(t, byID["three"].Err)
	require.Equal(t, "ok-3", byID["three"].Result)
}

func TestWaitForIdleImmediateWhenEmpty(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(Config{Concurrency: 1})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, q.WaitForIdle(ctx))
}

func TestPauseStopsDispatchResumeRestarts(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(Config{Concurrency: 1, MaxHistory: 10})
	q.Pause()

	var ran atomic.Bool
	q.Add("job", func(context.Context) (any, error) {
		ran.Store(true)
		return nil, nil
	})

	time.Sleep(30 * time.Millisecond)
	require.False(t, ran.Load(), "paused queue must not start tasks")
	require.True(t, q.Paused())
	require.Equal(t, 1, q.Status().Pending)

	q.Resume()
	require.NoError(t, q.WaitForIdle(context.Background()))
	require.True(t, ran.Load())
}

func TestClearDropsPendingAndBookkeeping(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(Config{Concurrency: 1, MaxHistory: 10})
	q.Pause()
	q.Add("stale", func(context.Context) (any, error) { return nil, nil })
	q.Add("stale-2", func(context.Context) (any, error) { return nil, nil })

	q.Clear()
	st := q.Status()
	require.Zero(t, st.Pending)
	require.Zero(t, st.Running)
	require.Zero(t, st.Completed)

	_, ok := q.Snapshot("stale")
	require.False(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, q.WaitForIdle(ctx), "cleared queue is idle")
}

func TestSetConcurrencyWakesPendingTasks(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(Config{Concurrency: 1, MaxHistory: 10})

	release := make(chan struct{})
	var concurrent, peak int32
	op := func(context.Context) (any, error) {
		cur := atomic.AddInt32(&concurrent, 1)
		for {
			prev := atomic.LoadInt32(&peak)
			if cur <= prev || atomic.CompareAndSwapInt32(&peak, prev, cur) {
				break
			}
		}
		<-release
		atomic.AddInt32(&concurrent, -1)
		return nil, nil
	}
	for i := 0; i < 3; i++ {
		q.Add(string(rune('a'+i)), op)
	}

	require.Eventually(t, func() bool { return q.Status().Running == 1 }, time.Second, 5*time.Millisecond)

	q.SetConcurrency(3)
	require.Eventually(t, func() bool { return q.Status().Running == 3 }, time.Second, 5*time.Millisecond)

	close(release)
	require.NoError(t, q.WaitForIdle(context.Background()))
	require.GreaterOrEqual(t, atomic.LoadInt32(&peak), int32(3))
}

func TestHistoryEvictsOldestBeyondCap(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(Config{Concurrency: 1, MaxHistory: 2})

	for _, id := range []string{"first", "second", "third"} {
		q.Add(id, func(context.Context) (any, error) { return nil, nil })
		require.NoError(t, q.WaitForIdle(context.Background()))
	}

	_, ok := q.Snapshot("first")
	require.False(t, ok, "oldest settled task should be evicted")

	second, ok := q.Snapshot("second")
	require.True(t, ok)
	require.Equal(t, StateCompleted, second.State)

	third, ok := q.Snapshot("third")
	require.True(t, ok)
	require.Equal(t, StateCompleted, third.State)

	require.Equal(t, 2, q.Status().Completed)
}

func TestReusedIDClearsPriorHistory(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(Config{Concurrency: 1, MaxHistory: 10})

	q.Add("page", func(context.Context) (any, error) { return "v1", nil })
	require.NoError(t, q.WaitForIdle(context.Background()))
	require.Equal(t, 1, q.Status().Completed)

	boom := errors.New("second pass failed")
	q.Add("page", func(context.Context) (any, error) { return nil, boom })
	require.NoError(t, q.WaitForIdle(context.Background()))

	snap, ok := q.Snapshot("page")
	require.True(t, ok)
	require.Equal(t, StateFailed, snap.State)
	require.ErrorIs(t, snap.Err, boom)

	st := q.Status()
	require.Equal(t, 0, st.Completed, "prior settlement for the id was cleared")
	require.Equal(t, 1, st.Failed)
}

func TestZeroHistoryDisablesRetention(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(Config{Concurrency: 1, MaxHistory: 0})
	q.Add("page", func(context.Context) (any, error) { return nil, nil })
	require.NoError(t, q.WaitForIdle(context.Background()))

	_, ok := q.Snapshot("page")
	require.False(t, ok)
	require.Zero(t, q.Status().Completed)
}

func TestTaskTimeoutFailsWhenConfigured(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(Config{
		Concurrency:   1,
		TaskTimeout:   20 * time.Millisecond,
		FailOnTimeout: true,
		MaxHistory:    10,
	})

	q.Add("slow", func(ctx context.Context) (any, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return "late", nil
		}
	})
	require.NoError(t, q.WaitForIdle(context.Background()))

	snap, ok := q.Snapshot("slow")
	require.True(t, ok)
	require.Equal(t, StateFailed, snap.State)
	require.ErrorIs(t, snap.Err, ErrTaskTimeout)
}

func TestTaskTimeoutSettlesQuietlyWhenNotThrowing(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(Config{
		Concurrency: 1,
		TaskTimeout: 20 * time.Millisecond,
		MaxHistory:  10,
	})

	q.Add("slow", func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.NoError(t, q.WaitForIdle(context.Background()))

	snap, ok := q.Snapshot("slow")
	require.True(t, ok)
	require.Equal(t, StateCompleted, snap.State)
	require.NoError(t, snap.Err)
	require.Nil(t, snap.Result)
}

func TestLifecycleEvents(t *testing.T) {
	t.Parallel()

	q, bus := newTestQueue(Config{Concurrency: 1, MaxHistory: 10})

	var mu sync.Mutex
	counts := map[string]int{}
	var last string
	for _, name := range []string{
		EventTaskAdded, EventActive, EventTaskCompleted,
		EventTaskSucceeded, EventTaskFailed, EventIdle,
	} {
		name := name
		bus.Subscribe(name, func(events.Event) {
			mu.Lock()
			counts[name]++
			last = name
			mu.Unlock()
		})
	}

	q.Add("ok", func(context.Context) (any, error) { return nil, nil })
	q.Add("bad", func(context.Context) (any, error) { return nil, errors.New("boom") })
	require.NoError(t, q.WaitForIdle(context.Background()))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return counts[EventIdle] >= 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 2, counts[EventTaskAdded])
	require.Equal(t, 2, counts[EventActive])
	require.Equal(t, 2, counts[EventTaskCompleted])
	require.Equal(t, 1, counts[EventTaskSucceeded])
	require.Equal(t, 1, counts[EventTaskFailed])
	require.Equal(t, EventIdle, last, "idle fires after the settlement events")
}

func TestPanickingTaskSettlesFailed(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(Config{Concurrency: 1, MaxHistory: 10})
	q.Add("explosive", func(context.Context) (any, error) { panic("kaboom") })
	require.NoError(t, q.WaitForIdle(context.Background()))

	snap, ok := q.Snapshot("explosive")
	require.True(t, ok)
	require.Equal(t, StateFailed, snap.State)
	require.ErrorContains(t, snap.Err, "panicked")

	// The dispatcher survives and keeps serving tasks.
	q.Add("after", func(context.Context) (any, error) { return nil, nil })
	require.NoError(t, q.WaitForIdle(context.Background()))
	snap, ok = q.Snapshot("after")
	require.True(t, ok)
	require.Equal(t, StateCompleted, snap.State)
}
