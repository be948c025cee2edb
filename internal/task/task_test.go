package task

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskLifecycle(t *testing.T) {
	m := NewManager(time.Hour, 10, 2)
	ctx := context.Background()

	release := make(chan struct{})
	id, err := m.Submit(ctx, "backtest", func(ctx context.Context, report func(float64, string)) (interface{}, error) {
		report(50, "halfway")
		<-release
		return "done", nil
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		task, err := m.Get(id)
		return err == nil && task.Status == StatusRunning && task.Progress == 50
	}, time.Second, 5*time.Millisecond)

	close(release)
	require.Eventually(t, func() bool {
		task, _ := m.Get(id)
		return task.Status == StatusCompleted
	}, time.Second, 5*time.Millisecond)

	task, err := m.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 100.0, task.Progress)
	assert.Equal(t, "done", task.Result)
	assert.False(t, task.FinishedAt.IsZero())
}

func TestTaskFailure(t *testing.T) {
	m := NewManager(time.Hour, 10, 1)
	id, err := m.Submit(context.Background(), "backtest", func(context.Context, func(float64, string)) (interface{}, error) {
		return nil, errors.New("bad window")
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		task, _ := m.Get(id)
		return task.Status == StatusFailed
	}, time.Second, 5*time.Millisecond)
	task, _ := m.Get(id)
	assert.Equal(t, "bad window", task.Error)
}

func TestTaskLimit(t *testing.T) {
	m := NewManager(time.Hour, 1, 1)
	ctx := context.Background()
	block := make(chan struct{})
	defer close(block)

	_, err := m.Submit(ctx, "a", func(context.Context, func(float64, string)) (interface{}, error) {
		<-block
		return nil, nil
	})
	require.NoError(t, err)

	_, err = m.Submit(ctx, "b", func(context.Context, func(float64, string)) (interface{}, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrTooManyTasks)
}

func TestConcurrencyGate(t *testing.T) {
	m := NewManager(time.Hour, 10, 1)
	ctx := context.Background()

	var running atomic.Int32
	var peak atomic.Int32
	block := make(chan struct{})

	body := func(context.Context, func(float64, string)) (interface{}, error) {
		n := running.Add(1)
		if n > peak.Load() {
			peak.Store(n)
		}
		<-block
		running.Add(-1)
		return nil, nil
	}
	id1, err := m.Submit(ctx, "a", body)
	require.NoError(t, err)
	id2, err := m.Submit(ctx, "b", body)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		t1, _ := m.Get(id1)
		t2, _ := m.Get(id2)
		return t1.Status == StatusRunning || t2.Status == StatusRunning
	}, time.Second, 5*time.Millisecond)

	close(block)
	require.Eventually(t, func() bool {
		t1, _ := m.Get(id1)
		t2, _ := m.Get(id2)
		return t1.Status == StatusCompleted && t2.Status == StatusCompleted
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), peak.Load(), "semaphore admits one at a time")
}

func TestSubscribeSeesCurrentStateFirst(t *testing.T) {
	m := NewManager(time.Hour, 10, 1)
	release := make(chan struct{})
	id, err := m.Submit(context.Background(), "backtest", func(ctx context.Context, report func(float64, string)) (interface{}, error) {
		report(30, "warming")
		<-release
		return nil, nil
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		task, _ := m.Get(id)
		return task.Progress == 30
	}, time.Second, 5*time.Millisecond)

	ch, cancel, err := m.Subscribe(id)
	require.NoError(t, err)
	defer cancel()

	first := <-ch
	assert.Equal(t, 30.0, first.Progress)

	close(release)
	var last Task
	for task := range ch {
		last = task
	}
	assert.Equal(t, StatusCompleted, last.Status)
	assert.Equal(t, 100.0, last.Progress)
}

func TestCleanupRemovesFinished(t *testing.T) {
	m := NewManager(time.Hour, 10, 1)
	id, err := m.Submit(context.Background(), "a", func(context.Context, func(float64, string)) (interface{}, error) {
		return nil, nil
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		task, _ := m.Get(id)
		return task.Status == StatusCompleted
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 0, m.Cleanup(time.Minute), "too young to sweep")
	assert.Equal(t, 1, m.Cleanup(-time.Second))
	_, err = m.Get(id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProgressTrackerThrottle(t *testing.T) {
	var notifications int
	p := NewProgressTracker(10000, 0, func(pct float64, msg string) {
		notifications++
	})
	for i := 0; i < 10000; i++ {
		p.Add(1)
	}
	p.Complete()
	assert.LessOrEqual(t, notifications, 101, "at most interior updates plus the final one")
	assert.GreaterOrEqual(t, notifications, 100)
}

func TestProgressTrackerMinInterval(t *testing.T) {
	var notifications int
	p := NewProgressTracker(1000, time.Hour, func(float64, string) {
		notifications++
	})
	// Fake clock frozen: the interval gate blocks every interior update.
	now := time.Unix(0, 0)
	p.now = func() time.Time { return now }
	p.lastTime = now

	for i := 0; i < 1000; i++ {
		p.Add(1)
	}
	assert.Equal(t, 0, notifications)
	p.Complete()
	assert.Equal(t, 1, notifications, "completion bypasses the throttle")
}

func TestStageTrackerMapsRanges(t *testing.T) {
	var got []float64
	s := NewStageTracker(BacktestStages, func(pct float64, msg string) {
		got = append(got, pct)
	})

	s.Enter("data_load")
	s.Update(0.5)
	s.Enter("execute")
	s.Update(0.5)
	s.Done()

	require.Equal(t, []float64{0, 10, 25, 60, 100}, got)
}
