// Package task runs long jobs (backtests, optimizations) in the
// background with bounded concurrency, progress fan-out to subscribers
// and TTL-based cleanup of finished work.
package task

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Status is a task's lifecycle phase.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

var (
	ErrTooManyTasks = errors.New("task limit reached")
	ErrNotFound     = errors.New("task not found")
)

// Task is a point-in-time snapshot of a job. Subscribers receive copies.
type Task struct {
	ID       string      `json:"id"`
	Type     string      `json:"type"`
	Status   Status      `json:"status"`
	Progress float64     `json:"progress"` // 0..100
	Message  string      `json:"message"`
	Result   interface{} `json:"result,omitempty"`
	Error    string      `json:"error,omitempty"`

	CreatedAt  time.Time `json:"created_at"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// Fn is the job body. It reports progress as a 0..100 percentage.
type Fn func(ctx context.Context, report func(pct float64, msg string)) (interface{}, error)

type taskState struct {
	task Task
	subs []chan Task
}

// Manager owns a bounded set of tasks and a concurrency semaphore.
type Manager struct {
	ttl      time.Duration
	maxTasks int
	sem      chan struct{}

	mu    sync.Mutex
	tasks map[string]*taskState
}

func NewManager(ttl time.Duration, maxTasks, concurrency int) *Manager {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Manager{
		ttl:      ttl,
		maxTasks: maxTasks,
		sem:      make(chan struct{}, concurrency),
		tasks:    make(map[string]*taskState),
	}
}

// NewBacktestManager is the standard manager for backtest runs.
func NewBacktestManager() *Manager { return NewManager(time.Hour, 100, 3) }

// NewOptimizationManager is the standard manager for parameter sweeps,
// which run longer and heavier than single backtests.
func NewOptimizationManager() *Manager { return NewManager(2*time.Hour, 50, 2) }

// Submit registers a task and starts it as soon as a slot frees up.
func (m *Manager) Submit(ctx context.Context, typ string, fn Fn) (string, error) {
	m.mu.Lock()
	if len(m.tasks) >= m.maxTasks {
		m.mu.Unlock()
		return "", ErrTooManyTasks
	}
	id := uuid.NewString()
	m.tasks[id] = &taskState{task: Task{
		ID: id, Type: typ, Status: StatusPending, CreatedAt: time.Now(),
	}}
	m.mu.Unlock()

	go m.run(ctx, id, fn)
	return id, nil
}

func (m *Manager) run(ctx context.Context, id string, fn Fn) {
	select {
	case <-ctx.Done():
		m.finish(id, nil, ctx.Err())
		return
	case m.sem <- struct{}{}:
	}
	defer func() { <-m.sem }()

	m.mutate(id, func(t *Task) {
		t.Status = StatusRunning
		t.StartedAt = time.Now()
	})

	report := func(pct float64, msg string) {
		m.mutate(id, func(t *Task) {
			// Progress only moves forward; repeats and regressions are
			// noise and produce no notification.
			if pct > t.Progress {
				t.Progress = pct
			}
			if msg != "" {
				t.Message = msg
			}
		})
	}

	result, err := fn(ctx, report)
	m.finish(id, result, err)
}

func (m *Manager) finish(id string, result interface{}, err error) {
	m.mutate(id, func(t *Task) {
		t.FinishedAt = time.Now()
		if err != nil {
			t.Status = StatusFailed
			t.Error = err.Error()
		} else {
			t.Status = StatusCompleted
			t.Progress = 100
			t.Result = result
		}
	})
	m.mu.Lock()
	st, ok := m.tasks[id]
	var subs []chan Task
	if ok {
		subs = st.subs
		st.subs = nil
	}
	m.mu.Unlock()
	for _, ch := range subs {
		close(ch)
	}
}

// mutate applies fn to the task and notifies subscribers if it changed.
func (m *Manager) mutate(id string, fn func(*Task)) {
	m.mu.Lock()
	st, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	before := st.task
	fn(&st.task)
	changed := st.task.Status != before.Status ||
		st.task.Progress != before.Progress ||
		st.task.Message != before.Message ||
		st.task.Error != before.Error
	snapshot := st.task
	var subs []chan Task
	if changed {
		subs = st.subs
	}
	m.mu.Unlock()
	if !changed {
		return
	}

	var dead []chan Task
	for _, ch := range subs {
		select {
		case ch <- snapshot:
		default:
			dead = append(dead, ch)
		}
	}
	if len(dead) > 0 {
		m.dropSubs(id, dead)
	}
}

func (m *Manager) dropSubs(id string, dead []chan Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.tasks[id]
	if !ok {
		return
	}
	kept := st.subs[:0]
	for _, ch := range st.subs {
		drop := false
		for _, d := range dead {
			if ch == d {
				drop = true
				break
			}
		}
		if drop {
			close(ch)
		} else {
			kept = append(kept, ch)
		}
	}
	st.subs = kept
	log.Debug().Str("task", id).Int("dropped", len(dead)).Msg("removed stalled subscribers")
}

// Get returns a snapshot of the task.
func (m *Manager) Get(id string) (Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.tasks[id]
	if !ok {
		return Task{}, ErrNotFound
	}
	return st.task, nil
}

// List snapshots every known task.
func (m *Manager) List() []Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Task, 0, len(m.tasks))
	for _, st := range m.tasks {
		out = append(out, st.task)
	}
	return out
}

// Subscribe returns a channel of task snapshots, starting with the
// current state. The channel closes when the task finishes; cancel
// detaches early.
func (m *Manager) Subscribe(id string) (<-chan Task, func(), error) {
	m.mu.Lock()
	st, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return nil, nil, ErrNotFound
	}
	ch := make(chan Task, 16)
	ch <- st.task
	if st.task.Status == StatusCompleted || st.task.Status == StatusFailed {
		m.mu.Unlock()
		close(ch)
		return ch, func() {}, nil
	}
	st.subs = append(st.subs, ch)
	m.mu.Unlock()

	cancel := func() { m.dropSubs(id, []chan Task{ch}) }
	return ch, cancel, nil
}

// Cleanup removes finished tasks older than age and returns how many.
func (m *Manager) Cleanup(age time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-age)
	removed := 0
	for id, st := range m.tasks {
		done := st.task.Status == StatusCompleted || st.task.Status == StatusFailed
		if done && st.task.FinishedAt.Before(cutoff) {
			delete(m.tasks, id)
			removed++
		}
	}
	return removed
}

// Janitor runs Cleanup with the manager's TTL on a fixed cadence until
// ctx ends.
func (m *Manager) Janitor(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Cleanup(m.ttl); n > 0 {
				log.Info().Int("removed", n).Msg("task janitor swept")
			}
		}
	}
}
