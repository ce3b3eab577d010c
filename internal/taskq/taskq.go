// Package taskq implements the crawl dispatch queue: a bounded number of
// tasks run concurrently, task starts are rate-limited per interval window,
// ready tasks dispatch in priority order, and settled tasks are kept in a
// bounded history for status reporting.
package taskq

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/docs-archiver/internal/events"
)

// Event names emitted on the bus.
const (
	EventActive        = "active"
	EventIdle          = "idle"
	EventTaskAdded     = "task-added"
	EventTaskCompleted = "task-completed"
	EventTaskSucceeded = "task-succeeded"
	EventTaskFailed    = "task-failed"
)

// ErrTaskTimeout marks a task that exceeded the queue-level task timeout.
var ErrTaskTimeout = errors.New("task timed out")

// Operation is the unit of work a task runs.
type Operation func(ctx context.Context) (any, error)

// State is a task's lifecycle position.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Task is a point-in-time snapshot of one task, also used as event payload.
type Task struct {
	ID        string
	Priority  int
	State     State
	AddedAt   time.Time
	StartedAt time.Time
	EndedAt   time.Time
	Result    any
	Err       error
}

// Status reports queue occupancy and lifecycle tallies merged across active
// and historical tasks.
type Status struct {
	Pending   int
	Running   int
	Paused    bool
	Completed int
	Failed    int
}

// Config sizes the queue.
//   - Concurrency: max simultaneously running tasks (min 1).
//   - Interval/IntervalCap: at most IntervalCap task *starts* per Interval
//     window, independent of the concurrency cap. IntervalCap <= 0 disables.
//   - TaskTimeout: per-task deadline; 0 disables. Page tasks run with this
//     disabled since every sub-operation carries its own timeout.
//   - FailOnTimeout: when true a timed-out task settles failed with
//     ErrTaskTimeout, otherwise it settles completed with a nil result.
//   - MaxHistory: settled tasks retained for status queries, oldest evicted
//     first; <= 0 disables history.
//   - BaseContext: parent context for task runs (defaults to Background).
type Config struct {
	Concurrency   int
	Interval      time.Duration
	IntervalCap   int
	TaskTimeout   time.Duration
	FailOnTimeout bool
	MaxHistory    int
	BaseContext   context.Context
}

// Queue dispatches tasks under the configured caps. Safe for concurrent use.
type Queue struct {
	mu  sync.Mutex
	cfg Config

	logger *zap.Logger
	bus    *events.Bus

	seq     uint64
	epoch   uint64
	pending taskHeap
	active  map[string]*task
	running int

	history      map[string]*task
	historyOrder []*task

	paused      bool
	concurrency int

	windowStart    time.Time
	startsInWindow int
	windowWake     bool

	idleWaiters []chan struct{}
}

type task struct {
	id       string
	op       Operation
	priority int
	seq      uint64
	epoch    uint64

	state     State
	addedAt   time.Time
	startedAt time.Time
	endedAt   time.Time
	result    any
	err       error

	done  chan struct{}
	index int
}

// New builds a Queue. A nil bus gets a private one so emission never needs
// nil checks; pass a shared bus to observe queue events.
func New(cfg Config, bus *events.Bus, logger *zap.Logger) *Queue {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	if bus == nil {
		bus = events.NewBus(logger)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		cfg:         cfg,
		logger:      logger,
		bus:         bus,
		active:      make(map[string]*task),
		history:     make(map[string]*task),
		concurrency: cfg.Concurrency,
	}
}

// AddOption customizes one Add call.
type AddOption func(*task)

// WithPriority sets the task's dispatch priority; higher runs first.
func WithPriority(p int) AddOption {
	return func(t *task) { t.priority = p }
}

// Add enqueues an operation under the given id. Re-using an id clears any
// prior history entry for it; duplicates are never rejected.
func (q *Queue) Add(id string, op Operation, opts ...AddOption) {
	q.mu.Lock()
	t := q.enqueueLocked(id, op, opts...)
	added := snapshot(t)
	started := q.dispatchLocked(time.Now())
	q.mu.Unlock()

	q.bus.Emit(EventTaskAdded, added)
	q.emitStarts(started)
}

// BatchItem is one task in an AddBatch call.
type BatchItem struct {
	ID       string
	Op       Operation
	Priority int
}

// BatchResult carries one batch task's independent settlement.
type BatchResult struct {
	ID     string
	Result any
	Err    error
}

// AddBatch enqueues every item and blocks until each has settled, capturing
// per-task outcomes independently: one failing task does not disturb the
// results of the others. Cancelling ctx abandons the wait.
func (q *Queue) AddBatch(ctx context.Context, items []BatchItem) ([]BatchResult, error) {
	q.mu.Lock()
	tasks := make([]*task, 0, len(items))
	added := make([]Task, 0, len(items))
	for _, item := range items {
		t := q.enqueueLocked(item.ID, item.Op, WithPriority(item.Priority))
		tasks = append(tasks, t)
		added = append(added, snapshot(t))
	}
	started := q.dispatchLocked(time.Now())
	q.mu.Unlock()

	for _, snap := range added {
		q.bus.Emit(EventTaskAdded, snap)
	}
	q.emitStarts(started)

	results := make([]BatchResult, 0, len(tasks))
	for _, t := range tasks {
		select {
		case <-t.done:
			// Settlement writes the result fields before closing done.
			results = append(results, BatchResult{ID: t.id, Result: t.result, Err: t.err})
		case <-ctx.Done():
			return results, fmt.Errorf("batch wait: %w", ctx.Err())
		}
	}
	return results, nil
}

// WaitForIdle blocks until no task is pending or running.
func (q *Queue) WaitForIdle(ctx context.Context) error {
	q.mu.Lock()
	if q.idleLocked() {
		q.mu.Unlock()
		return nil
	}
	waiter := make(chan struct{})
	q.idleWaiters = append(q.idleWaiters, waiter)
	q.mu.Unlock()

	select {
	case <-waiter:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for idle: %w", ctx.Err())
	}
}

// Pause stops new dispatch without preempting in-flight tasks.
func (q *Queue) Pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
}

// Resume restarts dispatch.
func (q *Queue) Resume() {
	q.mu.Lock()
	q.paused = false
	started := q.dispatchLocked(time.Now())
	q.mu.Unlock()
	q.emitStarts(started)
}

// Paused reports whether dispatch is stopped.
func (q *Queue) Paused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

// Clear drops pending tasks and all active and historical bookkeeping.
// In-flight operations finish but settle silently.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.epoch++
	q.pending = q.pending[:0]
	q.active = make(map[string]*task)
	q.history = make(map[string]*task)
	q.historyOrder = nil
	q.running = 0
	waiters := q.takeWaitersLocked()
	q.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
}

// SetConcurrency changes the live concurrency cap.
func (q *Queue) SetConcurrency(n int) {
	if n < 1 {
		n = 1
	}
	q.mu.Lock()
	q.concurrency = n
	started := q.dispatchLocked(time.Now())
	q.mu.Unlock()
	q.emitStarts(started)
}

// Status reports queue depth, running count, pause state, and settlement
// tallies over the retained history.
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	st := Status{
		Pending: q.pending.Len(),
		Running: q.running,
		Paused:  q.paused,
	}
	for _, t := range q.history {
		switch t.state {
		case StateCompleted:
			st.Completed++
		case StateFailed:
			st.Failed++
		}
	}
	return st
}

// Snapshot returns the current view of a task by id, looking at active
// tasks first and then history.
func (q *Queue) Snapshot(id string) (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if t, ok := q.active[id]; ok {
		return snapshot(t), true
	}
	if t, ok := q.history[id]; ok {
		return snapshot(t), true
	}
	return Task{}, false
}

func (q *Queue) enqueueLocked(id string, op Operation, opts ...AddOption) *task {
	// A re-used id supersedes its settled record.
	if old, ok := q.history[id]; ok && old != nil {
		delete(q.history, id)
	}
	q.seq++
	t := &task{
		id:      id,
		op:      op,
		seq:     q.seq,
		epoch:   q.epoch,
		state:   StatePending,
		addedAt: time.Now(),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	heap.Push(&q.pending, t)
	q.active[id] = t
	return t
}

// dispatchLocked starts as many ready tasks as the caps allow and returns
// their snapshots so callers can emit events after releasing the lock.
func (q *Queue) dispatchLocked(now time.Time) []Task {
	var started []Task
	for !q.paused && q.running < q.concurrency && q.pending.Len() > 0 {
		if !q.allowStartLocked(now) {
			break
		}
		t := heap.Pop(&q.pending).(*task)
		t.state = StateRunning
		t.startedAt = now
		q.running++
		q.startsInWindow++
		started = append(started, snapshot(t))
		go q.execute(t)
	}
	return started
}

// allowStartLocked enforces the interval start cap. When the current window
// is exhausted it schedules a wake at the window boundary.
func (q *Queue) allowStartLocked(now time.Time) bool {
	if q.cfg.IntervalCap <= 0 || q.cfg.Interval <= 0 {
		return true
	}
	if now.Sub(q.windowStart) >= q.cfg.Interval {
		q.windowStart = now
		q.startsInWindow = 0
	}
	if q.startsInWindow < q.cfg.IntervalCap {
		return true
	}
	if !q.windowWake {
		q.windowWake = true
		wait := q.windowStart.Add(q.cfg.Interval).Sub(now)
		time.AfterFunc(wait, func() {
			q.mu.Lock()
			q.windowWake = false
			started := q.dispatchLocked(time.Now())
			q.mu.Unlock()
			q.emitStarts(started)
		})
	}
	return false
}

func (q *Queue) execute(t *task) {
	runCtx := q.cfg.BaseContext
	cancel := func() {}
	if q.cfg.TaskTimeout > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, q.cfg.TaskTimeout)
	}
	result, err := q.runOp(runCtx, t)
	if err != nil && q.cfg.TaskTimeout > 0 && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		if q.cfg.FailOnTimeout {
			err = fmt.Errorf("task %s: %w", t.id, ErrTaskTimeout)
		} else {
			result, err = nil, nil
		}
	}
	cancel()
	q.settle(t, result, err)
}

// runOp isolates task panics so one crashing operation cannot take down the
// dispatcher.
func (q *Queue) runOp(ctx context.Context, t *task) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Warn("task panicked",
				zap.String("task_id", t.id),
				zap.Any("panic", r),
			)
			err = fmt.Errorf("task %s panicked: %v", t.id, r)
		}
	}()
	return t.op(ctx)
}

func (q *Queue) settle(t *task, result any, err error) {
	q.mu.Lock()
	t.result = result
	t.err = err
	t.endedAt = time.Now()
	if err != nil {
		t.state = StateFailed
	} else {
		t.state = StateCompleted
	}

	if t.epoch != q.epoch {
		// Queue was cleared while this task ran; release batch waiters and
		// skip all bookkeeping.
		q.mu.Unlock()
		close(t.done)
		return
	}

	q.running--
	if q.active[t.id] == t {
		delete(q.active, t.id)
	}
	q.recordHistoryLocked(t)

	snap := snapshot(t)
	started := q.dispatchLocked(time.Now())
	idle := q.idleLocked()
	var waiters []chan struct{}
	if idle {
		waiters = q.takeWaitersLocked()
	}
	q.mu.Unlock()

	close(t.done)
	q.bus.Emit(EventTaskCompleted, snap)
	if err != nil {
		q.bus.Emit(EventTaskFailed, snap)
	} else {
		q.bus.Emit(EventTaskSucceeded, snap)
	}
	q.emitStarts(started)
	if idle {
		for _, w := range waiters {
			close(w)
		}
		q.bus.Emit(EventIdle, nil)
	}
}

func (q *Queue) recordHistoryLocked(t *task) {
	if q.cfg.MaxHistory <= 0 {
		return
	}
	q.history[t.id] = t
	q.historyOrder = append(q.historyOrder, t)
	for len(q.history) > q.cfg.MaxHistory && len(q.historyOrder) > 0 {
		oldest := q.historyOrder[0]
		q.historyOrder = q.historyOrder[1:]
		if q.history[oldest.id] == oldest {
			delete(q.history, oldest.id)
		}
	}
}

func (q *Queue) idleLocked() bool {
	return q.pending.Len() == 0 && q.running == 0
}

func (q *Queue) takeWaitersLocked() []chan struct{} {
	waiters := q.idleWaiters
	q.idleWaiters = nil
	return waiters
}

func (q *Queue) emitStarts(started []Task) {
	for _, snap := range started {
		q.bus.Emit(EventActive, snap)
	}
}

// snapshot copies task fields; callers must hold the queue mutex unless the
// task has already settled.
func snapshot(t *task) Task {
	return Task{
		ID:        t.id,
		Priority:  t.priority,
		State:     t.state,
		AddedAt:   t.addedAt,
		StartedAt: t.startedAt,
		EndedAt:   t.endedAt,
		Result:    t.result,
		Err:       t.err,
	}
}

// taskHeap orders by priority descending, then enqueue order.
type taskHeap []*task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	t := x.(*task)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
