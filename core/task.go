package core

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// EntryFunc is the body of a task. The returned value becomes the task's
// result, exactly as if the task had called Exit with it. ctx identifies the
// task to every API call and must stay on the goroutine running the entry
// function.
type EntryFunc func(ctx context.Context, arg any) any

// TaskID identifies a task in logs and stats. IDs are never reused within a
// scheduler.
type TaskID uint64

// =============================================================================
// CancelState: whether a pending cancel request may take effect
// =============================================================================

type CancelState int32

const (
	// CancelEnabled lets a pending cancel request finalize the task at its
	// next scheduling boundary. This is the initial state of every task.
	CancelEnabled CancelState = iota

	// CancelDisabled records cancel requests without acting on them.
	CancelDisabled
)

func (s CancelState) String() string {
	switch s {
	case CancelEnabled:
		return "enabled"
	case CancelDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// =============================================================================
// Task: one logical thread of control
// =============================================================================

// Task is the scheduling record of a logical thread. A *Task is the handle
// returned by Create and accepted by Join and Cancel.
type Task struct {
	id        TaskID
	name      string
	createdAt time.Time
	sched     *Scheduler
	ctx       context.Context

	// exec is the parked execution point of the task; stack is the
	// reservation backing it (nil for the entry task).
	exec  execContext
	stack *Stack
	entry bool

	// unwind is closed when a cancel request finalizes the task, which ends
	// its parked goroutine.
	unwind chan struct{}

	// latch is held from creation until the task is enqueued as ready, and
	// by whichever goroutine dequeued it for as long as the task is off the
	// ready queue and not yet finished.
	latch sync.Mutex

	// Guarded by latch.
	done      bool
	result    any
	canceled  bool
	reclaimed bool

	// caller is the task suspended inside swap that waits for this task to
	// take over its worker. runner is the worker this task is on; its idle
	// context is where the task falls back when nothing else is ready.
	// Both are written before the switch that resumes this task.
	caller *Task
	runner *worker

	// next links the task into the ready queue.
	next   *Task
	queued bool

	cancelRequested atomic.Bool
	cancelState     atomic.Int32

	// Owned by the task's goroutine.
	exitValue any
	abandoned bool
	panicked  bool
}

func newTask(s *Scheduler, id TaskID, fn EntryFunc, stack *Stack, entry bool) *Task {
	t := &Task{
		id:        id,
		name:      entryName(fn),
		createdAt: time.Now(),
		sched:     s,
		exec:      newExecContext(),
		unwind:    make(chan struct{}),
		stack:     stack,
		entry:     entry,
	}
	t.ctx = withTask(s.baseContext(), t)
	t.latch.Lock()
	return t
}

// ID returns the task identifier.
func (t *Task) ID() TaskID {
	return t.id
}

// Name returns the function name of the task's entry.
func (t *Task) Name() string {
	return t.name
}

// IsEntry reports whether t is the task Run was started with.
func (t *Task) IsEntry() bool {
	return t.entry
}

// Done reports whether the task has finished. It does not wait.
func (t *Task) Done() bool {
	if !t.latch.TryLock() {
		return false
	}
	defer t.latch.Unlock()
	return t.done
}

// Canceled reports whether the task was finalized by a cancel request. Only
// meaningful once Join has returned.
func (t *Task) Canceled() bool {
	if !t.latch.TryLock() {
		return false
	}
	defer t.latch.Unlock()
	return t.canceled
}

// CancelRequested reports whether Cancel has been called on the task.
func (t *Task) CancelRequested() bool {
	return t.cancelRequested.Load()
}

func (t *Task) cancelEnabled() bool {
	return CancelState(t.cancelState.Load()) == CancelEnabled
}

// Context returns the context handed to the task's entry function.
func (t *Task) Context() context.Context {
	return t.ctx
}
