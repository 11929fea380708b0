package core

import (
	"context"
	"fmt"
	"runtime"
)

// Self returns the task running the caller. ctx must be the context handed
// to the task's entry function, or derived from it, and must not be used
// from any other goroutine.
//
// Self panics with an *InvariantError when ctx carries no task, when its
// task is not the one current on its worker, or when the task is unwinding
// after cancellation or teardown. A ctx handed to another goroutine while
// its task is running passes these checks undetected; scheduling calls made
// with it corrupt the task's state.
func Self(ctx context.Context) *Task {
	t := taskFromContext(ctx)
	if t == nil {
		panic(&InvariantError{Op: "Self", Msg: "context carries no task"})
	}
	if t.abandoned {
		// Deferred calls of an unwinding task end here; the trampoline
		// drops the panic.
		panic(&InvariantError{Op: "Self", Msg: "task is unwinding"})
	}
	if w := t.runner; w == nil || w.current.Load() != t {
		t.sched.fatal("Self", "task is not current on its worker", nil, F("task", t.id))
	}
	return t
}

// Create starts a new task running entry(ctx, arg) and returns without
// running it. The only failures are resource exhaustion (ErrStackExhausted,
// ErrTooManyTasks); nothing is left registered when Create fails.
func Create(ctx context.Context, entry EntryFunc, arg any) (*Task, error) {
	self := Self(ctx)
	if entry == nil {
		return nil, ErrNilEntry
	}
	return self.sched.create(entry, arg)
}

func (s *Scheduler) create(entry EntryFunc, arg any) (*Task, error) {
	// The caller is live, so undoing the increment never reaches zero.
	if n := s.live.Add(1); s.maxTasks > 0 && n > int64(s.maxTasks) {
		s.live.Add(-1)
		s.metrics.RecordCreateFailed(s.name, "max_tasks")
		return nil, fmt.Errorf("create task: %w (limit %d)", ErrTooManyTasks, s.maxTasks)
	}

	stack, err := s.stacks.Alloc()
	if err != nil {
		s.live.Add(-1)
		s.metrics.RecordCreateFailed(s.name, "stack")
		return nil, fmt.Errorf("create task: %w", err)
	}

	t := newTask(s, TaskID(s.nextID.Add(1)), entry, stack, false)
	s.created.Add(1)
	s.metrics.RecordTaskCreated(s.name)
	if debugEnabled(s.logger) {
		s.logger.Debug("task created", F("scheduler", s.name), F("task", t.id), F("stack", stack.id))
	}

	s.spawn(t, entry, arg)
	s.enqueue(t)
	return t, nil
}

// Yield lets the next ready task run on the caller's worker. With no other
// task ready it returns immediately.
func Yield(ctx context.Context) {
	self := Self(ctx)
	s := self.sched
	if s.isTerminated() {
		s.abandon(self)
	}
	s.yield(self)
}

// Join waits until t has finished and returns its result. Waiting is done by
// yielding, so the caller's worker keeps running other tasks meanwhile.
//
// Any number of tasks may join the same task; all of them get the same
// result and t's stack is released once. A task canceled before finishing
// yields a nil result.
func Join(ctx context.Context, t *Task) any {
	self := Self(ctx)
	s := self.sched
	switch {
	case t == nil:
		s.fatal("Join", "nil task", nil)
	case t.sched != s:
		s.fatal("Join", "task belongs to another scheduler", nil, F("task", t.id))
	case t == self:
		s.fatal("Join", "task joins itself", nil, F("task", t.id))
	}

	for {
		if t.latch.TryLock() {
			if t.done {
				break
			}
			t.latch.Unlock()
		}
		if !s.yield(self) {
			if s.isTerminated() {
				s.abandon(self)
			}
			runtime.Gosched()
		}
	}

	result := t.result
	s.releaseLocked(t)
	t.latch.Unlock()
	return result
}

// Exit finishes the calling task with result. It does not return: deferred
// calls of the task run, then the task's worker moves on to the next ready
// task.
func Exit(ctx context.Context, result any) {
	self := Self(ctx)
	self.exitValue = result
	runtime.Goexit()
}
