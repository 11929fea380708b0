package core

import "context"

// =============================================================================
// execContext: a parked execution point
// =============================================================================

// execContext is the saved execution point of a task or of a worker's idle
// loop. The goroutine owning it blocks in park; a switch hands it the worker
// it is to continue on. A context holds at most one pending resume, so the
// channel never blocks the switching side.
type execContext struct {
	resume chan *worker
}

func newExecContext() execContext {
	return execContext{resume: make(chan *worker, 1)}
}

// transfer makes the parked owner of c runnable on w.
func (c execContext) transfer(w *worker) error {
	select {
	case c.resume <- w:
		return nil
	default:
		return errDoubleResume
	}
}

// park blocks until c is resumed. It reports false when done or unwind is
// closed first, in which case the owner must unwind without touching shared
// state. A nil unwind never fires.
func (c execContext) park(done, unwind <-chan struct{}) (*worker, bool) {
	select {
	case w := <-c.resume:
		return w, true
	case <-done:
		return nil, false
	case <-unwind:
		return nil, false
	}
}

// =============================================================================
// Context Helper
// =============================================================================

type taskKeyType struct{}

var taskKey taskKeyType

func withTask(ctx context.Context, t *Task) context.Context {
	return context.WithValue(ctx, taskKey, t)
}

func taskFromContext(ctx context.Context) *Task {
	if ctx == nil {
		return nil
	}
	if v := ctx.Value(taskKey); v != nil {
		return v.(*Task)
	}
	return nil
}
