package core

import "context"

// requeue puts a suspended task back on the ready queue, unless a pending
// cancel request is allowed to take effect, in which case the task is
// finalized on the spot and never resumed. The caller holds t's latch.
func (s *Scheduler) requeue(t *Task) {
	if t.cancelRequested.Load() && t.cancelEnabled() {
		s.finalizeCanceled(t)
		return
	}
	s.enqueue(t)
}

// finalizeCanceled finishes t as if it had called Exit(nil). Its stack is
// released and its goroutine, parked in swap, unwinds without resuming the
// task's code. The caller holds t's latch; it is released here.
func (s *Scheduler) finalizeCanceled(t *Task) {
	t.done = true
	t.result = nil
	t.canceled = true
	s.releaseLocked(t)
	close(t.unwind)

	s.canceled.Add(1)
	s.metrics.RecordTaskFinished(s.name, true)
	s.recordFinished(t, OutcomeCanceled)
	s.logger.Debug("task canceled", F("scheduler", s.name), F("task", t.id))

	if s.live.Add(-1) == 0 {
		t.latch.Unlock()
		s.terminate()
		return
	}
	t.latch.Unlock()
}

// SetCancelState sets whether cancel requests against the calling task take
// effect, and returns the previous state. It has no scheduling effect.
func SetCancelState(ctx context.Context, state CancelState) CancelState {
	self := Self(ctx)
	if state != CancelEnabled && state != CancelDisabled {
		self.sched.fatal("SetCancelState", "unknown cancel state", nil, F("state", int32(state)))
	}
	return CancelState(self.cancelState.Swap(int32(state)))
}

// Cancel asks t to stop. The request takes effect the next time t would be
// put back on the ready queue while its cancel state is enabled; t never
// stops in the middle of its own code. Its deferred calls then run on its own
// goroutine, off any worker, and cannot use the scheduling API. Canceling a
// finished task does nothing. A task may cancel itself.
func Cancel(ctx context.Context, t *Task) {
	self := Self(ctx)
	if t == nil {
		self.sched.fatal("Cancel", "nil task", nil)
	}
	if t.sched != self.sched {
		self.sched.fatal("Cancel", "task belongs to another scheduler", nil, F("task", t.id))
	}
	t.cancelRequested.Store(true)
	self.sched.logger.Debug("cancel requested", F("scheduler", self.sched.name), F("by", self.id), F("task", t.id))
}
