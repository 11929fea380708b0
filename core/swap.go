package core

import "runtime"

// swap suspends self and runs target on self's worker. It returns once some
// other swap, or an idle loop, resumes self, possibly on another worker.
//
// target must have been dequeued by the caller (its latch is held) and must
// not be finished.
func (s *Scheduler) swap(self, target *Task, kind string) {
	w := self.runner
	s.handoff(self, target, w, kind)

	back, ok := self.exec.park(s.terminated, self.unwind)
	if !ok {
		s.abandon(self)
	}
	s.resumed(self, back)
}

// handoff publishes target as w's current task and switches into it. The
// caller must not touch self after handoff unless it parks on self.exec.
func (s *Scheduler) handoff(self, target *Task, w *worker, kind string) {
	if target.done {
		s.fatal("swap", "resuming a finished task", nil, F("task", target.id))
	}

	// Whoever takes over from target next releases self; target inherits
	// self's fallback worker.
	target.caller = self
	target.runner = w

	// Publish before switching: the first thing target does is ask which
	// task its worker is running.
	w.current.Store(target)

	s.countSwitch(kind)
	if debugEnabled(s.logger) {
		s.logger.Debug("swap", F("worker", w.id), F("from", self.id), F("to", target.id), F("kind", kind))
	}
	if err := target.exec.transfer(w); err != nil {
		s.fatal("swap", "cannot resume task", err, F("task", target.id))
	}
}

// resumed is the first step of any task that just got a worker back. It
// checks the self registry and releases the task that switched to us.
func (s *Scheduler) resumed(self *Task, w *worker) {
	cur := w.current.Load()
	if cur != self {
		var curID TaskID
		if cur != nil {
			curID = cur.id
		}
		s.fatal("swap", "resumed task is not current on its worker", nil,
			F("task", self.id), F("worker", w.id), F("current", curID))
	}
	self.runner = w

	caller := self.caller
	self.caller = nil
	if caller == nil {
		return
	}
	if !caller.done {
		s.requeue(caller)
	} else {
		caller.latch.Unlock()
	}
}

// fallback gives self's worker back to its idle loop. The idle loop releases
// self.
func (s *Scheduler) fallback(self *Task) {
	w := self.runner
	s.countSwitch(SwitchFall)
	if debugEnabled(s.logger) {
		s.logger.Debug("fallback to idle loop", F("worker", w.id), F("task", self.id))
	}
	if err := w.idle.transfer(w); err != nil {
		s.fatal("fallback", "cannot resume idle loop", err, F("worker", w.id))
	}
}

// yield switches to the next ready task, if any. It reports whether a switch
// happened.
func (s *Scheduler) yield(self *Task) bool {
	if !s.wakeup.tryAcquire() {
		return false
	}
	next := s.dequeue()
	s.swap(self, next, SwitchYield)
	return true
}

// abandon unwinds the goroutine of a task that was finalized by a cancel
// request, or whose scheduler terminated while the task was suspended or
// spinning. It does not return.
func (s *Scheduler) abandon(self *Task) {
	self.abandoned = true
	runtime.Goexit()
}
