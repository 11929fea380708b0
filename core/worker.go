package core

import (
	"context"
	"sync/atomic"
)

// worker is one slot of the pool. Exactly one goroutine owns a worker at a
// time: its idle loop, or the task published in current.
type worker struct {
	id int

	// idle is the parked point of the worker's idle loop.
	idle execContext

	// current is the self registry entry of this worker. Only the goroutine
	// that owns the worker writes it, always before the switch that hands
	// the worker to the published task.
	current atomic.Pointer[Task]
}

func newWorker(id int) *worker {
	return &worker{id: id, idle: newExecContext()}
}

// workerLoop is the main loop for each worker. It returns when the scheduler
// terminates.
func (s *Scheduler) workerLoop(ctx context.Context, w *worker) error {
	s.logger.Debug("worker started", F("scheduler", s.name), F("worker", w.id))
	defer s.logger.Debug("worker stopped", F("scheduler", s.name), F("worker", w.id))

	for {
		// Release the task that fell back to this loop, if any. Only exit
		// falls back, so that task has finished.
		if prev := w.current.Swap(nil); prev != nil {
			if !prev.done {
				s.fatal("workerLoop", "unfinished task fell back to the idle loop", nil,
					F("worker", w.id), F("task", prev.id))
			}
			prev.latch.Unlock()
		}

		if err := s.wakeup.acquire(ctx); err != nil {
			return nil
		}
		t := s.dequeue()

		t.caller = nil
		t.runner = w
		w.current.Store(t)
		s.countSwitch(SwitchIdle)
		if debugEnabled(s.logger) {
			s.logger.Debug("idle switch", F("worker", w.id), F("task", t.id))
		}
		if err := t.exec.transfer(w); err != nil {
			s.fatal("workerLoop", "cannot resume task", err, F("task", t.id))
		}

		back, ok := w.idle.park(s.terminated, nil)
		if !ok {
			return nil
		}
		if back != w {
			s.fatal("workerLoop", "idle loop resumed on a foreign worker", nil,
				F("worker", w.id), F("resumed_on", back.id))
		}
	}
}
