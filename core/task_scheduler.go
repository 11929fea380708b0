package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Scheduler multiplexes tasks onto a fixed pool of workers. Tasks run until
// they yield, join or exit; nothing preempts them.
//
// A Scheduler runs once: Run starts the entry task and the workers and
// returns when the last task has exited.
type Scheduler struct {
	name    string
	workers []*worker
	ready   *ReadyQueue
	wakeup  *wakeup
	stacks  *StackAllocator

	maxTasks int

	// live is the process task counter: the entry task plus every created
	// task that has not exited yet. Reaching zero terminates the scheduler.
	live   atomic.Int64
	nextID atomic.Uint64
	entry  atomic.Pointer[Task]

	base       context.Context
	started    atomic.Bool
	terminated chan struct{}
	termOnce   sync.Once
	stop       context.CancelFunc
	tasks      sync.WaitGroup

	created  atomic.Int64
	finished atomic.Int64
	canceled atomic.Int64
	switches atomic.Int64

	// Handlers and Metrics
	logger       Logger
	metrics      Metrics
	panicHandler PanicHandler
	history      *taskHistory
}

func NewScheduler(config *SchedulerConfig) *Scheduler {
	if config == nil {
		config = DefaultSchedulerConfig()
	}

	s := &Scheduler{
		name:         config.Name,
		ready:        NewReadyQueue(),
		wakeup:       newWakeup(),
		stacks:       NewStackAllocator(config.StackSize, config.StackBudget, config.StackRegistrar),
		maxTasks:     config.MaxTasks,
		base:         context.Background(),
		terminated:   make(chan struct{}),
		logger:       config.Logger,
		metrics:      config.Metrics,
		panicHandler: config.PanicHandler,
		history:      newTaskHistory(config.HistoryCapacity),
	}

	// Use defaults if not provided
	if s.name == "" {
		s.name = defaultSchedulerName
	}
	if s.logger == nil {
		s.logger = NewDefaultLogger()
	}
	if s.metrics == nil {
		s.metrics = &NilMetrics{}
	}
	if s.panicHandler == nil {
		s.panicHandler = &DefaultPanicHandler{}
	}

	workers := config.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	s.workers = make([]*worker, workers)
	for i := range s.workers {
		s.workers[i] = newWorker(i)
	}
	return s
}

// Run starts the worker pool with entry as the first task and blocks until
// the last task exits. It returns nil in that case. If ctx ends first, the
// scheduler is torn down: suspended tasks are unwound, running tasks are
// unwound at their next scheduling boundary, and the context error is
// returned.
func (s *Scheduler) Run(ctx context.Context, entry EntryFunc, arg any) error {
	if entry == nil {
		return ErrNilEntry
	}
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.base = runCtx
	s.stop = cancel
	stopAfter := context.AfterFunc(runCtx, s.closeTerminated)
	defer stopAfter()

	main := newTask(s, TaskID(s.nextID.Add(1)), entry, nil, true)
	s.entry.Store(main)
	s.live.Store(1)
	s.created.Add(1)
	s.metrics.RecordTaskCreated(s.name)
	s.spawn(main, entry, arg)
	s.enqueue(main)

	s.logger.Info("scheduler started", F("scheduler", s.name), F("workers", len(s.workers)))

	g, gctx := errgroup.WithContext(runCtx)
	for _, w := range s.workers {
		g.Go(func() error {
			return s.workerLoop(gctx, w)
		})
	}
	err := g.Wait()
	s.closeTerminated()
	s.tasks.Wait()
	s.ready.Clear()

	live := s.live.Load()
	s.logger.Info("scheduler stopped", F("scheduler", s.name), F("live", live))
	if err != nil {
		return err
	}
	if live > 0 {
		return fmt.Errorf("cothread: scheduler %q stopped with %d live tasks: %w", s.name, live, context.Cause(ctx))
	}
	return nil
}

// terminate ends the scheduler after the last task finished.
func (s *Scheduler) terminate() {
	s.logger.Debug("last task finished", F("scheduler", s.name))
	s.closeTerminated()
	if s.stop != nil {
		s.stop()
	}
}

func (s *Scheduler) closeTerminated() {
	s.termOnce.Do(func() {
		close(s.terminated)
	})
}

func (s *Scheduler) isTerminated() bool {
	select {
	case <-s.terminated:
		return true
	default:
		return false
	}
}

func (s *Scheduler) baseContext() context.Context {
	return s.base
}

// =============================================================================
// Ready queue operations
// =============================================================================

// enqueue makes t runnable. The caller holds t's latch; it is released by
// the queue.
func (s *Scheduler) enqueue(t *Task) {
	if err := s.ready.Push(t); err != nil {
		s.fatal("enqueue", "task queued twice", err, F("task", t.id))
	}
	s.wakeup.post()
	s.metrics.RecordQueueDepth(s.name, s.ready.Len())
}

// dequeue pops the head of the ready queue and takes its latch. The caller
// must have consumed a wakeup post.
func (s *Scheduler) dequeue() *Task {
	t := s.ready.Pop()
	if t == nil {
		s.fatal("dequeue", "wakeup post without a ready task", nil)
	}
	t.latch.Lock()
	s.metrics.RecordQueueDepth(s.name, s.ready.Len())
	return t
}

// =============================================================================
// Task lifecycle
// =============================================================================

// spawn primes t's execution context: a goroutine parked until the first
// switch into t.
func (s *Scheduler) spawn(t *Task, entry EntryFunc, arg any) {
	s.tasks.Add(1)
	go s.trampoline(t, entry, arg)
}

// trampoline is the bottom frame of every task. A task that returns and a
// task that calls Exit both finish through the deferred finish.
func (s *Scheduler) trampoline(t *Task, entry EntryFunc, arg any) {
	defer s.tasks.Done()

	w, ok := t.exec.park(s.terminated, t.unwind)
	if !ok {
		return
	}
	s.resumed(t, w)

	defer func() {
		s.finish(t, recover())
	}()
	t.exitValue = entry(t.ctx, arg)
}

func (s *Scheduler) finish(t *Task, panicInfo any) {
	if t.abandoned {
		return
	}
	if panicInfo != nil {
		if ie, ok := panicInfo.(*InvariantError); ok {
			panic(ie)
		}
		workerID := -1
		if t.runner != nil {
			workerID = t.runner.id
		}
		s.logger.Error("task panicked", F("scheduler", s.name), F("task", t.id), F("panic", panicInfo))
		s.panicHandler.HandlePanic(t.ctx, s.name, t.id, workerID, panicInfo, debug.Stack())
		s.metrics.RecordTaskPanic(s.name, panicInfo)
		t.exitValue = nil
		t.panicked = true
	}
	s.exit(t)
}

// exit marks t finished and gives its worker away. t holds its own latch.
func (s *Scheduler) exit(t *Task) {
	t.done = true
	t.result = t.exitValue
	t.exitValue = nil

	s.finished.Add(1)
	s.metrics.RecordTaskFinished(s.name, false)
	if t.panicked {
		s.recordFinished(t, OutcomePanicked)
	} else {
		s.recordFinished(t, OutcomeExited)
	}

	if s.live.Add(-1) == 0 {
		// Last live task: nobody else can join it.
		s.releaseLocked(t)
		t.latch.Unlock()
		s.terminate()
		return
	}

	if s.wakeup.tryAcquire() {
		next := s.dequeue()
		s.handoff(t, next, t.runner, SwitchExit)
		return
	}
	s.fallback(t)
}

// releaseLocked returns the resources of a finished task exactly once. The
// caller holds t's latch.
func (s *Scheduler) releaseLocked(t *Task) {
	if t.reclaimed {
		return
	}
	t.reclaimed = true
	if t.stack != nil {
		if err := s.stacks.Free(t.stack); err != nil {
			s.fatal("release", "stack freed twice", err, F("task", t.id))
		}
	}
	if t.entry {
		s.entry.CompareAndSwap(t, nil)
	}
}

// =============================================================================
// Accessors
// =============================================================================

// Name returns the scheduler name.
func (s *Scheduler) Name() string { return s.name }

// WorkerCount returns the number of workers.
func (s *Scheduler) WorkerCount() int { return len(s.workers) }

// LiveTaskCount returns the process task counter.
func (s *Scheduler) LiveTaskCount() int { return int(s.live.Load()) }

// ReadyTaskCount returns the length of the ready queue.
func (s *Scheduler) ReadyTaskCount() int { return s.ready.Len() }

// EntryTask returns the task Run was started with, or nil once it has been
// joined or finalized by a cancel request. At most one join of the entry task through this handle is valid.
func (s *Scheduler) EntryTask() *Task {
	return s.entry.Load()
}

// Stats returns current observability data for this scheduler.
func (s *Scheduler) Stats() SchedulerStats {
	workers := make([]WorkerStats, len(s.workers))
	for i, w := range s.workers {
		workers[i].ID = w.id
		if t := w.current.Load(); t != nil {
			workers[i].Current = t.id
		}
	}
	terminated := s.isTerminated()
	return SchedulerStats{
		Name:       s.name,
		Workers:    workers,
		Live:       int(s.live.Load()),
		Ready:      s.ready.Len(),
		Created:    s.created.Load(),
		Finished:   s.finished.Load(),
		Canceled:   s.canceled.Load(),
		Switches:   s.switches.Load(),
		StackBytes: s.stacks.InUse(),
		Running:    s.started.Load() && !terminated,
		Terminated: terminated,
	}
}

func (s *Scheduler) countSwitch(kind string) {
	s.switches.Add(1)
	s.metrics.RecordSwitch(s.name, kind)
}

// fatal reports a broken invariant and panics with an *InvariantError.
func (s *Scheduler) fatal(op, msg string, err error, fields ...Field) {
	fields = append([]Field{F("scheduler", s.name), F("op", op)}, fields...)
	if err != nil {
		fields = append(fields, F("error", err))
	}
	s.logger.Error(msg, fields...)
	panic(&InvariantError{Op: op, Msg: msg, Err: err})
}
