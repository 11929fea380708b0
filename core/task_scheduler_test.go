package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestScheduler(workers int) *Scheduler {
	cfg := DefaultSchedulerConfig()
	cfg.Workers = workers
	cfg.Logger = NewNoOpLogger()
	return NewScheduler(cfg)
}

type span struct{ lo, hi int }

// sumTask adds the integers of [lo, hi) by splitting the range between two
// child tasks until it is at most one element wide.
func sumTask(ctx context.Context, arg any) any {
	sp := arg.(span)
	switch sp.hi - sp.lo {
	case 0:
		return 0
	case 1:
		return sp.lo
	}
	mid := sp.lo + (sp.hi-sp.lo)/2
	left, err := Create(ctx, sumTask, span{sp.lo, mid})
	if err != nil {
		panic(err)
	}
	right, err := Create(ctx, sumTask, span{mid, sp.hi})
	if err != nil {
		panic(err)
	}
	return Join(ctx, left).(int) + Join(ctx, right).(int)
}

// TestScheduler_RecursiveSum verifies results flow through nested Create/Join
// Given: Schedulers with 1, 2 and 4 workers
// When: The entry task sums 1..N by recursive task splitting
// Then: Every N yields N*(N+1)/2 and no task is left live
func TestScheduler_RecursiveSum(t *testing.T) {
	for _, workers := range []int{1, 2, 4} {
		for _, n := range []int{0, 1, 2, 17, 1000} {
			// Arrange
			s := newTestScheduler(workers)
			var got int

			// Act
			err := s.Run(context.Background(), func(ctx context.Context, _ any) any {
				got = sumTask(ctx, span{1, n + 1}).(int)
				return nil
			}, nil)

			// Assert
			if err != nil {
				t.Fatalf("workers=%d n=%d: Run failed: %v", workers, n, err)
			}
			if want := n * (n + 1) / 2; got != want {
				t.Errorf("workers=%d n=%d: sum = %d, want %d", workers, n, got, want)
			}
			if live := s.LiveTaskCount(); live != 0 {
				t.Errorf("workers=%d n=%d: live = %d, want 0", workers, n, live)
			}
		}
	}
}

// TestScheduler_ExitAndReturn verifies Exit(v) and returning v are equivalent
// Given: One child that returns 21 and one that calls Exit(42) from a nested call
// When: Both are joined
// Then: The joins yield 21 and 42, Exit runs the child's defers and never returns
func TestScheduler_ExitAndReturn(t *testing.T) {
	// Arrange
	s := newTestScheduler(2)
	var deferred, afterExit atomic.Bool
	var returned, exited any

	nested := func(ctx context.Context) {
		Exit(ctx, 42)
		afterExit.Store(true)
	}

	// Act
	err := s.Run(context.Background(), func(ctx context.Context, _ any) any {
		r, err := Create(ctx, func(ctx context.Context, arg any) any {
			return arg
		}, 21)
		if err != nil {
			return err
		}
		e, err := Create(ctx, func(ctx context.Context, _ any) any {
			defer deferred.Store(true)
			nested(ctx)
			return -1
		}, nil)
		if err != nil {
			return err
		}
		returned = Join(ctx, r)
		exited = Join(ctx, e)
		return nil
	}, nil)

	// Assert
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if returned != 21 {
		t.Errorf("returned result = %v, want 21", returned)
	}
	if exited != 42 {
		t.Errorf("exited result = %v, want 42", exited)
	}
	if !deferred.Load() {
		t.Error("deferred call of exiting task did not run")
	}
	if afterExit.Load() {
		t.Error("Exit returned to its caller")
	}
}

// TestScheduler_SingleOwner verifies a worker runs one task at a time
// Given: A 4-worker scheduler and 16 tasks that each yield 50 times
// When: Every task claims its worker between yields
// Then: No claim ever finds the worker owned by another task and at most 4 tasks run at once
func TestScheduler_SingleOwner(t *testing.T) {
	// Arrange
	const workers, tasks, rounds = 4, 16, 50
	s := newTestScheduler(workers)
	owners := make([]atomic.Pointer[Task], workers)
	var running, maxRunning atomic.Int32
	var conflicts atomic.Int32

	body := func(ctx context.Context, _ any) any {
		for i := 0; i < rounds; i++ {
			self := Self(ctx)
			w := self.runner.id
			if !owners[w].CompareAndSwap(nil, self) {
				conflicts.Add(1)
			}
			n := running.Add(1)
			for {
				m := maxRunning.Load()
				if n <= m || maxRunning.CompareAndSwap(m, n) {
					break
				}
			}
			running.Add(-1)
			owners[w].CompareAndSwap(self, nil)
			Yield(ctx)
		}
		return nil
	}

	// Act
	err := s.Run(context.Background(), func(ctx context.Context, _ any) any {
		var children []*Task
		for i := 0; i < tasks; i++ {
			c, err := Create(ctx, body, nil)
			if err != nil {
				return err
			}
			children = append(children, c)
		}
		for _, c := range children {
			Join(ctx, c)
		}
		return nil
	}, nil)

	// Assert
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if c := conflicts.Load(); c != 0 {
		t.Fatalf("worker claimed by two tasks %d times", c)
	}
	if m := maxRunning.Load(); m > workers {
		t.Fatalf("max concurrently running tasks = %d, want <= %d", m, workers)
	}
}

// TestScheduler_NoOpYield verifies Yield with an empty ready queue
// Given: A scheduler running only its entry task
// When: The entry task yields 100 times
// Then: Every yield returns at once and only the initial dispatch counts as a switch
func TestScheduler_NoOpYield(t *testing.T) {
	// Arrange
	s := newTestScheduler(1)
	yields := 0

	// Act
	err := s.Run(context.Background(), func(ctx context.Context, _ any) any {
		for i := 0; i < 100; i++ {
			Yield(ctx)
			yields++
		}
		return nil
	}, nil)

	// Assert
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if yields != 100 {
		t.Fatalf("yields = %d, want 100", yields)
	}
	stats := s.Stats()
	if stats.Switches != 1 {
		t.Errorf("switches = %d, want 1", stats.Switches)
	}
	if stats.Created != 1 || stats.Finished != 1 {
		t.Errorf("created/finished = %d/%d, want 1/1", stats.Created, stats.Finished)
	}
	if !stats.Terminated || stats.Running {
		t.Errorf("terminated/running = %v/%v, want true/false", stats.Terminated, stats.Running)
	}
}

// TestScheduler_YieldInterleaves verifies round-robin order on one worker
// Given: A 1-worker scheduler and two tasks appending to a shared log between yields
// When: Both run three rounds
// Then: Their entries alternate
func TestScheduler_YieldInterleaves(t *testing.T) {
	// Arrange
	s := newTestScheduler(1)
	var log []string

	step := func(name string) EntryFunc {
		return func(ctx context.Context, _ any) any {
			for i := 0; i < 3; i++ {
				log = append(log, name)
				Yield(ctx)
			}
			return nil
		}
	}

	// Act
	err := s.Run(context.Background(), func(ctx context.Context, _ any) any {
		a, _ := Create(ctx, step("a"), nil)
		b, _ := Create(ctx, step("b"), nil)
		Join(ctx, a)
		Join(ctx, b)
		return nil
	}, nil)

	// Assert
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	want := []string{"a", "b", "a", "b", "a", "b"}
	if len(log) != len(want) {
		t.Fatalf("log = %v, want %v", log, want)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("log = %v, want %v", log, want)
		}
	}
}

// TestScheduler_SelfMatchesHandle verifies Self identifies the running task
func TestScheduler_SelfMatchesHandle(t *testing.T) {
	s := newTestScheduler(2)
	seen := make(chan *Task, 1)
	var child *Task

	err := s.Run(context.Background(), func(ctx context.Context, _ any) any {
		if !Self(ctx).IsEntry() {
			t.Error("entry task does not report IsEntry")
		}
		var err error
		child, err = Create(ctx, func(ctx context.Context, _ any) any {
			seen <- Self(ctx)
			return nil
		}, nil)
		if err != nil {
			return err
		}
		Join(ctx, child)
		return nil
	}, nil)

	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := <-seen; got != child {
		t.Fatalf("Self in child = task %d, want task %d", got.ID(), child.ID())
	}
}

func TestSelf_OutsideTaskPanics(t *testing.T) {
	defer func() {
		r := recover()
		var ie *InvariantError
		if err, ok := r.(error); !ok || !errors.As(err, &ie) {
			t.Fatalf("recovered %v, want *InvariantError", r)
		}
	}()
	Self(context.Background())
}

// TestSelf_SuspendedTaskContextPanics verifies another task's context is rejected
// Given: A child task that stored its context and yielded
// When: The entry task calls Yield with the child's context
// Then: Yield panics with *InvariantError and the child still finishes
func TestSelf_SuspendedTaskContextPanics(t *testing.T) {
	// Arrange
	s := newTestScheduler(1)
	var childCtx context.Context
	var caught bool

	// Act
	err := s.Run(context.Background(), func(ctx context.Context, _ any) any {
		child, _ := Create(ctx, func(ctx context.Context, _ any) any {
			childCtx = ctx
			Yield(ctx)
			return nil
		}, nil)
		Yield(ctx)
		func() {
			defer func() {
				_, caught = recover().(*InvariantError)
			}()
			Yield(childCtx)
		}()
		Join(ctx, child)
		return nil
	}, nil)

	// Assert
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !caught {
		t.Fatal("Yield with a suspended task's context did not panic with *InvariantError")
	}
}

// TestScheduler_MultipleJoiners verifies joining is idempotent
// Given: A target task and two extra tasks that join it besides the entry task
// When: All three joins return
// Then: Every joiner gets the same result and the target's stack is released once
func TestScheduler_MultipleJoiners(t *testing.T) {
	// Arrange
	reg := NewTrackingStackRegistrar()
	cfg := DefaultSchedulerConfig()
	cfg.Logger = NewNoOpLogger()
	cfg.StackRegistrar = reg
	s := NewScheduler(cfg)
	var results []any

	// Act
	err := s.Run(context.Background(), func(ctx context.Context, _ any) any {
		target, err := Create(ctx, func(ctx context.Context, _ any) any {
			Yield(ctx)
			Yield(ctx)
			return 42
		}, nil)
		if err != nil {
			return err
		}
		joiner := func(ctx context.Context, _ any) any {
			return Join(ctx, target)
		}
		j1, _ := Create(ctx, joiner, nil)
		j2, _ := Create(ctx, joiner, nil)
		results = append(results, Join(ctx, target), Join(ctx, j1), Join(ctx, j2))
		return nil
	}, nil)

	// Assert
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	for i, r := range results {
		if r != 42 {
			t.Errorf("join %d result = %v, want 42", i, r)
		}
	}
	if v := reg.Violations(); len(v) != 0 {
		t.Fatalf("stack registrar violations: %v", v)
	}
	if reg.Live() != 0 {
		t.Fatalf("live stacks after Run = %d, want 0", reg.Live())
	}
	if reg.Registered() != 3 {
		t.Fatalf("registered stacks = %d, want 3", reg.Registered())
	}
}

// TestScheduler_JoinEntryTask verifies the entry task can be joined after it exits
// Given: An entry task that creates a child and then exits with "main"
// When: The child joins the entry task
// Then: The child gets "main" and the scheduler ends when the child exits
func TestScheduler_JoinEntryTask(t *testing.T) {
	// Arrange
	s := newTestScheduler(2)
	var got any

	// Act
	err := s.Run(context.Background(), func(ctx context.Context, _ any) any {
		_, err := Create(ctx, func(ctx context.Context, _ any) any {
			got = Join(ctx, s.EntryTask())
			return nil
		}, nil)
		if err != nil {
			return err
		}
		Exit(ctx, "main")
		return nil
	}, nil)

	// Assert
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got != "main" {
		t.Fatalf("entry task result = %v, want main", got)
	}
	if s.EntryTask() != nil {
		t.Fatal("entry task handle still set after join")
	}
}

// TestScheduler_StackExhausted verifies a failed Create leaves nothing behind
// Given: A stack budget covering two stacks
// When: The entry task creates a third task while two are live
// Then: Create fails with ErrStackExhausted and neither the task count nor the registrar changes
func TestScheduler_StackExhausted(t *testing.T) {
	// Arrange
	reg := NewTrackingStackRegistrar()
	cfg := DefaultSchedulerConfig()
	cfg.Logger = NewNoOpLogger()
	cfg.StackSize = 1024
	cfg.StackBudget = 2048
	cfg.StackRegistrar = reg
	s := NewScheduler(cfg)

	var createErr error
	var liveBefore, liveAfter, regBefore, regAfter int

	// Act
	err := s.Run(context.Background(), func(ctx context.Context, _ any) any {
		noop := func(ctx context.Context, _ any) any { return nil }
		c1, _ := Create(ctx, noop, nil)
		c2, _ := Create(ctx, noop, nil)

		liveBefore, regBefore = s.LiveTaskCount(), reg.Registered()
		_, createErr = Create(ctx, noop, nil)
		liveAfter, regAfter = s.LiveTaskCount(), reg.Registered()

		Join(ctx, c1)
		Join(ctx, c2)
		return nil
	}, nil)

	// Assert
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !errors.Is(createErr, ErrStackExhausted) {
		t.Fatalf("Create error = %v, want ErrStackExhausted", createErr)
	}
	if liveBefore != liveAfter {
		t.Errorf("live tasks changed by failed Create: %d -> %d", liveBefore, liveAfter)
	}
	if regBefore != regAfter {
		t.Errorf("registered stacks changed by failed Create: %d -> %d", regBefore, regAfter)
	}
	if reg.Live() != 0 {
		t.Errorf("live stacks after Run = %d, want 0", reg.Live())
	}
}

func TestScheduler_TooManyTasks(t *testing.T) {
	reg := NewTrackingStackRegistrar()
	cfg := DefaultSchedulerConfig()
	cfg.Logger = NewNoOpLogger()
	cfg.MaxTasks = 2
	cfg.StackRegistrar = reg
	s := NewScheduler(cfg)

	var createErr error
	err := s.Run(context.Background(), func(ctx context.Context, _ any) any {
		c, err := Create(ctx, func(ctx context.Context, _ any) any { return nil }, nil)
		if err != nil {
			return err
		}
		_, createErr = Create(ctx, func(ctx context.Context, _ any) any { return nil }, nil)
		Join(ctx, c)
		return nil
	}, nil)

	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !errors.Is(createErr, ErrTooManyTasks) {
		t.Fatalf("Create error = %v, want ErrTooManyTasks", createErr)
	}
	if reg.Registered() != 1 {
		t.Fatalf("registered stacks = %d, want 1", reg.Registered())
	}
}

type recordingPanicHandler struct {
	mu     sync.Mutex
	panics []any
	tasks  []TaskID
}

func (h *recordingPanicHandler) HandlePanic(ctx context.Context, schedulerName string, taskID TaskID, workerID int, panicInfo any, stackTrace []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.panics = append(h.panics, panicInfo)
	h.tasks = append(h.tasks, taskID)
}

// TestScheduler_TaskPanic verifies a panicking task finishes with a nil result
// Given: A child task that panics
// When: The entry task joins it
// Then: The panic handler sees the panic, the join returns nil and the scheduler keeps going
func TestScheduler_TaskPanic(t *testing.T) {
	// Arrange
	handler := &recordingPanicHandler{}
	cfg := DefaultSchedulerConfig()
	cfg.Logger = NewNoOpLogger()
	cfg.PanicHandler = handler
	s := NewScheduler(cfg)

	var child *Task
	var result any = "unset"

	// Act
	err := s.Run(context.Background(), func(ctx context.Context, _ any) any {
		var err error
		child, err = Create(ctx, func(ctx context.Context, _ any) any {
			panic("boom")
		}, nil)
		if err != nil {
			return err
		}
		result = Join(ctx, child)
		return nil
	}, nil)

	// Assert
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result != nil {
		t.Fatalf("join result = %v, want nil", result)
	}
	handler.mu.Lock()
	defer handler.mu.Unlock()
	if len(handler.panics) != 1 || handler.panics[0] != "boom" {
		t.Fatalf("handled panics = %v, want [boom]", handler.panics)
	}
	if handler.tasks[0] != child.ID() {
		t.Fatalf("panicked task = %d, want %d", handler.tasks[0], child.ID())
	}
}

func TestScheduler_RunTwice(t *testing.T) {
	s := newTestScheduler(1)
	entry := func(ctx context.Context, _ any) any { return nil }

	if err := s.Run(context.Background(), entry, nil); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}
	if err := s.Run(context.Background(), entry, nil); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Run error = %v, want ErrAlreadyRunning", err)
	}
}

func TestScheduler_NilEntry(t *testing.T) {
	s := newTestScheduler(1)
	if err := s.Run(context.Background(), nil, nil); !errors.Is(err, ErrNilEntry) {
		t.Fatalf("Run(nil) error = %v, want ErrNilEntry", err)
	}

	var createErr error
	s = newTestScheduler(1)
	err := s.Run(context.Background(), func(ctx context.Context, _ any) any {
		_, createErr = Create(ctx, nil, nil)
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !errors.Is(createErr, ErrNilEntry) {
		t.Fatalf("Create(nil) error = %v, want ErrNilEntry", createErr)
	}
}

// TestScheduler_ForcedShutdown verifies Run returns when its context ends
// Given: Two tasks that yield to each other forever
// When: Run's context times out
// Then: Run returns an error wrapping context.DeadlineExceeded
func TestScheduler_ForcedShutdown(t *testing.T) {
	// Arrange
	s := newTestScheduler(1)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	spin := func(ctx context.Context, _ any) any {
		for {
			Yield(ctx)
		}
	}

	// Act
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(ctx context.Context, arg any) any {
			if _, err := Create(ctx, spin, nil); err != nil {
				return err
			}
			return spin(ctx, arg)
		}, nil)
	}()

	// Assert
	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("Run error = %v, want DeadlineExceeded", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after its context ended")
	}
	if live := s.LiveTaskCount(); live != 2 {
		t.Fatalf("live tasks = %d, want 2", live)
	}
}
