// Package cothread provides a cooperative M:N task runtime for Go.
//
// Many lightweight tasks are multiplexed onto a small, fixed pool of
// workers. The API is shaped like a classic thread library: Create, Yield,
// Join, Exit, Self, Cancel and SetCancelState. Tasks are never preempted:
// a task keeps its worker until it yields, joins or exits.
//
// # Quick Start
//
// Run a program with the default configuration (2 workers):
//
//	err := cothread.Main(func(ctx context.Context, arg any) any {
//		child, err := cothread.Create(ctx, work, 21)
//		if err != nil {
//			return err
//		}
//		return cothread.Join(ctx, child)
//	}, nil)
//
// # Key Concepts
//
// Task: a logical thread. It owns a stack reservation and runs on whichever
// worker picks it up from the ready queue. Its context (the ctx passed to the
// entry function) identifies it to every API call.
//
// Worker: one slot of the pool. At any instant a worker runs at most one
// task, and a task runs on at most one worker.
//
// Ready queue: FIFO of runnable tasks. Yield, Join and Exit are the only
// points where a worker moves from one task to another.
//
// Cancellation: deferred. A canceled task stops the next time it would be
// put back on the ready queue with cancellation enabled; it never stops in
// the middle of its own code.
//
// # Lifecycle
//
// Run (or Main) returns once the last task has exited, whichever worker
// that happens on. A task that returns from its entry function exits with
// the returned value.
//
// For more details, see https://github.com/Swind/go-cothread
package cothread
