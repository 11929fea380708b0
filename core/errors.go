package core

import (
	"errors"
	"fmt"
)

var (
	// ErrStackExhausted is returned by Create when the stack budget cannot
	// cover another task stack.
	ErrStackExhausted = errors.New("cothread: stack budget exhausted")

	// ErrTooManyTasks is returned by Create when MaxTasks live tasks exist.
	ErrTooManyTasks = errors.New("cothread: too many live tasks")

	// ErrAlreadyRunning is returned by Run when the scheduler was started
	// before. A scheduler runs exactly once.
	ErrAlreadyRunning = errors.New("cothread: scheduler already started")

	// ErrNilEntry is returned by Run and Create for a nil entry function.
	ErrNilEntry = errors.New("cothread: nil entry function")

	// ErrStackFreed is returned by StackAllocator.Free for a stack that was
	// already returned.
	ErrStackFreed = errors.New("cothread: stack already freed")

	errQueued       = errors.New("task already on the ready queue")
	errDoubleResume = errors.New("execution context already has a pending resume")
)

// InvariantError reports a broken scheduler invariant or a misuse of the API
// that the scheduler cannot recover from (no current task, resuming a
// finished task, a failed context switch). It is raised with panic.
type InvariantError struct {
	Op  string
	Msg string
	Err error
}

func (e *InvariantError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cothread: %s: %s: %v", e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("cothread: %s: %s", e.Op, e.Msg)
}

func (e *InvariantError) Unwrap() error {
	return e.Err
}
