package cothread

import "github.com/Swind/go-cothread/core"

// Re-export commonly used types from core package for convenience.
// This allows users to import only the cothread package for most use cases.

// Task is the handle of a logical thread
type Task = core.Task

// TaskID identifies a task in logs and stats
type TaskID = core.TaskID

// EntryFunc is the body of a task
type EntryFunc = core.EntryFunc

// CancelState controls whether cancel requests take effect
type CancelState = core.CancelState

// Scheduler multiplexes tasks onto a worker pool
type Scheduler = core.Scheduler

// SchedulerConfig configures a Scheduler
type SchedulerConfig = core.SchedulerConfig

// SchedulerStats is an observability snapshot of a Scheduler
type SchedulerStats = core.SchedulerStats

// Cancel state constants
const (
	CancelEnabled  CancelState = core.CancelEnabled
	CancelDisabled CancelState = core.CancelDisabled
)

// Task API
var (
	Create         = core.Create
	Yield          = core.Yield
	Join           = core.Join
	Exit           = core.Exit
	Self           = core.Self
	Cancel         = core.Cancel
	SetCancelState = core.SetCancelState
)

// Errors
var (
	ErrStackExhausted = core.ErrStackExhausted
	ErrTooManyTasks   = core.ErrTooManyTasks
	ErrAlreadyRunning = core.ErrAlreadyRunning
	ErrNilEntry       = core.ErrNilEntry
)

// DefaultSchedulerConfig returns a config with default handlers
var DefaultSchedulerConfig = core.DefaultSchedulerConfig

// NewScheduler creates a Scheduler. It is re-exported for users who want to
// run several independent schedulers or a custom configuration.
func NewScheduler(config *SchedulerConfig) *Scheduler {
	return core.NewScheduler(config)
}
