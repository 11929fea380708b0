package core

import (
	"context"
	"fmt"
	"os"
)

// =============================================================================
// PanicHandler: Interface for handling task panics
// =============================================================================

// PanicHandler is called when a task panics. The task is then finished with
// a nil result, like a task that called Exit(nil).
//
// Implementations should be thread-safe as they may be called concurrently.
type PanicHandler interface {
	// HandlePanic is called when a task panics.
	//
	// Parameters:
	// - ctx: The context of the panicked task
	// - schedulerName: The name of the scheduler running the task
	// - taskID: The task that panicked
	// - workerID: The worker the task was running on
	// - panicInfo: The panic value recovered from the task
	// - stackTrace: The stack trace at the time of panic
	HandlePanic(ctx context.Context, schedulerName string, taskID TaskID, workerID int, panicInfo any, stackTrace []byte)
}

// DefaultPanicHandler writes panic information to stderr.
type DefaultPanicHandler struct{}

// HandlePanic prints panic information to stderr.
func (h *DefaultPanicHandler) HandlePanic(ctx context.Context, schedulerName string, taskID TaskID, workerID int, panicInfo any, stackTrace []byte) {
	fmt.Fprintf(os.Stderr, "[Worker %d @ %s] task %d panic: %v\nStack trace:\n%s",
		workerID, schedulerName, taskID, panicInfo, stackTrace)
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Switch kinds passed to Metrics.RecordSwitch.
const (
	SwitchYield = "yield"    // a task gave its worker to the next ready task
	SwitchExit  = "exit"     // a finishing task handed its worker on
	SwitchIdle  = "idle"     // a worker's idle loop resumed a task
	SwitchFall  = "fallback" // a task fell back to its worker's idle loop
)

// Metrics defines the interface for collecting scheduler metrics.
// Implementations can send metrics to monitoring systems (Prometheus, StatsD, etc.).
//
// Methods are called on scheduling paths and must be non-blocking and fast.
type Metrics interface {
	// RecordTaskCreated records a successful Create.
	RecordTaskCreated(schedulerName string)

	// RecordTaskFinished records a task reaching done. canceled is true
	// when a cancel request finalized it.
	RecordTaskFinished(schedulerName string, canceled bool)

	// RecordCreateFailed records a Create rejected for lack of resources.
	RecordCreateFailed(schedulerName string, reason string)

	// RecordSwitch records one context switch of the given kind.
	RecordSwitch(schedulerName string, kind string)

	// RecordQueueDepth records the ready queue length after it changed.
	RecordQueueDepth(schedulerName string, depth int)

	// RecordTaskPanic records that a task panicked.
	RecordTaskPanic(schedulerName string, panicInfo any)
}

// NilMetrics provides a no-op metrics implementation.
// This is the default when no metrics interface is provided.
type NilMetrics struct{}

func (m *NilMetrics) RecordTaskCreated(schedulerName string)                 {}
func (m *NilMetrics) RecordTaskFinished(schedulerName string, canceled bool) {}
func (m *NilMetrics) RecordCreateFailed(schedulerName string, reason string) {}
func (m *NilMetrics) RecordSwitch(schedulerName string, kind string)         {}
func (m *NilMetrics) RecordQueueDepth(schedulerName string, depth int)       {}
func (m *NilMetrics) RecordTaskPanic(schedulerName string, panicInfo any)    {}

// =============================================================================
// SchedulerConfig: Configuration for Scheduler
// =============================================================================

const (
	// DefaultWorkers is the size of the worker pool when none is configured.
	DefaultWorkers = 2

	defaultSchedulerName = "cothread"
)

// SchedulerConfig holds configuration options for Scheduler. The values are
// fixed once the scheduler is created.
// All handlers are optional; if not provided, default implementations will be used.
type SchedulerConfig struct {
	// Name labels logs and metrics. Defaults to "cothread".
	Name string

	// Workers is the number of workers multiplexing the tasks. Defaults to 2.
	Workers int

	// StackSize is the reservation made for every created task. Defaults to
	// DefaultStackSize.
	StackSize int64

	// StackBudget caps the bytes reserved by live task stacks. Zero means
	// no cap.
	StackBudget int64

	// MaxTasks caps the number of live tasks, the entry task included. Zero
	// means no cap.
	MaxTasks int

	// Logger receives scheduler logs. Defaults to a zerolog logger on stderr
	// at warn level.
	Logger Logger

	// Metrics is called to record scheduler metrics. Defaults to NilMetrics.
	Metrics Metrics

	// PanicHandler is called when a task panics. Defaults to DefaultPanicHandler.
	PanicHandler PanicHandler

	// StackRegistrar is told about live stacks. Defaults to NopStackRegistrar.
	StackRegistrar StackRegistrar

	// HistoryCapacity is the number of finished tasks kept for RecentTasks.
	// Zero means 100; a negative value disables the history.
	HistoryCapacity int
}

// DefaultSchedulerConfig returns a config with default handlers.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		Name:           defaultSchedulerName,
		Workers:        DefaultWorkers,
		StackSize:      DefaultStackSize,
		Logger:         NewDefaultLogger(),
		Metrics:        &NilMetrics{},
		PanicHandler:   &DefaultPanicHandler{},
		StackRegistrar: NopStackRegistrar{},
	}
}
