package cothread

import (
	"context"
	"sync"

	"github.com/Swind/go-cothread/core"
)

// =============================================================================
// Global Scheduler Helper
// =============================================================================

var (
	globalConfig    *core.SchedulerConfig
	globalScheduler *core.Scheduler
	globalMu        sync.Mutex
)

// Configure sets the configuration used by the next Main call. Passing nil
// restores the defaults.
func Configure(config *SchedulerConfig) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalConfig = config
}

// Main runs entry as the entry task of a fresh global scheduler and blocks
// until the last task exits. Only one Main may run at a time.
func Main(entry EntryFunc, arg any) error {
	return MainContext(context.Background(), entry, arg)
}

// MainContext is Main with a context that tears the scheduler down early
// when it ends.
func MainContext(ctx context.Context, entry EntryFunc, arg any) error {
	globalMu.Lock()
	if globalScheduler != nil {
		globalMu.Unlock()
		return ErrAlreadyRunning
	}
	s := core.NewScheduler(globalConfig)
	globalScheduler = s
	globalMu.Unlock()

	defer func() {
		globalMu.Lock()
		globalScheduler = nil
		globalMu.Unlock()
	}()
	return s.Run(ctx, entry, arg)
}

// GlobalScheduler returns the scheduler started by Main.
// It panics if Main is not running.
func GlobalScheduler() *Scheduler {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalScheduler == nil {
		panic("GlobalScheduler not running. Call Main() first.")
	}
	return globalScheduler
}
