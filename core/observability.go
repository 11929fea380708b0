package core

// WorkerStats is a snapshot of one worker's current slot.
type WorkerStats struct {
	ID int
	// Current is the task the worker is running, 0 when it is idle.
	Current TaskID
}

// SchedulerStats represents runtime observability state for a scheduler.
type SchedulerStats struct {
	Name       string
	Workers    []WorkerStats
	Live       int
	Ready      int
	Created    int64
	Finished   int64
	Canceled   int64
	Switches   int64
	StackBytes int64
	Running    bool
	Terminated bool
}

// Busy returns the number of workers running a task.
func (s SchedulerStats) Busy() int {
	n := 0
	for _, w := range s.Workers {
		if w.Current != 0 {
			n++
		}
	}
	return n
}
