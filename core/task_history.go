package core

import (
	"reflect"
	"runtime"
	"sync"
	"time"
)

const defaultTaskHistoryCapacity = 100

// TaskOutcome says how a task finished.
type TaskOutcome string

const (
	OutcomeExited   TaskOutcome = "exited"
	OutcomeCanceled TaskOutcome = "canceled"
	OutcomePanicked TaskOutcome = "panicked"
)

// TaskRecord describes one finished task.
type TaskRecord struct {
	ID         TaskID
	Name       string
	Entry      bool
	Outcome    TaskOutcome
	Worker     int
	CreatedAt  time.Time
	FinishedAt time.Time
	Lifetime   time.Duration
}

// taskHistory keeps the most recent finished tasks in a ring buffer.
type taskHistory struct {
	mu    sync.Mutex
	items []TaskRecord
	head  int
	count int
}

func newTaskHistory(capacity int) *taskHistory {
	if capacity < 0 {
		return &taskHistory{}
	}
	if capacity == 0 {
		capacity = defaultTaskHistoryCapacity
	}
	return &taskHistory{items: make([]TaskRecord, capacity)}
}

func (h *taskHistory) add(record TaskRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.items) == 0 {
		return
	}

	h.items[h.head] = record
	h.head = (h.head + 1) % len(h.items)
	if h.count < len(h.items) {
		h.count++
	}
}

// recent returns up to limit records, newest first.
func (h *taskHistory) recent(limit int) []TaskRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		return nil
	}

	if limit <= 0 || limit > h.count {
		limit = h.count
	}

	out := make([]TaskRecord, 0, limit)
	for i := range limit {
		idx := (h.head - 1 - i + len(h.items)) % len(h.items)
		out = append(out, h.items[idx])
	}
	return out
}

func (h *taskHistory) last() (TaskRecord, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		return TaskRecord{}, false
	}

	idx := (h.head - 1 + len(h.items)) % len(h.items)
	return h.items[idx], true
}

// entryName resolves the function name of entry for task records.
func entryName(entry EntryFunc) string {
	if entry == nil {
		return "anonymous"
	}

	pc := reflect.ValueOf(entry).Pointer()
	if pc == 0 {
		return "anonymous"
	}

	fn := runtime.FuncForPC(pc)
	if fn == nil || fn.Name() == "" {
		return "anonymous"
	}
	return fn.Name()
}

// recordFinished adds t to the history. The caller holds t's latch.
func (s *Scheduler) recordFinished(t *Task, outcome TaskOutcome) {
	workerID := -1
	if t.runner != nil {
		workerID = t.runner.id
	}
	now := time.Now()
	s.history.add(TaskRecord{
		ID:         t.id,
		Name:       t.name,
		Entry:      t.entry,
		Outcome:    outcome,
		Worker:     workerID,
		CreatedAt:  t.createdAt,
		FinishedAt: now,
		Lifetime:   now.Sub(t.createdAt),
	})
}

// RecentTasks returns up to limit finished tasks, newest first. A limit of
// zero or less returns everything retained.
func (s *Scheduler) RecentTasks(limit int) []TaskRecord {
	return s.history.recent(limit)
}

// LastTask returns the most recently finished task.
func (s *Scheduler) LastTask() (TaskRecord, bool) {
	return s.history.last()
}
