package core

import "sync"

// =============================================================================
// ReadyQueue: intrusive FIFO of runnable tasks
// =============================================================================

// ReadyQueue holds the tasks eligible to run, in the order they became
// eligible. Tasks are linked through their own next field, so pushing never
// allocates. A task is on the queue at most once.
type ReadyQueue struct {
	mu   sync.Mutex
	head *Task
	tail *Task
	n    int
}

// NewReadyQueue creates an empty ready queue.
func NewReadyQueue() *ReadyQueue {
	return &ReadyQueue{}
}

// Push appends t and releases its latch while the queue lock is still held,
// so a task is never observable on the queue with its latch taken by the
// pusher.
func (q *ReadyQueue) Push(t *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if t.queued {
		return errQueued
	}
	t.queued = true
	t.next = nil
	if q.tail == nil {
		q.head = t
	} else {
		q.tail.next = t
	}
	q.tail = t
	q.n++

	t.latch.Unlock()
	return nil
}

// Pop removes the head of the queue. It returns nil when the queue is empty.
// The caller is responsible for taking the latch of the returned task.
func (q *ReadyQueue) Pop() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	t := q.head
	if t == nil {
		return nil
	}
	q.head = t.next
	if q.head == nil {
		q.tail = nil
	}
	t.next = nil
	t.queued = false
	q.n--
	return t
}

// Len returns the number of queued tasks.
func (q *ReadyQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

// IsEmpty reports whether no task is queued.
func (q *ReadyQueue) IsEmpty() bool {
	return q.Len() == 0
}

// Clear unlinks every queued task and releases the references.
func (q *ReadyQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for t := q.head; t != nil; {
		next := t.next
		t.next = nil
		t.queued = false
		t = next
	}
	q.head, q.tail, q.n = nil, nil, 0
}
