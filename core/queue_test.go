package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

func lockedTask(id TaskID) *Task {
	t := &Task{id: id}
	t.latch.Lock()
	return t
}

// TestReadyQueue_FIFO verifies tasks leave the queue in arrival order
// Given: A ready queue with three tasks pushed in order 1, 2, 3
// When: Tasks are popped until the queue is empty
// Then: They come out as 1, 2, 3 and the queue reports empty afterwards
func TestReadyQueue_FIFO(t *testing.T) {
	// Arrange
	q := NewReadyQueue()
	for id := TaskID(1); id <= 3; id++ {
		if err := q.Push(lockedTask(id)); err != nil {
			t.Fatalf("Push(%d) failed: %v", id, err)
		}
	}

	// Act & Assert
	if q.Len() != 3 {
		t.Fatalf("Len = %d, want 3", q.Len())
	}
	for want := TaskID(1); want <= 3; want++ {
		got := q.Pop()
		if got == nil {
			t.Fatalf("Pop returned nil, want task %d", want)
		}
		if got.id != want {
			t.Errorf("Pop = task %d, want task %d", got.id, want)
		}
	}
	if !q.IsEmpty() {
		t.Fatalf("queue not empty after popping everything")
	}
	if got := q.Pop(); got != nil {
		t.Fatalf("Pop on empty queue = task %d, want nil", got.id)
	}
}

// TestReadyQueue_PushReleasesLatch verifies the pusher's latch is released
// Given: A task whose latch is held
// When: The task is pushed
// Then: The latch can be taken again by anyone
func TestReadyQueue_PushReleasesLatch(t *testing.T) {
	// Arrange
	q := NewReadyQueue()
	task := lockedTask(1)

	// Act
	if err := q.Push(task); err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	// Assert
	if !task.latch.TryLock() {
		t.Fatal("latch still held after Push")
	}
	task.latch.Unlock()
}

// TestReadyQueue_DuplicatePush verifies a task is queued at most once
// Given: A task already on the queue
// When: It is pushed again
// Then: Push fails and the queue length is unchanged
func TestReadyQueue_DuplicatePush(t *testing.T) {
	// Arrange
	q := NewReadyQueue()
	task := lockedTask(1)
	if err := q.Push(task); err != nil {
		t.Fatalf("first Push failed: %v", err)
	}

	// Act
	task.latch.Lock()
	err := q.Push(task)
	task.latch.Unlock()

	// Assert
	if !errors.Is(err, errQueued) {
		t.Fatalf("second Push error = %v, want errQueued", err)
	}
	if q.Len() != 1 {
		t.Fatalf("Len = %d, want 1", q.Len())
	}
}

// TestReadyQueue_RepushAfterPop verifies a popped task can be queued again
func TestReadyQueue_RepushAfterPop(t *testing.T) {
	q := NewReadyQueue()
	a, b := lockedTask(1), lockedTask(2)
	_ = q.Push(a)
	_ = q.Push(b)

	popped := q.Pop()
	popped.latch.Lock()
	if err := q.Push(popped); err != nil {
		t.Fatalf("re-Push failed: %v", err)
	}

	if got := q.Pop(); got != b {
		t.Fatalf("first Pop = task %d, want task 2", got.id)
	}
	if got := q.Pop(); got != a {
		t.Fatalf("second Pop = task %d, want task 1", got.id)
	}
}

func TestReadyQueue_Clear(t *testing.T) {
	q := NewReadyQueue()
	tasks := []*Task{lockedTask(1), lockedTask(2)}
	for _, task := range tasks {
		_ = q.Push(task)
	}

	q.Clear()

	if q.Len() != 0 {
		t.Fatalf("Len after Clear = %d, want 0", q.Len())
	}
	for _, task := range tasks {
		if task.queued || task.next != nil {
			t.Errorf("task %d still linked after Clear", task.id)
		}
	}
}

// TestWakeup_CountsPosts verifies the wakeup semaphore counts pending posts
// Given: A fresh wakeup with two posts
// When: tryAcquire is called three times
// Then: The first two succeed and the third fails
func TestWakeup_CountsPosts(t *testing.T) {
	// Arrange
	w := newWakeup()
	if w.tryAcquire() {
		t.Fatal("fresh wakeup has a pending post")
	}
	w.post()
	w.post()

	// Act & Assert
	if !w.tryAcquire() {
		t.Fatal("first tryAcquire failed")
	}
	if !w.tryAcquire() {
		t.Fatal("second tryAcquire failed")
	}
	if w.tryAcquire() {
		t.Fatal("third tryAcquire succeeded without a post")
	}
}

// TestWakeup_AcquireBlocksUntilPost verifies a waiting worker is woken by a post
func TestWakeup_AcquireBlocksUntilPost(t *testing.T) {
	w := newWakeup()
	got := make(chan error, 1)

	go func() {
		got <- w.acquire(context.Background())
	}()

	select {
	case err := <-got:
		t.Fatalf("acquire returned before post: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	w.post()

	select {
	case err := <-got:
		if err != nil {
			t.Fatalf("acquire failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("acquire not woken by post")
	}
}

func TestWakeup_AcquireCanceled(t *testing.T) {
	w := newWakeup()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := w.acquire(ctx); err == nil {
		t.Fatal("acquire with canceled context succeeded")
	}
}
