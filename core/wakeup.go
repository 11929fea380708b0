package core

import (
	"context"
	"math"

	"golang.org/x/sync/semaphore"
)

// wakeup counts the tasks on the ready queue. Idle workers block in acquire
// instead of polling the queue.
//
// It is a weighted semaphore whose whole capacity is taken up front: every
// post hands one unit back, so the number of units available always equals
// the number of posts not yet consumed.
type wakeup struct {
	sem *semaphore.Weighted
}

const wakeupCapacity = math.MaxInt64

func newWakeup() *wakeup {
	sem := semaphore.NewWeighted(wakeupCapacity)
	if !sem.TryAcquire(wakeupCapacity) {
		panic("cothread: fresh wakeup semaphore not empty")
	}
	return &wakeup{sem: sem}
}

func (w *wakeup) post() {
	w.sem.Release(1)
}

// tryAcquire consumes one post if any is pending.
func (w *wakeup) tryAcquire() bool {
	return w.sem.TryAcquire(1)
}

// acquire blocks until a post is pending or ctx is done.
func (w *wakeup) acquire(ctx context.Context) error {
	return w.sem.Acquire(ctx, 1)
}
