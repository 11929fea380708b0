package core

import (
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

const (
	// DefaultStackSize is the stack reservation of a created task.
	DefaultStackSize = 32 * 1024
)

// Stack is the stack reservation owned by one task for its whole life. The
// goroutine backing the task grows its own stack; the reservation accounts
// for it against the scheduler's stack budget and is what the stack
// registrar sees.
type Stack struct {
	id    uint64
	size  int64
	freed atomic.Bool
}

func (s *Stack) ID() uint64  { return s.id }
func (s *Stack) Size() int64 { return s.size }

// =============================================================================
// StackRegistrar: debugging hooks for stack ranges
// =============================================================================

// StackRegistrar is told about every stack that becomes live and every stack
// that is released, so memory checkers can track them.
//
// Implementations must be safe for concurrent use.
type StackRegistrar interface {
	RegisterStack(id uint64, size int64)
	DeregisterStack(id uint64)
}

// NopStackRegistrar ignores registrations.
type NopStackRegistrar struct{}

func (NopStackRegistrar) RegisterStack(id uint64, size int64) {}
func (NopStackRegistrar) DeregisterStack(id uint64)           {}

// TrackingStackRegistrar records live stacks and flags unbalanced calls.
type TrackingStackRegistrar struct {
	mu         sync.Mutex
	live       map[uint64]int64
	registered int
	violations []string
}

func NewTrackingStackRegistrar() *TrackingStackRegistrar {
	return &TrackingStackRegistrar{live: make(map[uint64]int64)}
}

func (r *TrackingStackRegistrar) RegisterStack(id uint64, size int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.live[id]; ok {
		r.violations = append(r.violations, fmt.Sprintf("stack %d registered twice", id))
		return
	}
	r.live[id] = size
	r.registered++
}

func (r *TrackingStackRegistrar) DeregisterStack(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.live[id]; !ok {
		r.violations = append(r.violations, fmt.Sprintf("stack %d deregistered while not live", id))
		return
	}
	delete(r.live, id)
}

// Live returns the number of registered stacks not yet deregistered.
func (r *TrackingStackRegistrar) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

// Registered returns the number of stacks ever registered.
func (r *TrackingStackRegistrar) Registered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registered
}

// Violations returns a copy of the unbalanced calls seen so far.
func (r *TrackingStackRegistrar) Violations() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.violations...)
}

// =============================================================================
// StackAllocator
// =============================================================================

// StackAllocator hands out fixed-size stack reservations. With a non-zero
// budget the total reserved bytes never exceed it and Alloc fails instead of
// waiting.
type StackAllocator struct {
	size      int64
	budget    *semaphore.Weighted
	registrar StackRegistrar
	nextID    atomic.Uint64
	inUse     atomic.Int64
}

func NewStackAllocator(size, budget int64, registrar StackRegistrar) *StackAllocator {
	if size <= 0 {
		size = DefaultStackSize
	}
	if registrar == nil {
		registrar = NopStackRegistrar{}
	}
	a := &StackAllocator{size: size, registrar: registrar}
	if budget > 0 {
		a.budget = semaphore.NewWeighted(budget)
	}
	return a
}

// Alloc reserves and registers one stack.
func (a *StackAllocator) Alloc() (*Stack, error) {
	if a.budget != nil && !a.budget.TryAcquire(a.size) {
		return nil, fmt.Errorf("%w: %d bytes in use, %d more requested", ErrStackExhausted, a.inUse.Load(), a.size)
	}
	s := &Stack{id: a.nextID.Add(1), size: a.size}
	a.inUse.Add(a.size)
	a.registrar.RegisterStack(s.id, s.size)
	return s, nil
}

// Free deregisters s and returns its bytes to the budget.
func (a *StackAllocator) Free(s *Stack) error {
	if s == nil {
		return nil
	}
	if !s.freed.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: stack %d", ErrStackFreed, s.id)
	}
	a.registrar.DeregisterStack(s.id)
	a.inUse.Add(-s.size)
	if a.budget != nil {
		a.budget.Release(s.size)
	}
	return nil
}

// InUse returns the bytes currently reserved.
func (a *StackAllocator) InUse() int64 {
	return a.inUse.Load()
}

// StackSize returns the size of every reservation.
func (a *StackAllocator) StackSize() int64 {
	return a.size
}
