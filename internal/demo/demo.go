// Package demo holds the workloads driven by the cothread command. Every
// function must be called from inside a task: ctx is the task's context.
package demo

import (
	"context"
	"errors"
	"fmt"

	"github.com/Swind/go-cothread/core"
)

// CascadeMarker is the value the entry task exits with in JoinCascade.
const CascadeMarker = 0xdeadbeef

// ErrWrongResult is returned when a workload's self-check fails.
var ErrWrongResult = errors.New("demo: wrong result")

// joinValue joins t and converts its result. A task of this package returns
// either its value or the error that stopped it.
func joinValue[T any](ctx context.Context, t *core.Task) (T, error) {
	var zero T
	switch v := core.Join(ctx, t).(type) {
	case T:
		return v, nil
	case error:
		return zero, v
	case nil:
		return zero, fmt.Errorf("demo: task %d finished without a result", t.ID())
	default:
		return zero, fmt.Errorf("demo: task %d returned %T", t.ID(), v)
	}
}

// spawnPair creates two tasks and joins both, in creation order.
func spawnPair[T any](ctx context.Context, entry core.EntryFunc, a, b any) (T, T, error) {
	var zero T
	t1, err := core.Create(ctx, entry, a)
	if err != nil {
		return zero, zero, err
	}
	t2, err := core.Create(ctx, entry, b)
	if err != nil {
		// t1 is already running; collect it before reporting.
		core.Join(ctx, t1)
		return zero, zero, err
	}
	r1, err1 := joinValue[T](ctx, t1)
	r2, err2 := joinValue[T](ctx, t2)
	if err := errors.Join(err1, err2); err != nil {
		return zero, zero, err
	}
	return r1, r2, nil
}

// =============================================================================
// Array sum
// =============================================================================

type sumRange struct {
	array      []int
	start, end int
}

func sumTask(ctx context.Context, arg any) any {
	r := arg.(sumRange)
	if r.start == r.end {
		return r.array[r.start]
	}
	middle := r.start + (r.end-r.start)/2
	left, right, err := spawnPair[int](ctx, sumTask,
		sumRange{r.array, r.start, middle},
		sumRange{r.array, middle + 1, r.end})
	if err != nil {
		return err
	}
	return left + right
}

// Sum adds 1..n by splitting the index range between two tasks per level. It
// checks the total against n*(n+1)/2.
func Sum(ctx context.Context, n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	array := make([]int, n)
	for i := range array {
		array[i] = i + 1
	}
	var v int
	switch r := sumTask(ctx, sumRange{array, 0, n - 1}).(type) {
	case int:
		v = r
	case error:
		return 0, r
	}
	if want := n * (n + 1) / 2; v != want {
		return v, fmt.Errorf("%w: sum of 1..%d = %d, want %d", ErrWrongResult, n, v, want)
	}
	return v, nil
}

// =============================================================================
// Fibonacci
// =============================================================================

func fiboTask(ctx context.Context, arg any) any {
	n := arg.(uint64)
	if n < 3 {
		return uint64(1)
	}
	a, b, err := spawnPair[uint64](ctx, fiboTask, n-1, n-2)
	if err != nil {
		return err
	}
	return a + b
}

// Fibonacci computes fib(n) with one task per call, fib(1) = fib(2) = 1.
func Fibonacci(ctx context.Context, n uint64) (uint64, error) {
	switch v := fiboTask(ctx, n).(type) {
	case uint64:
		return v, nil
	case error:
		return 0, v
	default:
		return 0, fmt.Errorf("demo: fibonacci returned %T", v)
	}
}

// =============================================================================
// Sorting
// =============================================================================

func quickSortTask(ctx context.Context, arg any) any {
	data := arg.([]int)
	if len(data) < 2 {
		return true
	}
	p := partition(data)
	if _, _, err := spawnPair[bool](ctx, quickSortTask, data[:p], data[p+1:]); err != nil {
		return err
	}
	return true
}

// partition places the last element at its sorted position and returns it.
func partition(data []int) int {
	pivot := data[len(data)-1]
	i := 0
	for j := 0; j < len(data)-1; j++ {
		if data[j] < pivot {
			data[i], data[j] = data[j], data[i]
			i++
		}
	}
	data[i], data[len(data)-1] = data[len(data)-1], data[i]
	return i
}

// QuickSort sorts data in place, one task per partition.
func QuickSort(ctx context.Context, data []int) error {
	if err, ok := quickSortTask(ctx, data).(error); ok {
		return err
	}
	return nil
}

func mergeSortTask(ctx context.Context, arg any) any {
	data := arg.([]int)
	if len(data) < 2 {
		return true
	}
	mid := len(data) / 2
	if _, _, err := spawnPair[bool](ctx, mergeSortTask, data[:mid], data[mid:]); err != nil {
		return err
	}
	merge(data, mid)
	return true
}

func merge(data []int, mid int) {
	left := append([]int(nil), data[:mid]...)
	right := data[mid:]
	i, j, k := 0, 0, 0
	for i < len(left) && j < len(right) {
		if left[i] <= right[j] {
			data[k] = left[i]
			i++
		} else {
			data[k] = right[j]
			j++
		}
		k++
	}
	for i < len(left) {
		data[k] = left[i]
		i++
		k++
	}
}

// MergeSort sorts data in place, one task per half.
func MergeSort(ctx context.Context, data []int) error {
	if err, ok := mergeSortTask(ctx, data).(error); ok {
		return err
	}
	return nil
}

// =============================================================================
// Increment
// =============================================================================

// Increment starts tasks counters that each count from 0 up to limit
// without yielding, and returns their results.
func Increment(ctx context.Context, limit uint64, tasks int) ([]uint64, error) {
	count := func(ctx context.Context, arg any) any {
		v := arg.(uint64)
		for v < limit {
			v++
		}
		return v
	}

	handles := make([]*core.Task, 0, tasks)
	for i := 0; i < tasks; i++ {
		t, err := core.Create(ctx, count, uint64(0))
		if err != nil {
			for _, h := range handles {
				core.Join(ctx, h)
			}
			return nil, err
		}
		handles = append(handles, t)
	}

	results := make([]uint64, 0, tasks)
	for _, h := range handles {
		v, err := joinValue[uint64](ctx, h)
		if err != nil {
			return nil, err
		}
		if v != limit {
			return nil, fmt.Errorf("%w: counter %d reached %d, want %d", ErrWrongResult, h.ID(), v, limit)
		}
		results = append(results, v)
	}
	return results, nil
}

// =============================================================================
// Create many
// =============================================================================

// CreateMany creates and joins n tasks one after the other. Each of them
// finishes through Exit(nil).
func CreateMany(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		t, err := core.Create(ctx, func(ctx context.Context, _ any) any {
			core.Exit(ctx, nil)
			return "unreachable"
		}, nil)
		if err != nil {
			return fmt.Errorf("task %d of %d: %w", i+1, n, err)
		}
		if r := core.Join(ctx, t); r != nil {
			return fmt.Errorf("%w: task %d returned %v", ErrWrongResult, t.ID(), r)
		}
	}
	return nil
}

// =============================================================================
// Join cascade
// =============================================================================

// JoinCascade must run as the entry task. It creates a task joining the
// entry task and a second task joining the first, then exits the entry task
// with CascadeMarker. report receives one line per finished join. It does
// not return unless Create fails.
func JoinCascade(ctx context.Context, report func(string)) error {
	main := core.Self(ctx)
	if !main.IsEntry() {
		return errors.New("demo: JoinCascade must run as the entry task")
	}

	first, err := core.Create(ctx, func(ctx context.Context, _ any) any {
		if r := core.Join(ctx, main); r != CascadeMarker {
			report(fmt.Sprintf("entry task result %v, want %#x", r, CascadeMarker))
			return nil
		}
		report("entry task finished OK")
		return CascadeMarker
	}, nil)
	if err != nil {
		return err
	}
	_, err = core.Create(ctx, func(ctx context.Context, arg any) any {
		if r := core.Join(ctx, arg.(*core.Task)); r != CascadeMarker {
			report(fmt.Sprintf("first task result %v, want %#x", r, CascadeMarker))
			return nil
		}
		report("first task finished OK")
		return nil
	}, first)
	if err != nil {
		return err
	}

	core.Exit(ctx, CascadeMarker)
	return nil
}

// =============================================================================
// Cancellation
// =============================================================================

// CancelReport summarizes a CancelDemo run.
type CancelReport struct {
	// Rounds holds how many rounds each task started, victim first.
	Rounds [2]int
	// VictimCanceled reports whether the first task was finalized by the
	// cancel request.
	VictimCanceled bool
}

// CancelDemo runs two tasks that disable cancellation and print rounds
// rounds, yielding after each. The second cancels the first at round 9; the
// first re-enables cancellation at round 17 and stops at its next scheduling
// boundary. On a single worker the first task therefore runs rounds 0 to 17.
func CancelDemo(ctx context.Context, rounds int, report func(task, round int)) (CancelReport, error) {
	var rep CancelReport

	body := func(ctx context.Context, arg any) any {
		victim, _ := arg.(*core.Task)
		idx := 1
		if victim == nil {
			idx = 0
		}
		core.SetCancelState(ctx, core.CancelDisabled)
		for i := 0; i < rounds; i++ {
			rep.Rounds[idx]++
			if report != nil {
				report(idx, i)
			}
			if i == 9 && victim != nil {
				core.Cancel(ctx, victim)
			}
			if i == 17 && victim == nil {
				core.SetCancelState(ctx, core.CancelEnabled)
			}
			core.Yield(ctx)
		}
		return nil
	}

	th1, err := core.Create(ctx, body, nil)
	if err != nil {
		return rep, err
	}
	th2, err := core.Create(ctx, body, th1)
	if err != nil {
		core.Join(ctx, th1)
		return rep, err
	}
	core.Join(ctx, th2)
	core.Join(ctx, th1)
	rep.VictimCanceled = th1.Canceled()
	return rep, nil
}
