package main

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"slices"
	"strconv"

	"github.com/Swind/go-cothread/internal/demo"
	"github.com/urfave/cli/v2"
)

// intArg parses the first positional argument.
func intArg(c *cli.Context, what string) (int, error) {
	if c.NArg() < 1 {
		return 0, cli.Exit(fmt.Sprintf("missing argument: %s", what), 1)
	}
	n, err := strconv.Atoi(c.Args().First())
	if err != nil || n < 0 {
		return 0, cli.Exit(fmt.Sprintf("%s must be a non-negative integer, got %q", what, c.Args().First()), 1)
	}
	return n, nil
}

func sumCommand() *cli.Command {
	return &cli.Command{
		Name:      "sum",
		Usage:     "sum 1..N by recursive task splitting",
		ArgsUsage: "N",
		Action:    sumAction,
	}
}

func sumAction(c *cli.Context) error {
	n, err := intArg(c, "N")
	if err != nil {
		return err
	}
	return runWorkload(c, "sum", func(ctx context.Context, out io.Writer) error {
		v, err := demo.Sum(ctx, n)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "sum of 1..%d = %d\n", n, v)
		return nil
	})
}

func fiboCommand() *cli.Command {
	return &cli.Command{
		Name:      "fibo",
		Aliases:   []string{"fibonacci"},
		Usage:     "compute fibonacci(N) with one task per call",
		ArgsUsage: "N",
		Action:    fiboAction,
	}
}

func fiboAction(c *cli.Context) error {
	n, err := intArg(c, "N")
	if err != nil {
		return err
	}
	return runWorkload(c, "fibo", func(ctx context.Context, out io.Writer) error {
		v, err := demo.Fibonacci(ctx, uint64(n))
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "fibonacci(%d) = %d\n", n, v)
		return nil
	})
}

func seedFlag() cli.Flag {
	return &cli.Uint64Flag{
		Name:  "seed",
		Value: 1,
		Usage: "seed of the random input",
	}
}

func quickSortCommand() *cli.Command {
	return &cli.Command{
		Name:      "quicksort",
		Usage:     "sort N random integers, one task per partition",
		ArgsUsage: "N",
		Flags:     []cli.Flag{seedFlag()},
		Action: func(c *cli.Context) error {
			return sortAction(c, "quicksort", demo.QuickSort)
		},
	}
}

func mergeSortCommand() *cli.Command {
	return &cli.Command{
		Name:      "mergesort",
		Usage:     "sort N random integers, one task per half",
		ArgsUsage: "N",
		Flags:     []cli.Flag{seedFlag()},
		Action: func(c *cli.Context) error {
			return sortAction(c, "mergesort", demo.MergeSort)
		},
	}
}

func sortAction(c *cli.Context, name string, sortFn func(context.Context, []int) error) error {
	n, err := intArg(c, "N")
	if err != nil {
		return err
	}
	r := rand.New(rand.NewPCG(c.Uint64("seed"), 0))
	data := make([]int, n)
	for i := range data {
		data[i] = r.IntN(10 * (n + 1))
	}
	return runWorkload(c, name, func(ctx context.Context, out io.Writer) error {
		if err := sortFn(ctx, data); err != nil {
			return err
		}
		if !slices.IsSorted(data) {
			return fmt.Errorf("%w: %s output not sorted", demo.ErrWrongResult, name)
		}
		fmt.Fprintf(out, "%s: %d integers sorted\n", name, n)
		return nil
	})
}

func incrementCommand() *cli.Command {
	return &cli.Command{
		Name:      "increment",
		Usage:     "count to MAX in several tasks that never yield",
		ArgsUsage: "MAX",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "tasks",
				Value: 4,
				Usage: "number of counting tasks",
			},
		},
		Action: incrementAction,
	}
}

func incrementAction(c *cli.Context) error {
	limit, err := intArg(c, "MAX")
	if err != nil {
		return err
	}
	tasks := c.Int("tasks")
	if tasks < 1 {
		return cli.Exit("tasks must be at least 1", 1)
	}
	return runWorkload(c, "increment", func(ctx context.Context, out io.Writer) error {
		results, err := demo.Increment(ctx, uint64(limit), tasks)
		if err != nil {
			return err
		}
		for i, v := range results {
			fmt.Fprintf(out, "task %d -> %d\n", i+1, v)
		}
		return nil
	})
}

func createManyCommand() *cli.Command {
	return &cli.Command{
		Name:      "create-many",
		Usage:     "create and join N tasks one after the other",
		ArgsUsage: "N",
		Action:    createManyAction,
	}
}

func createManyAction(c *cli.Context) error {
	n, err := intArg(c, "N")
	if err != nil {
		return err
	}
	return runWorkload(c, "create-many", func(ctx context.Context, out io.Writer) error {
		if err := demo.CreateMany(ctx, n); err != nil {
			return err
		}
		fmt.Fprintf(out, "%d tasks created and joined\n", n)
		return nil
	})
}

func joinCascadeCommand() *cli.Command {
	return &cli.Command{
		Name:   "join-cascade",
		Usage:  "join the entry task after it exits, from a task that is itself joined",
		Action: joinCascadeAction,
	}
}

func joinCascadeAction(c *cli.Context) error {
	return runWorkload(c, "join-cascade", func(ctx context.Context, out io.Writer) error {
		return demo.JoinCascade(ctx, func(line string) {
			fmt.Fprintln(out, line)
		})
	})
}

func cancelCommand() *cli.Command {
	return &cli.Command{
		Name:  "cancel",
		Usage: "cancel a task whose cancellation is disabled until round 17",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "rounds",
				Value: 20,
				Usage: "rounds run by each task",
			},
		},
		Action: cancelAction,
	}
}

func cancelAction(c *cli.Context) error {
	rounds := c.Int("rounds")
	return runWorkload(c, "cancel", func(ctx context.Context, out io.Writer) error {
		rep, err := demo.CancelDemo(ctx, rounds, func(task, round int) {
			fmt.Fprintf(out, "task %d (%d)\n", task+1, round)
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "task 1 ran %d rounds, canceled=%v\n", rep.Rounds[0], rep.VictimCanceled)
		fmt.Fprintf(out, "task 2 ran %d rounds\n", rep.Rounds[1])
		return nil
	})
}
