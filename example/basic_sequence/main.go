package main

import (
	"context"
	"fmt"

	cothread "github.com/Swind/go-cothread"
)

func main() {
	fmt.Println("=== Basic Sequence Example ===")

	// With one worker, yielding hands the worker to the next ready task, so
	// the two tasks alternate.
	cothread.Configure(&cothread.SchedulerConfig{Workers: 1})
	defer cothread.Configure(nil)

	err := cothread.Main(func(ctx context.Context, _ any) any {
		step := func(ctx context.Context, arg any) any {
			name := arg.(string)
			for i := 1; i <= 3; i++ {
				fmt.Printf("%s step %d\n", name, i)
				cothread.Yield(ctx)
			}
			return name
		}

		ping, err := cothread.Create(ctx, step, "ping")
		if err != nil {
			panic(err)
		}
		pong, err := cothread.Create(ctx, step, "pong")
		if err != nil {
			panic(err)
		}

		fmt.Printf("%s done\n", cothread.Join(ctx, ping))
		fmt.Printf("%s done\n", cothread.Join(ctx, pong))
		return nil
	}, nil)
	if err != nil {
		panic(err)
	}
	fmt.Println("=== Example Finished ===")
}
