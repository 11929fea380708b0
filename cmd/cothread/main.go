// Command cothread runs the demonstration programs of the cothread runtime.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

const (
	flagConfig      = "config"
	flagWorkers     = "workers"
	flagStackSize   = "stack-size"
	flagStackBudget = "stack-budget"
	flagMaxTasks    = "max-tasks"
	flagHistory     = "history"
	flagLogLevel    = "log-level"
	flagMetricsAddr = "metrics-addr"
	flagStats       = "stats"
)

var version = "dev"

func newApp() *cli.App {
	return &cli.App{
		Name:    "cothread",
		Usage:   "run programs on the cooperative M:N task runtime",
		Version: version,
		Flags: []cli.Flag{
			&cli.PathFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "TOML configuration file",
				EnvVars: []string{"COTHREAD_CONFIG"},
			},
			&cli.IntFlag{
				Name:    flagWorkers,
				Aliases: []string{"w"},
				Usage:   "number of workers (0 = GOMAXPROCS)",
				EnvVars: []string{"COTHREAD_WORKERS"},
			},
			&cli.Int64Flag{
				Name:    flagStackSize,
				Usage:   "stack reservation per task in bytes",
				EnvVars: []string{"COTHREAD_STACK_SIZE"},
			},
			&cli.Int64Flag{
				Name:    flagStackBudget,
				Usage:   "cap on reserved stack bytes (0 = none, -1 = a quarter of the memory limit)",
				EnvVars: []string{"COTHREAD_STACK_BUDGET"},
			},
			&cli.IntFlag{
				Name:    flagMaxTasks,
				Usage:   "cap on live tasks (0 = none)",
				EnvVars: []string{"COTHREAD_MAX_TASKS"},
			},
			&cli.IntFlag{
				Name:    flagHistory,
				Usage:   "print the last N finished tasks after the run",
				EnvVars: []string{"COTHREAD_HISTORY"},
			},
			&cli.StringFlag{
				Name:    flagLogLevel,
				Usage:   "log level (trace, debug, info, warn, error)",
				EnvVars: []string{"COTHREAD_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    flagMetricsAddr,
				Usage:   "serve Prometheus metrics on this address during the run",
				EnvVars: []string{"COTHREAD_METRICS_ADDR"},
			},
			&cli.BoolFlag{
				Name:    flagStats,
				Usage:   "print scheduler statistics after the run",
				EnvVars: []string{"COTHREAD_STATS"},
			},
		},
		Commands: []*cli.Command{
			sumCommand(),
			fiboCommand(),
			quickSortCommand(),
			mergeSortCommand(),
			incrementCommand(),
			createManyCommand(),
			joinCascadeCommand(),
			cancelCommand(),
		},

		// Exit codes are decided by main so the app can run inside tests.
		ExitErrHandler: func(*cli.Context, error) {},
	}
}

func main() {
	err := newApp().Run(os.Args)
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, err)
	var ec cli.ExitCoder
	if errors.As(err, &ec) {
		os.Exit(ec.ExitCode())
	}
	os.Exit(1)
}
