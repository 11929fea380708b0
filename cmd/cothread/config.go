package main

import (
	"fmt"
	"math"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/Swind/go-cothread/core"
	"github.com/urfave/cli/v2"
)

// Config is the command configuration. It is read from an optional TOML
// file, then overridden by flags and environment variables.
type Config struct {
	Workers     int    `toml:"workers"`
	StackSize   int64  `toml:"stack_size"`
	StackBudget int64  `toml:"stack_budget"`
	MaxTasks    int    `toml:"max_tasks"`
	History     int    `toml:"history"`
	LogLevel    string `toml:"log_level"`
	MetricsAddr string `toml:"metrics_addr"`
	Stats       bool   `toml:"stats"`
}

func defaultConfig() Config {
	return Config{
		Workers:   core.DefaultWorkers,
		StackSize: core.DefaultStackSize,
		LogLevel:  "warn",
	}
}

// decodeConfigFile overlays the TOML file at path onto cfg. Unknown keys are
// an error.
func decodeConfigFile(path string, cfg *Config) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("read config %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// loadConfig builds the configuration of one invocation.
func loadConfig(c *cli.Context) (Config, error) {
	cfg := defaultConfig()
	if path := c.String(flagConfig); path != "" {
		if err := decodeConfigFile(path, &cfg); err != nil {
			return cfg, err
		}
	}

	if c.IsSet(flagWorkers) {
		cfg.Workers = c.Int(flagWorkers)
	}
	if c.IsSet(flagStackSize) {
		cfg.StackSize = c.Int64(flagStackSize)
	}
	if c.IsSet(flagStackBudget) {
		cfg.StackBudget = c.Int64(flagStackBudget)
	}
	if c.IsSet(flagMaxTasks) {
		cfg.MaxTasks = c.Int(flagMaxTasks)
	}
	if c.IsSet(flagHistory) {
		cfg.History = c.Int(flagHistory)
	}
	if c.IsSet(flagLogLevel) {
		cfg.LogLevel = c.String(flagLogLevel)
	}
	if c.IsSet(flagMetricsAddr) {
		cfg.MetricsAddr = c.String(flagMetricsAddr)
	}
	if c.IsSet(flagStats) {
		cfg.Stats = c.Bool(flagStats)
	}

	if cfg.StackSize <= 0 {
		return cfg, fmt.Errorf("stack size must be positive, got %d", cfg.StackSize)
	}
	if cfg.MaxTasks < 0 {
		return cfg, fmt.Errorf("max tasks must not be negative, got %d", cfg.MaxTasks)
	}
	return cfg, nil
}

// workerCount resolves a non-positive worker count to GOMAXPROCS.
func (cfg Config) workerCount() int {
	if cfg.Workers > 0 {
		return cfg.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// stackBudget resolves a negative budget to a quarter of the Go memory
// limit, or no budget when no limit is set.
func (cfg Config) stackBudget() int64 {
	if cfg.StackBudget >= 0 {
		return cfg.StackBudget
	}
	limit := debug.SetMemoryLimit(-1)
	if limit <= 0 || limit == math.MaxInt64 {
		return 0
	}
	return limit / 4
}

// schedulerConfig maps cfg onto a core.SchedulerConfig.
func (cfg Config) schedulerConfig(name string, logger core.Logger, metrics core.Metrics) *core.SchedulerConfig {
	sc := core.DefaultSchedulerConfig()
	sc.Name = name
	sc.Workers = cfg.workerCount()
	sc.StackSize = cfg.StackSize
	sc.StackBudget = cfg.stackBudget()
	sc.MaxTasks = cfg.MaxTasks
	sc.HistoryCapacity = -1
	if cfg.History > 0 {
		sc.HistoryCapacity = cfg.History
	}
	sc.Logger = logger
	if metrics != nil {
		sc.Metrics = metrics
	}
	return sc
}
