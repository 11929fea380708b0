package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/Swind/go-cothread/core"
	promexp "github.com/Swind/go-cothread/observability/prometheus"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"go.uber.org/automaxprocs/maxprocs"
)

// newLogger returns a console logger on w at the named level.
func newLogger(level string, w io.Writer) (*core.ZerologLogger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.WarnLevel
	}
	l := zerolog.New(zerolog.ConsoleWriter{Out: w}).
		Level(lvl).
		With().Timestamp().Logger()
	return core.NewZerologLogger(l), nil
}

// tuneRuntime sizes GOMAXPROCS and GOMEMLIMIT from the container limits, if
// any, before the worker count and stack budget are derived from them.
func tuneRuntime(logger core.Logger) {
	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		logger.Debug(fmt.Sprintf(format, args...))
	})); err != nil {
		logger.Warn("cannot set GOMAXPROCS", core.F("error", err))
	}

	limit, err := memlimit.SetGoMemLimitWithOpts(
		memlimit.WithRatio(0.9),
		memlimit.WithProvider(memlimit.ApplyFallback(memlimit.FromCgroup, memlimit.FromSystem)),
	)
	if err != nil {
		logger.Debug("GOMEMLIMIT left unchanged", core.F("error", err))
		return
	}
	logger.Debug("GOMEMLIMIT set", core.F("bytes", limit))
}

// metricsServer serves the Prometheus registry of one run.
type metricsServer struct {
	exporter *promexp.MetricsExporter
	poller   *promexp.SnapshotPoller
	srv      *http.Server
	done     chan struct{}
}

func startMetrics(ctx context.Context, addr string, logger core.Logger) (*metricsServer, error) {
	reg := prom.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	exporter, err := promexp.NewMetricsExporter("cothread", reg, promexp.ExporterOptions{})
	if err != nil {
		return nil, err
	}
	poller, err := promexp.NewSnapshotPoller(reg, time.Second)
	if err != nil {
		return nil, err
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	m := &metricsServer{
		exporter: exporter,
		poller:   poller,
		srv:      &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		done:     make(chan struct{}),
	}
	go func() {
		defer close(m.done)
		if err := m.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", core.F("error", err))
		}
	}()
	poller.Start(ctx)
	logger.Info("serving metrics", core.F("addr", ln.Addr().String()))
	return m, nil
}

func (m *metricsServer) watch(s *core.Scheduler) {
	m.poller.AddScheduler(s.Name(), s)
}

func (m *metricsServer) stop() {
	m.poller.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = m.srv.Shutdown(ctx)
	<-m.done
}

// lockedWriter serializes writes from tasks running on different workers.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// workload is the body of a command. It runs as the entry task.
type workload func(ctx context.Context, out io.Writer) error

// runWorkload runs work as the entry task of a scheduler configured from
// the command line and reports the outcome.
func runWorkload(c *cli.Context, name string, work workload) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	logger, err := newLogger(cfg.LogLevel, c.App.ErrWriter)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	tuneRuntime(logger)

	var metrics core.Metrics
	var ms *metricsServer
	if cfg.MetricsAddr != "" {
		ms, err = startMetrics(c.Context, cfg.MetricsAddr, logger)
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		defer ms.stop()
		metrics = ms.exporter
	}

	s := core.NewScheduler(cfg.schedulerConfig(name, logger, metrics))
	if ms != nil {
		ms.watch(s)
	}

	out := &lockedWriter{w: c.App.Writer}
	var workErr error
	runErr := s.Run(c.Context, func(ctx context.Context, _ any) any {
		workErr = work(ctx, out)
		return nil
	}, nil)

	if cfg.Stats {
		printStats(out, s.Stats())
	}
	if cfg.History > 0 {
		printHistory(out, s.RecentTasks(cfg.History))
	}

	if runErr != nil {
		return cli.Exit(fmt.Sprintf("%s: %v", name, runErr), 1)
	}
	if workErr != nil {
		return cli.Exit(fmt.Sprintf("%s: %v", name, workErr), 1)
	}
	return nil
}

func printStats(w io.Writer, st core.SchedulerStats) {
	fmt.Fprintf(w, "scheduler %s: workers=%d created=%d finished=%d canceled=%d switches=%d live=%d\n",
		st.Name, len(st.Workers), st.Created, st.Finished, st.Canceled, st.Switches, st.Live)
}

func printHistory(w io.Writer, records []core.TaskRecord) {
	for _, r := range records {
		fmt.Fprintf(w, "task %d %s %s worker=%d lifetime=%s\n",
			r.ID, r.Outcome, r.Name, r.Worker, r.Lifetime)
	}
}
