package prometheus

import (
	"context"
	"sync"
	"time"

	"github.com/Swind/go-cothread/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// SchedulerSnapshotProvider provides current scheduler stats snapshots.
type SchedulerSnapshotProvider interface {
	Stats() core.SchedulerStats
}

// SnapshotPoller periodically exports scheduler Stats() snapshots into Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration

	schedulersMu sync.RWMutex
	schedulers   map[string]SchedulerSnapshotProvider

	liveTasks    *prom.GaugeVec
	readyTasks   *prom.GaugeVec
	busyWorkers  *prom.GaugeVec
	workers      *prom.GaugeVec
	stackBytes   *prom.GaugeVec
	schedRunning *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	liveTasks := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "cothread",
		Name:      "live_tasks",
		Help:      "Tasks created and not yet finished, entry task included.",
	}, []string{"scheduler"})
	readyTasks := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "cothread",
		Name:      "ready_tasks",
		Help:      "Tasks waiting on the ready queue.",
	}, []string{"scheduler"})
	busyWorkers := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "cothread",
		Name:      "busy_workers",
		Help:      "Workers currently running a task.",
	}, []string{"scheduler"})
	workers := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "cothread",
		Name:      "workers",
		Help:      "Worker count per scheduler.",
	}, []string{"scheduler"})
	stackBytes := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "cothread",
		Name:      "stack_bytes",
		Help:      "Bytes reserved by live task stacks.",
	}, []string{"scheduler"})
	schedRunning := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "cothread",
		Name:      "scheduler_running",
		Help:      "Scheduler running state (1=running, 0=stopped).",
	}, []string{"scheduler"})

	var err error
	if liveTasks, err = registerCollector(reg, liveTasks); err != nil {
		return nil, err
	}
	if readyTasks, err = registerCollector(reg, readyTasks); err != nil {
		return nil, err
	}
	if busyWorkers, err = registerCollector(reg, busyWorkers); err != nil {
		return nil, err
	}
	if workers, err = registerCollector(reg, workers); err != nil {
		return nil, err
	}
	if stackBytes, err = registerCollector(reg, stackBytes); err != nil {
		return nil, err
	}
	if schedRunning, err = registerCollector(reg, schedRunning); err != nil {
		return nil, err
	}

	return &SnapshotPoller{
		interval:     interval,
		schedulers:   make(map[string]SchedulerSnapshotProvider),
		liveTasks:    liveTasks,
		readyTasks:   readyTasks,
		busyWorkers:  busyWorkers,
		workers:      workers,
		stackBytes:   stackBytes,
		schedRunning: schedRunning,
	}, nil
}

// AddScheduler adds or replaces a scheduler snapshot provider by name.
func (p *SnapshotPoller) AddScheduler(name string, provider SchedulerSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "scheduler")
	p.schedulersMu.Lock()
	p.schedulers[name] = provider
	p.schedulersMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.stateMu.Unlock()

	go p.loop(pollCtx)
}

// Stop stops periodic polling; repeated calls are safe. A final snapshot is
// taken before it returns.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	p.collectOnce()

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func (p *SnapshotPoller) collectOnce() {
	p.schedulersMu.RLock()
	defer p.schedulersMu.RUnlock()

	for name, provider := range p.schedulers {
		stats := provider.Stats()
		p.liveTasks.WithLabelValues(name).Set(float64(stats.Live))
		p.readyTasks.WithLabelValues(name).Set(float64(stats.Ready))
		p.busyWorkers.WithLabelValues(name).Set(float64(stats.Busy()))
		p.workers.WithLabelValues(name).Set(float64(len(stats.Workers)))
		p.stackBytes.WithLabelValues(name).Set(float64(stats.StackBytes))
		if stats.Running {
			p.schedRunning.WithLabelValues(name).Set(1)
		} else {
			p.schedRunning.WithLabelValues(name).Set(0)
		}
	}
}
