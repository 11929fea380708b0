package prometheus

import (
	"errors"
	"fmt"

	"github.com/Swind/go-cothread/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	// ConstLabels are attached to every collector.
	ConstLabels prom.Labels
}

// MetricsExporter adapts core.Metrics to Prometheus collectors.
type MetricsExporter struct {
	tasksCreatedTotal  *prom.CounterVec
	tasksFinishedTotal *prom.CounterVec
	createFailedTotal  *prom.CounterVec
	switchesTotal      *prom.CounterVec
	taskPanicTotal     *prom.CounterVec
	readyQueueDepth    *prom.GaugeVec
}

var _ core.Metrics = (*MetricsExporter)(nil)

// NewMetricsExporter creates and registers Prometheus collectors for core.Metrics.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = "cothread"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}

	createdVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace:   namespace,
		Name:        "tasks_created_total",
		Help:        "Total number of tasks created.",
		ConstLabels: opts.ConstLabels,
	}, []string{"scheduler"})
	finishedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace:   namespace,
		Name:        "tasks_finished_total",
		Help:        "Total number of tasks finished, by outcome.",
		ConstLabels: opts.ConstLabels,
	}, []string{"scheduler", "outcome"})
	failedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace:   namespace,
		Name:        "task_create_failed_total",
		Help:        "Total number of task creations rejected for lack of resources.",
		ConstLabels: opts.ConstLabels,
	}, []string{"scheduler", "reason"})
	switchesVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace:   namespace,
		Name:        "context_switches_total",
		Help:        "Total number of context switches, by kind.",
		ConstLabels: opts.ConstLabels,
	}, []string{"scheduler", "kind"})
	panicVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace:   namespace,
		Name:        "task_panic_total",
		Help:        "Total number of task panics.",
		ConstLabels: opts.ConstLabels,
	}, []string{"scheduler"})
	depthVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace:   namespace,
		Name:        "ready_queue_depth",
		Help:        "Current ready queue length.",
		ConstLabels: opts.ConstLabels,
	}, []string{"scheduler"})

	var err error
	if createdVec, err = registerCollector(reg, createdVec); err != nil {
		return nil, err
	}
	if finishedVec, err = registerCollector(reg, finishedVec); err != nil {
		return nil, err
	}
	if failedVec, err = registerCollector(reg, failedVec); err != nil {
		return nil, err
	}
	if switchesVec, err = registerCollector(reg, switchesVec); err != nil {
		return nil, err
	}
	if panicVec, err = registerCollector(reg, panicVec); err != nil {
		return nil, err
	}
	if depthVec, err = registerCollector(reg, depthVec); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		tasksCreatedTotal:  createdVec,
		tasksFinishedTotal: finishedVec,
		createFailedTotal:  failedVec,
		switchesTotal:      switchesVec,
		taskPanicTotal:     panicVec,
		readyQueueDepth:    depthVec,
	}, nil
}

// RecordTaskCreated counts a created task.
func (m *MetricsExporter) RecordTaskCreated(schedulerName string) {
	if m == nil {
		return
	}
	m.tasksCreatedTotal.WithLabelValues(normalizeLabel(schedulerName, "unknown")).Inc()
}

// RecordTaskFinished counts a finished task by outcome.
func (m *MetricsExporter) RecordTaskFinished(schedulerName string, canceled bool) {
	if m == nil {
		return
	}
	m.tasksFinishedTotal.WithLabelValues(normalizeLabel(schedulerName, "unknown"), outcomeLabel(canceled)).Inc()
}

// RecordCreateFailed counts a rejected creation.
func (m *MetricsExporter) RecordCreateFailed(schedulerName string, reason string) {
	if m == nil {
		return
	}
	m.createFailedTotal.WithLabelValues(normalizeLabel(schedulerName, "unknown"), normalizeLabel(reason, "unknown")).Inc()
}

// RecordSwitch counts a context switch.
func (m *MetricsExporter) RecordSwitch(schedulerName string, kind string) {
	if m == nil {
		return
	}
	m.switchesTotal.WithLabelValues(normalizeLabel(schedulerName, "unknown"), normalizeLabel(kind, "unknown")).Inc()
}

// RecordQueueDepth records the ready queue length.
func (m *MetricsExporter) RecordQueueDepth(schedulerName string, depth int) {
	if m == nil {
		return
	}
	m.readyQueueDepth.WithLabelValues(normalizeLabel(schedulerName, "unknown")).Set(float64(depth))
}

// RecordTaskPanic records task panic events.
func (m *MetricsExporter) RecordTaskPanic(schedulerName string, panicInfo any) {
	if m == nil {
		return
	}
	m.taskPanicTotal.WithLabelValues(normalizeLabel(schedulerName, "unknown")).Inc()
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func outcomeLabel(canceled bool) string {
	if canceled {
		return "canceled"
	}
	return "exited"
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
