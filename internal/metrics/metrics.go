// Package metrics exports run and task outcomes as Prometheus metrics.
//
// A Collector owns its own registry so several runs in one process, or tests
// in parallel, never collide on the global default registry. The CLI writes
// the registry to a node_exporter textfile after each run.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"taskweaver/internal/dag"
)

const namespace = "taskweaver"

// Outcome label values.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

// Collector is a dag.Observer recording task and run metrics.
type Collector struct {
	registry *prometheus.Registry

	// TasksTotal counts tasks reaching a terminal state. Labels: outcome.
	TasksTotal *prometheus.CounterVec
	// TaskDuration observes invocation time of executed tasks. Labels: outcome.
	TaskDuration *prometheus.HistogramVec
	// RunsTotal counts completed runs. Labels: mode.
	RunsTotal *prometheus.CounterVec
	// RunDuration observes wall time of whole runs.
	RunDuration prometheus.Histogram
	// LastRunFailed is 1 when the most recent run had a failed or skipped task.
	LastRunFailed prometheus.Gauge
}

var _ dag.Observer = (*Collector)(nil)

// NewCollector creates a Collector with a fresh registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		TasksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Tasks that reached a terminal state, by outcome.",
		}, []string{"outcome"}),
		TaskDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Time spent in task callables, by outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 10),
		}, []string{"outcome"}),
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Completed runs, by execution mode.",
		}, []string{"mode"}),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of complete runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
		LastRunFailed: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_failed",
			Help:      "1 if the last run had failed or skipped tasks, else 0.",
		}),
	}
}

// Registry returns the registry holding this collector's metrics.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func outcome(st dag.TaskState) (string, bool) {
	switch st {
	case dag.TaskSucceeded:
		return OutcomeSucceeded, true
	case dag.TaskFailed:
		return OutcomeFailed, true
	case dag.TaskSkipped:
		return OutcomeSkipped, true
	default:
		return "", false
	}
}

// TaskFinished implements dag.Observer.
func (c *Collector) TaskFinished(_ string, st dag.TaskState, elapsed time.Duration) {
	label, ok := outcome(st)
	if !ok {
		return
	}
	c.TasksTotal.WithLabelValues(label).Inc()
	if st != dag.TaskSkipped {
		c.TaskDuration.WithLabelValues(label).Observe(elapsed.Seconds())
	}
}

// RunFinished implements dag.Observer.
func (c *Collector) RunFinished(res *dag.RunResult) {
	c.RunsTotal.WithLabelValues(string(res.Mode)).Inc()
	c.RunDuration.Observe(res.Duration.Seconds())
	if res.OK() {
		c.LastRunFailed.Set(0)
	} else {
		c.LastRunFailed.Set(1)
	}
}

// WriteTextfile atomically writes all metrics in the text exposition format.
func (c *Collector) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, c.registry)
}
