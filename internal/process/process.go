// Package process scopes a graph run: it builds the graph, runs it and
// releases every collaborator the tasks hold once the caller is done.
package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"sync"

	"taskweaver/internal/core"
	"taskweaver/internal/dag"
	"taskweaver/internal/trace"
)

// AutoParallelThreshold is the task count from which ModeAuto runs in parallel.
const AutoParallelThreshold = 10

// DefaultMaxWorkers is used when RunOptions.MaxWorkers is zero.
const DefaultMaxWorkers = 4

// ErrClosed is returned by Run after Close.
var ErrClosed = errors.New("process is closed")

// RunMode selects sequential or parallel execution.
type RunMode string

const (
	ModeAuto       RunMode = "auto"
	ModeSequential RunMode = "sequential"
	ModeParallel   RunMode = "parallel"
)

// ParseMode parses "auto", "sequential" or "parallel". The empty string means auto.
func ParseMode(raw string) (RunMode, error) {
	switch m := RunMode(strings.ToLower(strings.TrimSpace(raw))); m {
	case "":
		return ModeAuto, nil
	case ModeAuto, ModeSequential, ModeParallel:
		return m, nil
	default:
		return "", fmt.Errorf("unknown run mode %q (expected auto|sequential|parallel)", raw)
	}
}

// RunOptions controls a single run.
type RunOptions struct {
	Mode       RunMode
	MaxWorkers int
}

// parallel resolves ModeAuto against the graph size.
func (o RunOptions) parallel(n int) (bool, error) {
	switch o.Mode {
	case ModeAuto, "":
		return n >= AutoParallelThreshold, nil
	case ModeSequential:
		return false, nil
	case ModeParallel:
		return true, nil
	default:
		return false, fmt.Errorf("unknown run mode %q", o.Mode)
	}
}

func (o RunOptions) workers() int {
	if o.MaxWorkers == 0 {
		return DefaultMaxWorkers
	}
	return o.MaxWorkers
}

type options struct {
	logger    *slog.Logger
	trace     trace.Sink
	observers dag.Observers
	closers   []io.Closer
}

// Option configures a Process.
type Option func(*options)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithTrace records run events into s.
func WithTrace(s trace.Sink) Option {
	return func(o *options) { o.trace = s }
}

// WithObserver adds an observer; several may be registered.
func WithObserver(ob dag.Observer) Option {
	return func(o *options) { o.observers = append(o.observers, ob) }
}

// WithCloser registers an extra resource released by Close.
func WithCloser(c io.Closer) Option {
	return func(o *options) { o.closers = append(o.closers, c) }
}

// Process owns a validated graph, its executor and the resources to release.
type Process struct {
	graph *dag.TaskGraph
	exec  *dag.Executor

	mu      sync.Mutex
	closed  bool
	closers []io.Closer
	err     error
}

// New validates tasks into a graph.
//
// On error the returned Process is nil, but every closer the tasks and options
// carried has already been released; the close errors are joined into err.
func New(tasks []*core.Task, opts ...Option) (*Process, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	closers := collectClosers(tasks, o.closers)

	g, err := dag.NewTaskGraph(tasks)
	if err != nil {
		return nil, errors.Join(err, closeAll(closers))
	}
	exec, err := dag.NewExecutor(g)
	if err != nil {
		return nil, errors.Join(err, closeAll(closers))
	}
	exec.Logger = o.logger
	exec.Trace = o.trace
	if len(o.observers) > 0 {
		exec.Observer = o.observers
	}

	return &Process{graph: g, exec: exec, closers: closers}, nil
}

// Graph returns the validated graph.
func (p *Process) Graph() *dag.TaskGraph { return p.graph }

// Run executes the graph once. Task failures are reported in the result, not
// as an error.
func (p *Process) Run(ctx context.Context, ro RunOptions) (*dag.RunResult, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	parallel, err := ro.parallel(p.graph.Len())
	if err != nil {
		return nil, err
	}
	return p.exec.Run(ctx, parallel, ro.workers())
}

// Close releases every distinct closer once. Later calls return the first
// call's result.
func (p *Process) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return p.err
	}
	p.closed = true
	p.err = closeAll(p.closers)
	return p.err
}

// Run builds a Process, runs it once and closes it on every exit path.
func Run(ctx context.Context, tasks []*core.Task, ro RunOptions, opts ...Option) (res *dag.RunResult, err error) {
	err = With(tasks, func(p *Process) error {
		var runErr error
		res, runErr = p.Run(ctx, ro)
		return runErr
	}, opts...)
	return res, err
}

// With builds a Process, calls fn with it and closes it afterwards, even if fn
// panics. Close errors are joined with fn's error.
func With(tasks []*core.Task, fn func(*Process) error, opts ...Option) (err error) {
	p, err := New(tasks, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := p.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close: %w", cerr))
		}
	}()
	return fn(p)
}

// collectClosers gathers the io.Closer sinks and notifiers of tasks, then
// extra, in first-seen order without duplicates.
func collectClosers(tasks []*core.Task, extra []io.Closer) []io.Closer {
	var out []io.Closer
	seen := map[any]bool{}
	add := func(v any) {
		c, ok := v.(io.Closer)
		if !ok || c == nil {
			return
		}
		if reflect.TypeOf(c).Comparable() {
			if seen[c] {
				return
			}
			seen[c] = true
		}
		out = append(out, c)
	}

	for _, t := range tasks {
		if t == nil {
			continue
		}
		if t.Log != nil {
			add(t.Log)
		}
		if t.Notifier != nil {
			add(t.Notifier)
		}
	}
	for _, c := range extra {
		add(c)
	}
	return out
}

func closeAll(closers []io.Closer) error {
	var errs []error
	for _, c := range closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
