package dag

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"taskweaver/internal/core"
	"taskweaver/internal/trace"
)

// Executor runs a TaskGraph. Runs on one Executor are serialized; the graph
// itself is never modified, so several executors may share it.
type Executor struct {
	Graph *TaskGraph

	// Logger, Trace and Observer are optional.
	Logger   *slog.Logger
	Trace    trace.Sink
	Observer Observer

	runMu sync.Mutex

	mu    sync.Mutex
	state ExecutionState
}

// NewExecutor creates an executor with every task PENDING.
func NewExecutor(g *TaskGraph) (*Executor, error) {
	if g == nil {
		return nil, fmt.Errorf("nil graph")
	}
	e := &Executor{Graph: g}
	e.state = e.freshState()
	return e, nil
}

func (e *Executor) freshState() ExecutionState {
	st := make(ExecutionState, len(e.Graph.nodes))
	for _, n := range e.Graph.nodes {
		st[n.Name] = TaskPending
	}
	return st
}

// StateSnapshot returns a copy of the current (or last) run's state.
func (e *Executor) StateSnapshot() ExecutionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

// Run executes the graph in parallel with maxWorkers workers, or sequentially
// when parallel is false (maxWorkers is then ignored). It blocks until every
// task is terminal.
func (e *Executor) Run(ctx context.Context, parallel bool, maxWorkers int) (*RunResult, error) {
	if parallel {
		return e.RunParallel(ctx, maxWorkers)
	}
	return e.RunSequential(ctx)
}

// RunSequential invokes tasks one at a time in topological order.
func (e *Executor) RunSequential(ctx context.Context) (*RunResult, error) {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	r := e.begin(ctx, ModeSequential, 1)
	for _, idx := range e.Graph.order {
		if cause, reason, blocked := r.blockedBy(idx); blocked {
			r.skip(idx, cause, reason)
			continue
		}
		call := r.start(idx)
		r.finish(r.invoke(job{idx: idx, call: call}))
	}
	return r.end(), nil
}

type job struct {
	idx  int
	call core.Call
}

type outcome struct {
	idx     int
	result  any
	err     *TaskError
	elapsed time.Duration
}

// RunParallel executes the graph on a pool of maxWorkers goroutines.
//
// The calling goroutine coordinates: it owns the pending-predecessor counters
// and all state transitions, hands ready tasks to workers over a channel and
// receives their outcomes on another. A task whose last dependency resolves is
// either queued or, if any dependency failed or was skipped, skipped on the
// spot; a skip resolves that task's own dependents in turn.
func (e *Executor) RunParallel(ctx context.Context, maxWorkers int) (*RunResult, error) {
	if maxWorkers < 1 {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidWorkers, maxWorkers)
	}
	e.runMu.Lock()
	defer e.runMu.Unlock()

	g := e.Graph
	n := len(g.nodes)
	workers := min(maxWorkers, max(n, 1))
	r := e.begin(ctx, ModeParallel, workers)
	if n == 0 {
		return r.end(), nil
	}

	// Both channels hold every task at most once, so sends never block.
	readyCh := make(chan job, n)
	doneCh := make(chan outcome, n)

	p := pool.New().WithMaxGoroutines(workers)
	for i := 0; i < workers; i++ {
		p.Go(func() {
			for j := range readyCh {
				doneCh <- r.invoke(j)
			}
		})
	}

	pending := make([]int, n)
	copy(pending, g.indeg)
	remaining := n

	// resolve handles a task whose dependencies are all terminal.
	var resolve func(idx int)
	resolve = func(idx int) {
		if cause, reason, blocked := r.blockedBy(idx); blocked {
			r.skip(idx, cause, reason)
			remaining--
			for _, d := range g.outgoing[idx] {
				pending[d]--
				if pending[d] == 0 {
					resolve(d)
				}
			}
			return
		}
		readyCh <- job{idx: idx, call: r.start(idx)}
	}

	for idx := range g.nodes {
		if pending[idx] == 0 {
			resolve(idx)
		}
	}

	for remaining > 0 {
		o := <-doneCh
		r.finish(o)
		remaining--
		for _, d := range g.outgoing[o.idx] {
			pending[d]--
			if pending[d] == 0 {
				resolve(d)
			}
		}
	}

	close(readyCh)
	p.Wait()
	return r.end(), nil
}

// run is the bookkeeping for a single invocation of the executor.
type run struct {
	e       *Executor
	ctx     context.Context
	log     *slog.Logger
	results []any
	errs    []*TaskError
	order   []string
	res     *RunResult
}

func (e *Executor) begin(ctx context.Context, mode Mode, workers int) *run {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := e.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	e.mu.Lock()
	e.state = e.freshState()
	e.mu.Unlock()

	n := len(e.Graph.nodes)
	logger.Info("run started",
		"fingerprint", e.Graph.fingerprint,
		"mode", string(mode),
		"workers", workers,
		"tasks", n,
	)
	return &run{
		e:       e,
		ctx:     ctx,
		log:     logger,
		results: make([]any, n),
		errs:    make([]*TaskError, n),
		order:   make([]string, 0, n),
		res: &RunResult{
			Fingerprint: e.Graph.fingerprint,
			Mode:        mode,
			Workers:     workers,
			Started:     time.Now(),
		},
	}
}

func (r *run) transition(name string, from, to TaskState) {
	r.e.mu.Lock()
	err := Transition(r.e.state, name, from, to)
	r.e.mu.Unlock()
	if err != nil {
		// Only reachable through a scheduling bug.
		panic(err)
	}
}

func (r *run) stateOf(idx int) TaskState {
	r.e.mu.Lock()
	defer r.e.mu.Unlock()
	return r.e.state[r.e.Graph.nodes[idx].Name]
}

// blockedBy returns the first direct dependency, in declaration order, that
// prevents idx from running.
func (r *run) blockedBy(idx int) (cause, reason string, blocked bool) {
	for _, in := range r.e.Graph.incoming[idx] {
		st := r.stateOf(in.from)
		if !Blocks(st) {
			continue
		}
		reason = trace.ReasonUpstreamFailed
		if st == TaskSkipped {
			reason = trace.ReasonUpstreamSkipped
		}
		return r.e.Graph.nodes[in.from].Name, reason, true
	}
	return "", "", false
}

func (r *run) skip(idx int, cause, reason string) {
	name := r.e.Graph.nodes[idx].Name
	r.transition(name, TaskPending, TaskSkipped)
	r.log.Info("task skipped", "task", name, "cause", cause, "reason", reason)
	trace.SafeRecord(r.e.Trace, trace.Event{Kind: trace.KindTaskSkipped, Task: name, Reason: reason, Cause: cause})
	r.observeTask(name, TaskSkipped, 0)
}

// start marks idx RUNNING and assembles its call from the results recorded so far.
func (r *run) start(idx int) core.Call {
	name := r.e.Graph.nodes[idx].Name
	r.transition(name, TaskPending, TaskRunning)
	r.order = append(r.order, name)
	return r.assembleCall(idx)
}

func (r *run) finish(o outcome) {
	name := r.e.Graph.nodes[o.idx].Name
	if o.err != nil {
		r.errs[o.idx] = o.err
		r.transition(name, TaskRunning, TaskFailed)
		reason := trace.ReasonError
		if o.err.Panicked() {
			reason = trace.ReasonPanic
		}
		r.log.Warn("task failed", "task", name, "elapsed", o.elapsed, "error", o.err.Err)
		trace.SafeRecord(r.e.Trace, trace.Event{Kind: trace.KindTaskFailed, Task: name, Reason: reason})
		r.observeTask(name, TaskFailed, o.elapsed)
		return
	}
	r.results[o.idx] = o.result
	r.transition(name, TaskRunning, TaskSucceeded)
	r.log.Debug("task succeeded", "task", name, "elapsed", o.elapsed)
	trace.SafeRecord(r.e.Trace, trace.Event{Kind: trace.KindTaskSucceeded, Task: name})
	r.observeTask(name, TaskSucceeded, o.elapsed)
}

func (r *run) observeTask(name string, st TaskState, elapsed time.Duration) {
	if r.e.Observer == nil {
		return
	}
	safely(func() { r.e.Observer.TaskFinished(name, st, elapsed) })
}

func (r *run) end() *RunResult {
	g := r.e.Graph
	res := r.res
	res.Succeeded = make(map[string]any)
	res.Failed = make(map[string]error)
	res.Skipped = []string{}
	res.FinalState = r.e.StateSnapshot()
	res.ExecutionOrder = r.order

	for _, idx := range g.order {
		name := g.nodes[idx].Name
		switch res.FinalState[name] {
		case TaskSucceeded:
			res.Succeeded[name] = r.results[idx]
		case TaskFailed:
			res.Failed[name] = r.errs[idx]
		case TaskSkipped:
			res.Skipped = append(res.Skipped, name)
		}
	}
	res.Duration = time.Since(res.Started)

	s, f, k := res.Counts()
	r.log.Info("run finished",
		"fingerprint", res.Fingerprint,
		"succeeded", s,
		"failed", f,
		"skipped", k,
		"duration", res.Duration,
	)
	if r.e.Observer != nil {
		safely(func() { r.e.Observer.RunFinished(res) })
	}
	return res
}
