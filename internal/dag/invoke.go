package dag

import (
	"fmt"
	"runtime/debug"
	"time"

	"taskweaver/internal/core"
)

// assembleCall builds fresh args and kwargs for idx: base values first, then
// each dependency's result in declaration order. Positional results are
// appended; keyword results overwrite, so the last edge naming a keyword wins.
func (r *run) assembleCall(idx int) core.Call {
	g := r.e.Graph
	task := g.nodes[idx].Task

	args := make([]any, 0, len(task.Args)+len(g.incoming[idx]))
	args = append(args, task.Args...)

	kwargs := make(map[string]any, len(task.Kwargs))
	for k, v := range task.Kwargs {
		kwargs[k] = v
	}

	for _, in := range g.incoming[idx] {
		switch in.mode {
		case core.InjectPositional:
			args = append(args, r.results[in.from])
		case core.InjectKeyword:
			kwargs[in.keyword] = r.results[in.from]
		}
	}
	return core.Call{Args: args, Kwargs: kwargs}
}

// invoke runs one task's callable and drives its sinks. It is called from
// worker goroutines and touches no run state besides reading the graph.
func (r *run) invoke(j job) outcome {
	node := r.e.Graph.nodes[j.idx]
	task := node.Task
	ctx := r.ctx

	if task.Log != nil {
		safely(func() { task.Log.TaskStarted(ctx, node.Name, j.call) })
	}

	start := time.Now()
	result, terr := callTask(r, node, j.call)
	elapsed := time.Since(start)

	if terr == nil {
		if task.Log != nil {
			safely(func() { task.Log.TaskSucceeded(ctx, node.Name, result, elapsed) })
		}
		return outcome{idx: j.idx, result: result, elapsed: elapsed}
	}

	if task.Log != nil {
		safely(func() { task.Log.TaskFailed(ctx, node.Name, j.call, terr, elapsed) })
	}
	if task.Notifier != nil {
		downstream, _ := r.e.Graph.Dependents(node.Name)
		f := core.Failure{
			Task:       node.Name,
			Err:        terr,
			Call:       j.call,
			Downstream: downstream,
			Time:       time.Now(),
		}
		safely(func() {
			if err := task.Notifier.Notify(ctx, f); err != nil {
				r.log.Warn("failure notification not delivered", "task", node.Name, "error", err)
			}
		})
	}
	return outcome{idx: j.idx, err: terr, elapsed: elapsed}
}

// callTask invokes the callable, converting a returned error or a panic into a TaskError.
func callTask(r *run, node *TaskNode, c core.Call) (result any, terr *TaskError) {
	defer func() {
		if p := recover(); p != nil {
			terr = &TaskError{
				Task:  node.Name,
				Err:   fmt.Errorf("%w: %v", ErrTaskPanicked, p),
				Panic: p,
				Stack: debug.Stack(),
			}
			result = nil
		}
	}()

	res, err := node.Task.Callable.Call(r.ctx, c.Args, c.Kwargs)
	if err != nil {
		return nil, &TaskError{Task: node.Name, Err: err}
	}
	return res, nil
}
