package dag

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"taskweaver/internal/core"
)

func constFn(v any) core.Callable {
	return core.Func(func(context.Context, []any, map[string]any) (any, error) {
		return v, nil
	})
}

func failFn(msg string) core.Callable {
	return core.Func(func(context.Context, []any, map[string]any) (any, error) {
		return nil, errors.New(msg)
	})
}

func sleepFn(d time.Duration, v any) core.Callable {
	return core.Func(func(context.Context, []any, map[string]any) (any, error) {
		time.Sleep(d)
		return v, nil
	})
}

// callRecorder remembers the call each task received.
type callRecorder struct {
	mu    sync.Mutex
	calls map[string]core.Call
}

func newCallRecorder() *callRecorder {
	return &callRecorder{calls: map[string]core.Call{}}
}

func (c *callRecorder) fn(name string, ret any) core.Callable {
	return core.Func(func(_ context.Context, args []any, kwargs map[string]any) (any, error) {
		c.mu.Lock()
		c.calls[name] = core.Call{Args: args, Kwargs: kwargs}
		c.mu.Unlock()
		return ret, nil
	})
}

func (c *callRecorder) get(name string) (core.Call, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	call, ok := c.calls[name]
	return call, ok
}

func task(name string, fn core.Callable, deps ...core.Dependency) *core.Task {
	return core.NewTask(name, fn, core.WithDependencies(deps...))
}

func mustGraph(t *testing.T, tasks ...*core.Task) *TaskGraph {
	t.Helper()
	g, err := NewTaskGraph(tasks)
	if err != nil {
		t.Fatalf("NewTaskGraph: %v", err)
	}
	return g
}

func mustRun(t *testing.T, g *TaskGraph, parallel bool, workers int) *RunResult {
	t.Helper()
	ex, err := NewExecutor(g)
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	res, err := ex.Run(context.Background(), parallel, workers)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return res
}

// assertPartition checks that every task lands in exactly one bucket.
func assertPartition(t *testing.T, g *TaskGraph, res *RunResult) {
	t.Helper()
	seen := map[string]int{}
	for name := range res.Succeeded {
		seen[name]++
	}
	for name := range res.Failed {
		seen[name]++
	}
	for _, name := range res.Skipped {
		seen[name]++
	}
	if len(seen) != g.Len() {
		t.Fatalf("partition covers %d tasks, graph has %d", len(seen), g.Len())
	}
	for name, n := range seen {
		if n != 1 {
			t.Fatalf("task %q appears in %d buckets", name, n)
		}
		if _, ok := g.Node(name); !ok {
			t.Fatalf("unknown task %q in result", name)
		}
	}
}
