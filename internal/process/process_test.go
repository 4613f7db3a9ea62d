package process

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskweaver/internal/core"
	"taskweaver/internal/dag"
	"taskweaver/internal/trace"
)

// closingSink is a LogSink and Notifier that counts Close calls.
type closingSink struct {
	closes atomic.Int32
	err    error
}

func (s *closingSink) TaskStarted(context.Context, string, core.Call) {}
func (s *closingSink) TaskSucceeded(context.Context, string, any, time.Duration) {}
func (s *closingSink) TaskFailed(context.Context, string, core.Call, error, time.Duration) {}
func (s *closingSink) Notify(context.Context, core.Failure) error { return nil }
func (s *closingSink) Close() error { s.closes.Add(1); return s.err }

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func constTask(name string, v any, deps ...core.Dependency) *core.Task {
	return core.NewTask(name, core.Func(func(context.Context, []any, map[string]any) (any, error) {
		return v, nil
	}), core.WithDependencies(deps...))
}

func TestParseMode(t *testing.T) {
	for raw, want := range map[string]RunMode{
		"":           ModeAuto,
		"auto":       ModeAuto,
		"Sequential": ModeSequential,
		" parallel ": ModeParallel,
	} {
		got, err := ParseMode(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}
	_, err := ParseMode("eager")
	assert.Error(t, err)
}

func TestRun_AutoModeThreshold(t *testing.T) {
	build := func(n int) []*core.Task {
		tasks := make([]*core.Task, n)
		for i := range tasks {
			tasks[i] = constTask(fmt.Sprintf("t%02d", i), i)
		}
		return tasks
	}

	res, err := Run(context.Background(), build(AutoParallelThreshold-1), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, dag.ModeSequential, res.Mode)

	res, err = Run(context.Background(), build(AutoParallelThreshold), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, dag.ModeParallel, res.Mode)
	assert.Equal(t, DefaultMaxWorkers, res.Workers)
}

func TestRun_ExplicitMode(t *testing.T) {
	tasks := []*core.Task{
		constTask("a", 1),
		constTask("b", 2, core.DependsOn("a")),
	}
	res, err := Run(context.Background(), tasks, RunOptions{Mode: ModeParallel, MaxWorkers: 2})
	require.NoError(t, err)
	assert.Equal(t, dag.ModeParallel, res.Mode)
	assert.True(t, res.OK())
	assert.Equal(t, map[string]any{"a": 1, "b": 2}, res.Succeeded)
}

func TestRun_InvalidWorkers(t *testing.T) {
	_, err := Run(context.Background(), []*core.Task{constTask("a", 1)}, RunOptions{Mode: ModeParallel, MaxWorkers: -1})
	assert.ErrorIs(t, err, dag.ErrInvalidWorkers)
}

func TestClose_DeduplicatesSharedCollaborators(t *testing.T) {
	shared := &closingSink{}
	other := &closingSink{}
	tasks := []*core.Task{
		core.NewTask("a", core.Func(func(context.Context, []any, map[string]any) (any, error) { return nil, nil }),
			core.WithLogSink(shared), core.WithNotifier(shared)),
		core.NewTask("b", core.Func(func(context.Context, []any, map[string]any) (any, error) { return nil, nil }),
			core.WithLogSink(shared), core.WithNotifier(other)),
	}

	var extra atomic.Int32
	p, err := New(tasks, WithCloser(closerFunc(func() error { extra.Add(1); return nil })))
	require.NoError(t, err)

	_, err = p.Run(context.Background(), RunOptions{Mode: ModeSequential})
	require.NoError(t, err)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.EqualValues(t, 1, shared.closes.Load())
	assert.EqualValues(t, 1, other.closes.Load())
	assert.EqualValues(t, 1, extra.Load())

	_, err = p.Run(context.Background(), RunOptions{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestClose_JoinsErrors(t *testing.T) {
	e1, e2 := errors.New("first"), errors.New("second")
	s1, s2 := &closingSink{err: e1}, &closingSink{err: e2}
	tasks := []*core.Task{
		core.NewTask("a", core.Func(func(context.Context, []any, map[string]any) (any, error) { return nil, nil }), core.WithLogSink(s1)),
		core.NewTask("b", core.Func(func(context.Context, []any, map[string]any) (any, error) { return nil, nil }), core.WithLogSink(s2)),
	}

	_, err := Run(context.Background(), tasks, RunOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, e1)
	assert.ErrorIs(t, err, e2)
}

func TestNew_ClosesOnConstructionFailure(t *testing.T) {
	sink := &closingSink{}
	tasks := []*core.Task{
		core.NewTask("a", core.Func(func(context.Context, []any, map[string]any) (any, error) { return nil, nil }),
			core.WithLogSink(sink), core.WithDependencies(core.DependsOn("missing"))),
	}

	p, err := New(tasks)
	assert.Nil(t, p)
	assert.ErrorIs(t, err, dag.ErrUnknownDependency)
	assert.EqualValues(t, 1, sink.closes.Load())
}

func TestWith_ClosesOnPanic(t *testing.T) {
	sink := &closingSink{}
	tasks := []*core.Task{
		core.NewTask("a", core.Func(func(context.Context, []any, map[string]any) (any, error) { return nil, nil }), core.WithLogSink(sink)),
	}

	assert.Panics(t, func() {
		_ = With(tasks, func(*Process) error { panic("boom") })
	})
	assert.EqualValues(t, 1, sink.closes.Load())
}

func TestWith_ReturnsCallbackError(t *testing.T) {
	sentinel := errors.New("callback")
	err := With([]*core.Task{constTask("a", 1)}, func(p *Process) error {
		assert.Equal(t, 1, p.Graph().Len())
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
}

func TestRun_WiresTraceAndObserver(t *testing.T) {
	rec := &trace.Recorder{}
	obs := &countingObserver{}
	tasks := []*core.Task{
		core.NewTask("a", core.Func(func(context.Context, []any, map[string]any) (any, error) {
			return nil, errors.New("boom")
		})),
		constTask("b", 1, core.DependsOn("a")),
	}

	res, err := Run(context.Background(), tasks, RunOptions{Mode: ModeSequential}, WithTrace(rec), WithObserver(obs))
	require.NoError(t, err)
	assert.False(t, res.OK())
	assert.Len(t, rec.Events(), 2)
	assert.Equal(t, 2, obs.tasks)
	assert.Equal(t, 1, obs.runs)
}

type countingObserver struct {
	mu    sync.Mutex
	tasks int
	runs  int
}

func (o *countingObserver) TaskFinished(string, dag.TaskState, time.Duration) {
	o.mu.Lock()
	o.tasks++
	o.mu.Unlock()
}

func (o *countingObserver) RunFinished(*dag.RunResult) {
	o.mu.Lock()
	o.runs++
	o.mu.Unlock()
}
