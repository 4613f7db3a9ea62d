package core

import (
	"context"
	"fmt"
	"strings"
)

// Callable is the body of a task.
//
// args and kwargs are owned by the callee for the duration of the call; the
// engine builds fresh copies for every invocation.
type Callable interface {
	Call(ctx context.Context, args []any, kwargs map[string]any) (any, error)
}

// Func adapts an ordinary function to Callable.
type Func func(ctx context.Context, args []any, kwargs map[string]any) (any, error)

// Call invokes f.
func (f Func) Call(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	return f(ctx, args, kwargs)
}

// InjectionMode selects how an upstream result reaches the dependent call.
type InjectionMode int

const (
	// InjectNone only orders the two tasks.
	InjectNone InjectionMode = iota
	// InjectPositional appends the upstream result to the positional args.
	InjectPositional
	// InjectKeyword sets kwargs[Keyword] to the upstream result.
	InjectKeyword
)

// String returns the canonical spelling used by graph files.
func (m InjectionMode) String() string {
	switch m {
	case InjectNone:
		return "none"
	case InjectPositional:
		return "positional"
	case InjectKeyword:
		return "keyword"
	default:
		return fmt.Sprintf("InjectionMode(%d)", int(m))
	}
}

// ParseInjectionMode parses "none", "positional" or "keyword". The empty
// string means none.
func ParseInjectionMode(raw string) (InjectionMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "none":
		return InjectNone, nil
	case "positional", "arg", "args":
		return InjectPositional, nil
	case "keyword", "kwarg", "kwargs":
		return InjectKeyword, nil
	default:
		return InjectNone, fmt.Errorf("unknown injection mode %q (expected none|positional|keyword)", raw)
	}
}

// Dependency declares that the owning task requires Task to have completed.
//
// Task is a name, resolved when the graph is built, so dependencies may be
// declared before the referenced task exists.
type Dependency struct {
	Task    string
	Mode    InjectionMode
	Keyword string
}

// DependsOn orders the owning task after name without passing its result.
func DependsOn(name string) Dependency {
	return Dependency{Task: name, Mode: InjectNone}
}

// ResultAsArg appends the result of name to the positional arguments.
func ResultAsArg(name string) Dependency {
	return Dependency{Task: name, Mode: InjectPositional}
}

// ResultAsKwarg passes the result of name as the keyword argument keyword.
func ResultAsKwarg(name, keyword string) Dependency {
	return Dependency{Task: name, Mode: InjectKeyword, Keyword: keyword}
}

// Task is a named unit of work.
//
// A Task must not be mutated while a run that includes it is in progress.
type Task struct {
	Name         string
	Callable     Callable
	Args         []any
	Kwargs       map[string]any
	Dependencies []Dependency

	// Log and Notifier are optional and may be shared between tasks.
	Log      LogSink
	Notifier Notifier
}

// TaskOption configures a Task.
type TaskOption func(*Task)

// NewTask creates a Task with the given name and body, applying options in order.
func NewTask(name string, callable Callable, opts ...TaskOption) *Task {
	t := &Task{
		Name:     name,
		Callable: callable,
		Kwargs:   map[string]any{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// WithArgs appends base positional arguments.
func WithArgs(args ...any) TaskOption {
	return func(t *Task) {
		t.Args = append(t.Args, args...)
	}
}

// WithKwargs merges base keyword arguments.
func WithKwargs(kwargs map[string]any) TaskOption {
	return func(t *Task) {
		if t.Kwargs == nil {
			t.Kwargs = make(map[string]any, len(kwargs))
		}
		for k, v := range kwargs {
			t.Kwargs[k] = v
		}
	}
}

// WithKwarg sets a single base keyword argument.
func WithKwarg(key string, value any) TaskOption {
	return WithKwargs(map[string]any{key: value})
}

// WithDependencies appends dependencies in declaration order.
func WithDependencies(deps ...Dependency) TaskOption {
	return func(t *Task) {
		t.Dependencies = append(t.Dependencies, deps...)
	}
}

// WithLogSink attaches a logging sink.
func WithLogSink(sink LogSink) TaskOption {
	return func(t *Task) {
		t.Log = sink
	}
}

// WithNotifier attaches a failure notifier.
func WithNotifier(n Notifier) TaskOption {
	return func(t *Task) {
		t.Notifier = n
	}
}

// DependencyNames returns the names of the direct dependencies in declaration order.
func (t *Task) DependencyNames() []string {
	out := make([]string, 0, len(t.Dependencies))
	for _, d := range t.Dependencies {
		out = append(out, d.Task)
	}
	return out
}
