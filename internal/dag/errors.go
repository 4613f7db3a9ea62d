package dag

import (
	"errors"
	"fmt"
	"strings"
)

// Construction errors. Every error returned by NewTaskGraph is a *GraphError
// whose Kind is one of these.
var (
	ErrInvalidTask         = errors.New("invalid task")
	ErrDuplicateTaskName   = errors.New("duplicate task name")
	ErrUnknownDependency   = errors.New("unknown dependency")
	ErrSelfDependency      = errors.New("self dependency")
	ErrDuplicateDependency = errors.New("duplicate dependency")
	ErrInvalidDependency   = errors.New("invalid dependency")
	ErrCyclicDependency    = errors.New("cyclic dependency")
)

var (
	// ErrTaskPanicked is wrapped by a TaskError whose callable panicked.
	ErrTaskPanicked = errors.New("task panicked")
	// ErrInvalidWorkers is returned when a parallel run is asked for fewer than one worker.
	ErrInvalidWorkers = errors.New("max workers must be >= 1")
)

// GraphError describes why a task collection is not a valid graph.
type GraphError struct {
	Kind error

	// Task is the offending task, when there is one.
	Task string
	// Dependency is the referenced name for dependency errors.
	Dependency string
	// Cycle is a closed witness path (first == last) for ErrCyclicDependency.
	Cycle []string

	Msg string
}

func (e *GraphError) Error() string {
	if e == nil {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(e.Kind.Error())
	switch {
	case len(e.Cycle) > 0:
		sb.WriteString(": ")
		sb.WriteString(strings.Join(e.Cycle, " -> "))
	case e.Task != "" && e.Dependency != "":
		fmt.Fprintf(&sb, ": task %q depends on %q", e.Task, e.Dependency)
	case e.Task != "":
		fmt.Fprintf(&sb, ": task %q", e.Task)
	}
	if e.Msg != "" {
		sb.WriteString(" (")
		sb.WriteString(e.Msg)
		sb.WriteByte(')')
	}
	return sb.String()
}

func (e *GraphError) Unwrap() error { return e.Kind }

func taskErr(kind error, task, msg string) error {
	return &GraphError{Kind: kind, Task: task, Msg: msg}
}

func depErr(kind error, task, dep, msg string) error {
	return &GraphError{Kind: kind, Task: task, Dependency: dep, Msg: msg}
}

func cycleError(path []string) error {
	return &GraphError{Kind: ErrCyclicDependency, Cycle: path}
}

// TaskError is a failure raised by a task's callable. The engine records it in
// the run result and never returns it from Run.
type TaskError struct {
	Task string
	Err  error

	// Panic and Stack are set when the callable panicked.
	Panic any
	Stack []byte
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %q: %v", e.Task, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// Panicked reports whether the callable panicked rather than returning an error.
func (e *TaskError) Panicked() bool { return e.Panic != nil }
