package dag

import "time"

// Mode names how a run was executed.
type Mode string

const (
	ModeSequential Mode = "sequential"
	ModeParallel   Mode = "parallel"
)

// RunResult is the outcome of one run. Succeeded, Failed and Skipped partition
// the graph's task names.
type RunResult struct {
	Fingerprint string
	Mode        Mode
	Workers     int

	// Succeeded maps task name to the value its callable returned.
	Succeeded map[string]any
	// Failed maps task name to a *TaskError.
	Failed map[string]error
	// Skipped lists tasks that were never invoked, in topological order.
	Skipped []string

	FinalState ExecutionState
	// ExecutionOrder lists invoked tasks in the order they were started.
	ExecutionOrder []string

	Started  time.Time
	Duration time.Duration
}

// OK reports whether every task succeeded.
func (r *RunResult) OK() bool {
	return len(r.Failed) == 0 && len(r.Skipped) == 0
}

// State returns the terminal state of name.
func (r *RunResult) State(name string) (TaskState, bool) {
	st, ok := r.FinalState[name]
	return st, ok
}

// IsSkipped reports whether name was skipped.
func (r *RunResult) IsSkipped(name string) bool {
	return r.FinalState[name] == TaskSkipped
}

// Counts returns the sizes of the three buckets.
func (r *RunResult) Counts() (succeeded, failed, skipped int) {
	return len(r.Succeeded), len(r.Failed), len(r.Skipped)
}
