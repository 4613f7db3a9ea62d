package dag

import "fmt"

// IsTerminal reports whether no further transition is possible from s.
func IsTerminal(s TaskState) bool {
	switch s {
	case TaskSucceeded, TaskFailed, TaskSkipped:
		return true
	default:
		return false
	}
}

// Blocks reports whether a dependency in state s prevents its dependents from running.
func Blocks(s TaskState) bool {
	return s == TaskFailed || s == TaskSkipped
}

// Transition moves taskName from one state to another.
//
// from must match the current state; this makes lost updates visible as errors
// instead of silent overwrites.
func Transition(state ExecutionState, taskName string, from, to TaskState) error {
	cur, ok := state[taskName]
	if !ok {
		return fmt.Errorf("unknown task in state: %q", taskName)
	}
	if cur != from {
		return fmt.Errorf("invalid transition for %q: expected %s, got %s", taskName, from, cur)
	}
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("disallowed transition for %q: %s -> %s", taskName, from, to)
	}
	state[taskName] = to
	return nil
}

func isAllowedTransition(from, to TaskState) bool {
	switch from {
	case TaskPending:
		return to == TaskRunning || to == TaskSkipped
	case TaskRunning:
		return to == TaskSucceeded || to == TaskFailed
	default:
		return false
	}
}
