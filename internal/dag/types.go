package dag

import "taskweaver/internal/core"

// Edge is a resolved dependency: To requires From.
type Edge struct {
	From    string
	To      string
	Mode    core.InjectionMode
	Keyword string
}

// TaskNode is a task placed in a TaskGraph.
type TaskNode struct {
	Name string
	Task *core.Task

	index int
}

// Index returns the node's position in the caller's original task list.
func (n *TaskNode) Index() int { return n.index }
