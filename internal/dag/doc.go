// Package dag builds validated dependency graphs of tasks and executes them.
//
// A TaskGraph is immutable once NewTaskGraph returns: names are resolved to
// indices, the edge relation is proven acyclic, and a deterministic
// topological order is fixed (Kahn's algorithm, ties broken by the caller's
// insertion order).
//
// An Executor runs a TaskGraph either sequentially, in that topological order,
// or on a bounded worker pool where a task becomes ready as soon as its last
// direct dependency reaches a terminal state. In both modes a task whose
// direct dependency failed or was skipped is itself skipped, and the final
// succeeded/failed/skipped partition does not depend on scheduling.
//
// Task failures never abort a run; they are recorded in the RunResult. Run
// only returns an error for invalid arguments.
package dag
