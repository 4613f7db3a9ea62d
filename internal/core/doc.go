// Package core defines the task model shared by the graph, the engine and the
// drivers that build tasks.
//
// # Core Types
//
// Task: a named unit of work wrapping a Callable and its base arguments.
// Dependency: a "requires" relation to another task, by name, optionally
// injecting that task's result into this task's call.
// Call: the fully assembled arguments a Callable is invoked with.
//
// # Collaborators
//
// LogSink and Notifier are the narrow interfaces the engine drives around a
// task's execution. Implementations may be shared by many tasks and must be
// safe for concurrent use; the engine does not serialize access to them.
//
// Command is a Callable that runs a shell command; it is what file-based
// drivers build tasks from.
package core
