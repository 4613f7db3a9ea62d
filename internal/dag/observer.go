package dag

import "time"

// Observer is notified as tasks reach terminal states and when a run ends.
// In parallel runs every call comes from the scheduling goroutine, never
// concurrently with another call for the same run.
type Observer interface {
	TaskFinished(task string, state TaskState, elapsed time.Duration)
	RunFinished(res *RunResult)
}

// Observers fans out to each observer in order.
type Observers []Observer

func (o Observers) TaskFinished(task string, state TaskState, elapsed time.Duration) {
	for _, ob := range o {
		safely(func() { ob.TaskFinished(task, state, elapsed) })
	}
}

func (o Observers) RunFinished(res *RunResult) {
	for _, ob := range o {
		safely(func() { ob.RunFinished(res) })
	}
}

// safely runs fn and discards any panic.
func safely(fn func()) {
	defer func() {
		_ = recover()
	}()
	fn()
}
