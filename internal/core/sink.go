package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// maxValueWidth bounds each rendered value in Call.Summary.
const maxValueWidth = 80

// Call is the argument set a Callable is invoked with after result injection.
type Call struct {
	Args   []any
	Kwargs map[string]any
}

// Summary renders the call for logs and notifications. Keyword arguments are
// sorted by name and every value is truncated.
func (c Call) Summary() string {
	var sb strings.Builder
	sb.WriteString("args=[")
	for i, a := range c.Args {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(truncateValue(a))
	}
	sb.WriteString("] kwargs={")

	keys := make([]string, 0, len(c.Kwargs))
	for k := range c.Kwargs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(k)
		sb.WriteByte(':')
		sb.WriteString(truncateValue(c.Kwargs[k]))
	}
	sb.WriteByte('}')
	return sb.String()
}

func truncateValue(v any) string {
	s := fmt.Sprintf("%v", v)
	if len(s) <= maxValueWidth {
		return s
	}
	return s[:maxValueWidth-3] + "..."
}

// LogSink receives the lifecycle of a task's execution.
//
// A sink shared by several tasks is called concurrently in parallel runs and
// must do its own synchronization.
type LogSink interface {
	TaskStarted(ctx context.Context, task string, call Call)
	TaskSucceeded(ctx context.Context, task string, result any, elapsed time.Duration)
	TaskFailed(ctx context.Context, task string, call Call, err error, elapsed time.Duration)
}

// Failure describes a failed task for a Notifier.
type Failure struct {
	Task string
	Err  error
	Call Call

	// Downstream lists every task that will be skipped because of this
	// failure, in topological order.
	Downstream []string

	Time time.Time
}

// Notifier is alerted once per failed task. Errors it returns are logged by
// the engine and otherwise ignored.
type Notifier interface {
	Notify(ctx context.Context, f Failure) error
}
