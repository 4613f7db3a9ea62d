// Package report persists a summary of each run as JSON.
//
// Reports live under <dir>/<run-id>/report.json. They describe outcomes only;
// task graphs are never stored and a report cannot be used to resume a run.
package report

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskweaver/internal/dag"
)

// maxResultLen bounds the rendered result of a task.
const maxResultLen = 512

// Report is the on-disk record of one run.
type Report struct {
	RunID       string       `json:"run_id"`
	Fingerprint string       `json:"fingerprint"`
	Mode        string       `json:"mode"`
	Workers     int          `json:"workers"`
	StartedAt   time.Time    `json:"started_at"`
	DurationMS  int64        `json:"duration_ms"`
	Summary     Summary      `json:"summary"`
	Tasks       []TaskReport `json:"tasks"`
}

// Summary counts tasks per outcome.
type Summary struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// TaskReport is one task's outcome. Tasks appear in topological order.
type TaskReport struct {
	Name   string `json:"name"`
	State  string `json:"state"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// NewRunID returns a fresh random run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// New builds a report for res, listing tasks in g's topological order.
func New(runID string, g *dag.TaskGraph, res *dag.RunResult) Report {
	s, f, k := res.Counts()
	r := Report{
		RunID:       runID,
		Fingerprint: res.Fingerprint,
		Mode:        string(res.Mode),
		Workers:     res.Workers,
		StartedAt:   res.Started.UTC(),
		DurationMS:  res.Duration.Milliseconds(),
		Summary:     Summary{Succeeded: s, Failed: f, Skipped: k},
		Tasks:       make([]TaskReport, 0, g.Len()),
	}

	for _, name := range g.TopologicalOrder() {
		st, _ := res.State(name)
		tr := TaskReport{Name: name, State: string(st)}
		switch st {
		case dag.TaskSucceeded:
			if v := res.Succeeded[name]; v != nil {
				tr.Result = truncate(fmt.Sprint(v))
			}
		case dag.TaskFailed:
			if err := res.Failed[name]; err != nil {
				tr.Error = err.Error()
			}
		}
		r.Tasks = append(r.Tasks, tr)
	}
	return r
}

// OK reports whether every task succeeded.
func (r Report) OK() bool {
	return r.Summary.Failed == 0 && r.Summary.Skipped == 0
}

// Validate checks the invariants a stored report must satisfy.
func (r Report) Validate() error {
	if _, err := uuid.Parse(r.RunID); err != nil {
		return fmt.Errorf("run_id: %w", err)
	}
	if strings.TrimSpace(r.Fingerprint) == "" {
		return errors.New("fingerprint is required")
	}
	switch dag.Mode(r.Mode) {
	case dag.ModeSequential, dag.ModeParallel:
	default:
		return fmt.Errorf("mode: unknown value %q", r.Mode)
	}
	if r.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", r.Workers)
	}

	var got Summary
	for i, t := range r.Tasks {
		if t.Name == "" {
			return fmt.Errorf("tasks[%d]: name is required", i)
		}
		switch dag.TaskState(t.State) {
		case dag.TaskSucceeded:
			got.Succeeded++
		case dag.TaskFailed:
			got.Failed++
		case dag.TaskSkipped:
			got.Skipped++
		default:
			return fmt.Errorf("tasks[%d]: state %q is not terminal", i, t.State)
		}
	}
	if got != r.Summary {
		return fmt.Errorf("summary %+v does not match tasks %+v", r.Summary, got)
	}
	return nil
}

func truncate(s string) string {
	if len(s) <= maxResultLen {
		return s
	}
	return s[:maxResultLen-3] + "..."
}
