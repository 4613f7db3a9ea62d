package trace

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// RunTrace is the deterministic record of what the engine decided during a run.
//
// It carries no timestamps, durations, results or error text, so a sequential
// and a parallel run of the same graph with the same outcomes produce the same
// canonical bytes.
type RunTrace struct {
	Fingerprint string  `json:"fingerprint"`
	Events      []Event `json:"events"`
}

// Kind discriminates events. The values are part of the canonical encoding.
type Kind string

const (
	KindTaskSucceeded Kind = "TaskSucceeded"
	KindTaskFailed    Kind = "TaskFailed"
	KindTaskSkipped   Kind = "TaskSkipped"
)

// Reason codes.
const (
	ReasonError           = "Error"
	ReasonPanic           = "Panic"
	ReasonUpstreamFailed  = "UpstreamFailed"
	ReasonUpstreamSkipped = "UpstreamSkipped"
)

// Event is one terminal decision about one task.
type Event struct {
	Kind   Kind   `json:"kind"`
	Task   string `json:"task"`
	Reason string `json:"reason,omitempty"`

	// Cause is the direct dependency that made a skipped task unrunnable.
	Cause string `json:"cause,omitempty"`
}

// Validate checks that every event is addressable.
func (t *RunTrace) Validate() error {
	if t == nil {
		return errors.New("trace is nil")
	}
	if t.Fingerprint == "" {
		return errors.New("fingerprint is required")
	}
	for i, e := range t.Events {
		if kindOrder(e.Kind) == 0 {
			return fmt.Errorf("events[%d]: unknown kind %q", i, e.Kind)
		}
		if e.Task == "" {
			return fmt.Errorf("events[%d]: task is required", i)
		}
		if e.Kind == KindTaskSkipped && e.Cause == "" {
			return fmt.Errorf("events[%d]: skipped task %q has no cause", i, e.Task)
		}
	}
	return nil
}

// Canonicalize sorts events by (task, kind, reason, cause).
func (t *RunTrace) Canonicalize() {
	if t == nil {
		return
	}
	sort.SliceStable(t.Events, func(i, j int) bool {
		a, b := t.Events[i], t.Events[j]
		if a.Task != b.Task {
			return a.Task < b.Task
		}
		if kindOrder(a.Kind) != kindOrder(b.Kind) {
			return kindOrder(a.Kind) < kindOrder(b.Kind)
		}
		if a.Reason != b.Reason {
			return a.Reason < b.Reason
		}
		return a.Cause < b.Cause
	})
}

func kindOrder(k Kind) int {
	switch k {
	case KindTaskSucceeded:
		return 1
	case KindTaskFailed:
		return 2
	case KindTaskSkipped:
		return 3
	default:
		return 0
	}
}

// CanonicalJSON encodes a sorted copy of the trace. The receiver is not modified.
func (t RunTrace) CanonicalJSON() ([]byte, error) {
	cp := RunTrace{Fingerprint: t.Fingerprint, Events: make([]Event, len(t.Events))}
	copy(cp.Events, t.Events)
	cp.Canonicalize()
	if err := cp.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(cp)
}

// Hash returns the hex sha256 of the canonical encoding.
func (t RunTrace) Hash() (string, error) {
	b, err := t.CanonicalJSON()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
