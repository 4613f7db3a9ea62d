package cli

import (
	"errors"
	"fmt"
)

// Semantic exit codes.
const (
	ExitSuccess           = 0
	ExitGraphFailure      = 1
	ExitInvalidInvocation = 2
	ExitConfigError       = 3
	ExitInternalError     = 4
)

// InvocationError carries the exit code a command failed with.
type InvocationError struct {
	ExitCode int
	Message  string
	Err      error
}

func (e *InvocationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message == "" && e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *InvocationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func invalidInvocationf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitInvalidInvocation, Message: fmt.Sprintf(format, args...)}
}

func configError(err error) error {
	return &InvocationError{ExitCode: ExitConfigError, Err: err}
}

func internalError(err error) error {
	return &InvocationError{ExitCode: ExitInternalError, Err: err}
}

// ErrTasksFailed is wrapped by the error run returns when a task failed or
// was skipped.
var ErrTasksFailed = errors.New("tasks did not complete")

func tasksFailed(failed, skipped int) error {
	return &InvocationError{
		ExitCode: ExitGraphFailure,
		Message:  fmt.Sprintf("%d task(s) failed, %d skipped", failed, skipped),
		Err:      ErrTasksFailed,
	}
}

// ExitCode extracts the semantic exit code from err. Unclassified errors are
// internal.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var invErr *InvocationError
	if errors.As(err, &invErr) && invErr != nil {
		if invErr.ExitCode != 0 {
			return invErr.ExitCode
		}
		return ExitInvalidInvocation
	}
	return ExitInternalError
}
