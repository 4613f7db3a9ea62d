package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"syscall"
)

// ErrEmptyCommand is returned when a Command has nothing to run.
var ErrEmptyCommand = errors.New("command is empty")

// ExitError reports a command that ran and exited non-zero.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return fmt.Sprintf("exit status %d: %s", e.Code, msg)
}

// Command is a Callable that runs Run through "sh -c".
//
// Positional arguments become $1..$n. Keyword arguments are exported as
// environment variables named after the keyword. Only Env (and, with
// InheritEnv, the host environment) is visible otherwise.
//
// The result is the command's stdout with surrounding whitespace trimmed.
type Command struct {
	Run        string
	Env        map[string]string
	WorkingDir string
	InheritEnv bool
}

// Call runs the command. When ctx is cancelled the whole process group is killed.
func (c *Command) Call(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	if c == nil || strings.TrimSpace(c.Run) == "" {
		return nil, ErrEmptyCommand
	}

	shArgs := make([]string, 0, len(args)+3)
	shArgs = append(shArgs, "-c", c.Run, "sh")
	for _, a := range args {
		shArgs = append(shArgs, fmt.Sprint(a))
	}

	cmd := exec.CommandContext(ctx, "sh", shArgs...)
	cmd.Dir = c.WorkingDir
	cmd.Env = c.environ(kwargs)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start command: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var err error
	select {
	case <-ctx.Done():
		if cmd.Process != nil {
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		<-done
		return nil, fmt.Errorf("command cancelled: %w", ctx.Err())
	case err = <-done:
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &ExitError{Code: exitErr.ExitCode(), Stderr: stderr.String()}
		}
		return nil, fmt.Errorf("run command: %w", err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// environ builds the allowlisted environment. Later sources win: host (when
// inherited), then Env, then kwargs.
func (c *Command) environ(kwargs map[string]any) []string {
	merged := map[string]string{}
	if c.InheritEnv {
		for _, kv := range os.Environ() {
			if k, v, ok := strings.Cut(kv, "="); ok {
				merged[k] = v
			}
		}
	}
	for k, v := range c.Env {
		merged[k] = v
	}
	for k, v := range kwargs {
		merged[k] = fmt.Sprint(v)
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+merged[k])
	}
	return out
}
