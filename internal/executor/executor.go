// Package executor runs external commands with bounded timeouts and
// captured output. It never retries; retry policy belongs to the control
// loop.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Command describes a single external command invocation.
type Command struct {
	// Argv is the program and its arguments.
	Argv []string `json:"argv"`

	// Dir is the working directory. Optional.
	Dir string `json:"dir,omitempty"`

	// Env sets additional environment variables, merged over the daemon's
	// environment.
	Env map[string]string `json:"env,omitempty"`
}

// String renders the command for error messages and events.
func (c Command) String() string {
	return strings.Join(c.Argv, " ")
}

// Result holds the outcome of a completed command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// TimeoutError is returned by Run when the command does not complete within
// its timeout. The process has been forcibly terminated.
type TimeoutError struct {
	Command string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("command %q timed out after %s", e.Command, e.Timeout)
}

// Executor runs commands. The control loop and command probes depend on this
// interface so tests can substitute a fake.
type Executor interface {
	// Run invokes the command and waits for it to complete. A non-zero
	// exit is not an error; callers inspect Result.ExitCode. Run fails
	// with a *TimeoutError if the command does not complete within
	// timeout, and with ctx.Err() if ctx is cancelled first.
	Run(ctx context.Context, cmd Command, timeout time.Duration) (Result, error)
}

// Local runs commands as child processes of the daemon.
type Local struct{}

func (Local) Run(ctx context.Context, cmd Command, timeout time.Duration) (Result, error) {
	if len(cmd.Argv) == 0 {
		return Result{}, errors.New("empty command")
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	c := exec.CommandContext(runCtx, cmd.Argv[0], cmd.Argv[1:]...)
	c.Dir = cmd.Dir
	c.Env = mergedEnv(cmd.Env)

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	// Give the process a short grace window after cancellation before the
	// kill signal escalates.
	c.WaitDelay = 2 * time.Second

	start := time.Now()
	err := c.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	switch {
	case err == nil:
		return res, nil
	case runCtx.Err() != nil && ctx.Err() == nil:
		return res, &TimeoutError{Command: cmd.String(), Timeout: timeout}
	case ctx.Err() != nil:
		return res, ctx.Err()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	return res, fmt.Errorf("run %q: %w", cmd.String(), err)
}

func mergedEnv(extra map[string]string) []string {
	if len(extra) == 0 {
		return nil // inherit the daemon's environment
	}
	env := os.Environ()
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}
