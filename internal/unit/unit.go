// Package unit provides the start/stop seam between the control loop and
// the outside world. A unit is something that can be brought up and torn
// down: an opaque runtime command pair, or a container managed directly
// through the Docker Engine API.
package unit

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/CO3302Group3/convoy/internal/executor"
	"github.com/CO3302Group3/convoy/internal/spec"
)

// Unit starts and stops one service. Implementations are driven by exactly
// one control-loop task at a time and need no internal locking.
type Unit interface {
	// Start brings the unit up and returns once it is running (readiness
	// is gated separately by the health probe).
	Start(ctx context.Context) error

	// Stop brings the unit down. Best effort: the control loop logs stop
	// failures but continues tearing down siblings.
	Stop(ctx context.Context) error
}

// LogStreamer is implemented by units that can stream service logs on
// demand (container units). Command units fall back to output captured in
// the event log.
type LogStreamer interface {
	Logs(ctx context.Context, w io.Writer, follow bool) error
}

// StartError reports a start or stop command that exited non-zero.
type StartError struct {
	Service string
	Op      string // "start" or "stop"
	Result  executor.Result
}

func (e *StartError) Error() string {
	msg := strings.TrimSpace(e.Result.Stderr)
	if msg == "" {
		msg = strings.TrimSpace(e.Result.Stdout)
	}
	if msg != "" {
		return fmt.Sprintf("service %q: %s exited with code %d: %s", e.Service, e.Op, e.Result.ExitCode, msg)
	}
	return fmt.Sprintf("service %q: %s exited with code %d", e.Service, e.Op, e.Result.ExitCode)
}

// Resolver builds units from service specs. The HTTP server uses this seam
// so tests can substitute fakes for the real drivers.
type Resolver interface {
	Resolve(name string, svc spec.Service, stdout, stderr io.Writer) (Unit, error)
}

// Drivers resolves container specs to Docker-backed units and everything
// else to command units run through Exec.
type Drivers struct {
	Exec executor.Executor
}

func (d Drivers) Resolve(name string, svc spec.Service, stdout, stderr io.Writer) (Unit, error) {
	if svc.Container != nil {
		return NewContainer(name, *svc.Container, stdout, stderr)
	}
	return &CommandUnit{
		Service:      name,
		StartCommand: executor.Command{Argv: svc.Start, Dir: svc.Dir, Env: svc.Env},
		StopCommand:  executor.Command{Argv: svc.Stop, Dir: svc.Dir, Env: svc.Env},
		StartTimeout: svc.StartTimeout.Duration,
		StopTimeout:  svc.StopTimeout.Duration,
		Exec:         d.Exec,
		Stdout:       stdout,
		Stderr:       stderr,
	}, nil
}

// CommandUnit drives a service through opaque start/stop commands
// (typically thin wrappers over the container runtime CLI).
type CommandUnit struct {
	Service      string
	StartCommand executor.Command
	StopCommand  executor.Command
	StartTimeout time.Duration
	StopTimeout  time.Duration
	Exec         executor.Executor
	Stdout       io.Writer
	Stderr       io.Writer
}

func (u *CommandUnit) Start(ctx context.Context) error {
	return u.run(ctx, "start", u.StartCommand, u.StartTimeout)
}

func (u *CommandUnit) Stop(ctx context.Context) error {
	return u.run(ctx, "stop", u.StopCommand, u.StopTimeout)
}

func (u *CommandUnit) run(ctx context.Context, op string, cmd executor.Command, timeout time.Duration) error {
	res, err := u.Exec.Run(ctx, cmd, timeout)
	u.emit(res)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return &StartError{Service: u.Service, Op: op, Result: res}
	}
	return nil
}

// emit copies captured command output to the unit's writers so it lands in
// the event log.
func (u *CommandUnit) emit(res executor.Result) {
	if u.Stdout != nil && res.Stdout != "" {
		io.WriteString(u.Stdout, res.Stdout)
	}
	if u.Stderr != nil && res.Stderr != "" {
		io.WriteString(u.Stderr, res.Stderr)
	}
}
