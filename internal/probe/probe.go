// Package probe implements readiness probing: polling a health check until
// it succeeds a configured number of consecutive times, the deadline
// elapses, or the caller cancels.
package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/CO3302Group3/convoy/internal/executor"
	"github.com/CO3302Group3/convoy/internal/spec"
)

// Checker performs a single readiness probe.
type Checker interface {
	Check(ctx context.Context) error
}

// Policy controls the poll loop in WaitReady.
type Policy struct {
	// Interval between probe attempts.
	Interval time.Duration

	// ProbeTimeout bounds a single attempt, so one hung probe cannot
	// stall the loop past the deadline.
	ProbeTimeout time.Duration

	// Deadline is the maximum total wait for readiness.
	Deadline time.Duration

	// SuccessThreshold is the number of consecutive successes required.
	SuccessThreshold int
}

// TimeoutError is returned by WaitReady when the deadline elapses before the
// checker reports ready. LastErr is the most recent probe failure.
type TimeoutError struct {
	Deadline time.Duration
	LastErr  error
}

func (e *TimeoutError) Error() string {
	if e.LastErr != nil {
		return fmt.Sprintf("not ready after %s (last error: %v)", e.Deadline, e.LastErr)
	}
	return fmt.Sprintf("not ready after %s", e.Deadline)
}

func (e *TimeoutError) Unwrap() error { return e.LastErr }

// ForService builds a Checker and Policy from a service's health spec.
// Command probes run through the given executor.
func ForService(h *spec.HealthSpec, exec executor.Executor) (Checker, Policy, error) {
	policy := Policy{
		Interval:         h.Interval.Duration,
		ProbeTimeout:     h.ProbeTimeout.Duration,
		Deadline:         h.Deadline.Duration,
		SuccessThreshold: h.SuccessThreshold,
	}

	switch h.Type {
	case spec.ProbeHTTP:
		return &HTTP{URL: h.Target}, policy, nil
	case spec.ProbeTCP:
		return &TCP{Addr: h.Target}, policy, nil
	case spec.ProbeGRPC:
		return &GRPC{Addr: h.Target}, policy, nil
	case spec.ProbeCommand:
		return &Command{Argv: h.Command, Exec: exec}, policy, nil
	default:
		return nil, Policy{}, fmt.Errorf("unknown health check type %q", h.Type)
	}
}

// WaitReady polls checker at the policy's interval until it succeeds
// SuccessThreshold consecutive times. It fails with a *TimeoutError when the
// deadline elapses, and with ctx.Err() when the caller cancels first.
func WaitReady(ctx context.Context, checker Checker, policy Policy) error {
	deadline := policy.Deadline
	if deadline <= 0 {
		deadline = spec.DefaultProbeDeadline
	}
	interval := policy.Interval
	if interval <= 0 {
		interval = spec.DefaultProbeInterval
	}
	threshold := policy.SuccessThreshold
	if threshold < 1 {
		threshold = 1
	}

	waitCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	var lastErr error
	streak := 0

	for {
		err := check(waitCtx, checker, policy.ProbeTimeout)
		if err == nil {
			streak++
			if streak >= threshold {
				return nil
			}
		} else {
			streak = 0
			lastErr = err
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err() // caller cancelled, not a health failure
			}
			return &TimeoutError{Deadline: deadline, LastErr: lastErr}
		case <-time.After(interval):
		}
	}
}

// check runs a single probe attempt under its own timeout.
func check(ctx context.Context, checker Checker, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = spec.DefaultProbeTimeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return checker.Check(attemptCtx)
}
