package server

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/matgreaves/run"
	"golang.org/x/sync/errgroup"

	"github.com/CO3302Group3/convoy/internal/executor"
	"github.com/CO3302Group3/convoy/internal/graph"
	"github.com/CO3302Group3/convoy/internal/probe"
	"github.com/CO3302Group3/convoy/internal/spec"
	"github.com/CO3302Group3/convoy/internal/unit"
)

// AbortError reports that a service exhausted its retry budget, aborting
// the run.
type AbortError struct {
	Service  string
	Attempts int
	Err      error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("service %q failed after %d attempts: %v", e.Service, e.Attempts, e.Err)
}

func (e *AbortError) Unwrap() error { return e.Err }

// healthBinding pairs a readiness checker with its probing policy.
type healthBinding struct {
	checker probe.Checker
	policy  probe.Policy
}

// Controller drives a stack through its lifecycle: Up starts services
// stage by stage and gates each stage on readiness; Down stops them in
// reverse stage order.
type Controller struct {
	stack  *spec.Stack
	plan   graph.Plan
	log    *EventLog
	state  *StateTable
	units  map[string]unit.Unit
	checks map[string]healthBinding

	// sleep is swapped out in tests to avoid real backoff delays.
	sleep func(ctx context.Context, d time.Duration) error

	downOnce sync.Once
	downErr  error
}

// NewController resolves every service in the plan to a runnable unit and
// builds its readiness checker. Service output is captured into the event
// log.
func NewController(stack *spec.Stack, plan graph.Plan, log *EventLog, state *StateTable, resolver unit.Resolver) (*Controller, error) {
	c := &Controller{
		stack:  stack,
		plan:   plan,
		log:    log,
		state:  state,
		units:  make(map[string]unit.Unit),
		checks: make(map[string]healthBinding),
		sleep:  sleepCtx,
	}
	for _, name := range plan.Services() {
		svc := stack.Services[name]
		stdout := &logWriter{log: log, stack: stack.Name, service: name, stream: "stdout"}
		stderr := &logWriter{log: log, stack: stack.Name, service: name, stream: "stderr"}
		u, err := resolver.Resolve(name, svc, stdout, stderr)
		if err != nil {
			return nil, fmt.Errorf("service %q: %w", name, err)
		}
		c.units[name] = u
		if svc.Health != nil {
			checker, policy, err := probe.ForService(svc.Health, executor.Local{})
			if err != nil {
				return nil, fmt.Errorf("service %q: %w", name, err)
			}
			c.checks[name] = healthBinding{checker: checker, policy: policy}
		}
	}
	return c, nil
}

// Up brings the stack up one stage at a time. Within a stage services start
// concurrently; the next stage begins only once every service in the current
// stage is Ready. A service that exhausts its retries aborts the run: the
// remaining work in its stage is cancelled and later stages never start.
func (c *Controller) Up(ctx context.Context) error {
	c.log.Publish(Event{Type: EventRunStarted, Stack: c.stack.Name})

	stages := make(run.Sequence, 0, len(c.plan.Stages))
	for i, stage := range c.plan.Stages {
		stages = append(stages, c.stageRunner(i, stage))
	}

	if err := stages.Run(ctx); err != nil {
		var abort *AbortError
		if errors.As(err, &abort) {
			c.log.Publish(Event{
				Type:    EventRunAborted,
				Stack:   c.stack.Name,
				Service: abort.Service,
				Attempt: abort.Attempts,
				Error:   abort.Err.Error(),
			})
		} else {
			c.log.Publish(Event{Type: EventRunCancelled, Stack: c.stack.Name})
		}
		return err
	}

	c.log.Publish(Event{Type: EventRunUp, Stack: c.stack.Name})
	return nil
}

// stageRunner brings up every service in a single stage concurrently and
// waits for all of them. The first failure cancels the in-flight siblings.
func (c *Controller) stageRunner(index int, services []string) run.Runner {
	return run.Func(func(ctx context.Context) error {
		c.log.Publish(Event{Type: EventStageStarted, Stack: c.stack.Name, Stage: index + 1})

		g, sctx := errgroup.WithContext(ctx)
		for _, name := range services {
			g.Go(func() error {
				return c.bringUp(sctx, name)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		c.log.Publish(Event{Type: EventStageReady, Stack: c.stack.Name, Stage: index + 1})
		return nil
	})
}

// bringUp drives a single service to Ready, retrying failed attempts with
// exponential backoff until the retry budget is spent. A service that is
// already Ready is left alone.
func (c *Controller) bringUp(ctx context.Context, name string) error {
	if c.state.Phase(name) == spec.PhaseReady {
		return nil
	}

	svc := c.stack.Services[name]
	maxRetries := spec.DefaultMaxRetries
	if svc.Restart.MaxRetries != nil {
		maxRetries = *svc.Restart.MaxRetries
	}

	for attempt := 0; ; attempt++ {
		c.transition(name, spec.PhaseStarting, EventServiceStarting, attempt+1)

		err := c.lifecycle(name, svc, attempt+1).Run(ctx)
		if err == nil {
			c.transition(name, spec.PhaseReady, EventServiceReady, attempt+1)
			return nil
		}
		if ctx.Err() != nil {
			// Cancelled from outside (operator or a sibling's abort).
			// Not a failure; the service keeps its last recorded phase.
			return ctx.Err()
		}

		c.state.Fail(name, err)
		c.log.Publish(Event{
			Type:    EventServiceFailed,
			Stack:   c.stack.Name,
			Service: name,
			Attempt: attempt + 1,
			Error:   err.Error(),
		})

		if attempt >= maxRetries {
			c.transition(name, spec.PhaseAborted, EventServiceAborted, attempt+1)
			return &AbortError{Service: name, Attempts: attempt + 1, Err: err}
		}

		c.transition(name, spec.PhaseRetrying, EventServiceRetrying, attempt+1)
		if err := c.sleep(ctx, backoffDelay(svc.Restart, attempt)); err != nil {
			return err
		}
	}
}

// lifecycle is a single bring-up attempt: start the unit, then wait for its
// readiness probe (if any) to report healthy.
func (c *Controller) lifecycle(name string, svc spec.Service, attempt int) run.Runner {
	steps := run.Sequence{
		run.Func(func(ctx context.Context) error {
			return c.units[name].Start(ctx)
		}),
	}
	if hb, ok := c.checks[name]; ok {
		steps = append(steps, run.Func(func(ctx context.Context) error {
			c.transition(name, spec.PhaseChecking, EventServiceChecking, attempt)
			return probe.WaitReady(ctx, hb.checker, hb.policy)
		}))
	}
	return steps
}

// LogStreamer returns the named service's unit if it can stream logs on
// demand (container units). Command units fall back to event log replay.
func (c *Controller) LogStreamer(name string) (unit.LogStreamer, bool) {
	ls, ok := c.units[name].(unit.LogStreamer)
	return ls, ok
}

// Down stops services stage by stage in reverse order. Services in the same
// stage stop concurrently. Stop failures are recorded but never block the
// rest of the teardown; only running out of time stops it early. Down is
// idempotent: services that never started, or already stopped, are skipped.
func (c *Controller) Down(ctx context.Context) error {
	c.downOnce.Do(func() {
		c.downErr = c.down(ctx)
	})
	return c.downErr
}

func (c *Controller) down(ctx context.Context) error {
	for i := len(c.plan.Stages) - 1; i >= 0; i-- {
		var wg sync.WaitGroup
		for _, name := range c.plan.Stages[i] {
			switch c.state.Phase(name) {
			case spec.PhasePending, spec.PhaseStopped:
				continue
			}
			wg.Add(1)
			go func(name string) {
				defer wg.Done()
				c.stop(ctx, name)
			}(name)
		}
		wg.Wait()
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	c.log.Publish(Event{Type: EventRunDown, Stack: c.stack.Name})
	return nil
}

func (c *Controller) stop(ctx context.Context, name string) {
	c.transition(name, spec.PhaseStopping, EventServiceStopping, 0)
	if err := c.units[name].Stop(ctx); err != nil {
		c.state.Fail(name, err)
		c.log.Publish(Event{
			Type:    EventServiceStopFailed,
			Stack:   c.stack.Name,
			Service: name,
			Error:   err.Error(),
		})
		return
	}
	c.transition(name, spec.PhaseStopped, EventServiceStopped, 0)
}

// transition records a phase change in the state table and publishes the
// matching event.
func (c *Controller) transition(name string, phase spec.Phase, event EventType, attempt int) {
	c.state.Transition(name, phase)
	c.log.Publish(Event{
		Type:    event,
		Stack:   c.stack.Name,
		Service: name,
		Attempt: attempt,
	})
}

// backoffDelay computes the delay before retry attempt+1:
// base * multiplier^attempt, capped.
func backoffDelay(p spec.RestartPolicy, attempt int) time.Duration {
	base := p.Backoff.Duration
	if base <= 0 {
		base = spec.DefaultBackoff
	}
	mult := p.Multiplier
	if mult <= 0 {
		mult = spec.DefaultBackoffMultiplier
	}
	d := time.Duration(float64(base) * math.Pow(mult, float64(attempt)))
	if p.Cap.Duration > 0 && d > p.Cap.Duration {
		d = p.Cap.Duration
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
