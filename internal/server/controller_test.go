package server

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/CO3302Group3/convoy/internal/probe"
	"github.com/CO3302Group3/convoy/internal/spec"
	"github.com/CO3302Group3/convoy/internal/unit"
)

func fastProbePolicy() probe.Policy {
	return probe.Policy{
		Interval:         time.Millisecond,
		ProbeTimeout:     50 * time.Millisecond,
		Deadline:         time.Second,
		SuccessThreshold: 1,
	}
}

var errFake = errors.New("fake start failure")

// recorder collects start/stop invocations across fake units, in order.
type recorder struct {
	mu     sync.Mutex
	starts []string
	stops  []string
}

func (r *recorder) start(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts = append(r.starts, name)
}

func (r *recorder) stop(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops = append(r.stops, name)
}

func (r *recorder) startCount(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.starts {
		if s == name {
			n++
		}
	}
	return n
}

func (r *recorder) stopped(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.stops {
		if s == name {
			return true
		}
	}
	return false
}

// fakeUnit is a scriptable Unit: startErrs are consumed one per attempt
// (nil past the end means success), blockStart parks Start until the context
// is cancelled.
type fakeUnit struct {
	name       string
	rec        *recorder
	startErrs  []error
	blockStart bool
	stopErr    error

	mu       sync.Mutex
	attempts int
}

func (u *fakeUnit) Start(ctx context.Context) error {
	u.rec.start(u.name)
	if u.blockStart {
		<-ctx.Done()
		return ctx.Err()
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.attempts < len(u.startErrs) {
		err := u.startErrs[u.attempts]
		u.attempts++
		return err
	}
	u.attempts++
	return nil
}

func (u *fakeUnit) Stop(ctx context.Context) error {
	u.rec.stop(u.name)
	return u.stopErr
}

// fakeResolver hands out pre-built units by service name.
type fakeResolver struct {
	units map[string]unit.Unit
}

func (r *fakeResolver) Resolve(name string, svc spec.Service, stdout, stderr io.Writer) (unit.Unit, error) {
	u, ok := r.units[name]
	if !ok {
		return nil, errors.New("no unit for " + name)
	}
	return u, nil
}

// testStack builds a command-based stack from name→deps pairs.
func testStack(deps map[string][]string) *spec.Stack {
	stack := &spec.Stack{Name: "test", Services: make(map[string]spec.Service)}
	for name, dd := range deps {
		stack.Services[name] = spec.Service{
			DependsOn: dd,
			Start:     []string{"start-" + name},
			Stop:      []string{"stop-" + name},
		}
	}
	spec.ResolveDefaults(stack)
	return stack
}

// newTestController wires a controller with fake units over the given stack.
// The backoff sleep records delays and returns immediately.
func newTestController(t *testing.T, stack *spec.Stack, units map[string]unit.Unit) (*Controller, *EventLog, *StateTable, *[]time.Duration) {
	t.Helper()

	plan, err := planStack(stack)
	if err != nil {
		t.Fatalf("planStack: %v", err)
	}

	log := NewEventLog()
	state := NewStateTable(plan)
	ctrl, err := NewController(stack, plan, log, state, &fakeResolver{units: units})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	var delays []time.Duration
	var mu sync.Mutex
	ctrl.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return nil
	}

	return ctrl, log, state, &delays
}

func indexOf(list []string, v string) int {
	for i, s := range list {
		if s == v {
			return i
		}
	}
	return -1
}

func TestUpStartsDependenciesFirst(t *testing.T) {
	rec := &recorder{}
	stack := testStack(map[string][]string{
		"db":      nil,
		"auth":    {"db"},
		"gateway": {"auth", "db"},
	})
	units := map[string]unit.Unit{
		"db":      &fakeUnit{name: "db", rec: rec},
		"auth":    &fakeUnit{name: "auth", rec: rec},
		"gateway": &fakeUnit{name: "gateway", rec: rec},
	}
	ctrl, log, state, _ := newTestController(t, stack, units)

	if err := ctrl.Up(context.Background()); err != nil {
		t.Fatalf("Up: %v", err)
	}

	rec.mu.Lock()
	starts := append([]string(nil), rec.starts...)
	rec.mu.Unlock()
	if !(indexOf(starts, "db") < indexOf(starts, "auth") &&
		indexOf(starts, "auth") < indexOf(starts, "gateway")) {
		t.Errorf("start order %v violates dependency order", starts)
	}

	for _, svc := range state.Snapshot() {
		if svc.Phase != spec.PhaseReady {
			t.Errorf("service %s phase = %s, want ready", svc.Name, svc.Phase)
		}
	}

	events := log.Events()
	last := events[len(events)-1]
	if last.Type != EventRunUp {
		t.Errorf("final event = %s, want run.up", last.Type)
	}
}

func TestUpRetriesThenSucceeds(t *testing.T) {
	rec := &recorder{}
	stack := testStack(map[string][]string{"api": nil})
	units := map[string]unit.Unit{
		"api": &fakeUnit{name: "api", rec: rec, startErrs: []error{errors.New("boom")}},
	}
	ctrl, log, state, delays := newTestController(t, stack, units)

	if err := ctrl.Up(context.Background()); err != nil {
		t.Fatalf("Up: %v", err)
	}

	if got := rec.startCount("api"); got != 2 {
		t.Errorf("start invocations = %d, want 2", got)
	}
	if got := state.Snapshot()[0].Attempts; got != 2 {
		t.Errorf("recorded attempts = %d, want 2", got)
	}
	if len(*delays) != 1 || (*delays)[0] != spec.DefaultBackoff {
		t.Errorf("backoff delays = %v, want [%v]", *delays, spec.DefaultBackoff)
	}

	var sawFailed, sawRetrying bool
	for _, e := range log.Events() {
		switch e.Type {
		case EventServiceFailed:
			sawFailed = true
		case EventServiceRetrying:
			sawRetrying = true
		}
	}
	if !sawFailed || !sawRetrying {
		t.Errorf("expected failed and retrying events, got failed=%v retrying=%v", sawFailed, sawRetrying)
	}
}

func TestUpAbortsAfterRetryBudget(t *testing.T) {
	rec := &recorder{}
	stack := testStack(map[string][]string{
		"db":  nil,
		"api": {"db"},
	})
	one := 1
	db := stack.Services["db"]
	db.Restart.MaxRetries = &one
	stack.Services["db"] = db

	units := map[string]unit.Unit{
		"db": &fakeUnit{name: "db", rec: rec, startErrs: []error{
			errors.New("boom"), errors.New("boom"), errors.New("boom"),
		}},
		"api": &fakeUnit{name: "api", rec: rec},
	}
	ctrl, log, state, _ := newTestController(t, stack, units)

	err := ctrl.Up(context.Background())
	var abort *AbortError
	if !errors.As(err, &abort) {
		t.Fatalf("Up = %v, want AbortError", err)
	}
	if abort.Service != "db" || abort.Attempts != 2 {
		t.Errorf("abort = %+v, want db after 2 attempts", abort)
	}

	// maxRetries=1 means exactly two attempts, no more.
	if got := rec.startCount("db"); got != 2 {
		t.Errorf("db start invocations = %d, want 2", got)
	}
	// The dependent stage never starts.
	if got := rec.startCount("api"); got != 0 {
		t.Errorf("api start invocations = %d, want 0", got)
	}

	for _, svc := range state.Snapshot() {
		switch svc.Name {
		case "db":
			if svc.Phase != spec.PhaseAborted {
				t.Errorf("db phase = %s, want aborted", svc.Phase)
			}
		case "api":
			if svc.Phase != spec.PhasePending {
				t.Errorf("api phase = %s, want pending", svc.Phase)
			}
		}
	}

	events := log.Events()
	last := events[len(events)-1]
	if last.Type != EventRunAborted {
		t.Errorf("final event = %s, want run.aborted", last.Type)
	}
}

func TestUpAbortCancelsStageSiblings(t *testing.T) {
	rec := &recorder{}
	stack := testStack(map[string][]string{
		"bad":  nil,
		"slow": nil,
	})
	zero := 0
	bad := stack.Services["bad"]
	bad.Restart.MaxRetries = &zero
	stack.Services["bad"] = bad

	units := map[string]unit.Unit{
		"bad":  &fakeUnit{name: "bad", rec: rec, startErrs: []error{errors.New("boom")}},
		"slow": &fakeUnit{name: "slow", rec: rec, blockStart: true},
	}
	ctrl, _, state, _ := newTestController(t, stack, units)

	done := make(chan error, 1)
	go func() { done <- ctrl.Up(context.Background()) }()

	select {
	case err := <-done:
		var abort *AbortError
		if !errors.As(err, &abort) {
			t.Fatalf("Up = %v, want AbortError", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Up did not return after sibling abort")
	}

	for _, svc := range state.Snapshot() {
		if svc.Name == "slow" && svc.Phase == spec.PhaseReady {
			t.Error("cancelled sibling reached ready")
		}
	}
}

func TestUpIdempotent(t *testing.T) {
	rec := &recorder{}
	stack := testStack(map[string][]string{"db": nil, "api": {"db"}})
	units := map[string]unit.Unit{
		"db":  &fakeUnit{name: "db", rec: rec},
		"api": &fakeUnit{name: "api", rec: rec},
	}
	ctrl, _, _, _ := newTestController(t, stack, units)

	if err := ctrl.Up(context.Background()); err != nil {
		t.Fatalf("first Up: %v", err)
	}
	if err := ctrl.Up(context.Background()); err != nil {
		t.Fatalf("second Up: %v", err)
	}

	for _, name := range []string{"db", "api"} {
		if got := rec.startCount(name); got != 1 {
			t.Errorf("%s start invocations = %d, want 1 across both runs", name, got)
		}
	}
}

func TestUpCancellationIsNotAbort(t *testing.T) {
	rec := &recorder{}
	stack := testStack(map[string][]string{"slow": nil})
	units := map[string]unit.Unit{
		"slow": &fakeUnit{name: "slow", rec: rec, blockStart: true},
	}
	ctrl, log, _, _ := newTestController(t, stack, units)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ctrl.Up(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	err := <-done
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Up = %v, want context.Canceled", err)
	}
	var abort *AbortError
	if errors.As(err, &abort) {
		t.Error("cancellation reported as abort")
	}

	events := log.Events()
	last := events[len(events)-1]
	if last.Type != EventRunCancelled {
		t.Errorf("final event = %s, want run.cancelled", last.Type)
	}
}

func TestDownStopsInReverseStageOrder(t *testing.T) {
	rec := &recorder{}
	stack := testStack(map[string][]string{
		"db":      nil,
		"auth":    {"db"},
		"gateway": {"auth"},
	})
	units := map[string]unit.Unit{
		"db":      &fakeUnit{name: "db", rec: rec},
		"auth":    &fakeUnit{name: "auth", rec: rec},
		"gateway": &fakeUnit{name: "gateway", rec: rec},
	}
	ctrl, log, state, _ := newTestController(t, stack, units)

	if err := ctrl.Up(context.Background()); err != nil {
		t.Fatalf("Up: %v", err)
	}
	if err := ctrl.Down(context.Background()); err != nil {
		t.Fatalf("Down: %v", err)
	}

	rec.mu.Lock()
	stops := append([]string(nil), rec.stops...)
	rec.mu.Unlock()
	if !(indexOf(stops, "gateway") < indexOf(stops, "auth") &&
		indexOf(stops, "auth") < indexOf(stops, "db")) {
		t.Errorf("stop order %v is not reverse dependency order", stops)
	}

	for _, svc := range state.Snapshot() {
		if svc.Phase != spec.PhaseStopped {
			t.Errorf("service %s phase = %s, want stopped", svc.Name, svc.Phase)
		}
	}

	events := log.Events()
	last := events[len(events)-1]
	if last.Type != EventRunDown {
		t.Errorf("final event = %s, want run.down", last.Type)
	}
}

func TestDownSkipsServicesThatNeverStarted(t *testing.T) {
	rec := &recorder{}
	stack := testStack(map[string][]string{
		"db":  nil,
		"api": {"db"},
	})
	zero := 0
	db := stack.Services["db"]
	db.Restart.MaxRetries = &zero
	stack.Services["db"] = db

	units := map[string]unit.Unit{
		"db":  &fakeUnit{name: "db", rec: rec, startErrs: []error{errors.New("boom")}},
		"api": &fakeUnit{name: "api", rec: rec},
	}
	ctrl, _, _, _ := newTestController(t, stack, units)

	if err := ctrl.Up(context.Background()); err == nil {
		t.Fatal("Up succeeded, want abort")
	}
	if err := ctrl.Down(context.Background()); err != nil {
		t.Fatalf("Down: %v", err)
	}

	// db reached aborted after a start attempt, so it is stopped for
	// cleanup; api never started and is skipped.
	if !rec.stopped("db") {
		t.Error("aborted service was not cleaned up")
	}
	if rec.stopped("api") {
		t.Error("pending service was stopped")
	}
}

func TestDownStopFailureDoesNotBlockTeardown(t *testing.T) {
	rec := &recorder{}
	stack := testStack(map[string][]string{
		"db":  nil,
		"api": {"db"},
	})
	units := map[string]unit.Unit{
		"db":  &fakeUnit{name: "db", rec: rec},
		"api": &fakeUnit{name: "api", rec: rec, stopErr: errors.New("stuck")},
	}
	ctrl, log, state, _ := newTestController(t, stack, units)

	if err := ctrl.Up(context.Background()); err != nil {
		t.Fatalf("Up: %v", err)
	}
	if err := ctrl.Down(context.Background()); err != nil {
		t.Fatalf("Down: %v", err)
	}

	if !rec.stopped("db") {
		t.Error("db was not stopped after api's stop failure")
	}

	var sawStopFailed bool
	for _, e := range log.Events() {
		if e.Type == EventServiceStopFailed && e.Service == "api" {
			sawStopFailed = true
		}
	}
	if !sawStopFailed {
		t.Error("missing service.stop_failed event")
	}

	for _, svc := range state.Snapshot() {
		if svc.Name == "api" && svc.Phase != spec.PhaseFailed {
			t.Errorf("api phase = %s, want failed after stop failure", svc.Phase)
		}
	}
}

func TestDownIdempotent(t *testing.T) {
	rec := &recorder{}
	stack := testStack(map[string][]string{"db": nil})
	units := map[string]unit.Unit{"db": &fakeUnit{name: "db", rec: rec}}
	ctrl, _, _, _ := newTestController(t, stack, units)

	if err := ctrl.Up(context.Background()); err != nil {
		t.Fatalf("Up: %v", err)
	}
	if err := ctrl.Down(context.Background()); err != nil {
		t.Fatalf("first Down: %v", err)
	}
	if err := ctrl.Down(context.Background()); err != nil {
		t.Fatalf("second Down: %v", err)
	}

	rec.mu.Lock()
	stops := len(rec.stops)
	rec.mu.Unlock()
	if stops != 1 {
		t.Errorf("stop invocations = %d, want 1", stops)
	}
}

func TestUpWaitsForHealthy(t *testing.T) {
	rec := &recorder{}
	stack := testStack(map[string][]string{"db": nil})
	units := map[string]unit.Unit{"db": &fakeUnit{name: "db", rec: rec}}
	ctrl, log, _, _ := newTestController(t, stack, units)

	calls := 0
	ctrl.checks["db"] = healthBinding{
		checker: checkerFunc(func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("warming up")
			}
			return nil
		}),
		policy: fastProbePolicy(),
	}

	if err := ctrl.Up(context.Background()); err != nil {
		t.Fatalf("Up: %v", err)
	}
	if calls != 3 {
		t.Errorf("probe calls = %d, want 3", calls)
	}

	var sawChecking bool
	for _, e := range log.Events() {
		if e.Type == EventServiceChecking {
			sawChecking = true
		}
	}
	if !sawChecking {
		t.Error("missing service.checking event")
	}
}

func TestUpHealthDeadlineCountsAsFailure(t *testing.T) {
	rec := &recorder{}
	stack := testStack(map[string][]string{"db": nil})
	zero := 0
	db := stack.Services["db"]
	db.Restart.MaxRetries = &zero
	stack.Services["db"] = db

	units := map[string]unit.Unit{"db": &fakeUnit{name: "db", rec: rec}}
	ctrl, _, state, _ := newTestController(t, stack, units)

	policy := fastProbePolicy()
	policy.Deadline = 20 * time.Millisecond
	ctrl.checks["db"] = healthBinding{
		checker: checkerFunc(func(ctx context.Context) error {
			return errors.New("never healthy")
		}),
		policy: policy,
	}

	err := ctrl.Up(context.Background())
	var abort *AbortError
	if !errors.As(err, &abort) {
		t.Fatalf("Up = %v, want AbortError", err)
	}
	if got := state.Snapshot()[0].Phase; got != spec.PhaseAborted {
		t.Errorf("phase = %s, want aborted", got)
	}
	if state.Snapshot()[0].LastError == "" {
		t.Error("missing recorded health failure")
	}
}

func TestBackoffDelayGrowsAndCaps(t *testing.T) {
	policy := spec.RestartPolicy{
		Backoff:    spec.Duration{Duration: 500 * time.Millisecond},
		Multiplier: 2,
		Cap:        spec.Duration{Duration: 2 * time.Second},
	}

	var prev time.Duration
	for attempt := 0; attempt < 6; attempt++ {
		d := backoffDelay(policy, attempt)
		if d < prev {
			t.Errorf("delay decreased: attempt %d = %v after %v", attempt, d, prev)
		}
		if d > 2*time.Second {
			t.Errorf("delay %v exceeds cap", d)
		}
		prev = d
	}

	if got := backoffDelay(policy, 0); got != 500*time.Millisecond {
		t.Errorf("first delay = %v, want 500ms", got)
	}
	if got := backoffDelay(policy, 1); got != time.Second {
		t.Errorf("second delay = %v, want 1s", got)
	}
	if got := backoffDelay(policy, 5); got != 2*time.Second {
		t.Errorf("capped delay = %v, want 2s", got)
	}
}

// checkerFunc adapts a function to the probe.Checker interface.
type checkerFunc func(ctx context.Context) error

func (f checkerFunc) Check(ctx context.Context) error { return f(ctx) }
