package server

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/CO3302Group3/convoy/internal/graph"
	"github.com/CO3302Group3/convoy/internal/spec"
	"github.com/CO3302Group3/convoy/internal/unit"
)

// Outcome is the terminal (or current) disposition of a stack run.
type Outcome string

const (
	OutcomeRunning   Outcome = "running"
	OutcomeUp        Outcome = "up"
	OutcomeAborted   Outcome = "aborted"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeDown      Outcome = "down"
)

// DefaultDownTimeout bounds a teardown when the client does not pass one.
const DefaultDownTimeout = 60 * time.Second

// Server is the convoyd HTTP API server. It manages the lifecycle of one or
// more stacks, each with its own event log, state table and controller.
type Server struct {
	mux      *http.ServeMux
	resolver unit.Resolver
	logger   zerolog.Logger

	mu     sync.Mutex
	stacks map[string]*stackInstance

	idle *IdleTimer
}

// stackInstance holds the runtime state of a single stack.
type stackInstance struct {
	id      string
	stack   *spec.Stack
	plan    graph.Plan
	log     *EventLog
	state   *StateTable
	ctrl    *Controller
	created time.Time

	cancel context.CancelFunc
	done   <-chan error // receives Up's terminal error (buffered 1)

	waitOnce sync.Once
	runErr   error

	mu      sync.Mutex
	outcome Outcome
}

func (inst *stackInstance) setOutcome(o Outcome) {
	inst.mu.Lock()
	inst.outcome = o
	inst.mu.Unlock()
}

func (inst *stackInstance) Outcome() Outcome {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.outcome
}

// waitRun blocks until the bring-up goroutine has exited. Safe to call from
// multiple handlers.
func (inst *stackInstance) waitRun() error {
	inst.waitOnce.Do(func() {
		inst.runErr = <-inst.done
	})
	return inst.runErr
}

func (inst *stackInstance) settle(idle *IdleTimer) {
	idle.StackSettled(inst.id)
}

// NewServer creates a Server and registers all HTTP routes.
// Pass idleTimeout = 0 to disable automatic shutdown.
func NewServer(resolver unit.Resolver, idleTimeout time.Duration, logger zerolog.Logger) *Server {
	s := &Server{
		mux:      http.NewServeMux(),
		resolver: resolver,
		logger:   logger,
		stacks:   make(map[string]*stackInstance),
		idle:     NewIdleTimer(idleTimeout),
	}

	s.mux.HandleFunc("POST /stacks", s.handleCreateStack)
	s.mux.HandleFunc("GET /stacks", s.handleListStacks)
	s.mux.HandleFunc("GET /stacks/{id}", s.handleGetStack)
	s.mux.HandleFunc("POST /stacks/{id}/down", s.handleDownStack)
	s.mux.HandleFunc("GET /stacks/{id}/events", s.handleSSE)
	s.mux.HandleFunc("GET /stacks/{id}/services/{service}/logs", s.handleServiceLogs)

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ShutdownCh returns a channel that is closed when the idle timer fires.
func (s *Server) ShutdownCh() <-chan struct{} {
	return s.idle.ShutdownCh()
}

// handleCreateStack handles POST /stacks.
//
// Validates the stack, computes the stage plan, and starts the bring-up in
// the background. Returns the instance ID and plan immediately; progress is
// streamed via GET /stacks/{id}/events.
//
// Posting a stack whose name is already running (or up) is a no-op: the
// existing instance is returned and no service is started again.
func (s *Server) handleCreateStack(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}

	var stack spec.Stack
	if err := json.Unmarshal(body, &stack); err != nil {
		writeError(w, http.StatusBadRequest, "decode: "+err.Error())
		return
	}

	if errs := spec.Validate(&stack); len(errs) > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":             "stack validation failed",
			"validation_errors": errs,
		})
		return
	}

	plan, err := planStack(&stack)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":             "stack validation failed",
			"validation_errors": []string{err.Error()},
		})
		return
	}

	stackLog := NewEventLog()
	state := NewStateTable(plan)
	ctrl, err := NewController(&stack, plan, stackLog, state, s.resolver)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "resolve units: "+err.Error())
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	inst := &stackInstance{
		id:      generateID(),
		stack:   &stack,
		plan:    plan,
		log:     stackLog,
		state:   state,
		ctrl:    ctrl,
		created: time.Now(),
		cancel:  cancel,
		done:    done,
		outcome: OutcomeRunning,
	}

	// Check-and-insert under one lock acquisition so two concurrent posts
	// of the same name cannot both start the stack.
	s.mu.Lock()
	if existing := s.findByNameLocked(stack.Name); existing != nil {
		switch existing.Outcome() {
		case OutcomeRunning, OutcomeUp:
			s.mu.Unlock()
			cancel()
			writeJSON(w, http.StatusOK, createResponse(existing))
			return
		default:
			// Terminal instance; replace it with a fresh run.
			delete(s.stacks, existing.id)
			existing.settle(s.idle)
		}
	}
	s.stacks[inst.id] = inst
	s.mu.Unlock()

	s.idle.StackCreated(inst.id)
	s.logger.Info().Str("stack", stack.Name).Str("id", inst.id).
		Int("stages", len(plan.Stages)).Msg("stack accepted")

	go func() {
		err := ctrl.Up(ctx)
		switch {
		case err == nil:
			inst.setOutcome(OutcomeUp)
		case isAbort(err):
			inst.setOutcome(OutcomeAborted)
		default:
			inst.setOutcome(OutcomeCancelled)
		}
		done <- err
	}()

	writeJSON(w, http.StatusCreated, createResponse(inst))
}

// handleDownStack handles POST /stacks/{id}/down.
//
// Cancels any in-flight bring-up, waits for it to exit, then tears the stack
// down in reverse stage order. Blocks until teardown completes or the
// timeout (?timeout= query, default 60s) expires. Down is idempotent.
func (s *Server) handleDownStack(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.getInstance(w, r)
	if !ok {
		return
	}

	timeout := DefaultDownTimeout
	if v := r.URL.Query().Get("timeout"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid timeout: "+err.Error())
			return
		}
		timeout = d
	}

	inst.cancel()
	inst.waitRun()

	downCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := inst.ctrl.Down(downCtx); err != nil {
		s.logger.Warn().Str("stack", inst.stack.Name).Err(err).Msg("teardown incomplete")
		writeError(w, http.StatusGatewayTimeout, "teardown timed out: "+err.Error())
		return
	}

	inst.setOutcome(OutcomeDown)
	inst.settle(s.idle)
	s.logger.Info().Str("stack", inst.stack.Name).Str("id", inst.id).Msg("stack down")

	writeJSON(w, http.StatusOK, map[string]string{"id": inst.id, "status": string(OutcomeDown)})
}

// handleGetStack handles GET /stacks/{id}. The {id} path value may be either
// the instance ID or the stack name.
func (s *Server) handleGetStack(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.getInstance(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, buildStatus(inst))
}

// handleListStacks handles GET /stacks.
func (s *Server) handleListStacks(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	out := make([]StackStatus, 0, len(s.stacks))
	for _, inst := range s.stacks {
		out = append(out, buildStatus(inst))
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	writeJSON(w, http.StatusOK, out)
}

// handleServiceLogs handles GET /stacks/{id}/services/{service}/logs.
//
// Replays the captured output of a single service as plain text. With
// ?follow=true the response streams until the client disconnects.
func (s *Server) handleServiceLogs(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.getInstance(w, r)
	if !ok {
		return
	}

	name := r.PathValue("service")
	if _, ok := inst.stack.Services[name]; !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown service %q", name))
		return
	}

	follow := r.URL.Query().Get("follow") == "true"

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	// Container units stream straight from the engine; command units replay
	// output captured in the event log.
	if ls, ok := inst.ctrl.LogStreamer(name); ok {
		if err := ls.Logs(r.Context(), w, follow); err != nil && r.Context().Err() == nil {
			s.logger.Debug().Str("service", name).Err(err).Msg("log stream ended")
		}
		return
	}

	filter := func(e Event) bool {
		return e.Type == EventServiceLog && e.Service == name
	}

	if !follow {
		for _, e := range inst.log.Events() {
			if filter(e) {
				io.WriteString(w, e.Log.Data)
			}
		}
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for e := range inst.log.Subscribe(r.Context(), 0, filter) {
		if _, err := io.WriteString(w, e.Log.Data); err != nil {
			return // client disconnected
		}
		flusher.Flush()
	}
}

// getInstance looks up a stack by the {id} path value (instance ID or stack
// name), writing a 404 and returning false if not found.
func (s *Server) getInstance(w http.ResponseWriter, r *http.Request) (*stackInstance, bool) {
	key := r.PathValue("id")
	s.mu.Lock()
	inst, ok := s.stacks[key]
	if !ok {
		if byName := s.findByNameLocked(key); byName != nil {
			inst, ok = byName, true
		}
	}
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "stack not found")
		return nil, false
	}
	return inst, true
}

// findByNameLocked returns the instance for a stack name. Caller holds s.mu.
func (s *Server) findByNameLocked(name string) *stackInstance {
	for _, inst := range s.stacks {
		if inst.stack.Name == name {
			return inst
		}
	}
	return nil
}

// StackStatus is a point-in-time snapshot of a stack: its plan, outcome and
// per-service states.
type StackStatus struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Outcome  Outcome        `json:"outcome"`
	Created  time.Time      `json:"created"`
	Stages   [][]string     `json:"stages"`
	Services []ServiceState `json:"services"`
}

func buildStatus(inst *stackInstance) StackStatus {
	return StackStatus{
		ID:       inst.id,
		Name:     inst.stack.Name,
		Outcome:  inst.Outcome(),
		Created:  inst.created,
		Stages:   inst.plan.Stages,
		Services: inst.state.Snapshot(),
	}
}

func createResponse(inst *stackInstance) map[string]any {
	return map[string]any{
		"id":     inst.id,
		"name":   inst.stack.Name,
		"stages": inst.plan.Stages,
	}
}

// planStack builds the dependency graph and computes the stage plan.
func planStack(stack *spec.Stack) (graph.Plan, error) {
	g := graph.New()
	for _, name := range sortedServiceNames(stack.Services) {
		if err := g.Add(name, stack.Services[name].DependsOn); err != nil {
			return graph.Plan{}, err
		}
	}
	return g.ComputePlan()
}

func sortedServiceNames(services map[string]spec.Service) []string {
	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func isAbort(err error) bool {
	var abort *AbortError
	return errors.As(err, &abort)
}

func generateID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return fmt.Sprintf("%x", b)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
