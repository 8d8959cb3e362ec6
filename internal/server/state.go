package server

import (
	"sync"
	"time"

	"github.com/CO3302Group3/convoy/internal/graph"
	"github.com/CO3302Group3/convoy/internal/spec"
)

// ServiceState is a point-in-time view of a single service's lifecycle.
type ServiceState struct {
	Name           string     `json:"name"`
	Stage          int        `json:"stage"`
	Phase          spec.Phase `json:"phase"`
	Attempts       int        `json:"attempts"`
	LastError      string     `json:"last_error,omitempty"`
	LastTransition time.Time  `json:"last_transition"`
}

// StateTable tracks the lifecycle phase of every service in a stack.
// All reads and writes go through a single mutex so a snapshot is always
// internally consistent, even mid-run.
type StateTable struct {
	mu     sync.Mutex
	states map[string]*ServiceState
	order  []string // stage order, then lexical within a stage
	now    func() time.Time
}

// NewStateTable initialises a table with every service in the plan set
// to Pending.
func NewStateTable(plan graph.Plan) *StateTable {
	t := &StateTable{
		states: make(map[string]*ServiceState),
		now:    time.Now,
	}
	for i, stage := range plan.Stages {
		for _, name := range stage {
			t.states[name] = &ServiceState{
				Name:           name,
				Stage:          i,
				Phase:          spec.PhasePending,
				LastTransition: t.now(),
			}
			t.order = append(t.order, name)
		}
	}
	return t
}

// Phase returns the current phase of the named service.
func (t *StateTable) Phase(name string) spec.Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.states[name]; ok {
		return s.Phase
	}
	return ""
}

// Transition moves the named service to the given phase. Entering Starting
// counts as a new attempt.
func (t *StateTable) Transition(name string, phase spec.Phase) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.states[name]
	if !ok {
		return
	}
	if phase == spec.PhaseStarting {
		s.Attempts++
	}
	s.Phase = phase
	s.LastTransition = t.now()
}

// Fail moves the named service to Failed and records the error.
func (t *StateTable) Fail(name string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.states[name]
	if !ok {
		return
	}
	s.Phase = spec.PhaseFailed
	s.LastError = err.Error()
	s.LastTransition = t.now()
}

// Snapshot returns a copy of all service states, ordered by stage and
// then lexically within a stage.
func (t *StateTable) Snapshot() []ServiceState {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ServiceState, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, *t.states[name])
	}
	return out
}
