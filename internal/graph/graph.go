// Package graph models the service dependency graph and computes the
// stage-ordered orchestration plan.
package graph

import (
	"fmt"
	"sort"
	"strings"
)

// DuplicateIDError is returned by Add when a service id is already present.
type DuplicateIDError struct {
	ID string
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("duplicate service id %q", e.ID)
}

// UnknownDependencyError is returned by Validate when a dependency edge
// references a service id that was never added.
type UnknownDependencyError struct {
	ID         string // the service declaring the dependency
	Dependency string // the missing target
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("service %q depends on unknown service %q", e.ID, e.Dependency)
}

// CyclicDependencyError is returned by Validate when the dependency relation
// contains a cycle. Cycle holds the ids along the cycle in forward order,
// starting and ending at the same id.
type CyclicDependencyError struct {
	Cycle []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic dependency: %s", strings.Join(e.Cycle, " → "))
}

// Graph holds services and their dependency edges. An edge A→B means
// "A depends on B": B must be Ready before A starts.
type Graph struct {
	deps map[string][]string
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{deps: make(map[string][]string)}
}

// Add registers a service and its dependencies.
func (g *Graph) Add(id string, deps []string) error {
	if _, ok := g.deps[id]; ok {
		return &DuplicateIDError{ID: id}
	}
	g.deps[id] = append([]string(nil), deps...)
	return nil
}

// IDs returns all service ids in lexical order.
func (g *Graph) IDs() []string {
	ids := make([]string, 0, len(g.deps))
	for id := range g.deps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Dependencies returns the declared dependencies of id.
func (g *Graph) Dependencies(id string) []string {
	return g.deps[id]
}

// Validate checks that every dependency references a known service and that
// the dependency relation is acyclic, using depth-first traversal with
// three-color marking. The first error found is returned; cycle errors name
// the full cycle path.
func (g *Graph) Validate() error {
	ids := g.IDs()

	for _, id := range ids {
		for _, dep := range g.deps[id] {
			if _, ok := g.deps[dep]; !ok {
				return &UnknownDependencyError{ID: id, Dependency: dep}
			}
		}
	}

	const (
		unvisited = 0
		visiting  = 1
		visited   = 2
	)

	state := make(map[string]int, len(g.deps))
	parent := make(map[string]string, len(g.deps))

	var dfs func(id string) *CyclicDependencyError
	dfs = func(id string) *CyclicDependencyError {
		state[id] = visiting

		// Sorted edge order keeps the reported cycle deterministic.
		deps := append([]string(nil), g.deps[id]...)
		sort.Strings(deps)

		for _, dep := range deps {
			switch state[dep] {
			case visiting:
				// Found a cycle. Walk parents back to the entry point.
				path := []string{dep, id}
				for cur := id; cur != dep; {
					cur = parent[cur]
					path = append(path, cur)
				}
				for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
					path[i], path[j] = path[j], path[i]
				}
				return &CyclicDependencyError{Cycle: path}
			case unvisited:
				parent[dep] = id
				if err := dfs(dep); err != nil {
					return err
				}
			}
		}

		state[id] = visited
		return nil
	}

	for _, id := range ids {
		if state[id] == unvisited {
			if err := dfs(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// Plan is an ordered sequence of stages. Every dependency of a service in
// stage N appears in a stage strictly before N. Within a stage, ids are in
// lexical order. The plan is immutable after computation.
type Plan struct {
	Stages [][]string `json:"stages"`
}

// StageOf returns the stage index of id, or -1 if id is not in the plan.
func (p Plan) StageOf(id string) int {
	for i, stage := range p.Stages {
		for _, s := range stage {
			if s == id {
				return i
			}
		}
	}
	return -1
}

// Services returns all ids in plan order.
func (p Plan) Services() []string {
	var out []string
	for _, stage := range p.Stages {
		out = append(out, stage...)
	}
	return out
}

// ComputePlan produces the minimal-stage plan using Kahn's algorithm:
// each round extracts every service whose dependencies are all in earlier
// stages. Callers must run Validate first; an unvalidated cyclic graph
// makes ComputePlan return a CyclicDependencyError for the stuck remainder.
func (g *Graph) ComputePlan() (Plan, error) {
	placed := make(map[string]bool, len(g.deps))
	remaining := g.IDs()

	var plan Plan
	for len(remaining) > 0 {
		var stage, next []string
		for _, id := range remaining {
			satisfied := true
			for _, dep := range g.deps[id] {
				if !placed[dep] {
					satisfied = false
					break
				}
			}
			if satisfied {
				stage = append(stage, id)
			} else {
				next = append(next, id)
			}
		}

		if len(stage) == 0 {
			// No progress: the remainder is cyclic (or depends on a cycle).
			if err := g.Validate(); err != nil {
				if cyc, ok := err.(*CyclicDependencyError); ok {
					return Plan{}, cyc
				}
				return Plan{}, err
			}
			return Plan{}, &CyclicDependencyError{Cycle: next}
		}

		sort.Strings(stage) // remaining is sorted, but keep the invariant explicit
		plan.Stages = append(plan.Stages, stage)
		for _, id := range stage {
			placed[id] = true
		}
		remaining = next
	}

	return plan, nil
}
