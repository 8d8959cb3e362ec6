package spec

import (
	"fmt"
	"sort"

	"github.com/CO3302Group3/convoy/internal/graph"
)

// Validate checks a stack for structural errors. It calls ResolveDefaults
// first to fill in default values, then validates. Returns all errors found
// (not just the first) so the user can fix them in one pass.
func Validate(stack *Stack) []string {
	ResolveDefaults(stack)

	var errs []string

	if stack.Name == "" {
		errs = append(errs, "stack name is required")
	}
	if len(stack.Services) == 0 {
		errs = append(errs, "stack must have at least one service")
	}

	for _, id := range sortedIDs(stack.Services) {
		errs = append(errs, validateService(id, stack.Services[id], stack.Services)...)
	}

	g := graph.New()
	for _, id := range sortedIDs(stack.Services) {
		if err := g.Add(id, stack.Services[id].DependsOn); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if err := g.Validate(); err != nil {
		if _, ok := err.(*graph.UnknownDependencyError); !ok {
			// Unknown refs are already reported per service with a
			// suggestion; only surface cycle errors here.
			errs = append(errs, err.Error())
		}
	}

	return errs
}

func validateService(id string, svc Service, all map[string]Service) []string {
	var errs []string

	hasCommands := len(svc.Start) > 0
	switch {
	case svc.Container != nil && hasCommands:
		errs = append(errs, fmt.Sprintf("service %q: container and start command are mutually exclusive", id))
	case svc.Container != nil && svc.Container.Image == "":
		errs = append(errs, fmt.Sprintf("service %q: container config missing required \"image\" field", id))
	case svc.Container == nil && !hasCommands:
		errs = append(errs, fmt.Sprintf("service %q: either a start command or a container is required", id))
	}
	if svc.Container == nil && hasCommands && len(svc.Stop) == 0 {
		errs = append(errs, fmt.Sprintf("service %q: stop command is required alongside start", id))
	}

	for _, dep := range svc.DependsOn {
		if dep == id {
			errs = append(errs, fmt.Sprintf("service %q: cannot depend on itself", id))
			continue
		}
		if _, ok := all[dep]; !ok {
			msg := fmt.Sprintf("service %q: depends on unknown service %q", id, dep)
			if suggestion := closestMatch(dep, all); suggestion != "" {
				msg += fmt.Sprintf(" (did you mean %q?)", suggestion)
			}
			errs = append(errs, msg)
		}
	}

	if h := svc.Health; h != nil {
		switch h.Type {
		case ProbeHTTP, ProbeTCP, ProbeGRPC:
			if h.Target == "" {
				errs = append(errs, fmt.Sprintf("service %q: %s health check requires a target", id, h.Type))
			}
		case ProbeCommand:
			if len(h.Command) == 0 {
				errs = append(errs, fmt.Sprintf("service %q: command health check requires a command", id))
			}
		default:
			errs = append(errs, fmt.Sprintf(
				"service %q: unknown health check type %q (must be one of: http, tcp, grpc, command)", id, h.Type))
		}
		if h.SuccessThreshold < 1 {
			errs = append(errs, fmt.Sprintf("service %q: health success_threshold must be at least 1", id))
		}
		if h.Interval.Duration <= 0 {
			errs = append(errs, fmt.Sprintf("service %q: health interval must be positive", id))
		}
	}

	r := svc.Restart
	if r.MaxRetries != nil && *r.MaxRetries < 0 {
		errs = append(errs, fmt.Sprintf("service %q: restart max_retries cannot be negative", id))
	}
	if r.Multiplier < 1 {
		errs = append(errs, fmt.Sprintf("service %q: restart multiplier must be at least 1", id))
	}

	return errs
}

func sortedIDs(services map[string]Service) []string {
	ids := make([]string, 0, len(services))
	for id := range services {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// closestMatch returns the service id closest to target using simple edit
// distance, or "" if no id is close enough.
func closestMatch(target string, services map[string]Service) string {
	best := ""
	bestDist := len(target)/2 + 1 // threshold: must be within half the length

	for id := range services {
		d := editDistance(target, id)
		if d < bestDist {
			bestDist = d
			best = id
		}
	}
	return best
}

func editDistance(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}

	return prev[len(b)]
}
