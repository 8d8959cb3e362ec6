package spec

import "time"

// Default values filled in by ResolveDefaults. The probe and retry constants
// can all be overridden per service.
const (
	DefaultStartTimeout = 60 * time.Second
	DefaultStopTimeout  = 30 * time.Second

	DefaultProbeInterval    = 500 * time.Millisecond
	DefaultProbeTimeout     = 2 * time.Second
	DefaultProbeDeadline    = 30 * time.Second
	DefaultSuccessThreshold = 1

	DefaultMaxRetries        = 2
	DefaultBackoff           = 500 * time.Millisecond
	DefaultBackoffMultiplier = 2.0
	DefaultBackoffCap        = 10 * time.Second
)

// ResolveDefaults fills in default values on the stack in place.
// Called automatically by Validate.
func ResolveDefaults(stack *Stack) {
	for id, svc := range stack.Services {
		if svc.StartTimeout.Duration == 0 {
			svc.StartTimeout.Duration = DefaultStartTimeout
		}
		if svc.StopTimeout.Duration == 0 {
			svc.StopTimeout.Duration = DefaultStopTimeout
		}

		if h := svc.Health; h != nil {
			if h.Interval.Duration == 0 {
				h.Interval.Duration = DefaultProbeInterval
			}
			if h.ProbeTimeout.Duration == 0 {
				h.ProbeTimeout.Duration = DefaultProbeTimeout
			}
			if h.Deadline.Duration == 0 {
				h.Deadline.Duration = DefaultProbeDeadline
			}
			if h.SuccessThreshold == 0 {
				h.SuccessThreshold = DefaultSuccessThreshold
			}
		}

		if svc.Restart.MaxRetries == nil {
			n := DefaultMaxRetries
			svc.Restart.MaxRetries = &n
		}
		if svc.Restart.Backoff.Duration == 0 {
			svc.Restart.Backoff.Duration = DefaultBackoff
		}
		if svc.Restart.Multiplier == 0 {
			svc.Restart.Multiplier = DefaultBackoffMultiplier
		}
		if svc.Restart.Cap.Duration == 0 {
			svc.Restart.Cap.Duration = DefaultBackoffCap
		}

		if c := svc.Container; c != nil {
			for i := range c.Ports {
				if c.Ports[i].Protocol == "" {
					c.Ports[i].Protocol = "tcp"
				}
			}
		}

		stack.Services[id] = svc
	}
}
