package spec

// Phase tracks a service through its lifecycle state machine:
//
//	Pending → Starting → Checking → Ready
//	Starting/Checking → Failed → Retrying → Starting (bounded)
//	Failed → Aborted (retries exhausted)
//	Ready → Stopping → Stopped (teardown)
type Phase string

const (
	PhasePending  Phase = "pending"
	PhaseStarting Phase = "starting"
	PhaseChecking Phase = "checking"
	PhaseReady    Phase = "ready"
	PhaseRetrying Phase = "retrying"
	PhaseFailed   Phase = "failed"
	PhaseAborted  Phase = "aborted"
	PhaseStopping Phase = "stopping"
	PhaseStopped  Phase = "stopped"
)

// Terminal reports whether p is a terminal bring-up phase: the control loop
// takes no further action on a Ready or Aborted service.
func (p Phase) Terminal() bool {
	return p == PhaseReady || p == PhaseAborted
}
