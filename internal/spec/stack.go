package spec

// Stack is the top-level definition of a deployment: a named collection of
// services with declared dependencies. This is both the native config file
// format (YAML) and the JSON wire format sent from the CLI to convoyd.
type Stack struct {
	// Name identifies the stack (e.g. "smart-parking").
	Name string `yaml:"name" json:"name"`

	// Services maps service ids to their specs.
	Services map[string]Service `yaml:"services" json:"services"`
}

// Service defines a single supervised service.
type Service struct {
	// DependsOn lists the ids of services that must be Ready before this
	// service is started.
	DependsOn []string `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`

	// Start is the argv of the command that brings the service up
	// (e.g. ["docker", "compose", "up", "-d", "db"]). Ignored when
	// Container is set.
	Start []string `yaml:"start,omitempty" json:"start,omitempty"`

	// Stop is the argv of the command that brings the service down.
	// Ignored when Container is set.
	Stop []string `yaml:"stop,omitempty" json:"stop,omitempty"`

	// Dir is the working directory for the start/stop commands. Optional.
	Dir string `yaml:"dir,omitempty" json:"dir,omitempty"`

	// Env sets additional environment variables for the start/stop
	// commands, merged over the daemon's environment.
	Env map[string]string `yaml:"env,omitempty" json:"env,omitempty"`

	// Container, if set, makes convoy manage the service directly through
	// the Docker Engine API instead of start/stop commands.
	Container *ContainerSpec `yaml:"container,omitempty" json:"container,omitempty"`

	// Health is the readiness probe. If nil the service is considered
	// ready as soon as its start step succeeds.
	Health *HealthSpec `yaml:"health,omitempty" json:"health,omitempty"`

	// Restart bounds the retry loop for failed starts and health checks.
	Restart RestartPolicy `yaml:"restart,omitempty" json:"restart,omitempty"`

	// StartTimeout bounds a single start invocation. Default 60s.
	StartTimeout Duration `yaml:"start_timeout,omitempty" json:"start_timeout,omitempty"`

	// StopTimeout bounds a single stop invocation. Default 30s.
	StopTimeout Duration `yaml:"stop_timeout,omitempty" json:"stop_timeout,omitempty"`
}

// ContainerSpec configures a service managed directly as a Docker container.
type ContainerSpec struct {
	// Image is the image reference (e.g. "postgres:16").
	Image string `yaml:"image" json:"image"`

	// Cmd overrides the container's default command.
	Cmd []string `yaml:"cmd,omitempty" json:"cmd,omitempty"`

	// Env sets environment variables on the container.
	Env map[string]string `yaml:"env,omitempty" json:"env,omitempty"`

	// Ports maps host ports to container ports.
	Ports []PortBinding `yaml:"ports,omitempty" json:"ports,omitempty"`
}

// PortBinding maps a host port to a container port.
type PortBinding struct {
	Host      int    `yaml:"host" json:"host"`
	Container int    `yaml:"container" json:"container"`
	Protocol  string `yaml:"protocol,omitempty" json:"protocol,omitempty"` // default "tcp"
}

// Probe types accepted in HealthSpec.Type.
const (
	ProbeHTTP    = "http"
	ProbeTCP     = "tcp"
	ProbeGRPC    = "grpc"
	ProbeCommand = "command"
)

// HealthSpec configures the readiness probe for a service.
type HealthSpec struct {
	// Type selects the probe: "http", "tcp", "grpc" or "command".
	Type string `yaml:"type" json:"type"`

	// Target is the probe target: a URL for http, host:port for tcp and
	// grpc. Unused for command probes.
	Target string `yaml:"target,omitempty" json:"target,omitempty"`

	// Command is the argv for command probes. Exit code 0 means healthy.
	Command []string `yaml:"command,omitempty" json:"command,omitempty"`

	// Interval is the poll interval. Default 500ms.
	Interval Duration `yaml:"interval,omitempty" json:"interval,omitempty"`

	// ProbeTimeout bounds a single probe attempt, so one hung probe cannot
	// stall the loop past the deadline. Default 2s.
	ProbeTimeout Duration `yaml:"probe_timeout,omitempty" json:"probe_timeout,omitempty"`

	// Deadline is the maximum total wait for readiness. Default 30s.
	Deadline Duration `yaml:"deadline,omitempty" json:"deadline,omitempty"`

	// SuccessThreshold is the number of consecutive successful probes
	// required before the service is Ready. Default 1.
	SuccessThreshold int `yaml:"success_threshold,omitempty" json:"success_threshold,omitempty"`
}

// RestartPolicy bounds the retry loop in the control loop.
type RestartPolicy struct {
	// MaxRetries is the number of retries after the first failed attempt,
	// so a service is attempted at most MaxRetries+1 times. Nil means the
	// default of 2; an explicit 0 disables retries.
	MaxRetries *int `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`

	// Backoff is the delay before the first retry. Default 500ms.
	Backoff Duration `yaml:"backoff,omitempty" json:"backoff,omitempty"`

	// Multiplier grows the delay on each retry. Default 2.
	Multiplier float64 `yaml:"multiplier,omitempty" json:"multiplier,omitempty"`

	// Cap bounds the delay. Default 10s.
	Cap Duration `yaml:"cap,omitempty" json:"cap,omitempty"`
}
