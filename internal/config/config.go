// Package config loads stack definitions from disk: convoy's native YAML
// format or a Docker Compose file, with .env overlays applied per
// environment.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/compose-spec/compose-go/v2/cli"
	"github.com/compose-spec/compose-go/v2/types"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/CO3302Group3/convoy/internal/spec"
)

// stackFileNames are probed in order when no explicit file is given.
var stackFileNames = []string{
	"convoy.yaml",
	"convoy.yml",
	"docker-compose.yml",
	"docker-compose.yaml",
	"compose.yaml",
}

// Discover finds the stack file in dir, probing well-known names in order.
func Discover(dir string) (string, error) {
	for _, name := range stackFileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no stack file found in %s (looked for %s)",
		dir, strings.Join(stackFileNames, ", "))
}

// Load reads the stack file at path. env selects an optional .env overlay:
// variables from .env are loaded first, then .env.<env> on top, then the
// process environment wins. Compose files are converted to container
// services; everything else is parsed as convoy's native format.
func Load(path, env string) (*spec.Stack, error) {
	overlay, err := loadDotenv(filepath.Dir(path), env)
	if err != nil {
		return nil, err
	}

	var stack *spec.Stack
	if isComposeFile(path) {
		stack, err = loadCompose(path, overlay)
	} else {
		stack, err = loadNative(path, overlay)
	}
	if err != nil {
		return nil, err
	}

	if stack.Name == "" {
		stack.Name = filepath.Base(filepath.Dir(absPath(path)))
	}
	return stack, nil
}

func isComposeFile(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, "docker-compose.") || strings.HasPrefix(base, "compose.")
}

func absPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

// loadDotenv reads dir/.env and dir/.env.<env> (if present). Later files
// override earlier ones. Missing files are fine.
func loadDotenv(dir, env string) (map[string]string, error) {
	overlay := make(map[string]string)
	files := []string{filepath.Join(dir, ".env")}
	if env != "" {
		files = append(files, filepath.Join(dir, ".env."+env))
	}
	for _, f := range files {
		vars, err := godotenv.Read(f)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read %s: %w", f, err)
		}
		for k, v := range vars {
			overlay[k] = v
		}
	}
	return overlay, nil
}

// loadNative parses convoy's own YAML format. ${VAR} references are expanded
// from the overlay first, then the process environment.
func loadNative(path string, overlay map[string]string) (*spec.Stack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	expanded := os.Expand(string(data), func(key string) string {
		if v, ok := overlay[key]; ok {
			return v
		}
		return os.Getenv(key)
	})

	var stack spec.Stack
	if err := yaml.Unmarshal([]byte(expanded), &stack); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	// Service working directories are relative to the stack file.
	base := filepath.Dir(absPath(path))
	for name, svc := range stack.Services {
		if svc.Dir != "" && !filepath.IsAbs(svc.Dir) {
			svc.Dir = filepath.Join(base, svc.Dir)
			stack.Services[name] = svc
		}
	}

	return &stack, nil
}

// loadCompose converts a Docker Compose project into a stack of container
// services. The overlay participates in compose variable interpolation.
func loadCompose(path string, overlay map[string]string) (*spec.Stack, error) {
	envList := os.Environ()
	for k, v := range overlay {
		envList = append(envList, k+"="+v)
	}

	options, err := cli.NewProjectOptions(
		[]string{path},
		cli.WithEnv(envList),
		cli.WithName(filepath.Base(filepath.Dir(absPath(path)))),
	)
	if err != nil {
		return nil, fmt.Errorf("compose options: %w", err)
	}

	project, err := options.LoadProject(context.Background())
	if err != nil {
		return nil, fmt.Errorf("load compose project: %w", err)
	}

	stack := &spec.Stack{
		Name:     project.Name,
		Services: make(map[string]spec.Service, len(project.Services)),
	}

	for name, cs := range project.Services {
		svc := spec.Service{
			Container: &spec.ContainerSpec{
				Image: cs.Image,
				Cmd:   []string(cs.Command),
			},
		}

		for key, value := range cs.Environment {
			if value == nil {
				continue
			}
			if svc.Container.Env == nil {
				svc.Container.Env = make(map[string]string)
			}
			svc.Container.Env[key] = *value
		}

		for _, port := range cs.Ports {
			if port.Published == "" {
				continue
			}
			// "8080" or "127.0.0.1:8080"; take the last segment. A range
			// ("8080-8081") is rejected rather than silently truncated to
			// its low end.
			parts := strings.Split(port.Published, ":")
			host, err := strconv.Atoi(parts[len(parts)-1])
			if err != nil {
				return nil, fmt.Errorf("service %q: published port %q not supported (port ranges must be listed per port)", name, port.Published)
			}
			svc.Container.Ports = append(svc.Container.Ports, spec.PortBinding{
				Host:      host,
				Container: int(port.Target),
				Protocol:  port.Protocol,
			})
		}

		for dep := range cs.DependsOn {
			svc.DependsOn = append(svc.DependsOn, dep)
		}
		sort.Strings(svc.DependsOn)

		if health := convertHealthCheck(cs.HealthCheck); health != nil {
			svc.Health = health
		} else if len(svc.Container.Ports) > 0 {
			// No healthcheck defined; fall back to probing the first
			// published port.
			svc.Health = &spec.HealthSpec{
				Type:   spec.ProbeTCP,
				Target: fmt.Sprintf("127.0.0.1:%d", svc.Container.Ports[0].Host),
			}
		}

		stack.Services[name] = svc
	}

	return stack, nil
}

// convertHealthCheck maps a compose healthcheck to a command probe.
//
//	CMD a b        → argv [a b]
//	CMD-SHELL line → /bin/sh -c line
//
// interval and timeout carry over directly. Compose's retries bounds probe
// attempts, not restarts, so it becomes a readiness deadline of
// interval*(retries+1) rather than a restart budget.
func convertHealthCheck(hc *types.HealthCheckConfig) *spec.HealthSpec {
	if hc == nil || hc.Disable || len(hc.Test) == 0 {
		return nil
	}

	var argv []string
	switch hc.Test[0] {
	case "CMD":
		argv = []string(hc.Test[1:])
	case "CMD-SHELL":
		argv = []string{"/bin/sh", "-c", strings.Join(hc.Test[1:], " ")}
	case "NONE":
		return nil
	default:
		argv = []string(hc.Test)
	}
	if len(argv) == 0 {
		return nil
	}

	health := &spec.HealthSpec{
		Type:    spec.ProbeCommand,
		Command: argv,
	}
	if hc.Interval != nil {
		health.Interval = spec.Duration{Duration: time.Duration(*hc.Interval)}
	}
	if hc.Timeout != nil {
		health.ProbeTimeout = spec.Duration{Duration: time.Duration(*hc.Timeout)}
	}
	if hc.Retries != nil {
		interval := health.Interval.Duration
		if interval == 0 {
			interval = spec.DefaultProbeInterval
		}
		health.Deadline = spec.Duration{Duration: interval * time.Duration(*hc.Retries+1)}
	}
	return health
}
