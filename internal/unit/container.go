package unit

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"github.com/CO3302Group3/convoy/internal/spec"
)

// Container manages a service directly as a Docker container: create and
// start on Start, stop and remove on Stop. Container logs are streamed into
// the unit's stdout/stderr writers while the container runs.
type Container struct {
	service string
	cfg     spec.ContainerSpec
	stdout  io.Writer
	stderr  io.Writer

	mu        sync.Mutex
	id        string
	logCancel context.CancelFunc
}

// ContainerName returns the Docker container name for a service.
func ContainerName(service string) string {
	return "convoy-" + service
}

// NewContainer builds a container unit for the given service.
func NewContainer(service string, cfg spec.ContainerSpec, stdout, stderr io.Writer) (*Container, error) {
	if cfg.Image == "" {
		return nil, fmt.Errorf("service %q: container config missing image", service)
	}
	return &Container{service: service, cfg: cfg, stdout: stdout, stderr: stderr}, nil
}

func (c *Container) Start(ctx context.Context) error {
	cli, err := Client()
	if err != nil {
		return fmt.Errorf("service %q: docker client: %w", c.service, err)
	}

	if _, err := cli.Ping(ctx); err != nil {
		return fmt.Errorf("service %q: cannot connect to Docker daemon (is Docker running?): %w", c.service, err)
	}

	portBindings, exposedPorts, err := buildPortBindings(c.cfg.Ports)
	if err != nil {
		return fmt.Errorf("service %q: %w", c.service, err)
	}

	config := &container.Config{
		Image:        c.cfg.Image,
		Env:          envMapToSlice(c.cfg.Env),
		Cmd:          c.cfg.Cmd,
		ExposedPorts: exposedPorts,
	}
	hostConfig := &container.HostConfig{
		PortBindings: portBindings,
	}

	name := ContainerName(c.service)
	id, err := c.createOrReuse(ctx, cli, config, hostConfig, name)
	if err != nil {
		return err
	}

	if err := cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("service %q: start container: %w", c.service, err)
	}

	// Follow logs until Stop cancels the stream.
	logCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.id = id
	c.logCancel = cancel
	c.mu.Unlock()

	go c.followLogs(logCtx, cli, id)

	return nil
}

// createOrReuse creates the named container, reusing a leftover container
// from a previous run if one exists with the same name.
func (c *Container) createOrReuse(ctx context.Context, cli *client.Client, config *container.Config, hostConfig *container.HostConfig, name string) (string, error) {
	resp, err := cli.ContainerCreate(ctx, config, hostConfig, nil, nil, name)
	if err == nil {
		return resp.ID, nil
	}
	if !errdefs.IsConflict(err) {
		return "", fmt.Errorf("service %q: create container: %w", c.service, err)
	}

	inspect, inspectErr := cli.ContainerInspect(ctx, name)
	if inspectErr != nil {
		return "", fmt.Errorf("service %q: create container: %w", c.service, err)
	}
	return inspect.ID, nil
}

func (c *Container) followLogs(ctx context.Context, cli *client.Client, id string) {
	reader, err := cli.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return
	}
	defer reader.Close()
	stdcopy.StdCopy(c.stdout, c.stderr, reader)
}

func (c *Container) Stop(ctx context.Context) error {
	c.mu.Lock()
	id := c.id
	cancel := c.logCancel
	c.logCancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if id == "" {
		// Never started in this run: there may still be a leftover
		// container from a previous daemon process.
		id = ContainerName(c.service)
	}

	cli, err := Client()
	if err != nil {
		return fmt.Errorf("service %q: docker client: %w", c.service, err)
	}

	timeout := 10 // seconds
	if err := cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("service %q: stop container: %w", c.service, err)
	}
	if err := cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("service %q: remove container: %w", c.service, err)
	}
	return nil
}

// Logs streams container logs into w. With follow, the stream stays open
// until ctx is cancelled or the container exits.
func (c *Container) Logs(ctx context.Context, w io.Writer, follow bool) error {
	cli, err := Client()
	if err != nil {
		return err
	}

	c.mu.Lock()
	id := c.id
	c.mu.Unlock()
	if id == "" {
		id = ContainerName(c.service)
	}

	reader, err := cli.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     follow,
	})
	if err != nil {
		return fmt.Errorf("service %q: container logs: %w", c.service, err)
	}
	defer reader.Close()

	_, err = stdcopy.StdCopy(w, w, reader)
	return err
}

func buildPortBindings(ports []spec.PortBinding) (nat.PortMap, nat.PortSet, error) {
	if len(ports) == 0 {
		return nil, nil, nil
	}

	portBindings := make(nat.PortMap, len(ports))
	exposedPorts := make(nat.PortSet, len(ports))

	for _, p := range ports {
		proto := p.Protocol
		if proto == "" {
			proto = "tcp"
		}
		containerPort, err := nat.NewPort(proto, strconv.Itoa(p.Container))
		if err != nil {
			return nil, nil, fmt.Errorf("invalid container port %d/%s: %w", p.Container, proto, err)
		}
		exposedPorts[containerPort] = struct{}{}
		portBindings[containerPort] = []nat.PortBinding{{
			HostIP:   "127.0.0.1",
			HostPort: strconv.Itoa(p.Host),
		}}
	}

	return portBindings, exposedPorts, nil
}

func envMapToSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
