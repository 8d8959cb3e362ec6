package config

import (
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/CO3302Group3/convoy/internal/spec"
)

func TestDiscoverProbesKnownNames(t *testing.T) {
	path, err := Discover("testdata/native")
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if filepath.Base(path) != "convoy.yaml" {
		t.Errorf("Discover = %s, want convoy.yaml", path)
	}

	path, err = Discover("testdata/compose")
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if filepath.Base(path) != "docker-compose.yml" {
		t.Errorf("Discover = %s, want docker-compose.yml", path)
	}

	if _, err := Discover(t.TempDir()); err == nil {
		t.Error("Discover succeeded in an empty directory")
	}
}

func TestLoadNativeStack(t *testing.T) {
	stack, err := Load("testdata/native/convoy.yaml", "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if stack.Name != "smart-parking" {
		t.Errorf("name = %q", stack.Name)
	}
	if len(stack.Services) != 2 {
		t.Fatalf("services = %d, want 2", len(stack.Services))
	}

	db := stack.Services["db"]
	if db.Container == nil || db.Container.Image != "postgres:16" {
		t.Errorf("db container = %+v", db.Container)
	}
	// ${DB_PASSWORD} expands from .env.
	if got := db.Container.Env["POSTGRES_PASSWORD"]; got != "dev-secret" {
		t.Errorf("POSTGRES_PASSWORD = %q, want dev-secret", got)
	}

	api := stack.Services["api"]
	if !reflect.DeepEqual(api.DependsOn, []string{"db"}) {
		t.Errorf("api depends_on = %v", api.DependsOn)
	}
	// ${API_PORT} expands from .env.
	want := []string{"./run.sh", "serve", "--port", "8080"}
	if !reflect.DeepEqual(api.Start, want) {
		t.Errorf("api start = %v, want %v", api.Start, want)
	}
	if api.Health.Target != "http://127.0.0.1:8080/healthz" {
		t.Errorf("api health target = %q", api.Health.Target)
	}
	if api.Health.Interval.Duration != 250*time.Millisecond {
		t.Errorf("api interval = %v", api.Health.Interval.Duration)
	}
	if api.Health.SuccessThreshold != 2 {
		t.Errorf("api threshold = %d", api.Health.SuccessThreshold)
	}
	if api.Restart.MaxRetries == nil || *api.Restart.MaxRetries != 3 {
		t.Errorf("api max_retries = %v", api.Restart.MaxRetries)
	}

	// Relative dir is resolved against the stack file's directory.
	if !filepath.IsAbs(api.Dir) || filepath.Base(api.Dir) != "api" {
		t.Errorf("api dir = %q, want absolute path ending in api", api.Dir)
	}
}

func TestLoadNativeEnvOverlay(t *testing.T) {
	stack, err := Load("testdata/native/convoy.yaml", "prod")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	// .env.prod overrides API_PORT from .env.
	api := stack.Services["api"]
	want := []string{"./run.sh", "serve", "--port", "9090"}
	if !reflect.DeepEqual(api.Start, want) {
		t.Errorf("api start = %v, want %v", api.Start, want)
	}
	// DB_PASSWORD still comes from the base .env.
	if got := stack.Services["db"].Container.Env["POSTGRES_PASSWORD"]; got != "dev-secret" {
		t.Errorf("POSTGRES_PASSWORD = %q, want dev-secret", got)
	}
}

func TestLoadComposeStack(t *testing.T) {
	stack, err := Load("testdata/compose/docker-compose.yml", "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if stack.Name == "" {
		t.Error("stack name not derived from directory")
	}
	if len(stack.Services) != 2 {
		t.Fatalf("services = %d, want 2", len(stack.Services))
	}

	db := stack.Services["db"]
	if db.Container == nil || db.Container.Image != "postgres:16" {
		t.Fatalf("db container = %+v", db.Container)
	}
	if got := db.Container.Env["POSTGRES_PASSWORD"]; got != "secret" {
		t.Errorf("db env = %q", got)
	}
	if len(db.Container.Ports) != 1 || db.Container.Ports[0].Host != 5432 {
		t.Errorf("db ports = %+v", db.Container.Ports)
	}

	// Compose healthcheck becomes a command probe.
	if db.Health == nil || db.Health.Type != spec.ProbeCommand {
		t.Fatalf("db health = %+v, want command probe", db.Health)
	}
	wantCmd := []string{"/bin/sh", "-c", "pg_isready -U postgres"}
	if !reflect.DeepEqual(db.Health.Command, wantCmd) {
		t.Errorf("db health command = %v, want %v", db.Health.Command, wantCmd)
	}
	if db.Health.Interval.Duration != time.Second {
		t.Errorf("db health interval = %v", db.Health.Interval.Duration)
	}
	if db.Health.ProbeTimeout.Duration != 3*time.Second {
		t.Errorf("db health timeout = %v", db.Health.ProbeTimeout.Duration)
	}
	// retries=10 at 1s interval → 11s readiness deadline.
	if db.Health.Deadline.Duration != 11*time.Second {
		t.Errorf("db health deadline = %v, want 11s", db.Health.Deadline.Duration)
	}

	api := stack.Services["api"]
	if !reflect.DeepEqual(api.DependsOn, []string{"db"}) {
		t.Errorf("api depends_on = %v", api.DependsOn)
	}
	if !reflect.DeepEqual(api.Container.Cmd, []string{"serve", "--port", "8080"}) {
		t.Errorf("api cmd = %v", api.Container.Cmd)
	}
	// No healthcheck declared: falls back to probing the published port.
	if api.Health == nil || api.Health.Type != spec.ProbeTCP || api.Health.Target != "127.0.0.1:8080" {
		t.Errorf("api health = %+v, want tcp fallback on 8080", api.Health)
	}
}

func TestLoadedStacksValidate(t *testing.T) {
	for _, path := range []string{
		"testdata/native/convoy.yaml",
		"testdata/compose/docker-compose.yml",
	} {
		stack, err := Load(path, "")
		if err != nil {
			t.Fatalf("Load(%s): %v", path, err)
		}
		if errs := spec.Validate(stack); len(errs) != 0 {
			t.Errorf("Validate(%s) = %v", path, errs)
		}
	}
}

func TestLoadComposeRejectsPublishedPortRange(t *testing.T) {
	_, err := Load("testdata/range/docker-compose.yml", "")
	if err == nil {
		t.Fatal("Load accepted a published port range")
	}
	if !strings.Contains(err.Error(), "8080-8081") {
		t.Errorf("error %q does not name the offending range", err)
	}
}
