package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/powerlogic-core/internal/api"
	"github.com/nerrad567/powerlogic-core/internal/audit"
	"github.com/nerrad567/powerlogic-core/internal/infrastructure/config"
)

// writeConfig writes a config file into a temp dir and points
// POWERLOGIC_CONFIG at it.
func writeConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content = strings.ReplaceAll(content, "{{dir}}", dir)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("POWERLOGIC_CONFIG", path)
	return dir
}

// freePort asks the kernel for an unused TCP port.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("POWERLOGIC_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_RejectsInconsistentConfig verifies validation stops startup.
func TestRun_RejectsInconsistentConfig(t *testing.T) {
	writeConfig(t, `
database:
  path: "{{dir}}/powerlogic.db"
mqtt:
  enabled: false
dispatch:
  transport: mqtt
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail when the mqtt transport has no broker")
	}
	if !strings.Contains(err.Error(), "dispatch.transport mqtt requires mqtt.enabled") {
		t.Errorf("error = %v", err)
	}
}

// TestRun_StartsAndShutsDown boots the full stack on the stub transport and
// stub probe, drives it over HTTP, then cancels.
func TestRun_StartsAndShutsDown(t *testing.T) {
	port := freePort(t)
	dir := writeConfig(t, fmt.Sprintf(`
site:
  id: test-site
database:
  path: "{{dir}}/powerlogic.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  enabled: false
influxdb:
  enabled: false
logging:
  level: error
  format: text
  output: stdout
api:
  host: "127.0.0.1"
  port: %d
scheduler:
  enabled: true
  spec: "@every 1h"
liveness:
  enabled: true
  interval: 50ms
  probe: stub
dispatch:
  transport: stub
  retry_backoff: 10ms
diagnostics:
  file: "{{dir}}/diagnostics.log"
  database: true
`, port))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx) }()

	base := fmt.Sprintf("http://127.0.0.1:%d/api/v1", port)
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(base + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				break
			}
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("API did not become healthy: %v", err)
		}
		select {
		case err := <-done:
			cancel()
			t.Fatalf("run() exited early: %v", err)
		case <-time.After(50 * time.Millisecond):
		}
	}

	body := `{"name":"Lab PC","commands":{"on":"fail"},"schedule":[{"action":"turn_on","one_time_utc":"2000-01-01 00:00"}]}`
	resp, err := http.Post(base+"/devices", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("create device: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}

	resp, err = http.Post(base+"/scheduler/run", "application/json", nil)
	if err != nil {
		t.Fatalf("scheduler run: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("scheduler run status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run() error = %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run() did not return after cancel")
	}

	data, err := os.ReadFile(filepath.Join(dir, "diagnostics.log"))
	if err != nil {
		t.Fatalf("reading diagnostics: %v", err)
	}
	if !strings.Contains(string(data), "command 'fail' failed on device 'Lab PC' after retry") {
		t.Errorf("diagnostics = %q, want the retry failure", data)
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("POWERLOGIC_CONFIG", "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("POWERLOGIC_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

type fakeCheck struct{ err error }

func (c fakeCheck) HealthCheck(context.Context) error { return c.err }

func TestHealthCheck(t *testing.T) {
	ctx := context.Background()

	if err := healthCheck(ctx, map[string]api.HealthChecker{"database": fakeCheck{}}); err != nil {
		t.Errorf("healthCheck() error = %v", err)
	}

	err := healthCheck(ctx, map[string]api.HealthChecker{
		"database": fakeCheck{},
		"mqtt":     fakeCheck{err: errors.New("not connected")},
	})
	if err == nil || !strings.HasPrefix(err.Error(), "mqtt:") {
		t.Errorf("healthCheck() error = %v, want mqtt failure", err)
	}
}

func TestBuildDiagnostics(t *testing.T) {
	dir := t.TempDir()

	sinks, closeFn, err := buildDiagnostics(config.DiagnosticsConfig{
		File:     filepath.Join(dir, "d.log"),
		Database: true,
	}, nil, nil)
	if err != nil {
		t.Fatalf("buildDiagnostics() error = %v", err)
	}
	defer closeFn()
	if len(sinks) != 2 {
		t.Errorf("sinks = %d, want file and database", len(sinks))
	}
	if _, ok := sinks[0].(*audit.FileSink); !ok {
		t.Errorf("sinks[0] = %T, want *audit.FileSink", sinks[0])
	}

	sinks, closeFn, err = buildDiagnostics(config.DiagnosticsConfig{}, nil, nil)
	if err != nil {
		t.Fatalf("buildDiagnostics(empty) error = %v", err)
	}
	closeFn()
	if len(sinks) != 0 {
		t.Errorf("sinks = %d, want none", len(sinks))
	}
}
