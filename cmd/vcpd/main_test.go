package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test-config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

const baseConfig = `
site:
  id: test-site

database:
  path: "%DB%"
  wal_mode: true
  busy_timeout: 5

mqtt:
  broker:
    host: "127.0.0.1"
    port: 1883
    client_id: "vcpd-test"
    tls: false
  qos: 1
  reconnect:
    initial_delay: 1
    max_delay: 5

influxdb:
  enabled: false

logging:
  level: error
  format: text
  output: stdout

api:
  enabled: false

vcp:
  host_max_volume: 100
  health_interval: 30
  host_events: %EVENTS%
`

func configWith(db, events string) string {
	return strings.NewReplacer("%DB%", db, "%EVENTS%", events).Replace(baseConfig)
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("GRAYLOGIC_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
	if !strings.Contains(err.Error(), "loading config") {
		t.Errorf("error = %v, want a config load failure", err)
	}
}

func TestRun_RejectedConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"empty database path", configWith("", "mqtt"), "database.path is required"},
		{"unknown host events", configWith("/tmp/x.db", "hci"), "vcp.host_events must be mqtt or bluez"},
		{"bluez not enabled", configWith("/tmp/x.db", "bluez"), "vcp.bluez.enabled is false"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("GRAYLOGIC_CONFIG", writeConfig(t, tt.content))

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			err := run(ctx)
			if err == nil {
				t.Fatal("run() should fail")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("GRAYLOGIC_CONFIG", "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("GRAYLOGIC_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

// TestRun_SuccessfulStartupAndShutdown tests full startup against a local broker.
// Requires MQTT broker at 127.0.0.1:1883; skipped when none is reachable.
func TestRun_SuccessfulStartupAndShutdown(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	t.Setenv("GRAYLOGIC_CONFIG", writeConfig(t, configWith(dbPath, "mqtt")))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- run(ctx) }()

	select {
	case err := <-errCh:
		cancel()
		if err != nil && strings.Contains(err.Error(), "connecting to MQTT") {
			t.Skipf("MQTT broker not available: %v", err)
		}
		t.Fatalf("run() returned before shutdown: %v", err)
	case <-time.After(2 * time.Second):
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil && strings.Contains(err.Error(), "connecting to MQTT") {
			t.Skipf("MQTT broker not available: %v", err)
		}
		if err != nil {
			t.Errorf("run() error = %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run() did not return after cancellation")
	}

	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("database file not created: %v", err)
	}
}
