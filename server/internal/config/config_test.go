package config

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
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoad_Defaults(t *testing.T) {
	// Agent-only file: the server section is absent.
	p := writeConfig(t, `agent:
  server_endpoint: "http://localhost:8080"
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	s := cfg.Server
	if s.HTTPPort != DefaultHTTPPort {
		t.Errorf("http_port: got %d, want %d", s.HTTPPort, DefaultHTTPPort)
	}
	if s.Storage.Backend != BackendMemory {
		t.Errorf("storage.backend: got %q, want memory", s.Storage.Backend)
	}
	if s.Quality.WarningMargin != 0.10 {
		t.Errorf("quality.warning_margin: got %v, want 0.10", s.Quality.WarningMargin)
	}
	if s.Quality.CapabilityWindow != DefaultCapabilityWindow {
		t.Errorf("quality.capability_window: got %d, want %d", s.Quality.CapabilityWindow, DefaultCapabilityWindow)
	}
	if s.Stream.Interval != DefaultStreamInterval {
		t.Errorf("stream.interval: got %v, want %v", s.Stream.Interval, DefaultStreamInterval)
	}
}

func TestLoad_FullServer(t *testing.T) {
	p := writeConfig(t, `server:
  http_port: 9091
  auth:
    mode: apikey
    key_env: MY_KEY
    header: x-spc-key
  storage:
    backend: sqlite
    dsn: "file:spc.db"
  quality:
    warning_margin: 0.2
    capability_window: 25
  stream:
    interval: 2s
  alerts:
    rules:
      - name: out-of-control
        condition: "status == out_of_control"
        severity: critical
        assignee: qa-lead
        cooldown: 10m
    webhooks:
      - type: slack
        url_env: SPC_SLACK_URL
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	s := cfg.Server
	if s.HTTPPort != 9091 {
		t.Errorf("http_port: got %d, want 9091", s.HTTPPort)
	}
	if s.Auth.EffectiveHeader() != "x-spc-key" {
		t.Errorf("header: got %q, want x-spc-key", s.Auth.EffectiveHeader())
	}
	if s.Storage.Backend != BackendSQLite || s.Storage.DSN != "file:spc.db" {
		t.Errorf("storage: got %+v", s.Storage)
	}
	if s.Quality.WarningMargin != 0.2 || s.Quality.CapabilityWindow != 25 {
		t.Errorf("quality: got %+v", s.Quality)
	}
	if s.Stream.Interval != 2*time.Second {
		t.Errorf("stream.interval: got %v, want 2s", s.Stream.Interval)
	}
	if len(s.Alerts.Rules) != 1 || s.Alerts.Rules[0].Cooldown != 10*time.Minute || s.Alerts.Rules[0].Assignee != "qa-lead" {
		t.Errorf("alerts.rules: got %+v", s.Alerts.Rules)
	}
}

func TestLoad_DefaultHeader(t *testing.T) {
	p := writeConfig(t, `server:
  auth:
    mode: apikey
    key_env: K
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if h := cfg.Server.Auth.EffectiveHeader(); h != "x-api-key" {
		t.Errorf("EffectiveHeader: got %q, want x-api-key", h)
	}
}

func TestLoad_KeyEnvResolution(t *testing.T) {
	t.Setenv("TEST_SERVER_KEY", "supersecret")
	p := writeConfig(t, `server:
  auth:
    mode: apikey
    key_env: TEST_SERVER_KEY
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if k := cfg.Server.Auth.Key(); k != "supersecret" {
		t.Errorf("Key(): got %q, want supersecret", k)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"unknown auth mode", "server:\n  auth:\n    mode: oauth2\n", "auth.mode"},
		{"apikey without env", "server:\n  auth:\n    mode: apikey\n", "key_env"},
		{"bad port", "server:\n  http_port: 70000\n", "http_port"},
		{"unknown backend", "server:\n  storage:\n    backend: mongo\n", "storage.backend"},
		{"sqlite without dsn", "server:\n  storage:\n    backend: sqlite\n", "dsn"},
		{"margin too wide", "server:\n  quality:\n    warning_margin: 0.5\n", "warning_margin"},
		{"tiny window", "server:\n  quality:\n    capability_window: 1\n", "capability_window"},
		{"zero interval", "server:\n  stream:\n    interval: 0s\n", "stream.interval"},
		{"rule without condition", "server:\n  alerts:\n    rules:\n      - name: r\n", "condition"},
		{"unknown severity", "server:\n  alerts:\n    rules:\n      - name: r\n        condition: \"value > 1\"\n        severity: page\n", "severity"},
		{"unknown webhook", "server:\n  alerts:\n    webhooks:\n      - type: pagerduty\n", "webhooks"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	p := writeConfig(t, "server:\n  http_port: 8080\n")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	got := make(chan *Config, 1)
	go func() {
		_ = Watch(ctx, p, func(c *Config) {
			select {
			case got <- c:
			default:
			}
		})
	}()

	// Let the watcher register before editing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(p, []byte("server:\n  http_port: 9999\n"), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case c := <-got:
		if c.Server.HTTPPort != 9999 {
			t.Errorf("reloaded http_port = %d, want 9999", c.Server.HTTPPort)
		}
	case <-ctx.Done():
		t.Fatal("Watch did not report the change")
	}
}
