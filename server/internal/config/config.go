package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ambspc/spcengine/pkg/spc"
)

// AlertsConfig holds alerting rules and webhook delivery targets.
type AlertsConfig struct {
	Rules    []AlertRule     `yaml:"rules"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// AlertRule defines one condition evaluated against every recorded data point.
type AlertRule struct {
	// Name is the human-readable alert identifier, used as the deduplication key.
	Name string `yaml:"name"`

	// Condition is a simple expression: "status == out_of_control",
	// "zone == warning", "value > 80".
	Condition string `yaml:"condition"`

	// Severity is one of: critical | high | warning | info.
	Severity string `yaml:"severity"`

	// Assignee is the person responsible for acknowledging the alert.
	Assignee string `yaml:"assignee"`

	// Cooldown suppresses re-fires for this duration after an alert fires.
	// Defaults to 15 minutes if zero.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// Default values for the server configuration.
const (
	DefaultHTTPPort         = 8080
	DefaultBackend          = BackendMemory
	DefaultCapabilityWindow = 50
	DefaultStreamInterval   = 5 * time.Second
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config holds the server-side configuration parsed from the `server:` section
// of config.yaml. The `agent:` key in the same file is ignored.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all server-side settings.
type ServerConfig struct {
	// HTTPPort is the port the ingest endpoint, REST API and WebSocket hub
	// listen on (default 8080).
	HTTPPort int `yaml:"http_port"`

	// Auth configures how the server authenticates agents and API clients.
	Auth AuthConfig `yaml:"auth"`

	// Storage selects the document store backend.
	Storage StorageConfig `yaml:"storage"`

	// Quality tunes zone classification and capability analysis.
	Quality QualityConfig `yaml:"quality"`

	// Stream controls the dashboard WebSocket broadcast.
	Stream StreamConfig `yaml:"stream"`

	// Alerts holds rule definitions and webhook delivery targets.
	Alerts AlertsConfig `yaml:"alerts"`
}

// AuthConfig controls client authentication on the server side.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	// Used when Mode == "apikey".
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header name to read the key from.
	// Defaults to "x-api-key" if empty.
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// StorageConfig selects where parameters, data points, batches and
// certificates are kept.
type StorageConfig struct {
	// Backend is one of: memory | sqlite | postgres.
	Backend string `yaml:"backend"`

	// DSN is the sqlite file DSN or the postgres connection URL.
	DSN string `yaml:"dsn"`
}

// QualityConfig tunes the quality service.
type QualityConfig struct {
	// WarningMargin is the fraction of the control range, measured inward
	// from each limit, that classifies an in-control value as "warning".
	WarningMargin float64 `yaml:"warning_margin"`

	// CapabilityWindow is how many of a parameter's most recent data points
	// feed the Cp/Cpk/Pp/Ppk calculation.
	CapabilityWindow int `yaml:"capability_window"`
}

// StreamConfig controls the dashboard WebSocket broadcast.
type StreamConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// Load reads and parses the config file at path, returning the server configuration.
// Missing fields are filled with sensible defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort: DefaultHTTPPort,
			Storage:  StorageConfig{Backend: DefaultBackend},
			Quality: QualityConfig{
				WarningMargin:    spc.DefaultWarningMargin,
				CapabilityWindow: DefaultCapabilityWindow,
			},
			Stream: StreamConfig{Interval: DefaultStreamInterval},
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	s := cfg.Server
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", s.HTTPPort)
	}
	switch s.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", s.Auth.Mode)
	}
	if s.Auth.Mode == "apikey" && s.Auth.KeyEnv == "" {
		return fmt.Errorf("server.auth.key_env is required when mode is apikey")
	}
	switch s.Storage.Backend {
	case BackendMemory:
	case BackendSQLite, BackendPostgres:
		if s.Storage.DSN == "" {
			return fmt.Errorf("server.storage.dsn is required for backend %q", s.Storage.Backend)
		}
	default:
		return fmt.Errorf("server.storage.backend %q unknown: want memory|sqlite|postgres", s.Storage.Backend)
	}
	if s.Quality.WarningMargin < 0 || s.Quality.WarningMargin >= 0.5 {
		return fmt.Errorf("server.quality.warning_margin %.2f must be in [0, 0.5)", s.Quality.WarningMargin)
	}
	if s.Quality.CapabilityWindow < 2 {
		return fmt.Errorf("server.quality.capability_window must be at least 2")
	}
	if s.Stream.Interval <= 0 {
		return fmt.Errorf("server.stream.interval must be positive")
	}
	for i, r := range s.Alerts.Rules {
		if r.Name == "" {
			return fmt.Errorf("server.alerts.rules[%d]: name is required", i)
		}
		if r.Condition == "" {
			return fmt.Errorf("server.alerts.rules[%d] %q: condition is required", i, r.Name)
		}
		switch r.Severity {
		case "critical", "high", "warning", "info", "":
		default:
			return fmt.Errorf("server.alerts.rules[%d] %q: severity %q unknown", i, r.Name, r.Severity)
		}
	}
	for i, w := range s.Alerts.Webhooks {
		switch w.Type {
		case "slack", "teams", "http":
		default:
			return fmt.Errorf("server.alerts.webhooks[%d]: type %q unknown: want slack|teams|http", i, w.Type)
		}
	}
	return nil
}
