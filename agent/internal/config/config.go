package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultScrapeInterval = 30 * time.Second
	DefaultShipInterval   = 15 * time.Second
	DefaultBufferSize     = 1000
	DefaultAPIKeyHeader   = "x-api-key"
)

// Config is the top-level agent configuration. The server: section of a
// shared config file is ignored.
type Config struct {
	Agent AgentConfig `yaml:"agent"`
}

// AgentConfig holds all agent-side settings.
type AgentConfig struct {
	// ServerEndpoint is the base URL of spc-server, e.g. http://spc-server:8080.
	ServerEndpoint string `yaml:"server_endpoint"`

	// ScrapeInterval controls how often each gateway is polled.
	ScrapeInterval time.Duration `yaml:"scrape_interval"`

	// ShipInterval is the retry cadence used while the server is unreachable.
	ShipInterval time.Duration `yaml:"ship_interval"`

	// BufferSize is the maximum number of scrape batches held in memory when
	// the server is unreachable.
	BufferSize int `yaml:"buffer_size"`

	// Sources is the list of line gateways to poll.
	Sources []Source `yaml:"sources"`

	// ServerAuth configures how the agent authenticates to spc-server.
	ServerAuth AuthConfig `yaml:"server_auth"`
}

// Source describes one process-data gateway.
type Source struct {
	// ID is a unique, human-readable identifier, e.g. "line-1-gateway".
	ID string `yaml:"id"`

	// Type is the gateway protocol: prometheus | json.
	Type string `yaml:"type"`

	// Endpoint is the full URL the readings are fetched from.
	Endpoint string `yaml:"endpoint"`

	// Auth configures how the agent authenticates to this gateway.
	Auth AuthConfig `yaml:"auth"`

	// TLS holds optional TLS dial options.
	TLS TLSConfig `yaml:"tls"`

	// Parameters maps gateway metrics onto SPC parameter master ids.
	Parameters []ParameterMapping `yaml:"parameters"`
}

// ParameterMapping binds one gateway metric to an SPC parameter.
type ParameterMapping struct {
	// Metric is the metric family name (prometheus) or reading name (json).
	Metric string `yaml:"metric"`

	// ParameterID is the id of the parameter master record on the server.
	ParameterID string `yaml:"parameter_id"`

	// BatchLabel names the label that carries the batch reference.
	// Prometheus sources only; json readings carry the batch inline.
	BatchLabel string `yaml:"batch_label"`
}

// AuthConfig specifies an authentication mode.
type AuthConfig struct {
	// Mode is one of: mtls | apikey | bearer | basic | none.
	Mode string `yaml:"mode"`

	// mTLS fields, used when Mode == "mtls".
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`

	// Header is the HTTP header the API key is sent in (apikey mode).
	Header string `yaml:"header"`
	// KeyEnv names the environment variable that holds the API key.
	KeyEnv string `yaml:"key_env"`

	// TokenEnv names the environment variable that holds the bearer token.
	TokenEnv string `yaml:"token_env"`

	// Username is the literal basic-auth username.
	Username string `yaml:"username"`
	// PasswordEnv names the environment variable that holds the password.
	PasswordEnv string `yaml:"password_env"`
}

// Key returns the API key value resolved from the environment.
// Returns empty string if KeyEnv is unset or the variable is not found.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// Token returns the bearer token value resolved from the environment.
func (a AuthConfig) Token() string {
	if a.TokenEnv == "" {
		return ""
	}
	return os.Getenv(a.TokenEnv)
}

// Password returns the basic-auth password resolved from the environment.
func (a AuthConfig) Password() string {
	if a.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(a.PasswordEnv)
}

// EffectiveHeader returns the configured API key header, or "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return DefaultAPIKeyHeader
}

// TLSConfig holds per-source TLS dial options.
type TLSConfig struct {
	// InsecureSkipVerify disables TLS certificate verification.
	// Only use this for internal CAs in development environments.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			ScrapeInterval: DefaultScrapeInterval,
			ShipInterval:   DefaultShipInterval,
			BufferSize:     DefaultBufferSize,
		},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	if cfg.Agent.ServerEndpoint == "" {
		return fmt.Errorf("agent.server_endpoint is required")
	}
	if cfg.Agent.ScrapeInterval <= 0 {
		return fmt.Errorf("agent.scrape_interval must be positive")
	}
	if cfg.Agent.ShipInterval <= 0 {
		return fmt.Errorf("agent.ship_interval must be positive")
	}
	if cfg.Agent.BufferSize <= 0 {
		return fmt.Errorf("agent.buffer_size must be positive")
	}
	if err := validateAuthMode("agent.server_auth", cfg.Agent.ServerAuth.Mode); err != nil {
		return err
	}

	seen := make(map[string]bool, len(cfg.Agent.Sources))
	for i, src := range cfg.Agent.Sources {
		if src.ID == "" {
			return fmt.Errorf("sources[%d]: id is required", i)
		}
		if seen[src.ID] {
			return fmt.Errorf("sources[%d]: duplicate id %q", i, src.ID)
		}
		seen[src.ID] = true
		if src.Endpoint == "" {
			return fmt.Errorf("sources[%d] %q: endpoint is required", i, src.ID)
		}
		switch src.Type {
		case "prometheus", "json":
		default:
			return fmt.Errorf("sources[%d] %q: unknown type %q", i, src.ID, src.Type)
		}
		if err := validateAuthMode(fmt.Sprintf("sources[%d] %q", i, src.ID), src.Auth.Mode); err != nil {
			return err
		}
		if len(src.Parameters) == 0 {
			return fmt.Errorf("sources[%d] %q: at least one parameter mapping is required", i, src.ID)
		}
		for j, p := range src.Parameters {
			if p.Metric == "" || p.ParameterID == "" {
				return fmt.Errorf("sources[%d] %q: parameters[%d]: metric and parameter_id are required", i, src.ID, j)
			}
		}
	}
	return nil
}

func validateAuthMode(where, mode string) error {
	switch mode {
	case "mtls", "apikey", "bearer", "basic", "none", "":
		return nil
	default:
		return fmt.Errorf("%s: unknown auth mode %q", where, mode)
	}
}
