// Package config loads and watches the agent configuration file (config.yaml).
//
// Top-level types:
//   - Config{Agent}: the agent: section of the YAML file
//   - AgentConfig: server_endpoint, scrape_interval, ship_interval,
//     buffer_size, sources [], server_auth
//   - Source: id, type (prometheus|json), endpoint, auth, tls, parameters []
//   - ParameterMapping: metric → parameter_id, plus the batch label name
//   - AuthConfig: mode (mtls|apikey|bearer|basic|none); Key(), Token() and
//     Password() resolve secrets from environment variables
//
// Load(path) reads the YAML file, applies defaults (30s scrape, 15s ship,
// 1000 buffer), then validates required fields and enums.
//
// Watch(ctx, path, onChange) uses fsnotify to detect file changes and calls
// onChange with the newly parsed Config. It re-adds the watch after each
// reload so rename-then-create saves (vim, VS Code) keep being observed.
package config
