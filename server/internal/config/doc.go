// Package config loads the server-side configuration from the `server:` section
// of config.yaml (the `agent:` key is ignored by the server binary).
//
// Config fields:
//   - HTTPPort                 port for ingest, REST API and WebSocket hub (default 8080)
//   - Auth.Mode                "apikey" or "none"
//   - Auth.KeyEnv              environment variable holding the expected API key
//   - Auth.Header              HTTP header name (default "x-api-key")
//   - Storage.Backend          memory | sqlite | postgres (default memory)
//   - Storage.DSN              sqlite DSN or postgres URL
//   - Quality.WarningMargin    warning band width as a fraction of the range (default 0.10)
//   - Quality.CapabilityWindow data points used for capability indices (default 50)
//   - Stream.Interval          dashboard broadcast period (default 5s)
//
// Load(path) applies defaults before unmarshalling, then validates.
// Watch(ctx, path, fn) reloads on change; the server applies new alert rules.
package config
