package config

import (
	"context"
	"log/slog"

	"github.com/ambspc/spcengine/internal/filewatch"
)

// Watch calls onChange with the freshly loaded Config whenever the file at
// path changes, until ctx is cancelled. Invalid edits are logged and ignored.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	slog.Info("config: watching for changes", "path", path)
	return filewatch.Watch(ctx, path, filewatch.DefaultDebounce, func() {
		cfg, err := Load(path)
		if err != nil {
			slog.Error("config: reload failed, keeping previous config", "path", path, "err", err)
			return
		}
		slog.Info("config: reloaded", "path", path, "alert_rules", len(cfg.Server.Alerts.Rules))
		onChange(cfg)
	})
}
