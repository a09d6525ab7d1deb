package config

import (
	"context"
	"log/slog"

	"github.com/ambspc/spcengine/internal/filewatch"
)

// Watch monitors path and calls onChange with the newly loaded Config each
// time the file changes. It runs until ctx is cancelled.
//
// A reload that fails (e.g. invalid YAML) is logged and skipped; the previous
// config stays active.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	slog.Info("config: watching for changes", "path", path)
	return filewatch.Watch(ctx, path, filewatch.DefaultDebounce, func() {
		cfg, err := Load(path)
		if err != nil {
			slog.Error("config: reload failed, keeping previous config", "path", path, "err", err)
			return
		}
		slog.Info("config: reloaded", "path", path, "sources", len(cfg.Agent.Sources))
		onChange(cfg)
	})
}
