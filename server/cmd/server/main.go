package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ambspc/spcengine/server/internal/alerts"
	"github.com/ambspc/spcengine/server/internal/api"
	"github.com/ambspc/spcengine/server/internal/auth"
	"github.com/ambspc/spcengine/server/internal/config"
	"github.com/ambspc/spcengine/server/internal/metrics"
	"github.com/ambspc/spcengine/server/internal/quality"
	"github.com/ambspc/spcengine/server/internal/receiver"
	"github.com/ambspc/spcengine/server/internal/store"
	"github.com/ambspc/spcengine/server/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	uiDir := flag.String("ui-dir", "", "serve the dashboard static files from this directory (e.g. ui/dist); leave empty to disable")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("spc-server starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	slog.Info("config loaded",
		"http_port", cfg.Server.HTTPPort,
		"auth_mode", cfg.Server.Auth.Mode,
		"storage", cfg.Server.Storage.Backend,
		"warning_margin", cfg.Server.Quality.WarningMargin,
		"alert_rules", len(cfg.Server.Alerts.Rules),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := openStore(ctx, cfg.Server.Storage)
	if err != nil {
		slog.Error("failed to open store", "backend", cfg.Server.Storage.Backend, "err", err)
		os.Exit(1)
	}
	defer st.Close()

	// Agent gateway registry with background TTL eviction.
	sources := store.NewSources(store.DefaultSourceTTL)
	go sources.Run(ctx)

	// Alerts engine and metrics both observe every recorded data point.
	alertEngine := alerts.New(cfg.Server.Alerts)
	reg := metrics.New(alertEngine)
	svc := quality.New(st, cfg.Server.Quality, quality.NotifierFunc(alertEngine.Evaluate), reg)

	// Alert rules and webhooks follow config edits without a restart.
	go func() {
		err := config.Watch(ctx, *configPath, func(c *config.Config) {
			alertEngine.SetRules(c.Server.Alerts)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("config watch stopped", "err", err)
		}
	}()

	// WebSocket hub broadcasts the dashboard to UI clients.
	hub := ws.New(st, alertEngine, sources, cfg.Server.Stream.Interval)
	go hub.Run(ctx)

	requireKey := auth.APIKey(
		cfg.Server.Auth.Mode,
		cfg.Server.Auth.EffectiveHeader(),
		cfg.Server.Auth.Key(),
		"/api/v1/health",
	)

	httpMux := http.NewServeMux()
	httpMux.Handle(receiver.Path, requireKey(receiver.New(svc, sources, reg)))
	httpMux.Handle("/api/", requireKey(api.New(svc, st, alertEngine, sources)))
	httpMux.Handle("/ws/stream", hub)
	httpMux.Handle("/metrics", reg)

	// Optional: serve the pre-built dashboard from a local directory.
	// The "/" catch-all serves index.html for any unknown path (SPA routing).
	if *uiDir != "" {
		fs := http.FileServer(http.Dir(*uiDir))
		httpMux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			path := *uiDir + r.URL.Path
			if _, err := os.Stat(path); os.IsNotExist(err) {
				http.ServeFile(w, r, *uiDir+"/index.html")
				return
			}
			fs.ServeHTTP(w, r)
		})
		slog.Info("serving UI static files", "dir", *uiDir)
	}

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           httpMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("spc-server shutting down")
	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
}

// openStore opens the configured persistence backend.
func openStore(ctx context.Context, cfg config.StorageConfig) (store.Store, error) {
	var driver store.Driver
	switch cfg.Backend {
	case config.BackendSQLite:
		driver = store.DriverSQLite
	case config.BackendPostgres:
		driver = store.DriverPostgres
	default:
		return store.NewMemory(), nil
	}
	db, err := store.Open(ctx, driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	return db, nil
}
