package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ambspc/spcengine/agent/internal/compute"
	"github.com/ambspc/spcengine/agent/internal/config"
	"github.com/ambspc/spcengine/agent/internal/scraper"
	"github.com/ambspc/spcengine/agent/internal/shipper"
)

// pipeline pairs a configured source with its scraper.
type pipeline struct {
	src config.Source
	s   scraper.Scraper
}

func buildPipelines(sources []config.Source) []pipeline {
	var out []pipeline
	for _, src := range sources {
		s, err := scraper.New(src)
		if err != nil {
			slog.Error("skipping source, could not build scraper", "source", src.ID, "err", err)
			continue
		}
		out = append(out, pipeline{src: src, s: s})
		slog.Info("registered source",
			"id", src.ID, "type", src.Type, "endpoint", src.Endpoint, "parameters", len(src.Parameters))
	}
	return out
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("spc-agent starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	slog.Info("config loaded",
		"server_endpoint", cfg.Agent.ServerEndpoint,
		"sources", len(cfg.Agent.Sources),
		"scrape_interval", cfg.Agent.ScrapeInterval,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// One engine for all sources; it keys its state by source id so
	// reachability history survives a reload.
	engine := compute.NewEngine()

	var mu sync.Mutex
	pipelines := buildPipelines(cfg.Agent.Sources)
	if len(pipelines) == 0 {
		slog.Warn("no sources configured, agent will idle")
	}

	// Hot-reload rebuilds the source list. Server endpoint and auth changes
	// need a restart.
	go func() {
		if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			next := buildPipelines(updated.Agent.Sources)
			mu.Lock()
			pipelines = next
			mu.Unlock()
			slog.Info("config hot-reloaded", "sources", len(next))
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	ship, err := shipper.New(cfg.Agent)
	if err != nil {
		slog.Error("failed to build shipper", "err", err)
		os.Exit(1)
	}
	go ship.Run(ctx)

	// Scrape loop: poll every ScrapeInterval, de-duplicate, ship.
	go func() {
		ticker := time.NewTicker(cfg.Agent.ScrapeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				mu.Lock()
				current := pipelines
				mu.Unlock()
				for _, p := range current {
					res, err := p.s.Scrape(ctx)
					if err != nil {
						slog.Warn("scrape error", "source", p.src.ID, "err", err)
						continue
					}
					result := engine.Process(res, t.UTC())
					ship.Ship(result)
					slog.Debug("shipped measurements",
						"source", p.src.ID,
						"state", result.State,
						"points", len(result.Measurements),
					)
				}
			}
		}
	}()

	<-ctx.Done()
	slog.Info("spc-agent shutting down")
}
