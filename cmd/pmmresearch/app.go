package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/mohammad-safakhou/pmmresearch/config"
	"github.com/mohammad-safakhou/pmmresearch/internal/backend"
	"github.com/mohammad-safakhou/pmmresearch/internal/cache"
	"github.com/mohammad-safakhou/pmmresearch/internal/logging"
	"github.com/mohammad-safakhou/pmmresearch/internal/prompts"
	"github.com/mohammad-safakhou/pmmresearch/internal/research"
	"github.com/mohammad-safakhou/pmmresearch/internal/search"
	"github.com/mohammad-safakhou/pmmresearch/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// app holds the process-wide dependencies shared by subcommands.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	tele     *telemetry.Telemetry
	prompts  *prompts.Store
	cache    cache.Cache
	pipeline *research.Pipeline
}

func loadApp(cfgPath string) (*app, error) {
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.General.LogLevel, cfg.General.Debug)
	if err != nil {
		return nil, err
	}
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	tele, err := telemetry.New(registry, cfg.Telemetry.Enabled)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	return &app{cfg: cfg, logger: logger, registry: registry, tele: tele}, nil
}

func (a *app) promptOptions() prompts.Options {
	return prompts.Options{Dir: a.cfg.Prompts.Dir, Names: a.cfg.Prompts.Names, Default: a.cfg.Prompts.Default}
}

// buildPipeline wires backends, search, prompts and cache. Missing
// credentials disable the matching component; they are not errors.
func (a *app) buildPipeline(ctx context.Context) error {
	if !a.cfg.HasBackend() {
		a.logger.Warn("no backend credentials configured, every run will return an error report")
	}
	primary := backend.NewFromConfig(a.cfg.Backends.Primary, a.cfg.Retry, a.logger, a.tele)
	secondary := backend.NewFromConfig(a.cfg.Backends.Secondary, a.cfg.Retry, a.logger, a.tele)

	provider, err := search.New(a.cfg.Search)
	if err != nil {
		return err
	}
	if provider == nil {
		a.logger.Info("web search disabled (no search api key)")
	}

	a.prompts = prompts.NewStore(a.promptOptions(), a.logger, a.tele)
	if err := a.openCache(ctx); err != nil {
		return err
	}

	a.pipeline = research.New(research.Deps{
		Primary:   primary,
		Secondary: secondary,
		Search:    provider,
		Prompts:   a.prompts,
		Cache:     a.cache,
		Logger:    a.logger,
		Telemetry: a.tele,
	}, research.SettingsFromConfig(a.cfg))
	return nil
}

func (a *app) openCache(ctx context.Context) error {
	c, err := cache.Open(ctx, a.cfg.Cache, a.logger)
	if err != nil {
		return err
	}
	a.cache = c
	return nil
}

func (a *app) Close() error {
	var errs []error
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
