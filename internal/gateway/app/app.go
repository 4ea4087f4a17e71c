package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"diffgrid/internal/cache/resultcache"
	"diffgrid/internal/gateway/config"
	"diffgrid/internal/gateway/handler"
	"diffgrid/internal/gateway/server"
	"diffgrid/internal/inference"
	"diffgrid/internal/observability"
	"diffgrid/internal/orchestrator"
	"diffgrid/internal/signing"
)

type App struct {
	server  *server.Server
	closers []io.Closer
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return NewWithConfig(context.Background(), cfg)
}

func NewWithConfig(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := observability.NewLogger(observability.LogConfig{Level: cfg.LogLevel, Format: cfg.LogFormat})
	slog.SetDefault(logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Dependencies
	stores, err := initStores(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	var closers []io.Closer
	if stores.closer != nil {
		closers = append(closers, stores.closer)
	}
	if stores.hot != nil {
		stores.hot.MustRegisterMetrics(registry)
	}

	backend, err := inference.New(inference.Config{
		BaseURL:     cfg.Banana.APIURL,
		APIKey:      cfg.Banana.APIKey,
		ModelKey:    cfg.Banana.ModelKey,
		Timeout:     cfg.Banana.Timeout,
		MaxAttempts: cfg.Banana.MaxAttempts,
		RPS:         cfg.Banana.RPS,
		Burst:       cfg.Banana.Burst,
		Logger:      logger,
	})
	if err != nil {
		closeAll(closers)
		return nil, fmt.Errorf("failed to initialize inference client: %w", err)
	}

	orch, err := orchestrator.New(orchestrator.Deps{
		Signer:  signing.New(cfg.Signing.Key).WithLogger(logger),
		Cache:   resultcache.New(stores.store),
		Backend: backend,
		Metrics: orchestrator.MustNewMetrics(registry),
		Logger:  logger,
	})
	if err != nil {
		closeAll(closers)
		return nil, fmt.Errorf("failed to initialize orchestrator: %w", err)
	}

	// Routing & Server
	diffusionHandler := handler.NewDiffusionHandler(orch, logger, cfg.Gateway.WatchInterval)
	mux := server.NewMux(diffusionHandler, server.RouteConfig{
		RootPath:   cfg.Gateway.RootPath,
		AuthHeader: cfg.Gateway.AuthHeader,
		Gatherer:   registry,
		Logger:     logger,
	})
	srv := server.New(cfg.Port, mux, logger)

	return &App{
		server:  srv,
		closers: closers,
	}, nil
}

func (a *App) Start() error {
	return a.server.Start()
}

func (a *App) Shutdown(ctx context.Context) error {
	return errors.Join(a.server.Shutdown(ctx), closeAll(a.closers))
}

func closeAll(closers []io.Closer) error {
	var err error
	for _, c := range closers {
		err = errors.Join(err, c.Close())
	}
	return err
}
