package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/transitflow/transitflow/pkg/config"
	"github.com/transitflow/transitflow/pkg/interfaces"
	"github.com/transitflow/transitflow/pkg/logging"
	"github.com/transitflow/transitflow/pkg/resilience"
	"github.com/transitflow/transitflow/pkg/resolver"
	"github.com/transitflow/transitflow/pkg/sources/transportrest"
	"github.com/transitflow/transitflow/pkg/storage"
	"github.com/transitflow/transitflow/pkg/telemetry"
)

// app holds what every command needs after configuration is loaded.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	shutdown telemetry.ShutdownFunc
}

// setup loads and validates configuration, then builds the logger and tracer.
func setup(ctx context.Context, cmd *cobra.Command) (*app, error) {
	mgr := config.NewManager()
	if err := mgr.Load(configPath); err != nil {
		return nil, err
	}
	cfg := mgr.Get()
	applyGlobalFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := logging.New(os.Stderr, logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	for _, p := range mgr.GetPaths() {
		logger.Debug("config loaded", "path", p)
	}

	shutdown, err := telemetry.Setup(ctx, telemetry.ConfigFrom(cfg.Telemetry, version))
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
		shutdown = func(context.Context) error { return nil }
	}

	return &app{cfg: cfg, logger: logger, shutdown: shutdown}, nil
}

func applyGlobalFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format = logFormat
	}
	if flags.Changed("backend") {
		cfg.Storage.Backend = backend
	}
	if flags.Changed("prefix") {
		cfg.Storage.Prefix = prefix
	}
	if flags.Changed("local-root") {
		cfg.Storage.Local.Root = localRoot
	}
}

// close flushes pending spans.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.API.Timeout)
	defer cancel()
	if err := a.shutdown(ctx); err != nil {
		a.logger.Warn("trace flush failed", "error", err)
	}
}

func (a *app) client() (*transportrest.Client, error) {
	return transportrest.NewClient(a.cfg.API.BaseURL, &transportrest.Options{
		Timeout:   a.cfg.API.Timeout,
		UserAgent: fmt.Sprintf("%s/%s", a.cfg.API.UserAgent, version),
		Duration:  a.cfg.API.Duration,
		Results:   a.cfg.API.Results,
	})
}

// resolver builds a station resolver, backed by Redis when an address is
// configured. A Redis outage degrades to upstream lookups.
func (a *app) resolver(ctx context.Context, lookup resolver.Lookup) (*resolver.Resolver, func()) {
	opts := []resolver.Option{
		resolver.WithRetry(resilience.FromConfig(a.cfg.Retry)),
		resolver.WithLogger(a.logger),
	}
	closeFn := func() {}

	if a.cfg.Cache.RedisAddress != "" {
		cache, err := resolver.NewRedisCache(ctx, resolver.RedisConfigFrom(a.cfg.Cache))
		if err != nil {
			a.logger.Warn("station cache unavailable", "address", a.cfg.Cache.RedisAddress, "error", err)
		} else {
			opts = append(opts, resolver.WithCache(cache))
			closeFn = func() { _ = cache.Close() }
		}
	}
	return resolver.New(lookup, opts...), closeFn
}

func (a *app) store(ctx context.Context) (interfaces.ObjectStore, error) {
	return storage.Open(ctx, a.cfg.Storage)
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
