package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/platinummonkey/pilotgate/pkg/api"
	"github.com/platinummonkey/pilotgate/pkg/bootstrap"
	"github.com/platinummonkey/pilotgate/pkg/config"
	"github.com/platinummonkey/pilotgate/pkg/entitlements"
	"github.com/platinummonkey/pilotgate/pkg/gate"
	"github.com/platinummonkey/pilotgate/pkg/observability"
	"github.com/platinummonkey/pilotgate/pkg/orgs"
	"github.com/platinummonkey/pilotgate/pkg/quota"
)

// Version is set at build time
var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "pilotgate: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout).
		WithField("service", "pilotgate").
		WithField("version", Version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	otelCfg := cfg.Observability.OTel()
	otelCfg.ServiceVersion = Version
	providers, err := observability.InitOTel(ctx, otelCfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	var (
		registry *prometheus.Registry
		metrics  *observability.Metrics
	)
	if cfg.Observability.MetricsEnabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = observability.NewMetrics(registry)
		if providers != nil {
			otelMetrics, err := observability.NewOTelMetrics()
			if err != nil {
				return fmt.Errorf("failed to create OpenTelemetry instruments: %w", err)
			}
			metrics.MirrorTo(otelMetrics)
		}
	}

	stores, err := bootstrap.Open(ctx, cfg, logger, metrics)
	if err != nil {
		return err
	}
	if err := stores.WatchOverrides(ctx); err != nil {
		logger.WithError(err).Warn("Override hot reload disabled")
	}
	if cm := stores.Connections(); cm != nil {
		cm.StartMaintenance(ctx, 30*time.Second, metrics)
	}

	loc, err := cfg.Gate.Location()
	if err != nil {
		return err
	}

	limits := entitlements.NewResolver(stores.Overrides,
		entitlements.WithCacheTTL(cfg.Gate.EntitlementCacheTTL),
		entitlements.WithCacheSize(cfg.Gate.EntitlementCacheSize),
		entitlements.WithLogger(logger),
		entitlements.WithMetrics(metrics),
	)
	locker := orgs.NewLocker(stores.Orgs, logger, metrics)

	server := api.NewServer(api.Dependencies{
		Gate: gate.New(locker,
			gate.WithBillingPath(cfg.Gate.BillingPath),
			gate.WithMetrics(metrics),
		),
		Quotas: quota.NewService(stores.Counters, limits,
			quota.WithLocation(loc),
			quota.WithMetrics(metrics),
		),
		Limits:    limits,
		Activator: stores.Orgs,
	},
		api.WithLogger(logger),
		api.WithBillingPath(cfg.Gate.BillingPath),
		api.WithMetrics(metrics, registry),
		api.WithHealthChecker(observability.NewHealthChecker(stores.DB(), stores.Redis(),
			observability.WithRedisRequired(true),
			observability.WithVersion(Version),
		)),
	)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc("stores", func(context.Context) error {
		cancel()
		return stores.Close()
	})
	shutdown.RegisterShutdownFunc("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})

	serveErr := make(chan error, 1)
	go func() {
		defer observability.RecoverPanic(logger, "http server")
		logger.WithField("addr", httpServer.Addr).Info("Starting pilotgate")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- shutdown.WaitForShutdown()
	}()

	select {
	case err := <-serveErr:
		logger.WithError(err).Error("HTTP server failed")
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancelShutdown()
		return errors.Join(fmt.Errorf("server failed: %w", err), shutdown.Shutdown(shutdownCtx))
	case err := <-waitErr:
		return err
	}
}
