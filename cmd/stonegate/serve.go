// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 StoneGate Contributors

package main

import (
	"context"
	"log/slog"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/stonegate-mc/stonegate/internal/admission"
	"github.com/stonegate-mc/stonegate/internal/api"
	"github.com/stonegate-mc/stonegate/internal/auth"
	"github.com/stonegate-mc/stonegate/internal/authcache"
	"github.com/stonegate-mc/stonegate/internal/config"
	"github.com/stonegate-mc/stonegate/internal/conflict"
	"github.com/stonegate-mc/stonegate/internal/identity/cache"
	"github.com/stonegate-mc/stonegate/internal/identity/resolver"
	"github.com/stonegate-mc/stonegate/internal/logging"
	"github.com/stonegate-mc/stonegate/internal/observability"
	"github.com/stonegate-mc/stonegate/internal/record"
	"github.com/stonegate-mc/stonegate/internal/record/postgres"
	"github.com/stonegate-mc/stonegate/internal/store"
	"github.com/stonegate-mc/stonegate/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// newServeCmd creates the serve subcommand.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the identity decision server",
		Long: `Start the decision server: the resolver pool, the two-tier resolution
cache, the authorization cache and the record coordinator, exposed to the host
transport layer over the decision API.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().String("server.listen_addr", "", "decision API listen address")
	cmd.Flags().String("server.metrics_addr", "", "metrics/health HTTP address")
	cmd.Flags().String("database.url", "", "PostgreSQL connection string")
	cmd.Flags().String("redis.url", "", "redis URL for the persistent resolution tier")
	cmd.Flags().String("log.level", "", "log level (debug, info, warn, error)")
	cmd.Flags().String("log.format", "", "log format (json or text)")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logging.SetDefault("stonegate", version, cfg.Log.Format, logging.ParseLevel(cfg.Log.Level))
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var ready atomic.Bool
	obs := observability.NewServer(cfg.Server.MetricsAddr, ready.Load)
	obsErrs, err := obs.Start()
	if err != nil {
		return oops.Code("SERVE_FAILED").With("operation", "start observability server").Wrap(err)
	}
	reg := obs.Registry()

	pool, err := store.Connect(ctx, cfg.Database.URL, cfg.Database.MaxConns, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	tasks := worker.NewWithRegistry(worker.Config{
		Workers:     cfg.Workers.Workers,
		QueueSize:   cfg.Workers.QueueSize,
		GracePeriod: cfg.Workers.GracePeriod,
	}, logger, reg)
	if err := tasks.Start(); err != nil {
		return oops.Code("SERVE_FAILED").With("operation", "start worker pool").Wrap(err)
	}

	records := record.NewCoordinator(postgres.NewRepository(pool), tasks, logger)

	authCache := authcache.New(logger,
		authcache.WithGuard(authcache.NewBruteForceGuard(authcache.GuardConfig{
			BlockThreshold: cfg.Auth.BruteForceThreshold,
			AttemptWindow:  cfg.Auth.BruteForceWindow,
		})),
		authcache.WithPremiumCache(authcache.NewPremiumCache(authcache.PremiumConfig{
			TTL: cfg.Auth.PremiumEntryTTL,
		})),
		authcache.WithRegistry(reg),
	)
	records.SetInvalidator(authCache)

	providers := make([]resolver.Provider, 0, len(cfg.Resolver.Providers))
	for _, profile := range cfg.Resolver.Profiles() {
		providers = append(providers, resolver.NewHTTPProvider(profile, nil, logger))
	}
	resolverPool := resolver.NewPool(providers, logger,
		resolver.WithAggregateTimeout(cfg.Resolver.AggregateTimeout),
		resolver.WithRegistry(reg),
	)

	var tier2 cache.Store
	if cfg.Redis.URL != "" {
		redisStore, redisErr := cache.NewRedisStore(ctx, cfg.Redis.URL)
		if redisErr != nil {
			return redisErr
		}
		defer func() {
			if closeErr := redisStore.Close(); closeErr != nil {
				logger.Warn("error closing redis store", slog.String("error", closeErr.Error()))
			}
		}()
		tier2 = redisStore
	}

	resolutions := cache.New(resolverPool, tier2, tasks, logger,
		cache.WithCapacity(cfg.Cache.Capacity),
		cache.WithTTLs(cfg.Cache.PremiumTTL, cfg.Cache.OfflineTTL),
		cache.WithSoftFraction(cfg.Cache.SoftFraction),
		cache.WithRegistry(reg),
	)

	machine := conflict.NewMachine(records, tasks, logger)
	admissions := admission.New(resolutions, records, machine, authCache, logger,
		admission.WithRegistry(reg))
	accounts := auth.NewService(records, authCache, auth.NewArgon2idHasher(), logger)

	handler := api.NewHandler(admissions, accounts, records, logger)
	apiServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	apiErrs := make(chan error, 1)
	go func() {
		defer close(apiErrs)
		if serveErr := apiServer.ListenAndServe(); serveErr != nil && serveErr != http.ErrServerClosed {
			apiErrs <- serveErr
		}
	}()

	ready.Store(true)
	logger.Info("stonegate serving",
		slog.String("listen_addr", cfg.Server.ListenAddr),
		slog.String("metrics_addr", obs.Addr()),
		slog.Int("providers", len(providers)))

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case serveErr := <-apiErrs:
		return oops.Code("SERVE_FAILED").With("operation", "decision api").Wrap(serveErr)
	case obsErr := <-obsErrs:
		return oops.Code("SERVE_FAILED").With("operation", "observability server").Wrap(obsErr)
	}

	// Shutdown order: stop admission intake first, then drain background
	// work, then close the stores the workers may still be writing to.
	ready.Store(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("decision api shutdown incomplete", slog.String("error", err.Error()))
	}

	tasks.Stop()

	if err := obs.Stop(shutdownCtx); err != nil {
		logger.Warn("observability server shutdown incomplete", slog.String("error", err.Error()))
	}

	logger.Info("stonegate stopped")
	return nil
}
