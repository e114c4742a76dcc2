// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 StoneGate Contributors

// Package store provides database connectivity and schema management for the
// player-record store.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Connect defaults.
const (
	connectBackoffBase = 500 * time.Millisecond
	connectMaxRetries  = 5
)

// Connect builds a pgx connection pool and verifies reachability with a
// bounded exponential backoff. Game servers frequently start before their
// database in orchestrated deployments; retrying here avoids a crash loop.
func Connect(ctx context.Context, url string, maxConns int32, logger *slog.Logger) (*pgxpool.Pool, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if url == "" {
		return nil, oops.Code("STORE_CONFIG_INVALID").Errorf("database url is required")
	}

	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, oops.Code("STORE_CONFIG_INVALID").
			With("operation", "parse database url").
			Wrap(err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, oops.Code("STORE_CONNECT_FAILED").
			With("operation", "create pool").
			Wrap(err)
	}

	backoff := retry.WithMaxRetries(connectMaxRetries, retry.NewExponential(connectBackoffBase))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if pingErr := pool.Ping(ctx); pingErr != nil {
			logger.Warn("database not reachable yet, retrying",
				slog.String("error", pingErr.Error()))
			return retry.RetryableError(pingErr)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, oops.Code("STORE_CONNECT_FAILED").
			With("operation", "ping").
			Wrap(err)
	}

	logger.Info("connected to player-record store")
	return pool, nil
}
