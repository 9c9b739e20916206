// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Petiverso Contributors

// Package store connects to PostgreSQL and manages the auth schema.
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/petiverso/petiverso/internal/config"
)

// PoolConfig translates DatabaseConfig into pgxpool settings.
func PoolConfig(cfg config.DatabaseConfig) (*pgxpool.Config, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, oops.Code("DB_CONFIG_INVALID").With("operation", "parse database url").Wrap(err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if poolCfg.MinConns > poolCfg.MaxConns {
		return nil, oops.Code("DB_CONFIG_INVALID").
			With("min_conns", poolCfg.MinConns).
			With("max_conns", poolCfg.MaxConns).
			Errorf("min_conns exceeds max_conns")
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}
	return poolCfg, nil
}

// Connect opens a pool and pings it, retrying with backoff until
// cfg.ConnectTimeout elapses.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := PoolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var lastErr error
	backoff := retry.WithCappedDuration(time.Second, retry.NewExponential(100*time.Millisecond))
	err = retry.Do(pingCtx, backoff, func(ctx context.Context) error {
		if lastErr = pool.Ping(ctx); lastErr != nil {
			return retry.RetryableError(lastErr)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		if lastErr == nil {
			lastErr = err
		}
		return nil, oops.Code("DB_CONNECT_FAILED").
			With("operation", "ping").
			With("timeout", timeout.String()).
			Wrap(lastErr)
	}
	return pool, nil
}

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Readiness returns a probe reporting whether the database answers a ping.
func Readiness(db Pinger) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if err := db.Ping(ctx); err != nil {
			return oops.Code("DB_NOT_READY").Wrap(err)
		}
		return nil
	}
}
