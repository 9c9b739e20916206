// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Petiverso Contributors

package main

import (
	"context"
	"log/slog"
	"net"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/petiverso/petiverso/internal/auth/postgres"
	"github.com/petiverso/petiverso/internal/config"
	"github.com/petiverso/petiverso/internal/observability"
	"github.com/petiverso/petiverso/internal/store"
)

// DBPool is the part of *pgxpool.Pool the commands use.
type DBPool interface {
	postgres.Pool
	Ping(ctx context.Context) error
	Close()
}

// PoolFactory opens a database pool.
type PoolFactory func(ctx context.Context, cfg config.DatabaseConfig) (DBPool, error)

// ObservabilityServer interface wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Registry() *prometheus.Registry
}

// SchemaMigrator interface wraps the methods used from store.Migrator.
type SchemaMigrator interface {
	Up() error
	Down() error
	Force(version int) error
	Status() (*store.Status, error)
	Close() error
}

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// PoolFactory connects to PostgreSQL.
	// Default: store.Connect
	PoolFactory PoolFactory

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer

	// ListenerFactory creates the API listener.
	// Default: net.Listen
	ListenerFactory func(network, address string) (net.Listener, error)
}

// MigrateDeps contains injectable dependencies for the migrate command.
type MigrateDeps struct {
	// MigratorFactory opens a migrator for the database URL.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (SchemaMigrator, error)
}

// SessionsDeps contains injectable dependencies for the sessions command.
type SessionsDeps struct {
	// PoolFactory connects to PostgreSQL.
	// Default: store.Connect
	PoolFactory PoolFactory
}

func defaultPoolFactory(ctx context.Context, cfg config.DatabaseConfig) (DBPool, error) {
	pool, err := store.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return pool, nil
}

func (d *ServeDeps) withDefaults() *ServeDeps {
	if d == nil {
		d = &ServeDeps{}
	}
	if d.PoolFactory == nil {
		d.PoolFactory = defaultPoolFactory
	}
	if d.ObservabilityServerFactory == nil {
		d.ObservabilityServerFactory = func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, readinessChecker, observability.WithLogger(slog.Default()))
		}
	}
	if d.ListenerFactory == nil {
		d.ListenerFactory = net.Listen
	}
	return d
}

func (d *MigrateDeps) withDefaults() *MigrateDeps {
	if d == nil {
		d = &MigrateDeps{}
	}
	if d.MigratorFactory == nil {
		d.MigratorFactory = func(databaseURL string) (SchemaMigrator, error) {
			return store.NewMigrator(databaseURL)
		}
	}
	return d
}

func (d *SessionsDeps) withDefaults() *SessionsDeps {
	if d == nil {
		d = &SessionsDeps{}
	}
	if d.PoolFactory == nil {
		d.PoolFactory = defaultPoolFactory
	}
	return d
}
