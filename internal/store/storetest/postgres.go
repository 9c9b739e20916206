// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Petiverso Contributors

// Package storetest starts a disposable PostgreSQL for integration tests.
package storetest

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/petiverso/petiverso/internal/config"
	"github.com/petiverso/petiverso/internal/store"
)

// Database is a running, migrated PostgreSQL container.
type Database struct {
	URL       string
	Pool      *pgxpool.Pool
	container *postgres.PostgresContainer
}

// Start runs a postgres:16-alpine container and applies every migration.
func Start(ctx context.Context) (*Database, error) {
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("petiverso_test"),
		postgres.WithUsername("petiverso"),
		postgres.WithPassword("petiverso"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, oops.Code("TEST_DB_START_FAILED").Wrap(err)
	}

	db := &Database{container: container}

	db.URL, err = container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		db.Close(ctx)
		return nil, oops.Code("TEST_DB_START_FAILED").With("operation", "connection string").Wrap(err)
	}

	migrator, err := store.NewMigrator(db.URL)
	if err != nil {
		db.Close(ctx)
		return nil, err
	}
	upErr := migrator.Up()
	_ = migrator.Close() //nolint:errcheck // migration result takes precedence
	if upErr != nil {
		db.Close(ctx)
		return nil, upErr
	}

	db.Pool, err = store.Connect(ctx, config.DatabaseConfig{URL: db.URL, MaxConns: 8})
	if err != nil {
		db.Close(ctx)
		return nil, err
	}
	return db, nil
}

// Truncate empties every auth table.
func (d *Database) Truncate(ctx context.Context) error {
	_, err := d.Pool.Exec(ctx, `TRUNCATE login_attempts, sessions, users`)
	return err
}

// Close releases the pool and terminates the container.
func (d *Database) Close(ctx context.Context) {
	if d.Pool != nil {
		d.Pool.Close()
	}
	_ = d.container.Terminate(ctx) //nolint:errcheck // best-effort teardown
}
