// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Petiverso Contributors

package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/petiverso/petiverso/internal/auth/postgres"
)

// NewSessionsCmd creates the sessions subcommand.
func NewSessionsCmd(deps *SessionsDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Maintain stored sessions",
	}
	cmd.PersistentFlags().String("database-url", "", "PostgreSQL URL (default: DATABASE_URL)")

	cmd.AddCommand(&cobra.Command{
		Use:   "prune",
		Short: "Delete expired sessions",
		Long: `Delete every session whose expiry has passed. Expired sessions are
already rejected on use, so pruning only reclaims storage.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps := deps.withDefaults()

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := requireDatabase(cfg); err != nil {
				return err
			}

			pool, err := deps.PoolFactory(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer pool.Close()

			n, err := postgres.NewSessionRepository(pool).DeleteExpired(cmd.Context(), time.Now().UTC())
			if err != nil {
				return err
			}
			cmd.Printf("Pruned %d expired sessions\n", n)
			return nil
		},
	})

	return cmd
}
