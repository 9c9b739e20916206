// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Petiverso Contributors

package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/petiverso/petiverso/internal/config"
)

// serviceName identifies this process in logs.
const serviceName = "petiverso"

// NewRootCmd creates the root command for the Petiverso CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "petiverso",
		Short: "Petiverso - pet management API",
		Long: `Petiverso serves the pet management API: account registration,
cookie-session login and logout, and sliding session renewal.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "config file path (YAML)")

	cmd.AddCommand(NewServeCmd(nil))
	cmd.AddCommand(NewMigrateCmd(nil))
	cmd.AddCommand(NewSessionsCmd(nil))
	cmd.AddCommand(NewConfigCmd())

	return cmd
}

// loadConfig layers the --config file, the environment and the command's
// changed flags over the defaults.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, oops.Code("CONFIG_INVALID").Wrap(err)
	}
	return config.Load(path, cmd.Flags())
}

// requireDatabase checks the subset of the configuration that database
// maintenance commands depend on.
func requireDatabase(cfg *config.Config) error {
	if cfg.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").
			With("key", "database.url").
			Errorf("database.url is required (set DATABASE_URL)")
	}
	return nil
}
