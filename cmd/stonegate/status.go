// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 StoneGate Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/stonegate-mc/stonegate/internal/store"
)

// newStatusCmd creates the status subcommand.
func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show database schema status",
		Long:  `Show the current migration version and any pending migrations.`,
		RunE:  runStatus,
	}
	cmd.Flags().String("database.url", "", "PostgreSQL connection string")
	return cmd
}

func runStatus(cmd *cobra.Command, _ []string) error {
	url, err := databaseURL(cmd)
	if err != nil {
		return err
	}

	migrator, err := store.NewMigrator(url)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			cmd.PrintErrln("warning: migrator close failed:", closeErr)
		}
	}()

	version, dirty, err := migrator.Version()
	if err != nil {
		return err
	}

	if version == 0 {
		cmd.Println("Schema version: none (no migrations applied)")
	} else {
		name, nameErr := store.MigrationName(version)
		if nameErr != nil {
			return nameErr
		}
		if name != "" {
			cmd.Printf("Schema version: %d (%s)\n", version, name)
		} else {
			cmd.Printf("Schema version: %d\n", version)
		}
	}
	if dirty {
		cmd.Println("WARNING: schema is dirty; a migration failed partway through")
	}

	pending, err := migrator.PendingMigrations()
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		cmd.Println("No pending migrations")
		return nil
	}
	cmd.Printf("Pending migrations: %d\n", len(pending))
	for _, v := range pending {
		name, nameErr := store.MigrationName(v)
		if nameErr != nil {
			return nameErr
		}
		cmd.Printf("  %06d %s\n", v, name)
	}
	return nil
}
