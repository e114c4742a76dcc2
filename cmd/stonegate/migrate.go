// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 StoneGate Contributors

package main

import (
	"os"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/stonegate-mc/stonegate/internal/config"
	"github.com/stonegate-mc/stonegate/internal/store"
)

// newMigrateCmd creates the migrate subcommand.
func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Run all pending database migrations against the PostgreSQL database.

With --down the schema is rolled back to empty instead, dropping all player
records.`,
		RunE: runMigrate,
	}
	cmd.Flags().String("database.url", "", "PostgreSQL connection string")
	cmd.Flags().Bool("down", false, "roll the schema back to empty (destructive)")
	return cmd
}

// databaseURL resolves the connection string from flags, config file, then
// the DATABASE_URL environment variable.
func databaseURL(cmd *cobra.Command) (string, error) {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return "", err
	}
	url := cfg.Database.URL
	if url == "" {
		url = os.Getenv("DATABASE_URL")
	}
	if url == "" {
		return "", oops.Code("CONFIG_INVALID").Errorf("database url is required (flag, config file or DATABASE_URL)")
	}
	return url, nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
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

	if down, _ := cmd.Flags().GetBool("down"); down {
		cmd.Println("Rolling the schema back to empty...")
		if err := migrator.Down(); err != nil {
			return err
		}
		cmd.Println("Rollback completed")
		return nil
	}

	pending, err := migrator.PendingMigrations()
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		cmd.Println("No pending migrations")
		return nil
	}

	cmd.Printf("Applying %d migration(s)...\n", len(pending))
	if err := migrator.Up(); err != nil {
		return err
	}

	cmd.Println("Migrations completed successfully")
	return nil
}
