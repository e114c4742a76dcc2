// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 StoneGate Contributors

package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the StoneGate CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stonegate",
		Short: "StoneGate - identity resolution and authorization for game servers",
		Long: `StoneGate decides whether a connecting account name is a centrally-verified
premium identity or a locally-registered offline one, resolves collisions
between the two namespaces, and keeps a low-latency decision cache so that
connection admission never blocks on a slow remote identity service.`,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	// Add subcommands
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}
