// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenlock Contributors

package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the tokenlock CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokenlock",
		Short: "tokenlock - passphrase-gated credential release",
		Long: `tokenlock keeps per-user credentials sealed under a passphrase only the
user knows. When a caller needs a credential, tokenlock prompts the user
through a chat bridge and releases the decrypted credential once the user
answers.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: $XDG_CONFIG_HOME/tokenlock/config.yaml)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewEnrollCmd())
	cmd.AddCommand(NewStatusCmd())

	return cmd
}
