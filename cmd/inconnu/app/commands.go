// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app provides the entry point for the inconnu command-line application.
package app

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/inconnu/pkg/broker/config"
	"github.com/stacklok/inconnu/pkg/logger"
	"github.com/stacklok/inconnu/pkg/versions"
)

// NewRootCmd creates the root command for the inconnu CLI.
func NewRootCmd() *cobra.Command {
	v := config.NewViper()

	rootCmd := &cobra.Command{
		Use:               "inconnu",
		DisableAutoGenTag: true,
		Short:             "Inconnu - a stateless identity broker",
		Long: `Inconnu sends users through an upstream identity provider and hands the
resulting identity to the application that asked for it, optionally as a
signed token.

A broker runs as a hub, talking to identity providers directly, or as a
satellite that delegates authentication to a hub and keeps the identity in
a session cookie on its own domain.`,
		Run: func(cmd *cobra.Command, _ []string) {
			// If no subcommand is provided, print help
			if err := cmd.Help(); err != nil {
				logger.Errorf("Error displaying help: %v", err)
			}
		},
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			logger.Initialize()
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}

	rootCmd.PersistentFlags().StringP("config", "c", "",
		"Path to the configuration file (default: inconnu/config.yaml in the XDG config directories, if present)")
	if err := v.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")); err != nil {
		logger.Errorf("Error binding config flag: %v", err)
	}
	if file, err := config.DefaultConfigFile(); err == nil {
		v.SetDefault("config", file)
	}

	rootCmd.AddCommand(newServeCmd(v))
	rootCmd.AddCommand(newValidateCmd(v))
	rootCmd.AddCommand(newKeygenCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// newValidateCmd creates the validate command for checking configuration
func newValidateCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration",
		Long: `Load the configuration from the file given with --config (or the XDG
default) and the INCONNU_* environment variables, and report every problem
found.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("validation failed: %w", err)
			}

			mode := "hub"
			if cfg.SatelliteMode() {
				mode = "satellite of " + cfg.Hub.URL
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Configuration is valid (%s, listening on %s)\n", mode, cfg.Listen)
			return err
		},
	}
}

// newVersionCmd creates the version command
func newVersionCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := versions.GetVersionInfo()
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}
			_, err := fmt.Fprintf(out, "Version: %s\nCommit: %s\nBuilt: %s\nGo Version: %s\nPlatform: %s\n",
				info.Version, info.Commit, info.BuildDate, info.GoVersion, info.Platform)
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output version information as JSON")
	return cmd
}
