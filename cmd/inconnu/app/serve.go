// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/inconnu/pkg/broker"
	"github.com/stacklok/inconnu/pkg/broker/config"
	"github.com/stacklok/inconnu/pkg/logger"
)

// newServeCmd creates the serve command for starting the broker
func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the broker",
		Long: `Start the broker. It runs as a satellite when a hub URL is configured and as
a hub otherwise. The server shuts down gracefully on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}

			b, err := broker.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := b.Close(); err != nil {
					logger.Errorf("Failed to close secret store: %v", err)
				}
			}()

			if err := b.ListenAndServe(cmd.Context()); err != nil {
				return fmt.Errorf("server stopped: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().String("listen", "", "Address to listen on (default \":3001\")")
	cmd.Flags().String("public-url", "", "Externally visible origin of the broker")
	cmd.Flags().String("hub-url", "", "Run as a satellite of the hub at this URL")
	cmd.Flags().Bool("log-requests", false, "Log every request")
	cmd.Flags().Bool("metrics", false, "Serve Prometheus metrics at /metrics")

	for key, flag := range map[string]string{
		"listen":          "listen",
		"public_url":      "public-url",
		"hub.url":         "hub-url",
		"log_requests":    "log-requests",
		"metrics.enabled": "metrics",
	} {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			logger.Errorf("Error binding %s flag: %v", flag, err)
		}
	}

	return cmd
}
