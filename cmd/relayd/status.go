package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relaycore/relaycore/internal/config"
)

func buildStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Validate configuration and report effective settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	return cmd
}

func buildConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config-schema",
		Short: "Print the JSON Schema for relayd's YAML configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := config.JSONSchema()
			if err != nil {
				return fmt.Errorf("generate config schema: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(append(schema, '\n'))
			return err
		},
	}
}

func runStatus(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(out, "config load failed: %v\n", err)
		return err
	}

	fmt.Fprintln(out, "config:", configPath, "(valid)")
	fmt.Fprintf(out, "  storage:     message_root=%s part_root=%s\n", cfg.Storage.MessageRoot, cfg.Storage.PartRoot)
	fmt.Fprintf(out, "  concurrency: default_limit_per_key=%d\n", cfg.Concurrency.DefaultLimitPerKey)
	fmt.Fprintf(out, "  recovery:    retry(initial=%.0fms max=%.0fms factor=%.1f attempts=%d reset=%s) truncate(min_size=%d max_parts=%d)\n",
		cfg.Recovery.Retry.InitialMs, cfg.Recovery.Retry.MaxMs, cfg.Recovery.Retry.Factor,
		cfg.Recovery.Retry.MaxAttempts, cfg.Recovery.Retry.ResetWindow,
		cfg.Recovery.Truncate.MinOutputSizeToTruncate, cfg.Recovery.Truncate.MaxPartsPerPass)
	fmt.Fprintf(out, "  pruning:     protected_tools=%v error_purge_age=%s\n", cfg.Pruning.ProtectedTools, cfg.Pruning.ErrorPurgeAge)
	fmt.Fprintf(out, "  logging:     level=%s format=%s\n", cfg.Logging.Level, cfg.Logging.Format)
	fmt.Fprintf(out, "  metrics:     enabled=%t addr=%s\n", cfg.Metrics.Enabled, cfg.Metrics.Addr)
	return nil
}
