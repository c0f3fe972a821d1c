package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "./relayd.yaml"

// shutdownTimeout bounds how long the metrics server is given to drain
// in-flight requests once a shutdown signal arrives.
const shutdownTimeout = 30 * time.Second

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, recovery controller, and pruning engine",
		Long: `serve starts the background agent scheduler, context-window recovery
controller, and tool-output pruning engine as long-lived in-process
components, wired to the backend.Client the host runtime supplies. This
standalone binary wires backend.NullClient, which accepts every call but
performs no session I/O; embed relayd's packages directly to drive them
against a real provider.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	rt, err := buildRuntime(configPath, nil)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	metricsServer := rt.serveMetrics()

	rt.logger.Info(ctx, "relayd started",
		"message_root", rt.cfg.Storage.MessageRoot,
		"part_root", rt.cfg.Storage.PartRoot,
		"metrics_enabled", rt.cfg.Metrics.Enabled,
	)

	<-ctx.Done()
	rt.logger.Info(context.Background(), "shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown metrics server: %w", err)
		}
	}
	if err := rt.shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown tracer: %w", err)
	}

	rt.logger.Info(context.Background(), "relayd stopped gracefully")
	return nil
}
