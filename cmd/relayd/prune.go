package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func buildPruneCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "prune <session-id>",
		Short: "Run one pruning pass against a session's message log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrune(configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	return cmd
}

func runPrune(configPath, sessionID string) error {
	rt, err := buildRuntime(configPath, nil)
	if err != nil {
		return err
	}
	defer rt.shutdown(context.Background())

	result, err := rt.pruning.Run(sessionID)
	if err != nil {
		return fmt.Errorf("prune session %s: %w", sessionID, err)
	}

	fmt.Printf("session %s: pruned %d items (%d tokens saved)\n", sessionID, result.ItemsPruned, result.TotalTokensSaved)
	fmt.Printf("  deduplication:    %d\n", result.Strategies.Deduplication)
	fmt.Printf("  supersede-writes: %d\n", result.Strategies.SupersedeWrites)
	fmt.Printf("  purge-errors:     %d\n", result.Strategies.PurgeErrors)
	return nil
}
