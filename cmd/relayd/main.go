// Command relayd runs the background agent scheduler, context-window
// recovery pipeline, and tool-output pruning engine as a standalone daemon,
// driven entirely through the backend.Client interface — the concrete
// model-provider and session-transport wiring is the host runtime's job,
// not this binary's.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relayd",
		Short: "Background agent scheduler, recovery pipeline, and pruning engine",
		Long: `relayd runs the context-window recovery pipeline, background agent
scheduler, and tool-output pruning engine that back a coding assistant's
long-running sessions.`,
	}

	cmd.AddCommand(buildServeCmd(), buildPruneCmd(), buildStatusCmd(), buildConfigSchemaCmd())
	return cmd
}
