package cmd

import (
	"context"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/joescharf/forge/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for Claude Code integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

The server acts as the configured user (--as, $FORGE_USER or $USER), so
tool calls see and edit only what that user can. Configure in Claude Code with:

  {
    "mcpServers": {
      "forge": { "command": "forge", "args": ["mcp", "--as", "alice"] }
    }
  }

Available tools: forge_list_tasks, forge_get_task, forge_create_task,
forge_update_task, forge_list_diffs, forge_get_diff, forge_raw_file`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return mcpRun()
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func mcpRun() error {
	ts, err := openTaskSession()
	if err != nil {
		return err
	}
	srv := mcp.NewServer(ts.store, ts.editor, taskApplication(), ts.actor)

	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals()...)
	defer stop()
	return srv.ServeStdio(ctx)
}
