package cmd

import (
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/devaihq/devai/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for AI assistant integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets MCP clients such as Claude Code browse projects, file and
execute tasks, and merge the resulting pull requests. Configure in
Claude Code with:

  {
    "mcpServers": {
      "devai": { "command": "devai", "args": ["mcp"] }
    }
  }

Available tools: devai_list_projects, devai_get_project,
devai_create_task, devai_list_tasks, devai_get_task,
devai_execute_task, devai_list_prs, devai_merge_pr, devai_stats`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), shutdownSignals()...)
		defer stop()

		runner, gw, err := buildDeps(ctx, s)
		if err != nil {
			return err
		}

		srv := mcp.NewServer(s, runner, gw, viper.GetDuration("github.timeout"))
		return srv.ServeStdio(ctx)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
