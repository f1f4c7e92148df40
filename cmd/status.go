package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/devaihq/devai/internal/output"
	"github.com/devaihq/devai/internal/stats"
)

var statusCmd = &cobra.Command{
	Use:   "status [project]",
	Short: "Show the devai dashboard overview",
	Long: `Show a cross-project overview or detailed status for one project.

Without arguments, shows totals, readiness of the AI and GitHub
integrations, and recent activity. With a project name, shows detailed
status for that project.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			return projectShowRun(args[0]) // reuse project show for detail
		}
		return statusOverviewRun()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func statusOverviewRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	overview, err := stats.NewCollector(s).Overview(ctx, 5)
	if err != nil {
		return err
	}
	if printJSON(overview) {
		return nil
	}

	fmt.Fprintf(ui.Out, "%s %s\n\n", output.Cyan("devai"), buildVersion)
	fmt.Fprintf(ui.Out, "  Projects:       %d\n", overview.Projects)
	fmt.Fprintf(ui.Out, "  Tasks:          %d pending, %d in progress, %d completed, %d failed\n",
		overview.Tasks.Pending, overview.Tasks.InProgress, overview.Tasks.Completed, overview.Tasks.Failed)
	fmt.Fprintf(ui.Out, "  Pull requests:  %d open, %d merged, %d closed\n",
		overview.PullRequests.Open, overview.PullRequests.Merged, overview.PullRequests.Closed)
	fmt.Fprintln(ui.Out)

	settings, err := s.GetSettings(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(ui.Out, "  AI:             %s\n", readiness(newLLMClient(settings) != nil, "set ANTHROPIC_API_KEY"))
	fmt.Fprintf(ui.Out, "  GitHub:         %s\n", readiness(githubToken(settings) != "", "set GITHUB_TOKEN"))

	if pid, running := pidFile().IsRunning(); running {
		fmt.Fprintf(ui.Out, "  Server:         %s (pid %d)\n", output.Green("running"), pid)
	} else {
		fmt.Fprintf(ui.Out, "  Server:         %s\n", output.Yellow("stopped"))
	}

	if len(overview.RecentTasks) > 0 {
		fmt.Fprintln(ui.Out)
		fmt.Fprintf(ui.Out, "%s\n", output.Cyan("Recent tasks"))
		table := ui.Table([]string{"ID", "Title", "Priority", "Status", "Updated"})
		for _, t := range overview.RecentTasks {
			table.Append([]string{
				shortID(t.ID),
				t.Title,
				output.PriorityColor(string(t.Priority)),
				output.StatusColor(string(t.Status)),
				timeAgo(t.UpdatedAt),
			})
		}
		table.Render()
	}

	if overview.Projects == 0 {
		fmt.Fprintln(ui.Out)
		ui.Info("No projects yet. Use 'devai project add <name>' to get started.")
	}
	return nil
}

func readiness(ok bool, hint string) string {
	if ok {
		return output.Green("configured")
	}
	return fmt.Sprintf("%s (%s)", output.Yellow("not configured"), hint)
}
