package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/devaihq/devai/internal/models"
	"github.com/devaihq/devai/internal/output"
	"github.com/devaihq/devai/internal/store"
)

var prStatus string

var prCmd = &cobra.Command{
	Use:   "pr",
	Short: "Manage pull requests",
	Long:  "List, inspect, merge, and close the pull requests devai created.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return prListRun("")
	},
}

var prListCmd = &cobra.Command{
	Use:     "list [project]",
	Aliases: []string{"ls"},
	Short:   "List pull requests",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var projectRef string
		if len(args) > 0 {
			projectRef = args[0]
		}
		return prListRun(projectRef)
	},
}

var prShowCmd = &cobra.Command{
	Use:   "show <pr-id>",
	Short: "Show pull request details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return prShowRun(args[0])
	},
}

var prMergeCmd = &cobra.Command{
	Use:   "merge <pr-id>",
	Short: "Merge a pull request",
	Long:  "Merge a pull request. For GitHub projects this merges the real PR on GitHub.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return prResolveRun(cmd.Context(), args[0], models.PRStatusMerged)
	},
}

var prCloseCmd = &cobra.Command{
	Use:   "close <pr-id>",
	Short: "Close a pull request without merging",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return prResolveRun(cmd.Context(), args[0], models.PRStatusClosed)
	},
}

func init() {
	prListCmd.Flags().StringVar(&prStatus, "status", "", "Filter by status: open, merged, closed")

	prCmd.AddCommand(prListCmd)
	prCmd.AddCommand(prShowCmd)
	prCmd.AddCommand(prMergeCmd)
	prCmd.AddCommand(prCloseCmd)
	rootCmd.AddCommand(prCmd)
}

func prListRun(projectRef string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	filter := store.PRListFilter{Status: models.PRStatus(prStatus)}

	if projectRef != "" {
		p, err := resolveProject(ctx, s, projectRef)
		if err != nil {
			return err
		}
		filter.ProjectID = p.ID
	}

	prs, err := s.ListPullRequests(ctx, filter)
	if err != nil {
		return err
	}
	if printJSON(prs) {
		return nil
	}

	if len(prs) == 0 {
		ui.Info("No pull requests found.")
		return nil
	}

	// Build a project name cache for display
	projectNames := make(map[string]string)

	table := ui.Table([]string{"ID", "Project", "Title", "Branch", "Status", "GH#"})
	for _, pr := range prs {
		projName := projectNames[pr.ProjectID]
		if projName == "" {
			if p, err := s.GetProject(ctx, pr.ProjectID); err == nil {
				projName = p.Name
				projectNames[pr.ProjectID] = projName
			}
		}

		ghStr := ""
		if pr.GitHubPRNumber > 0 {
			ghStr = fmt.Sprintf("#%d", pr.GitHubPRNumber)
		}

		_ = table.Append([]string{
			shortID(pr.ID),
			projName,
			pr.Title,
			pr.BranchName,
			output.StatusColor(string(pr.Status)),
			ghStr,
		})
	}
	_ = table.Render()
	return nil
}

func prShowRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	pr, err := findPR(ctx, s, id)
	if err != nil {
		return err
	}
	if printJSON(pr) {
		return nil
	}

	projName := ""
	if p, err := s.GetProject(ctx, pr.ProjectID); err == nil {
		projName = p.Name
	}

	fmt.Fprintf(ui.Out, "%s  %s\n", output.Cyan(shortID(pr.ID)), pr.Title)
	fmt.Fprintf(ui.Out, "  Project:    %s\n", projName)
	fmt.Fprintf(ui.Out, "  Status:     %s\n", output.StatusColor(string(pr.Status)))
	fmt.Fprintf(ui.Out, "  Branch:     %s -> %s\n", pr.BranchName, pr.BaseBranch)
	if pr.TaskID != "" {
		fmt.Fprintf(ui.Out, "  Task:       %s\n", shortID(pr.TaskID))
	}
	if pr.GitHubPRNumber > 0 {
		fmt.Fprintf(ui.Out, "  GitHub:     #%d %s\n", pr.GitHubPRNumber, pr.GitHubPRURL)
	}
	if pr.Description != "" {
		fmt.Fprintf(ui.Out, "  Desc:       %s\n", firstLine(pr.Description))
	}
	if len(pr.FilesChanged) > 0 {
		fmt.Fprintf(ui.Out, "  Files:\n")
		for _, fc := range pr.FilesChanged {
			fmt.Fprintf(ui.Out, "    %-7s %s\n", fc.Action, fc.Path)
		}
	}
	fmt.Fprintf(ui.Out, "  Created:    %s\n", pr.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(ui.Out, "  Full ID:    %s\n", pr.ID)

	return nil
}

func prResolveRun(ctx context.Context, id string, target models.PRStatus) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	pr, err := findPR(ctx, s, id)
	if err != nil {
		return err
	}

	if pr.Status != models.PRStatusOpen {
		return fmt.Errorf("pull request is already %s", pr.Status)
	}

	verb := "merge"
	if target == models.PRStatusClosed {
		verb = "close"
	}

	if dryRun {
		ui.DryRunMsg("Would %s PR %s: %s", verb, shortID(pr.ID), pr.Title)
		return nil
	}

	// Resolve the real PR on GitHub first; local records flip directly.
	if pr.GitHubPRNumber > 0 {
		_, gw, err := buildDeps(ctx, s)
		if err != nil {
			return err
		}
		if gw == nil {
			return fmt.Errorf("GitHub not configured (set GITHUB_TOKEN or save a token in settings)")
		}
		project, err := s.GetProject(ctx, pr.ProjectID)
		if err != nil {
			return err
		}

		callCtx, cancel := context.WithTimeout(ctx, viper.GetDuration("github.timeout"))
		if target == models.PRStatusMerged {
			err = gw.MergePullRequest(callCtx, project.GitHubOwner, project.GitHubRepo, pr.GitHubPRNumber)
		} else {
			err = gw.ClosePullRequest(callCtx, project.GitHubOwner, project.GitHubRepo, pr.GitHubPRNumber)
		}
		cancel()
		if err != nil {
			return fmt.Errorf("%s PR #%d: %w", verb, pr.GitHubPRNumber, err)
		}
	}

	pr.Status = target
	if err := s.UpdatePullRequest(ctx, pr); err != nil {
		return fmt.Errorf("update PR: %w", err)
	}

	if target == models.PRStatusMerged {
		ui.Success("Merged PR %s: %s", output.Cyan(shortID(pr.ID)), pr.Title)
	} else {
		ui.Success("Closed PR %s: %s", output.Cyan(shortID(pr.ID)), pr.Title)
	}
	return nil
}

// findPR finds a pull request by full ID or prefix match.
func findPR(ctx context.Context, s store.Store, id string) (*models.PullRequest, error) {
	// Try exact match first
	if pr, err := s.GetPullRequest(ctx, id); err == nil {
		return pr, nil
	}

	// Try prefix match - list all and filter
	upper := strings.ToUpper(id)
	prs, err := s.ListPullRequests(ctx, store.PRListFilter{})
	if err != nil {
		return nil, err
	}

	var matches []*models.PullRequest
	for _, pr := range prs {
		if strings.HasPrefix(pr.ID, upper) {
			matches = append(matches, pr)
		}
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("pull request not found: %s", id)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("ambiguous PR ID %s: matches %d pull requests", id, len(matches))
	}
}

// firstLine returns the first line of a multi-line string.
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
