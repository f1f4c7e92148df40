package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/devaihq/devai/internal/models"
	"github.com/devaihq/devai/internal/output"
	"github.com/devaihq/devai/internal/store"
)

var (
	taskTitle    string
	taskDesc     string
	taskPriority string
	taskStatus   string
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage and execute tasks",
	Long:  "Track development tasks and hand them to the AI for implementation.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return taskListRun("")
	},
}

var taskAddCmd = &cobra.Command{
	Use:   "add <project>",
	Short: "Add a new task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return taskAddRun(args[0])
	},
}

var taskListCmd = &cobra.Command{
	Use:     "list [project]",
	Aliases: []string{"ls"},
	Short:   "List tasks",
	Long:    "List tasks. Without <project>, shows tasks across all projects.",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var projectRef string
		if len(args) > 0 {
			projectRef = args[0]
		}
		return taskListRun(projectRef)
	},
}

var taskShowCmd = &cobra.Command{
	Use:   "show <task-id>",
	Short: "Show task details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return taskShowRun(args[0])
	},
}

var taskUpdateCmd = &cobra.Command{
	Use:   "update <task-id>",
	Short: "Update a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return taskUpdateRun(args[0])
	},
}

var taskDeleteCmd = &cobra.Command{
	Use:     "delete <task-id>",
	Aliases: []string{"rm"},
	Short:   "Delete a task",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return taskDeleteRun(args[0])
	},
}

var taskExecuteCmd = &cobra.Command{
	Use:     "execute <task-id>",
	Aliases: []string{"run"},
	Short:   "Execute a task with the AI",
	Long: `Send a pending task to the AI model and apply the generated changes.

For GitHub projects this creates a branch and opens a pull request.
For manual and uploaded projects the changes land in local file storage.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return taskExecuteRun(cmd.Context(), args[0], false)
	},
}

var taskRetryCmd = &cobra.Command{
	Use:   "retry <task-id>",
	Short: "Re-execute a failed task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return taskExecuteRun(cmd.Context(), args[0], true)
	},
}

func init() {
	taskAddCmd.Flags().StringVar(&taskTitle, "title", "", "Task title (required)")
	taskAddCmd.Flags().StringVar(&taskDesc, "desc", "", "Task description")
	taskAddCmd.Flags().StringVar(&taskPriority, "priority", "medium", "Priority: low, medium, high")
	_ = taskAddCmd.MarkFlagRequired("title")

	taskListCmd.Flags().StringVar(&taskStatus, "status", "", "Filter by status: pending, in_progress, completed, failed")
	taskListCmd.Flags().StringVar(&taskPriority, "priority", "", "Filter by priority")

	taskUpdateCmd.Flags().StringVar(&taskStatus, "status", "", "New status")
	taskUpdateCmd.Flags().StringVar(&taskPriority, "priority", "", "New priority")
	taskUpdateCmd.Flags().StringVar(&taskTitle, "title", "", "New title")
	taskUpdateCmd.Flags().StringVar(&taskDesc, "desc", "", "New description")

	taskCmd.AddCommand(taskAddCmd)
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskShowCmd)
	taskCmd.AddCommand(taskUpdateCmd)
	taskCmd.AddCommand(taskDeleteCmd)
	taskCmd.AddCommand(taskExecuteCmd)
	taskCmd.AddCommand(taskRetryCmd)
	rootCmd.AddCommand(taskCmd)
}

func taskAddRun(projectRef string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	p, err := resolveProject(ctx, s, projectRef)
	if err != nil {
		return err
	}

	switch taskPriority {
	case "low", "medium", "high":
	default:
		return fmt.Errorf("invalid priority: %s (must be low, medium, or high)", taskPriority)
	}

	task := &models.Task{
		ProjectID:   p.ID,
		Title:       taskTitle,
		Description: taskDesc,
		Priority:    models.TaskPriority(taskPriority),
		Status:      models.TaskStatusPending,
	}

	if dryRun {
		ui.DryRunMsg("Would add task: %s [%s] to %s", taskTitle, taskPriority, p.Name)
		return nil
	}

	if err := s.CreateTask(ctx, task); err != nil {
		return fmt.Errorf("create task: %w", err)
	}

	ui.Success("Created task %s: %s", output.Cyan(shortID(task.ID)), taskTitle)
	return nil
}

func taskListRun(projectRef string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	filter := store.TaskListFilter{
		Status:   models.TaskStatus(taskStatus),
		Priority: models.TaskPriority(taskPriority),
	}

	if projectRef != "" {
		p, err := resolveProject(ctx, s, projectRef)
		if err != nil {
			return err
		}
		filter.ProjectID = p.ID
	}

	tasks, err := s.ListTasks(ctx, filter)
	if err != nil {
		return err
	}
	if printJSON(tasks) {
		return nil
	}

	if len(tasks) == 0 {
		ui.Info("No tasks found.")
		return nil
	}

	// Build a project name cache for display
	projectNames := make(map[string]string)

	table := ui.Table([]string{"ID", "Project", "Title", "Priority", "Status", "Branch"})
	for _, task := range tasks {
		projName := projectNames[task.ProjectID]
		if projName == "" {
			if p, err := s.GetProject(ctx, task.ProjectID); err == nil {
				projName = p.Name
				projectNames[task.ProjectID] = projName
			}
		}

		_ = table.Append([]string{
			shortID(task.ID),
			projName,
			task.Title,
			output.PriorityColor(string(task.Priority)),
			output.StatusColor(string(task.Status)),
			task.BranchName,
		})
	}
	_ = table.Render()
	return nil
}

func taskShowRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	task, err := findTask(ctx, s, id)
	if err != nil {
		return err
	}
	if printJSON(task) {
		return nil
	}

	projName := ""
	if p, err := s.GetProject(ctx, task.ProjectID); err == nil {
		projName = p.Name
	}

	fmt.Fprintf(ui.Out, "%s  %s\n", output.Cyan(shortID(task.ID)), task.Title)
	fmt.Fprintf(ui.Out, "  Project:    %s\n", projName)
	fmt.Fprintf(ui.Out, "  Status:     %s\n", output.StatusColor(string(task.Status)))
	fmt.Fprintf(ui.Out, "  Priority:   %s\n", output.PriorityColor(string(task.Priority)))
	if task.Description != "" {
		fmt.Fprintf(ui.Out, "  Desc:       %s\n", task.Description)
	}
	if task.BranchName != "" {
		fmt.Fprintf(ui.Out, "  Branch:     %s\n", task.BranchName)
	}
	if task.PRID != "" {
		fmt.Fprintf(ui.Out, "  PR:         %s\n", shortID(task.PRID))
	}
	if task.Diagnostic != "" {
		fmt.Fprintf(ui.Out, "  Diagnostic: %s\n", output.Red(task.Diagnostic))
	}
	if len(task.FilesChanged) > 0 {
		fmt.Fprintf(ui.Out, "  Files:\n")
		for _, fc := range task.FilesChanged {
			fmt.Fprintf(ui.Out, "    %-7s %s\n", fc.Action, fc.Path)
		}
	}
	fmt.Fprintf(ui.Out, "  Created:    %s\n", task.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(ui.Out, "  Updated:    %s\n", task.UpdatedAt.Format(time.RFC3339))
	fmt.Fprintf(ui.Out, "  Full ID:    %s\n", task.ID)

	return nil
}

func taskUpdateRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	task, err := findTask(ctx, s, id)
	if err != nil {
		return err
	}

	changed := false
	if taskStatus != "" {
		task.Status = models.TaskStatus(taskStatus)
		changed = true
	}
	if taskPriority != "" {
		switch taskPriority {
		case "low", "medium", "high":
		default:
			return fmt.Errorf("invalid priority: %s (must be low, medium, or high)", taskPriority)
		}
		task.Priority = models.TaskPriority(taskPriority)
		changed = true
	}
	if taskTitle != "" {
		task.Title = taskTitle
		changed = true
	}
	if taskDesc != "" {
		task.Description = taskDesc
		changed = true
	}

	if !changed {
		return fmt.Errorf("no updates specified (use --status, --priority, --title, or --desc)")
	}

	if dryRun {
		ui.DryRunMsg("Would update task %s", shortID(task.ID))
		return nil
	}

	if err := s.UpdateTask(ctx, task); err != nil {
		return fmt.Errorf("update task: %w", err)
	}

	ui.Success("Updated task %s", output.Cyan(shortID(task.ID)))
	return nil
}

func taskDeleteRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	task, err := findTask(ctx, s, id)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would delete task %s: %s", shortID(task.ID), task.Title)
		return nil
	}

	if err := s.DeleteTask(ctx, task.ID); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}

	ui.Success("Deleted task %s: %s", output.Cyan(shortID(task.ID)), task.Title)
	return nil
}

func taskExecuteRun(ctx context.Context, id string, retry bool) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	task, err := findTask(ctx, s, id)
	if err != nil {
		return err
	}

	if retry && task.Status != models.TaskStatusFailed {
		return fmt.Errorf("task is not failed (status: %s)", task.Status)
	}

	runner, _, err := buildDeps(ctx, s)
	if err != nil {
		return err
	}
	if runner == nil {
		return fmt.Errorf("AI not configured (set ANTHROPIC_API_KEY or save a key in settings)")
	}

	if dryRun {
		ui.DryRunMsg("Would execute task %s: %s", shortID(task.ID), task.Title)
		return nil
	}

	ui.Info("Executing task %s: %s", output.Cyan(shortID(task.ID)), task.Title)
	ui.VerboseLog("AI calls can take a couple of minutes")

	result, err := runner.Execute(ctx, task.ID)
	if err != nil {
		return fmt.Errorf("execute task: %w", err)
	}

	if result.Status == models.TaskStatusFailed {
		if result.BranchName != "" {
			ui.Warning("Partial work may remain on branch %s", result.BranchName)
		}
		return fmt.Errorf("task failed: %s", result.Diagnostic)
	}

	ui.Success("Task %s completed", output.Cyan(shortID(task.ID)))
	if result.BranchName != "" {
		fmt.Fprintf(ui.Out, "  Branch:  %s\n", result.BranchName)
	}
	if result.PRURL != "" {
		fmt.Fprintf(ui.Out, "  PR:      %s\n", result.PRURL)
	}
	if len(result.FilesChanged) > 0 {
		fmt.Fprintf(ui.Out, "  Files:\n")
		for _, fc := range result.FilesChanged {
			fmt.Fprintf(ui.Out, "    %-7s %s\n", fc.Action, fc.Path)
		}
	}
	return nil
}

// findTask finds a task by full ID or prefix match.
func findTask(ctx context.Context, s store.Store, id string) (*models.Task, error) {
	// Try exact match first
	if task, err := s.GetTask(ctx, id); err == nil {
		return task, nil
	}

	// Try prefix match - list all and filter
	upper := strings.ToUpper(id)
	tasks, err := s.ListTasks(ctx, store.TaskListFilter{})
	if err != nil {
		return nil, err
	}

	var matches []*models.Task
	for _, task := range tasks {
		if strings.HasPrefix(task.ID, upper) {
			matches = append(matches, task)
		}
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("task not found: %s", id)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("ambiguous task ID %s: matches %d tasks", id, len(matches))
	}
}

// shortID returns a truncated ULID for display (first 12 chars).
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
