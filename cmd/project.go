package cmd

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/devaihq/devai/internal/models"
	"github.com/devaihq/devai/internal/output"
	"github.com/devaihq/devai/internal/refresh"
	"github.com/devaihq/devai/internal/store"
	"github.com/devaihq/devai/internal/techstack"
)

var (
	projectName string
	projectDesc string
	filePath    string
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
	Long:  "Add, import, list, and inspect the projects devai works on.",
}

var projectAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add an empty project",
	Long:  "Add a manual project. Files are added later via 'project files' or the API.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectAddRun(args[0])
	},
}

var projectImportCmd = &cobra.Command{
	Use:   "import <owner>/<repo>",
	Short: "Import a GitHub repository",
	Long: `Import a GitHub repository as a project. The repository files stay on
GitHub; devai reads them through the API and lands changes on branches.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectImportRun(cmd.Context(), args[0])
	},
}

var projectUploadCmd = &cobra.Command{
	Use:   "upload <zip-file>",
	Short: "Create a project from a ZIP archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectUploadRun(args[0])
	},
}

var projectUpdateCmd = &cobra.Command{
	Use:   "update <name>",
	Short: "Update a project's name or description",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectUpdateRun(args[0])
	},
}

var projectRemoveCmd = &cobra.Command{
	Use:     "remove <name>",
	Aliases: []string{"rm", "delete"},
	Short:   "Remove a project and everything attached to it",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectRemoveRun(args[0])
	},
}

var projectListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectListRun()
	},
}

var projectShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show detailed project information",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectShowRun(args[0])
	},
}

var projectAnalyzeCmd = &cobra.Command{
	Use:   "analyze <name>",
	Short: "Generate an AI summary and tech stack for a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectAnalyzeRun(cmd.Context(), args[0])
	},
}

var projectSyncCmd = &cobra.Command{
	Use:   "sync [name]",
	Short: "Refresh GitHub project metadata",
	Long:  "Re-read default branch, file count, and tech stack from GitHub for one or all GitHub projects.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) > 0 {
			return projectSyncOneRun(cmd.Context(), args[0])
		}
		return projectSyncAllRun(cmd.Context())
	},
}

var projectFilesCmd = &cobra.Command{
	Use:   "files <name>",
	Short: "List a project's files",
	Long:  "List a project's files, or print one file's content with --path.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectFilesRun(cmd.Context(), args[0])
	},
}

func init() {
	projectAddCmd.Flags().StringVar(&projectDesc, "desc", "", "Project description")

	projectImportCmd.Flags().StringVar(&projectName, "name", "", "Override project name (default: repository name)")

	projectUploadCmd.Flags().StringVar(&projectName, "name", "", "Override project name (default: archive name)")
	projectUploadCmd.Flags().StringVar(&projectDesc, "desc", "", "Project description")

	projectUpdateCmd.Flags().StringVar(&projectName, "name", "", "New project name")
	projectUpdateCmd.Flags().StringVar(&projectDesc, "desc", "", "New project description")

	projectFilesCmd.Flags().StringVar(&filePath, "path", "", "Print the content of one file")

	projectCmd.AddCommand(projectAddCmd)
	projectCmd.AddCommand(projectImportCmd)
	projectCmd.AddCommand(projectUploadCmd)
	projectCmd.AddCommand(projectUpdateCmd)
	projectCmd.AddCommand(projectRemoveCmd)
	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(projectShowCmd)
	projectCmd.AddCommand(projectAnalyzeCmd)
	projectCmd.AddCommand(projectSyncCmd)
	projectCmd.AddCommand(projectFilesCmd)
	rootCmd.AddCommand(projectCmd)
}

func projectAddRun(name string) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	p := &models.Project{
		Name:        name,
		Description: projectDesc,
		SourceType:  models.SourceTypeManual,
		Status:      models.ProjectStatusCreated,
	}

	if dryRun {
		ui.DryRunMsg("Would add project: %s", name)
		return nil
	}

	if err := s.CreateProject(context.Background(), p); err != nil {
		return fmt.Errorf("add project: %w", err)
	}

	ui.Success("Added project: %s", output.Cyan(name))
	return nil
}

func projectImportRun(ctx context.Context, ownerRepo string) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	owner, repo, ok := strings.Cut(ownerRepo, "/")
	if !ok || owner == "" || repo == "" {
		return fmt.Errorf("expected <owner>/<repo>, got %q", ownerRepo)
	}

	_, gw, err := buildDeps(ctx, s)
	if err != nil {
		return err
	}
	if gw == nil {
		return fmt.Errorf("GitHub not configured (set GITHUB_TOKEN or save a token in settings)")
	}

	timeout := viper.GetDuration("github.timeout")
	infoCtx, cancel := context.WithTimeout(ctx, timeout)
	info, err := gw.GetRepo(infoCtx, owner, repo)
	cancel()
	if err != nil {
		return fmt.Errorf("fetch repository %s/%s: %w", owner, repo, err)
	}

	name := projectName
	if name == "" {
		name = repo
	}
	branch := info.DefaultBranch
	if branch == "" {
		branch = "main"
	}

	p := &models.Project{
		Name:          name,
		Description:   info.Description,
		SourceType:    models.SourceTypeGitHub,
		GitHubOwner:   owner,
		GitHubRepo:    repo,
		DefaultBranch: branch,
		Status:        models.ProjectStatusCreated,
	}
	if info.Language != "" {
		p.TechStack = []string{info.Language}
	}

	if dryRun {
		ui.DryRunMsg("Would import %s/%s as project %s (branch %s)", owner, repo, name, branch)
		return nil
	}

	if err := s.CreateProject(ctx, p); err != nil {
		return fmt.Errorf("import project: %w", err)
	}

	// Tree-derived fields are best effort; the import already validated the repo.
	if _, err := refresh.Project(ctx, s, p, gw, timeout); err != nil {
		ui.Warning("Imported, but could not read the file tree: %v", err)
	}

	ui.Success("Imported project: %s (%s/%s @ %s)", output.Cyan(name), owner, repo, branch)
	if p.FileCount > 0 {
		ui.VerboseLog("Files: %d", p.FileCount)
	}
	if len(p.TechStack) > 0 {
		ui.VerboseLog("Stack: %s", strings.Join(p.TechStack, ", "))
	}
	return nil
}

func projectUploadRun(zipPath string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	data, err := os.ReadFile(zipPath)
	if err != nil {
		return fmt.Errorf("read archive: %w", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("%s is not a ZIP archive", zipPath)
	}

	name := projectName
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(zipPath), ".zip")
	}

	type zipFile struct {
		path    string
		content string
		size    int
	}
	var files []zipFile
	var paths []string
	for _, zf := range zr.File {
		if zf.FileInfo().IsDir() {
			continue
		}
		path := zf.Name
		if strings.HasPrefix(path, "__MACOSX/") || techstack.SkipPath(path) {
			continue
		}
		if models.ValidateFilePath(path) != nil {
			continue
		}
		if zf.UncompressedSize64 >= techstack.MaxFileSize {
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			continue
		}
		content, err := io.ReadAll(io.LimitReader(rc, techstack.MaxContentLen))
		rc.Close()
		if err != nil {
			continue
		}
		files = append(files, zipFile{path: path, content: string(content), size: int(zf.UncompressedSize64)})
		paths = append(paths, path)
	}

	if dryRun {
		ui.DryRunMsg("Would create project %s with %d file(s) from %s", name, len(files), zipPath)
		return nil
	}

	p := &models.Project{
		Name:        name,
		Description: projectDesc,
		SourceType:  models.SourceTypeUpload,
		TechStack:   techstack.Detect(paths),
		Status:      models.ProjectStatusCreated,
	}
	if err := s.CreateProject(ctx, p); err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	for _, f := range files {
		pf := &models.ProjectFile{ProjectID: p.ID, Path: f.path, Content: f.content, Size: f.size}
		if err := s.UpsertProjectFile(ctx, pf); err != nil {
			return fmt.Errorf("store %s: %w", f.path, err)
		}
	}

	ui.Success("Created project %s with %d file(s)", output.Cyan(name), len(files))
	if len(p.TechStack) > 0 {
		ui.VerboseLog("Stack: %s", strings.Join(p.TechStack, ", "))
	}
	return nil
}

func projectUpdateRun(name string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	p, err := resolveProject(ctx, s, name)
	if err != nil {
		return err
	}

	changed := false
	if projectName != "" {
		p.Name = projectName
		changed = true
	}
	if projectDesc != "" {
		p.Description = projectDesc
		changed = true
	}
	if !changed {
		return fmt.Errorf("no updates specified (use --name or --desc)")
	}

	if dryRun {
		ui.DryRunMsg("Would update project %s", p.Name)
		return nil
	}

	if err := s.UpdateProject(ctx, p); err != nil {
		return fmt.Errorf("update project: %w", err)
	}

	ui.Success("Updated project: %s", output.Cyan(p.Name))
	return nil
}

func projectRemoveRun(name string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	p, err := resolveProject(ctx, s, name)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would remove project: %s", p.Name)
		return nil
	}

	if err := s.DeleteProject(ctx, p.ID); err != nil {
		return fmt.Errorf("remove project: %w", err)
	}

	ui.Success("Removed project: %s", output.Cyan(p.Name))
	return nil
}

func projectListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	projects, err := s.ListProjects(ctx)
	if err != nil {
		return err
	}
	if printJSON(projects) {
		return nil
	}

	if len(projects) == 0 {
		ui.Info("No projects yet. Use 'devai project add <name>' to get started.")
		return nil
	}

	table := ui.Table([]string{"Name", "Source", "Status", "Stack", "Files", "Open Tasks"})
	for _, p := range projects {
		tasks, _ := s.ListTasks(ctx, store.TaskListFilter{ProjectID: p.ID, Status: models.TaskStatusPending})

		table.Append([]string{
			output.Cyan(p.Name),
			formatSource(p),
			output.StatusColor(string(p.Status)),
			strings.Join(p.TechStack, ", "),
			fmt.Sprintf("%d", p.FileCount),
			fmt.Sprintf("%d", len(tasks)),
		})
	}
	table.Render()
	return nil
}

func projectShowRun(name string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	p, err := resolveProject(ctx, s, name)
	if err != nil {
		return err
	}
	if printJSON(p) {
		return nil
	}

	// Header
	fmt.Fprintf(ui.Out, "%s\n", output.Cyan(p.Name))
	fmt.Fprintf(ui.Out, "  Source:     %s\n", formatSource(p))
	fmt.Fprintf(ui.Out, "  Status:     %s\n", output.StatusColor(string(p.Status)))
	if p.Description != "" {
		fmt.Fprintf(ui.Out, "  Desc:       %s\n", p.Description)
	}
	if p.SourceType == models.SourceTypeGitHub {
		fmt.Fprintf(ui.Out, "  Branch:     %s\n", p.DefaultBranch)
	}
	if len(p.TechStack) > 0 {
		fmt.Fprintf(ui.Out, "  Stack:      %s\n", strings.Join(p.TechStack, ", "))
	}
	fmt.Fprintf(ui.Out, "  Files:      %d\n", p.FileCount)
	fmt.Fprintf(ui.Out, "  Activity:   %s\n", timeAgo(p.UpdatedAt))

	// Task counts
	tasks, err := s.ListTasks(ctx, store.TaskListFilter{ProjectID: p.ID})
	if err == nil && len(tasks) > 0 {
		pending, inProg, completed, failed := 0, 0, 0, 0
		for _, t := range tasks {
			switch t.Status {
			case models.TaskStatusPending:
				pending++
			case models.TaskStatusInProgress:
				inProg++
			case models.TaskStatusCompleted:
				completed++
			case models.TaskStatusFailed:
				failed++
			}
		}
		fmt.Fprintf(ui.Out, "  Tasks:      %d pending, %d in progress, %d completed, %d failed\n",
			pending, inProg, completed, failed)
	}

	// Open PRs
	prs, err := s.ListPullRequests(ctx, store.PRListFilter{ProjectID: p.ID, Status: models.PRStatusOpen})
	if err == nil && len(prs) > 0 {
		fmt.Fprintf(ui.Out, "  Open PRs:   %d\n", len(prs))
	}

	if p.Summary != "" {
		fmt.Fprintln(ui.Out)
		fmt.Fprintf(ui.Out, "  %s\n", p.Summary)
	}

	fmt.Fprintf(ui.Out, "  Full ID:    %s\n", p.ID)
	return nil
}

func projectAnalyzeRun(ctx context.Context, name string) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	p, err := resolveProject(ctx, s, name)
	if err != nil {
		return err
	}

	runner, _, err := buildDeps(ctx, s)
	if err != nil {
		return err
	}
	if runner == nil {
		return fmt.Errorf("AI not configured (set ANTHROPIC_API_KEY or save a key in settings)")
	}

	if dryRun {
		ui.DryRunMsg("Would analyze project: %s", p.Name)
		return nil
	}

	ui.Info("Analyzing %s...", output.Cyan(p.Name))
	p, err = runner.Analyze(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("analyze %s: %w", name, err)
	}

	ui.Success("Analyzed project: %s", output.Cyan(p.Name))
	if len(p.TechStack) > 0 {
		fmt.Fprintf(ui.Out, "  Stack:    %s\n", strings.Join(p.TechStack, ", "))
	}
	if p.Summary != "" {
		fmt.Fprintf(ui.Out, "  %s\n", p.Summary)
	}
	return nil
}

func projectSyncOneRun(ctx context.Context, name string) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	p, err := resolveProject(ctx, s, name)
	if err != nil {
		return err
	}

	_, gw, err := buildDeps(ctx, s)
	if err != nil {
		return err
	}
	if gw == nil {
		return fmt.Errorf("GitHub not configured (set GITHUB_TOKEN or save a token in settings)")
	}

	if dryRun {
		ui.DryRunMsg("Would sync project: %s", p.Name)
		return nil
	}

	changed, err := refresh.Project(ctx, s, p, gw, viper.GetDuration("github.timeout"))
	if err != nil {
		return fmt.Errorf("sync %s: %w", p.Name, err)
	}

	if changed {
		ui.Success("Synced project: %s", output.Cyan(p.Name))
	} else {
		ui.Info("No changes for project: %s", p.Name)
	}
	return nil
}

func projectSyncAllRun(ctx context.Context) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	_, gw, err := buildDeps(ctx, s)
	if err != nil {
		return err
	}
	if gw == nil {
		return fmt.Errorf("GitHub not configured (set GITHUB_TOKEN or save a token in settings)")
	}

	if dryRun {
		ui.DryRunMsg("Would sync all GitHub projects")
		return nil
	}

	res, err := refresh.All(ctx, s, gw, viper.GetDuration("github.timeout"))
	if err != nil {
		return err
	}

	for _, r := range res.Results {
		switch {
		case r.Error != "":
			ui.Warning("Failed to sync %s: %s", r.Name, r.Error)
		case r.Changed:
			ui.Success("Synced: %s", output.Cyan(r.Name))
		default:
			ui.VerboseLog("No changes: %s", r.Name)
		}
	}
	ui.Info("Synced %d of %d GitHub project(s)", res.Synced, res.Total)
	return nil
}

func projectFilesRun(ctx context.Context, name string) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	p, err := resolveProject(ctx, s, name)
	if err != nil {
		return err
	}

	if p.SourceType == models.SourceTypeGitHub {
		return remoteFilesRun(ctx, s, p)
	}

	if filePath != "" {
		f, err := s.GetProjectFile(ctx, p.ID, filePath)
		if err != nil {
			return fmt.Errorf("file not found: %s", filePath)
		}
		fmt.Fprint(ui.Out, f.Content)
		return nil
	}

	files, err := s.ListProjectFiles(ctx, p.ID)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		ui.Info("No files stored for %s.", p.Name)
		return nil
	}

	table := ui.Table([]string{"Path", "Size", "Updated"})
	for _, f := range files {
		table.Append([]string{f.Path, formatBytes(int64(f.Size)), timeAgo(f.UpdatedAt)})
	}
	table.Render()
	return nil
}

// remoteFilesRun lists or prints files straight from the GitHub tree.
func remoteFilesRun(ctx context.Context, s store.Store, p *models.Project) error {
	_, gw, err := buildDeps(ctx, s)
	if err != nil {
		return err
	}
	if gw == nil {
		return fmt.Errorf("GitHub not configured (set GITHUB_TOKEN or save a token in settings)")
	}

	timeout := viper.GetDuration("github.timeout")
	treeCtx, cancel := context.WithTimeout(ctx, timeout)
	entries, err := gw.ListTree(treeCtx, p.GitHubOwner, p.GitHubRepo, p.DefaultBranch)
	cancel()
	if err != nil {
		return fmt.Errorf("list tree: %w", err)
	}

	if filePath != "" {
		for _, e := range entries {
			if e.Type == "blob" && e.Path == filePath {
				blobCtx, cancel := context.WithTimeout(ctx, timeout)
				content, err := gw.GetBlob(blobCtx, p.GitHubOwner, p.GitHubRepo, e.SHA)
				cancel()
				if err != nil {
					return fmt.Errorf("fetch %s: %w", filePath, err)
				}
				fmt.Fprint(ui.Out, string(content))
				return nil
			}
		}
		return fmt.Errorf("file not found: %s", filePath)
	}

	table := ui.Table([]string{"Path", "Size"})
	for _, e := range entries {
		if e.Type != "blob" {
			continue
		}
		table.Append([]string{e.Path, formatBytes(e.Size)})
	}
	table.Render()
	return nil
}

// formatSource renders the project origin for display.
func formatSource(p *models.Project) string {
	if p.SourceType == models.SourceTypeGitHub {
		return fmt.Sprintf("github:%s/%s", p.GitHubOwner, p.GitHubRepo)
	}
	return string(p.SourceType)
}

// timeAgo returns a human-readable duration from a time.
func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1d ago"
		}
		return fmt.Sprintf("%dd ago", days)
	}
}

// formatBytes returns a human-readable byte size string.
func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
