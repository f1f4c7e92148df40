package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/devaihq/devai/internal/executor"
	"github.com/devaihq/devai/internal/github"
	"github.com/devaihq/devai/internal/models"
	"github.com/devaihq/devai/internal/stats"
	"github.com/devaihq/devai/internal/store"
)

// Server wraps the devai data layer and exposes it as MCP tools, so an
// assistant can inspect projects and drive task execution directly.
type Server struct {
	store      store.Store
	exec       *executor.Executor // nil when no AI key is configured
	gw         github.Gateway     // nil when no GitHub token is configured
	stats      *stats.Collector
	gitTimeout time.Duration
}

// NewServer creates the MCP server wrapper. exec and gw may be nil; tools
// that need them report the missing configuration in their result.
func NewServer(s store.Store, exec *executor.Executor, gw github.Gateway, gitTimeout time.Duration) *Server {
	if gitTimeout <= 0 {
		gitTimeout = 8 * time.Second
	}
	return &Server{
		store:      s,
		exec:       exec,
		gw:         gw,
		stats:      stats.NewCollector(s),
		gitTimeout: gitTimeout,
	}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("devai", "1.0.0", server.WithToolCapabilities(true))

	// Register all tools
	srv.AddTool(s.listProjectsTool())
	srv.AddTool(s.getProjectTool())
	srv.AddTool(s.createTaskTool())
	srv.AddTool(s.listTasksTool())
	srv.AddTool(s.getTaskTool())
	srv.AddTool(s.executeTaskTool())
	srv.AddTool(s.listPRsTool())
	srv.AddTool(s.mergePRTool())
	srv.AddTool(s.statsTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// devai_list_projects
func (s *Server) listProjectsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("devai_list_projects",
		mcp.WithDescription("List all projects. Returns a JSON array of projects with id, name, description, source_type (github/upload/manual), status, tech_stack, and file_count."),
	)
	return tool, s.handleListProjects
}

func (s *Server) handleListProjects(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projects, err := s.store.ListProjects(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list projects: %v", err)), nil
	}

	out := make([]projectOut, len(projects))
	for i, p := range projects {
		out[i] = toProjectOut(p)
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal projects: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// devai_get_project
func (s *Server) getProjectTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("devai_get_project",
		mcp.WithDescription("Get a project with its task and pull request counts. Resolves the project by name or ID."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project name or ID")),
	)
	return tool, s.handleGetProject
}

func (s *Server) handleGetProject(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectRef, err := request.RequireString("project")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: project"), nil
	}

	p, err := s.resolveProject(ctx, projectRef)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("project not found: %s", projectRef)), nil
	}

	// Gather task counts
	tasks, _ := s.store.ListTasks(ctx, store.TaskListFilter{ProjectID: p.ID})
	pendingCount, inProgressCount, completedCount, failedCount := 0, 0, 0, 0
	for _, task := range tasks {
		switch task.Status {
		case models.TaskStatusPending:
			pendingCount++
		case models.TaskStatusInProgress:
			inProgressCount++
		case models.TaskStatusCompleted:
			completedCount++
		case models.TaskStatusFailed:
			failedCount++
		}
	}

	// Gather pull request counts
	prs, _ := s.store.ListPullRequests(ctx, store.PRListFilter{ProjectID: p.ID})
	openCount, mergedCount, closedCount := 0, 0, 0
	for _, pr := range prs {
		switch pr.Status {
		case models.PRStatusOpen:
			openCount++
		case models.PRStatusMerged:
			mergedCount++
		case models.PRStatusClosed:
			closedCount++
		}
	}

	result := map[string]any{
		"project": map[string]any{
			"id":             p.ID,
			"name":           p.Name,
			"description":    p.Description,
			"source_type":    string(p.SourceType),
			"status":         string(p.Status),
			"tech_stack":     p.TechStack,
			"github_owner":   p.GitHubOwner,
			"github_repo":    p.GitHubRepo,
			"default_branch": p.DefaultBranch,
			"file_count":     p.FileCount,
			"summary":        p.Summary,
		},
		"tasks": map[string]any{
			"total":       len(tasks),
			"pending":     pendingCount,
			"in_progress": inProgressCount,
			"completed":   completedCount,
			"failed":      failedCount,
		},
		"pull_requests": map[string]any{
			"total":  len(prs),
			"open":   openCount,
			"merged": mergedCount,
			"closed": closedCount,
		},
	}

	data, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal project: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// devai_create_task
func (s *Server) createTaskTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("devai_create_task",
		mcp.WithDescription("Create a new task for a project. The task starts in status pending; run devai_execute_task to have the AI implement it. Returns the created task as JSON."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project name or ID")),
		mcp.WithString("title", mcp.Required(), mcp.Description("Task title")),
		mcp.WithString("description", mcp.Description("Task description with implementation details")),
		mcp.WithString("priority", mcp.Description("Task priority: low, medium, high (default: medium)")),
	)
	return tool, s.handleCreateTask
}

func (s *Server) handleCreateTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectRef, err := request.RequireString("project")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: project"), nil
	}
	title, err := request.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: title"), nil
	}

	p, err := s.resolveProject(ctx, projectRef)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("project not found: %s", projectRef)), nil
	}

	priority := request.GetString("priority", "medium")
	switch models.TaskPriority(priority) {
	case models.TaskPriorityLow, models.TaskPriorityMedium, models.TaskPriorityHigh:
	default:
		return mcp.NewToolResultError(fmt.Sprintf("invalid priority: %s (must be low, medium, or high)", priority)), nil
	}

	task := &models.Task{
		ProjectID:   p.ID,
		Title:       title,
		Description: request.GetString("description", ""),
		Priority:    models.TaskPriority(priority),
		Status:      models.TaskStatusPending,
	}
	if err := s.store.CreateTask(ctx, task); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create task: %v", err)), nil
	}

	result := map[string]any{
		"id":         task.ID,
		"project_id": p.ID,
		"project":    p.Name,
		"title":      task.Title,
		"status":     string(task.Status),
		"priority":   string(task.Priority),
		"created_at": task.CreatedAt.Format(time.RFC3339),
	}

	data, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal task: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// devai_list_tasks
func (s *Server) listTasksTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("devai_list_tasks",
		mcp.WithDescription("List tasks, optionally filtered by project, status, and/or priority. Returns a JSON array of tasks. Each task has: title, description, status (pending/in_progress/completed/failed), priority (low/medium/high), branch_name, and pr_id when execution produced a pull request."),
		mcp.WithString("project", mcp.Description("Project name or ID to filter by")),
		mcp.WithString("status", mcp.Description("Status filter: pending, in_progress, completed, failed")),
		mcp.WithString("priority", mcp.Description("Priority filter: low, medium, high")),
	)
	return tool, s.handleListTasks
}

func (s *Server) handleListTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := store.TaskListFilter{}

	projectRef := request.GetString("project", "")
	if projectRef != "" {
		p, err := s.resolveProject(ctx, projectRef)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("project not found: %s", projectRef)), nil
		}
		filter.ProjectID = p.ID
	}

	status := request.GetString("status", "")
	if status != "" {
		filter.Status = models.TaskStatus(status)
	}

	priority := request.GetString("priority", "")
	if priority != "" {
		filter.Priority = models.TaskPriority(priority)
	}

	tasks, err := s.store.ListTasks(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list tasks: %v", err)), nil
	}

	out := make([]taskOut, len(tasks))
	for i, task := range tasks {
		out[i] = toTaskOut(task)
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal tasks: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// devai_get_task
func (s *Server) getTaskTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("devai_get_task",
		mcp.WithDescription("Get a single task including its diagnostic, changed files, and the raw AI response from the last execution."),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task ID (full ULID or unique prefix)")),
	)
	return tool, s.handleGetTask
}

func (s *Server) handleGetTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID, err := request.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: task_id"), nil
	}

	task, err := s.findTask(ctx, taskID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	files := make([]map[string]string, len(task.FilesChanged))
	for i, fc := range task.FilesChanged {
		files[i] = map[string]string{
			"path":   fc.Path,
			"action": string(fc.Action),
		}
	}

	result := map[string]any{
		"id":            task.ID,
		"project_id":    task.ProjectID,
		"title":         task.Title,
		"description":   task.Description,
		"status":        string(task.Status),
		"priority":      string(task.Priority),
		"branch_name":   task.BranchName,
		"pr_id":         task.PRID,
		"diagnostic":    task.Diagnostic,
		"files_changed": files,
		"ai_response":   task.AIResponse,
		"created_at":    task.CreatedAt.Format(time.RFC3339),
		"updated_at":    task.UpdatedAt.Format(time.RFC3339),
	}

	data, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal task: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// devai_execute_task
func (s *Server) executeTaskTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("devai_execute_task",
		mcp.WithDescription("Execute a task: the AI generates file changes which are committed to a new branch with a pull request (github projects) or applied to the stored files (upload/manual projects). Blocks until the pipeline finishes. The result reports status completed or failed with a diagnostic; a failed task can be executed again to retry."),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task ID (full ULID or unique prefix)")),
	)
	return tool, s.handleExecuteTask
}

func (s *Server) handleExecuteTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID, err := request.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: task_id"), nil
	}
	if s.exec == nil {
		return mcp.NewToolResultError("AI not configured (set ANTHROPIC_API_KEY or save a key in settings)"), nil
	}

	task, err := s.findTask(ctx, taskID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := s.exec.Execute(ctx, task.ID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("execute task: %v", err)), nil
	}

	data, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// devai_list_prs
func (s *Server) listPRsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("devai_list_prs",
		mcp.WithDescription("List pull requests, optionally filtered by project and/or status. Returns a JSON array with branch_name, base_branch, status (open/merged/closed), and github_pr_url for PRs opened on GitHub."),
		mcp.WithString("project", mcp.Description("Project name or ID to filter by")),
		mcp.WithString("status", mcp.Description("Status filter: open, merged, closed")),
	)
	return tool, s.handleListPRs
}

func (s *Server) handleListPRs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := store.PRListFilter{}

	projectRef := request.GetString("project", "")
	if projectRef != "" {
		p, err := s.resolveProject(ctx, projectRef)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("project not found: %s", projectRef)), nil
		}
		filter.ProjectID = p.ID
	}

	status := request.GetString("status", "")
	if status != "" {
		filter.Status = models.PRStatus(status)
	}

	prs, err := s.store.ListPullRequests(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list pull requests: %v", err)), nil
	}

	out := make([]prOut, len(prs))
	for i, pr := range prs {
		out[i] = toPROut(pr)
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal pull requests: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// devai_merge_pr
func (s *Server) mergePRTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("devai_merge_pr",
		mcp.WithDescription("Merge an open pull request. For PRs opened on GitHub the merge happens there first; the local record then flips to merged. Returns the merged PR as JSON."),
		mcp.WithString("pr_id", mcp.Required(), mcp.Description("Pull request ID (full ULID or unique prefix)")),
	)
	return tool, s.handleMergePR
}

func (s *Server) handleMergePR(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prID, err := request.RequireString("pr_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: pr_id"), nil
	}

	pr, err := s.findPR(ctx, prID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if pr.Status != models.PRStatusOpen {
		return mcp.NewToolResultError(fmt.Sprintf("pull request is already %s", pr.Status)), nil
	}

	if pr.GitHubPRNumber > 0 {
		if s.gw == nil {
			return mcp.NewToolResultError("GitHub not configured (set GITHUB_TOKEN or save a token in settings)"), nil
		}
		project, err := s.store.GetProject(ctx, pr.ProjectID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to load project: %v", err)), nil
		}
		mctx, cancel := context.WithTimeout(ctx, s.gitTimeout)
		err = s.gw.MergePullRequest(mctx, project.GitHubOwner, project.GitHubRepo, pr.GitHubPRNumber)
		cancel()
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("merge on GitHub: %v", err)), nil
		}
	}

	pr.Status = models.PRStatusMerged
	if err := s.store.UpdatePullRequest(ctx, pr); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to update pull request: %v", err)), nil
	}

	data, err := json.Marshal(toPROut(pr))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal pull request: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// devai_stats
func (s *Server) statsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("devai_stats",
		mcp.WithDescription("Get the dashboard overview: project count, task counts by status, pull request counts by status, and recent activity."),
	)
	return tool, s.handleStats
}

func (s *Server) handleStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	overview, err := s.stats.Overview(ctx, 5)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to collect stats: %v", err)), nil
	}

	data, err := json.Marshal(overview)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal stats: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ---------------------------------------------------------------------------
// Output shapes
// ---------------------------------------------------------------------------

type projectOut struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	SourceType    string   `json:"source_type"`
	Status        string   `json:"status"`
	TechStack     []string `json:"tech_stack"`
	GitHubOwner   string   `json:"github_owner,omitempty"`
	GitHubRepo    string   `json:"github_repo,omitempty"`
	DefaultBranch string   `json:"default_branch,omitempty"`
	FileCount     int      `json:"file_count"`
}

func toProjectOut(p *models.Project) projectOut {
	return projectOut{
		ID:            p.ID,
		Name:          p.Name,
		Description:   p.Description,
		SourceType:    string(p.SourceType),
		Status:        string(p.Status),
		TechStack:     p.TechStack,
		GitHubOwner:   p.GitHubOwner,
		GitHubRepo:    p.GitHubRepo,
		DefaultBranch: p.DefaultBranch,
		FileCount:     p.FileCount,
	}
}

type taskOut struct {
	ID          string `json:"id"`
	ProjectID   string `json:"project_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"`
	Priority    string `json:"priority"`
	BranchName  string `json:"branch_name,omitempty"`
	PRID        string `json:"pr_id,omitempty"`
	Diagnostic  string `json:"diagnostic,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

func toTaskOut(task *models.Task) taskOut {
	return taskOut{
		ID:          task.ID,
		ProjectID:   task.ProjectID,
		Title:       task.Title,
		Description: task.Description,
		Status:      string(task.Status),
		Priority:    string(task.Priority),
		BranchName:  task.BranchName,
		PRID:        task.PRID,
		Diagnostic:  task.Diagnostic,
		CreatedAt:   task.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   task.UpdatedAt.Format(time.RFC3339),
	}
}

type prOut struct {
	ID             string `json:"id"`
	ProjectID      string `json:"project_id"`
	TaskID         string `json:"task_id,omitempty"`
	Title          string `json:"title"`
	BranchName     string `json:"branch_name"`
	BaseBranch     string `json:"base_branch,omitempty"`
	Status         string `json:"status"`
	GitHubPRNumber int    `json:"github_pr_number,omitempty"`
	GitHubPRURL    string `json:"github_pr_url,omitempty"`
	CreatedAt      string `json:"created_at"`
}

func toPROut(pr *models.PullRequest) prOut {
	return prOut{
		ID:             pr.ID,
		ProjectID:      pr.ProjectID,
		TaskID:         pr.TaskID,
		Title:          pr.Title,
		BranchName:     pr.BranchName,
		BaseBranch:     pr.BaseBranch,
		Status:         string(pr.Status),
		GitHubPRNumber: pr.GitHubPRNumber,
		GitHubPRURL:    pr.GitHubPRURL,
		CreatedAt:      pr.CreatedAt.Format(time.RFC3339),
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// resolveProject tries to find a project by name first, then by ID.
func (s *Server) resolveProject(ctx context.Context, ref string) (*models.Project, error) {
	if p, err := s.store.GetProjectByName(ctx, ref); err == nil {
		return p, nil
	}
	if p, err := s.store.GetProject(ctx, ref); err == nil {
		return p, nil
	}
	return nil, fmt.Errorf("project not found: %s", ref)
}

// findTask finds a task by full ID or unique prefix.
func (s *Server) findTask(ctx context.Context, id string) (*models.Task, error) {
	if task, err := s.store.GetTask(ctx, id); err == nil {
		return task, nil
	}

	upper := strings.ToUpper(id)
	tasks, err := s.store.ListTasks(ctx, store.TaskListFilter{})
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

// findPR finds a pull request by full ID or unique prefix.
func (s *Server) findPR(ctx context.Context, id string) (*models.PullRequest, error) {
	if pr, err := s.store.GetPullRequest(ctx, id); err == nil {
		return pr, nil
	}

	upper := strings.ToUpper(id)
	prs, err := s.store.ListPullRequests(ctx, store.PRListFilter{})
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
		return nil, fmt.Errorf("ambiguous pull request ID %s: matches %d pull requests", id, len(matches))
	}
}
