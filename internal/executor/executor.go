// Package executor runs tasks end to end: AI call, response parsing,
// then landing the changes as a GitHub branch/commit/pull-request or as
// a local change set. It owns the task state machine.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/viper"

	"github.com/devaihq/devai/internal/applier"
	"github.com/devaihq/devai/internal/errors"
	"github.com/devaihq/devai/internal/github"
	"github.com/devaihq/devai/internal/llm"
	"github.com/devaihq/devai/internal/models"
	"github.com/devaihq/devai/internal/parser"
	"github.com/devaihq/devai/internal/store"
)

// Diagnostic codes recorded on failed tasks, always followed by ": " and
// a human-readable detail. The codes are stable; clients match on them.
const (
	DiagAICallFailed          = "ai_call_failed"
	DiagGitHubNotConfigured   = "github_not_configured"
	DiagAuthFailure           = "auth_failure"
	DiagRemoteNotFound        = "remote_not_found"
	DiagRemoteError           = "remote_error"
	DiagBranchCreateExhausted = "branch_create_exhausted"
	DiagApplyFailed           = "apply_failed"
	DiagStoreFailed           = "store_failed"
)

// Config holds execution tuning.
type Config struct {
	// AITimeout bounds the model call; generation is slow.
	AITimeout time.Duration
	// GitTimeout bounds a single hosting API call.
	GitTimeout time.Duration
	// BranchAttempts is the total number of branch names tried before
	// giving up on a name collision.
	BranchAttempts int
}

// DefaultConfig returns the default executor config, reading from viper
// when available.
func DefaultConfig() Config {
	aiTimeout := viper.GetDuration("ai.timeout")
	if aiTimeout <= 0 {
		aiTimeout = 120 * time.Second
	}
	gitTimeout := viper.GetDuration("github.timeout")
	if gitTimeout <= 0 {
		gitTimeout = 8 * time.Second
	}
	attempts := viper.GetInt("github.branch_attempts")
	if attempts <= 0 {
		attempts = 4
	}
	return Config{
		AITimeout:      aiTimeout,
		GitTimeout:     gitTimeout,
		BranchAttempts: attempts,
	}
}

// Result is the outcome of one execution request.
type Result struct {
	TaskID       string              `json:"task_id"`
	Status       models.TaskStatus   `json:"status"`
	AIResponse   string              `json:"ai_response,omitempty"`
	FilesChanged []models.FileChange `json:"files_changed"`
	BranchName   string              `json:"branch_name,omitempty"`
	PRID         string              `json:"pr_id,omitempty"`
	PRURL        string              `json:"pr_url,omitempty"`
	Diagnostic   string              `json:"diagnostic,omitempty"`
}

// Executor orchestrates task execution.
type Executor struct {
	store   store.Store
	ai      llm.Generator
	gateway github.Gateway // nil when no GitHub token is configured
	parser  parser.Parser
	applier *applier.Applier
	cfg     Config
	logger  *slog.Logger
}

// New creates an executor. gw may be nil; executing a task on a GitHub
// project then fails with github_not_configured.
func New(st store.Store, ai llm.Generator, gw github.Gateway, cfg Config) *Executor {
	return &Executor{
		store:   st,
		ai:      ai,
		gateway: gw,
		parser:  parser.NewFencedParser(),
		applier: applier.New(st),
		cfg:     cfg,
		logger:  slog.Default(),
	}
}

// WithParser replaces the response parsing strategy.
func (e *Executor) WithParser(p parser.Parser) *Executor {
	e.parser = p
	return e
}

// Execute runs the pipeline for taskID. A task must be pending or failed
// to start; retrying a failed task re-runs everything from scratch with
// a fresh AI call and branch timestamp.
//
// The returned error is non-nil only when nothing ran: unknown task or
// project, or a status that forbids execution (ErrInvalidState, also the
// answer a second concurrent request gets). Once the task is in_progress
// every failure is absorbed into the task record and reported through
// Result.Status and Result.Diagnostic.
func (e *Executor) Execute(ctx context.Context, taskID string) (*Result, error) {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	project, err := e.store.GetProject(ctx, task.ProjectID)
	if err != nil {
		return nil, err
	}

	// The conditional transition is the mutual-exclusion gate: of N
	// concurrent requests for the same task exactly one moves it to
	// in_progress, the rest get ErrInvalidState.
	err = e.store.TransitionTaskStatus(ctx, task.ID,
		[]models.TaskStatus{models.TaskStatusPending, models.TaskStatusFailed},
		models.TaskStatusInProgress)
	if err != nil {
		return nil, err
	}
	task.Status = models.TaskStatusInProgress
	task.AIResponse = ""
	task.FilesChanged = nil
	task.BranchName = ""
	task.PRID = ""
	task.Diagnostic = ""

	e.logger.Info("executing task", "task", task.ID, "project", project.Name, "source", project.SourceType)

	aiCtx, cancel := context.WithTimeout(ctx, e.cfg.AITimeout)
	raw, err := e.ai.ExecuteTask(aiCtx, project, task)
	cancel()
	if err != nil {
		return e.failTask(ctx, task, DiagAICallFailed, fmt.Sprintf("AI call failed: %v", err))
	}
	task.AIResponse = raw

	changes, diags := e.parser.Parse(raw)
	for _, d := range diags {
		e.logger.Warn("response parser diagnostic", "task", task.ID, "detail", d)
	}
	task.FilesChanged = changes
	if len(changes) == 0 {
		// Zero applicable files is the degenerate success case: the
		// response may still be a useful prose answer.
		return e.completeTask(ctx, task, "")
	}

	if project.SourceType == models.SourceTypeGitHub {
		return e.executeGitHub(ctx, project, task, changes)
	}
	return e.executeLocal(ctx, project, task, changes)
}

// executeGitHub lands changes as branch, commit, and pull request. A
// branch created before a later step fails is left in place on purpose;
// the diagnostic names it so a human can inspect or clean up.
func (e *Executor) executeGitHub(ctx context.Context, project *models.Project, task *models.Task, changes []models.FileChange) (*Result, error) {
	if e.gateway == nil {
		return e.failTask(ctx, task, DiagGitHubNotConfigured, "no GitHub token configured; connect GitHub in settings")
	}

	base := project.DefaultBranch
	if base == "" {
		base = "main"
	}

	resolveCtx, cancel := context.WithTimeout(ctx, e.cfg.GitTimeout)
	headSHA, err := e.gateway.ResolveHeadSHA(resolveCtx, project.GitHubOwner, project.GitHubRepo, base)
	cancel()
	if err != nil {
		return e.failTask(ctx, task, remoteDiag(err), fmt.Sprintf("resolve head of %s: %v", base, err))
	}

	name := github.BranchName(task.Title, time.Now().UTC())
	branch := ""
	for attempt := 1; attempt <= e.cfg.BranchAttempts; attempt++ {
		candidate := name
		if attempt > 1 {
			candidate = github.BranchNameWithSuffix(name, attempt)
		}
		createCtx, cancel := context.WithTimeout(ctx, e.cfg.GitTimeout)
		err = e.gateway.CreateBranch(createCtx, project.GitHubOwner, project.GitHubRepo, candidate, headSHA)
		cancel()
		if err == nil {
			branch = candidate
			break
		}
		if errors.Is(err, errors.ErrBranchExists) {
			continue
		}
		return e.failTask(ctx, task, remoteDiag(err), fmt.Sprintf("create branch %s: %v", candidate, err))
	}
	if branch == "" {
		return e.failTask(ctx, task, DiagBranchCreateExhausted,
			fmt.Sprintf("all %d branch names starting at %s already exist", e.cfg.BranchAttempts, name))
	}
	task.BranchName = branch

	// One blob upload per file plus four bookkeeping calls; the deadline
	// scales with the file count.
	commitCtx, cancel := context.WithTimeout(ctx, e.cfg.GitTimeout*time.Duration(len(changes)+4))
	commitSHA, err := e.gateway.CommitFiles(commitCtx, project.GitHubOwner, project.GitHubRepo, branch, changes, commitMessage(task))
	cancel()
	if err != nil {
		return e.failTask(ctx, task, remoteDiag(err),
			fmt.Sprintf("commit files: %v; branch %s was created and is left in place", err, branch))
	}
	e.logger.Info("committed", "task", task.ID, "branch", branch, "commit", commitSHA, "files", len(changes))

	prCtx, cancel := context.WithTimeout(ctx, e.cfg.GitTimeout)
	ref, err := e.gateway.OpenPullRequest(prCtx, project.GitHubOwner, project.GitHubRepo, branch, base, task.Title, prBody(task))
	cancel()
	if errors.Is(err, errors.ErrEmptyDiff) {
		// The committed content matches base exactly; done, nothing to
		// review.
		return e.completeTask(ctx, task, "")
	}
	if err != nil {
		return e.failTask(ctx, task, remoteDiag(err),
			fmt.Sprintf("open pull request: %v; branch %s was created and is left in place", err, branch))
	}

	pr := &models.PullRequest{
		ProjectID:      project.ID,
		TaskID:         task.ID,
		Title:          task.Title,
		Description:    task.Description,
		BranchName:     branch,
		BaseBranch:     base,
		Status:         models.PRStatusOpen,
		FilesChanged:   changes,
		GitHubPRNumber: ref.Number,
		GitHubPRURL:    ref.URL,
	}
	if err := e.store.CreatePullRequest(ctx, pr); err != nil {
		return e.failTask(ctx, task, DiagStoreFailed,
			fmt.Sprintf("record pull request %s: %v; branch %s and PR %d exist on GitHub", ref.URL, err, branch, ref.Number))
	}
	task.PRID = pr.ID
	return e.completeTask(ctx, task, ref.URL)
}

// executeLocal applies changes to the project file store and records a
// local pull-request entry for review.
func (e *Executor) executeLocal(ctx context.Context, project *models.Project, task *models.Task, changes []models.FileChange) (*Result, error) {
	applied, err := e.applier.Apply(ctx, project.ID, changes)
	if err != nil {
		return e.failTask(ctx, task, DiagApplyFailed, fmt.Sprintf("apply changes to file store: %v", err))
	}
	if len(applied) == 0 {
		return e.completeTask(ctx, task, "")
	}

	// No branch exists for local projects; the name is a review label in
	// the same format the GitHub path uses.
	task.BranchName = github.BranchName(task.Title, time.Now().UTC())

	pr := &models.PullRequest{
		ProjectID:    project.ID,
		TaskID:       task.ID,
		Title:        task.Title,
		Description:  task.Description,
		BranchName:   task.BranchName,
		Status:       models.PRStatusOpen,
		FilesChanged: applied,
	}
	if err := e.store.CreatePullRequest(ctx, pr); err != nil {
		return e.failTask(ctx, task, DiagStoreFailed, fmt.Sprintf("record local pull request: %v", err))
	}
	task.PRID = pr.ID
	return e.completeTask(ctx, task, "")
}

// Analyze regenerates a project's AI summary from its stored files and
// marks it ready. The project status reflects progress so the UI can
// poll it.
func (e *Executor) Analyze(ctx context.Context, projectID string) (*models.Project, error) {
	project, err := e.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	project.Status = models.ProjectStatusAnalyzing
	if err := e.store.UpdateProject(ctx, project); err != nil {
		return nil, fmt.Errorf("mark project analyzing: %w", err)
	}

	files, err := e.store.ListProjectFiles(ctx, projectID)
	if err != nil {
		return nil, err
	}
	inline := make([]models.ProjectFile, 0, len(files))
	for _, f := range files {
		inline = append(inline, *f)
	}

	aiCtx, cancel := context.WithTimeout(ctx, e.cfg.AITimeout)
	summary, err := e.ai.AnalyzeProject(aiCtx, project, inline)
	cancel()
	if err != nil {
		project.Status = models.ProjectStatusError
		if updateErr := e.store.UpdateProject(ctx, project); updateErr != nil {
			return nil, fmt.Errorf("mark project errored: %w", updateErr)
		}
		return nil, fmt.Errorf("%w: %v", errors.ErrAICallFailed, err)
	}

	project.Summary = summary
	project.Status = models.ProjectStatusReady
	if err := e.store.UpdateProject(ctx, project); err != nil {
		return nil, fmt.Errorf("persist analysis: %w", err)
	}
	return project, nil
}

// completeTask persists the terminal success state.
func (e *Executor) completeTask(ctx context.Context, task *models.Task, prURL string) (*Result, error) {
	task.Status = models.TaskStatusCompleted
	task.Diagnostic = ""
	if err := e.store.UpdateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("persist completed task: %w", err)
	}
	e.logger.Info("task completed", "task", task.ID, "files", len(task.FilesChanged), "branch", task.BranchName)
	return e.result(task, prURL), nil
}

// failTask persists the terminal failure state with a stable diagnostic
// code prefix.
func (e *Executor) failTask(ctx context.Context, task *models.Task, code, detail string) (*Result, error) {
	task.Status = models.TaskStatusFailed
	task.Diagnostic = code
	if detail != "" {
		task.Diagnostic = code + ": " + detail
	}
	if err := e.store.UpdateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("persist failed task: %w", err)
	}
	e.logger.Warn("task failed", "task", task.ID, "code", code, "detail", detail)
	return e.result(task, ""), nil
}

func (e *Executor) result(task *models.Task, prURL string) *Result {
	return &Result{
		TaskID:       task.ID,
		Status:       task.Status,
		AIResponse:   task.AIResponse,
		FilesChanged: task.FilesChanged,
		BranchName:   task.BranchName,
		PRID:         task.PRID,
		PRURL:        prURL,
		Diagnostic:   task.Diagnostic,
	}
}

// remoteDiag maps a gateway error onto its diagnostic code.
func remoteDiag(err error) string {
	switch {
	case errors.Is(err, errors.ErrAuth):
		return DiagAuthFailure
	case errors.Is(err, errors.ErrRemoteNotFound):
		return DiagRemoteNotFound
	default:
		return DiagRemoteError
	}
}

// commitMessage is the single commit's message for a task's change set.
func commitMessage(task *models.Task) string {
	return fmt.Sprintf("%s\n\nGenerated by devai for task %s", task.Title, task.ID)
}

// prBody is the pull request description.
func prBody(task *models.Task) string {
	if task.Description == "" {
		return fmt.Sprintf("Automated change set for task %s.", task.ID)
	}
	return task.Description
}
