package store

import (
	"context"

	"github.com/devaihq/devai/internal/models"
)

// TaskListFilter specifies filters for listing tasks.
type TaskListFilter struct {
	ProjectID string
	Status    models.TaskStatus
	Priority  models.TaskPriority
	Limit     int
}

// PRListFilter specifies filters for listing pull requests.
type PRListFilter struct {
	ProjectID string
	TaskID    string
	Status    models.PRStatus
	Limit     int
}

// Store defines the persistence interface for devai.
type Store interface {
	// Projects
	CreateProject(ctx context.Context, p *models.Project) error
	GetProject(ctx context.Context, id string) (*models.Project, error)
	GetProjectByName(ctx context.Context, name string) (*models.Project, error)
	ListProjects(ctx context.Context) ([]*models.Project, error)
	UpdateProject(ctx context.Context, p *models.Project) error
	DeleteProject(ctx context.Context, id string) error

	// Project files (the file store for upload/manual projects)
	UpsertProjectFile(ctx context.Context, f *models.ProjectFile) error
	GetProjectFile(ctx context.Context, projectID, path string) (*models.ProjectFile, error)
	ListProjectFiles(ctx context.Context, projectID string) ([]*models.ProjectFile, error)
	DeleteProjectFile(ctx context.Context, projectID, path string) (bool, error)

	// Tasks
	CreateTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	ListTasks(ctx context.Context, filter TaskListFilter) ([]*models.Task, error)
	UpdateTask(ctx context.Context, task *models.Task) error
	DeleteTask(ctx context.Context, id string) error
	// TransitionTaskStatus atomically moves a task to status to only if its
	// current status is one of from. It is the mutual-exclusion gate for
	// task execution: a concurrent caller losing the race gets
	// errors.ErrInvalidState.
	TransitionTaskStatus(ctx context.Context, id string, from []models.TaskStatus, to models.TaskStatus) error

	// Pull requests
	CreatePullRequest(ctx context.Context, pr *models.PullRequest) error
	GetPullRequest(ctx context.Context, id string) (*models.PullRequest, error)
	ListPullRequests(ctx context.Context, filter PRListFilter) ([]*models.PullRequest, error)
	UpdatePullRequest(ctx context.Context, pr *models.PullRequest) error

	// Settings
	GetSettings(ctx context.Context) (*models.Settings, error)
	UpdateSettings(ctx context.Context, s *models.Settings) error

	// Dashboard
	CountProjects(ctx context.Context) (int, error)
	CountTasksByStatus(ctx context.Context) (map[models.TaskStatus]int, error)
	CountPullRequestsByStatus(ctx context.Context) (map[models.PRStatus]int, error)
	RecentProjects(ctx context.Context, limit int) ([]*models.Project, error)
	RecentTasks(ctx context.Context, limit int) ([]*models.Task, error)
	RecentPullRequests(ctx context.Context, limit int) ([]*models.PullRequest, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
