package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devaihq/devai/internal/errors"
	"github.com/devaihq/devai/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	err = s.Migrate(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "subdir", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(filepath.Join(dir, "subdir"))
	assert.NoError(t, err, "should create parent directory")
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Running migrate again should be a no-op
	err := s.Migrate(ctx)
	assert.NoError(t, err)
}

// --- Project CRUD ---

func TestProjectCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Create
	p := &models.Project{
		Name:          "shop-api",
		Description:   "An e-commerce backend",
		SourceType:    models.SourceTypeGitHub,
		GitHubOwner:   "acme",
		GitHubRepo:    "shop-api",
		DefaultBranch: "main",
		TechStack:     []string{"PHP", "Laravel"},
	}
	err := s.CreateProject(ctx, p)
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.False(t, p.CreatedAt.IsZero())
	assert.Equal(t, models.ProjectStatusCreated, p.Status)

	// Get by ID
	got, err := s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Name, got.Name)
	assert.Equal(t, models.SourceTypeGitHub, got.SourceType)
	assert.Equal(t, "acme", got.GitHubOwner)
	assert.Equal(t, []string{"PHP", "Laravel"}, got.TechStack)

	// Get by Name
	got, err = s.GetProjectByName(ctx, "shop-api")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	// Update
	got.Summary = "A Laravel storefront with queue workers."
	got.Status = models.ProjectStatusReady
	err = s.UpdateProject(ctx, got)
	require.NoError(t, err)

	got2, err := s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusReady, got2.Status)
	assert.NotEmpty(t, got2.Summary)

	// List
	projects, err := s.ListProjects(ctx)
	require.NoError(t, err)
	assert.Len(t, projects, 1)

	// Delete
	err = s.DeleteProject(ctx, p.ID)
	require.NoError(t, err)

	_, err = s.GetProject(ctx, p.ID)
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestCreateProject_DuplicateName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p1 := &models.Project{Name: "dup", SourceType: models.SourceTypeManual}
	require.NoError(t, s.CreateProject(ctx, p1))

	p2 := &models.Project{Name: "dup", SourceType: models.SourceTypeManual}
	err := s.CreateProject(ctx, p2)
	assert.Error(t, err)
}

func TestDeleteProject_Cascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &models.Project{Name: "proj", SourceType: models.SourceTypeManual}
	require.NoError(t, s.CreateProject(ctx, p))

	task := &models.Task{ProjectID: p.ID, Title: "Add search"}
	require.NoError(t, s.CreateTask(ctx, task))

	pr := &models.PullRequest{ProjectID: p.ID, TaskID: task.ID, Title: "Add search", BranchName: "feature/add-search-202601010101"}
	require.NoError(t, s.CreatePullRequest(ctx, pr))

	require.NoError(t, s.UpsertProjectFile(ctx, &models.ProjectFile{ProjectID: p.ID, Path: "README.md", Content: "# proj"}))

	require.NoError(t, s.DeleteProject(ctx, p.ID))

	_, err := s.GetTask(ctx, task.ID)
	assert.ErrorIs(t, err, errors.ErrNotFound)
	_, err = s.GetPullRequest(ctx, pr.ID)
	assert.ErrorIs(t, err, errors.ErrNotFound)
	files, err := s.ListProjectFiles(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, files, 0)
}

// --- Project files ---

func TestProjectFileStore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &models.Project{Name: "uploaded", SourceType: models.SourceTypeUpload}
	require.NoError(t, s.CreateProject(ctx, p))

	// Upsert creates
	f := &models.ProjectFile{ProjectID: p.ID, Path: "src/app.js", Content: "console.log('hi')\n"}
	require.NoError(t, s.UpsertProjectFile(ctx, f))

	got, err := s.GetProjectFile(ctx, p.ID, "src/app.js")
	require.NoError(t, err)
	assert.Equal(t, "console.log('hi')\n", got.Content)
	assert.Equal(t, len(f.Content), got.Size)

	// Upsert overwrites in place
	f2 := &models.ProjectFile{ProjectID: p.ID, Path: "src/app.js", Content: "console.log('bye')\n"}
	require.NoError(t, s.UpsertProjectFile(ctx, f2))

	got, err = s.GetProjectFile(ctx, p.ID, "src/app.js")
	require.NoError(t, err)
	assert.Equal(t, "console.log('bye')\n", got.Content)

	// file_count tracks the store
	proj, err := s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, proj.FileCount)

	require.NoError(t, s.UpsertProjectFile(ctx, &models.ProjectFile{ProjectID: p.ID, Path: "index.html", Content: "<html></html>"}))
	proj, err = s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, proj.FileCount)

	// List is path ordered
	files, err := s.ListProjectFiles(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "index.html", files[0].Path)
	assert.Equal(t, "src/app.js", files[1].Path)

	// Delete existing
	deleted, err := s.DeleteProjectFile(ctx, p.ID, "index.html")
	require.NoError(t, err)
	assert.True(t, deleted)

	// Delete missing is a no-op, not an error
	deleted, err = s.DeleteProjectFile(ctx, p.ID, "missing.txt")
	require.NoError(t, err)
	assert.False(t, deleted)

	proj, err = s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, proj.FileCount)
}

// --- Task CRUD ---

func TestTaskCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &models.Project{Name: "proj", SourceType: models.SourceTypeManual}
	require.NoError(t, s.CreateProject(ctx, p))

	task := &models.Task{
		ProjectID:   p.ID,
		Title:       "Add logging",
		Description: "Wire a logger into the request path",
		Priority:    models.TaskPriorityHigh,
	}
	err := s.CreateTask(ctx, task)
	require.NoError(t, err)
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, models.TaskStatusPending, task.Status)

	// Get
	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "Add logging", got.Title)
	assert.Equal(t, models.TaskPriorityHigh, got.Priority)
	assert.Empty(t, got.FilesChanged)

	// Update with file changes round-trips the JSON column
	got.Status = models.TaskStatusCompleted
	got.AIResponse = "Here is the logger."
	got.FilesChanged = []models.FileChange{
		{Path: "app/Logger.php", Content: "<?php\n", Action: models.ActionCreate},
		{Path: "old/Debug.php", Action: models.ActionDelete},
	}
	got.BranchName = "feature/add-logging-202601281530"
	require.NoError(t, s.UpdateTask(ctx, got))

	got2, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, got2.FilesChanged, 2)
	assert.Equal(t, "app/Logger.php", got2.FilesChanged[0].Path)
	assert.Equal(t, models.ActionCreate, got2.FilesChanged[0].Action)
	assert.Equal(t, models.ActionDelete, got2.FilesChanged[1].Action)
	assert.Equal(t, "feature/add-logging-202601281530", got2.BranchName)

	// List with filters
	tasks, err := s.ListTasks(ctx, TaskListFilter{ProjectID: p.ID})
	require.NoError(t, err)
	assert.Len(t, tasks, 1)

	tasks, err = s.ListTasks(ctx, TaskListFilter{Status: models.TaskStatusPending})
	require.NoError(t, err)
	assert.Len(t, tasks, 0)

	tasks, err = s.ListTasks(ctx, TaskListFilter{Status: models.TaskStatusCompleted, Priority: models.TaskPriorityHigh})
	require.NoError(t, err)
	assert.Len(t, tasks, 1)

	// Delete
	require.NoError(t, s.DeleteTask(ctx, task.ID))
	_, err = s.GetTask(ctx, task.ID)
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

// --- Status transitions ---

func TestTransitionTaskStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &models.Project{Name: "proj", SourceType: models.SourceTypeManual}
	require.NoError(t, s.CreateProject(ctx, p))

	task := &models.Task{ProjectID: p.ID, Title: "Work"}
	require.NoError(t, s.CreateTask(ctx, task))

	from := []models.TaskStatus{models.TaskStatusPending, models.TaskStatusFailed}

	// pending -> in_progress succeeds
	err := s.TransitionTaskStatus(ctx, task.ID, from, models.TaskStatusInProgress)
	require.NoError(t, err)

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusInProgress, got.Status)

	// in_progress -> in_progress is rejected
	err = s.TransitionTaskStatus(ctx, task.ID, from, models.TaskStatusInProgress)
	assert.ErrorIs(t, err, errors.ErrInvalidState)

	// failed -> in_progress succeeds (retry path)
	got.Status = models.TaskStatusFailed
	require.NoError(t, s.UpdateTask(ctx, got))
	err = s.TransitionTaskStatus(ctx, task.ID, from, models.TaskStatusInProgress)
	assert.NoError(t, err)

	// missing task is reported as not found, not invalid state
	err = s.TransitionTaskStatus(ctx, "nonexistent", from, models.TaskStatusInProgress)
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestTransitionTaskStatus_ConcurrentSingleWinner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &models.Project{Name: "proj", SourceType: models.SourceTypeManual}
	require.NoError(t, s.CreateProject(ctx, p))

	task := &models.Task{ProjectID: p.ID, Title: "Race"}
	require.NoError(t, s.CreateTask(ctx, task))

	from := []models.TaskStatus{models.TaskStatusPending, models.TaskStatusFailed}

	const callers = 8
	var won, rejected atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.TransitionTaskStatus(ctx, task.ID, from, models.TaskStatusInProgress)
			switch {
			case err == nil:
				won.Add(1)
			case errors.Is(err, errors.ErrInvalidState):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), won.Load(), "exactly one caller may claim the task")
	assert.Equal(t, int32(callers-1), rejected.Load())
}

// --- Pull requests ---

func TestPullRequestCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &models.Project{Name: "proj", SourceType: models.SourceTypeGitHub, GitHubOwner: "acme", GitHubRepo: "proj"}
	require.NoError(t, s.CreateProject(ctx, p))
	task := &models.Task{ProjectID: p.ID, Title: "Add search"}
	require.NoError(t, s.CreateTask(ctx, task))

	pr := &models.PullRequest{
		ProjectID:  p.ID,
		TaskID:     task.ID,
		Title:      "Add search",
		BranchName: "feature/add-search-202601281530",
		BaseBranch: "main",
		FilesChanged: []models.FileChange{
			{Path: "search.go", Content: "package search\n", Action: models.ActionCreate},
		},
		GitHubPRNumber: 7,
		GitHubPRURL:    "https://github.com/acme/proj/pull/7",
	}
	require.NoError(t, s.CreatePullRequest(ctx, pr))
	assert.NotEmpty(t, pr.ID)
	assert.Equal(t, models.PRStatusOpen, pr.Status)

	got, err := s.GetPullRequest(ctx, pr.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, got.GitHubPRNumber)
	require.Len(t, got.FilesChanged, 1)
	assert.Equal(t, "search.go", got.FilesChanged[0].Path)

	// Filters
	prs, err := s.ListPullRequests(ctx, PRListFilter{ProjectID: p.ID})
	require.NoError(t, err)
	assert.Len(t, prs, 1)

	prs, err = s.ListPullRequests(ctx, PRListFilter{TaskID: task.ID, Status: models.PRStatusOpen})
	require.NoError(t, err)
	assert.Len(t, prs, 1)

	prs, err = s.ListPullRequests(ctx, PRListFilter{Status: models.PRStatusMerged})
	require.NoError(t, err)
	assert.Len(t, prs, 0)

	// Update
	got.Status = models.PRStatusMerged
	require.NoError(t, s.UpdatePullRequest(ctx, got))

	got2, err := s.GetPullRequest(ctx, pr.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PRStatusMerged, got2.Status)
}

// --- Settings ---

func TestSettingsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Seeded by migration
	st, err := s.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", st.AIProvider)
	assert.Equal(t, "dark", st.Theme)

	st.AIModel = "claude-sonnet-4-5"
	st.Theme = "light"
	st.GitHubToken = "ghp_test"
	require.NoError(t, s.UpdateSettings(ctx, st))

	got, err := s.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-5", got.AIModel)
	assert.Equal(t, "light", got.Theme)
	assert.Equal(t, "ghp_test", got.GitHubToken)
}

// --- Dashboard ---

func TestDashboardCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &models.Project{Name: "proj", SourceType: models.SourceTypeManual}
	require.NoError(t, s.CreateProject(ctx, p))

	for _, st := range []models.TaskStatus{
		models.TaskStatusPending, models.TaskStatusPending,
		models.TaskStatusCompleted, models.TaskStatusFailed,
	} {
		task := &models.Task{ProjectID: p.ID, Title: "t", Status: st}
		require.NoError(t, s.CreateTask(ctx, task))
	}

	pr := &models.PullRequest{ProjectID: p.ID, TaskID: "x", Title: "pr", BranchName: "feature/x-202601010101"}
	require.NoError(t, s.CreatePullRequest(ctx, pr))

	n, err := s.CountProjects(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	taskCounts, err := s.CountTasksByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, taskCounts[models.TaskStatusPending])
	assert.Equal(t, 1, taskCounts[models.TaskStatusCompleted])
	assert.Equal(t, 1, taskCounts[models.TaskStatusFailed])

	prCounts, err := s.CountPullRequestsByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, prCounts[models.PRStatusOpen])

	recent, err := s.RecentTasks(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	recentPRs, err := s.RecentPullRequests(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, recentPRs, 1)

	recentProjects, err := s.RecentProjects(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, recentProjects, 1)
}
