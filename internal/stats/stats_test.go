package stats

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devaihq/devai/internal/models"
	"github.com/devaihq/devai/internal/store"
)

func TestOverview(t *testing.T) {
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "devai.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	ctx := context.Background()

	project := &models.Project{Name: "app", SourceType: models.SourceTypeManual}
	require.NoError(t, st.CreateProject(ctx, project))

	statuses := []models.TaskStatus{
		models.TaskStatusPending,
		models.TaskStatusPending,
		models.TaskStatusInProgress,
		models.TaskStatusCompleted,
		models.TaskStatusFailed,
	}
	var lastTask *models.Task
	for i, status := range statuses {
		task := &models.Task{
			ProjectID: project.ID,
			Title:     fmt.Sprintf("task %d", i),
			Status:    status,
			Priority:  models.TaskPriorityMedium,
		}
		require.NoError(t, st.CreateTask(ctx, task))
		lastTask = task
	}

	for _, status := range []models.PRStatus{models.PRStatusOpen, models.PRStatusMerged, models.PRStatusMerged} {
		pr := &models.PullRequest{
			ProjectID:  project.ID,
			TaskID:     lastTask.ID,
			Title:      "change",
			BranchName: "feature/change-202601281530",
			Status:     status,
		}
		require.NoError(t, st.CreatePullRequest(ctx, pr))
	}

	overview, err := NewCollector(st).Overview(ctx, 0)
	require.NoError(t, err)

	assert.Equal(t, 1, overview.Projects)
	assert.Equal(t, TaskCounts{Pending: 2, InProgress: 1, Completed: 1, Failed: 1, Total: 5}, overview.Tasks)
	assert.Equal(t, PRCounts{Open: 1, Merged: 2}, overview.PullRequests)

	require.Len(t, overview.RecentProjects, 1)
	assert.Len(t, overview.RecentTasks, 5)
	assert.Len(t, overview.RecentPullRequests, 3)
}

func TestOverviewEmptyStore(t *testing.T) {
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "devai.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	overview, err := NewCollector(st).Overview(context.Background(), 5)
	require.NoError(t, err)

	assert.Zero(t, overview.Projects)
	assert.Zero(t, overview.Tasks.Total)
	assert.Empty(t, overview.RecentProjects)
	assert.Empty(t, overview.RecentTasks)
	assert.Empty(t, overview.RecentPullRequests)
}
