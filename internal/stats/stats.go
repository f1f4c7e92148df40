// Package stats aggregates dashboard numbers from the store.
package stats

import (
	"context"
	"fmt"

	"github.com/devaihq/devai/internal/models"
	"github.com/devaihq/devai/internal/store"
)

// TaskCounts breaks tasks down by execution state.
type TaskCounts struct {
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
}

// PRCounts breaks pull requests down by review state.
type PRCounts struct {
	Open   int `json:"open"`
	Merged int `json:"merged"`
	Closed int `json:"closed"`
}

// Overview is the dashboard payload.
type Overview struct {
	Projects           int                   `json:"projects"`
	Tasks              TaskCounts            `json:"tasks"`
	PullRequests       PRCounts              `json:"pull_requests"`
	RecentProjects     []*models.Project     `json:"recent_projects"`
	RecentTasks        []*models.Task        `json:"recent_tasks"`
	RecentPullRequests []*models.PullRequest `json:"recent_pull_requests"`
}

// Collector assembles dashboard overviews.
type Collector struct {
	store store.Store
}

// NewCollector returns a Collector backed by st.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// Overview gathers counts and the most recently updated records.
// recentLimit bounds each recent list; zero or negative means 5.
func (c *Collector) Overview(ctx context.Context, recentLimit int) (*Overview, error) {
	if recentLimit <= 0 {
		recentLimit = 5
	}

	projects, err := c.store.CountProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("count projects: %w", err)
	}
	taskCounts, err := c.store.CountTasksByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	prCounts, err := c.store.CountPullRequestsByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count pull requests: %w", err)
	}

	overview := &Overview{
		Projects: projects,
		Tasks: TaskCounts{
			Pending:    taskCounts[models.TaskStatusPending],
			InProgress: taskCounts[models.TaskStatusInProgress],
			Completed:  taskCounts[models.TaskStatusCompleted],
			Failed:     taskCounts[models.TaskStatusFailed],
		},
		PullRequests: PRCounts{
			Open:   prCounts[models.PRStatusOpen],
			Merged: prCounts[models.PRStatusMerged],
			Closed: prCounts[models.PRStatusClosed],
		},
	}
	overview.Tasks.Total = overview.Tasks.Pending + overview.Tasks.InProgress +
		overview.Tasks.Completed + overview.Tasks.Failed

	if overview.RecentProjects, err = c.store.RecentProjects(ctx, recentLimit); err != nil {
		return nil, fmt.Errorf("recent projects: %w", err)
	}
	if overview.RecentTasks, err = c.store.RecentTasks(ctx, recentLimit); err != nil {
		return nil, fmt.Errorf("recent tasks: %w", err)
	}
	if overview.RecentPullRequests, err = c.store.RecentPullRequests(ctx, recentLimit); err != nil {
		return nil, fmt.Errorf("recent pull requests: %w", err)
	}
	return overview, nil
}
