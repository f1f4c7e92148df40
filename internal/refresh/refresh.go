// Package refresh re-syncs GitHub repository metadata into the local
// project records.
package refresh

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/devaihq/devai/internal/errors"
	"github.com/devaihq/devai/internal/github"
	"github.com/devaihq/devai/internal/models"
	"github.com/devaihq/devai/internal/store"
	"github.com/devaihq/devai/internal/techstack"
)

// Result holds the outcome of syncing a single project.
type Result struct {
	Name    string `json:"name"`
	Changed bool   `json:"changed"`
	Error   string `json:"error,omitempty"`
}

// AllResult holds the outcome of syncing all GitHub projects.
type AllResult struct {
	Synced  int      `json:"synced"`
	Total   int      `json:"total"`
	Failed  int      `json:"failed"`
	Results []Result `json:"results"`
}

// Project re-fetches remote metadata for a GitHub project and persists
// any changes. Returns true if a field was updated. timeout bounds each
// individual gateway call, not the whole sync.
func Project(ctx context.Context, s store.Store, p *models.Project, gw github.Gateway, timeout time.Duration) (bool, error) {
	if p.SourceType != models.SourceTypeGitHub {
		return false, fmt.Errorf("%w: project %s does not track a github repository", errors.ErrValidation, p.Name)
	}
	if gw == nil {
		return false, errors.ErrGitHubNotConfigured
	}

	rctx, cancel := context.WithTimeout(ctx, timeout)
	info, err := gw.GetRepo(rctx, p.GitHubOwner, p.GitHubRepo)
	cancel()
	if err != nil {
		return false, fmt.Errorf("fetch repo metadata: %w", err)
	}

	changed := false
	if info.DefaultBranch != "" && info.DefaultBranch != p.DefaultBranch {
		p.DefaultBranch = info.DefaultBranch
		changed = true
	}
	if info.Description != "" && info.Description != p.Description {
		p.Description = info.Description
		changed = true
	}

	// A failed tree listing is tolerated: metadata alone is still a sync.
	if p.DefaultBranch != "" {
		rctx, cancel = context.WithTimeout(ctx, timeout)
		entries, err := gw.ListTree(rctx, p.GitHubOwner, p.GitHubRepo, p.DefaultBranch)
		cancel()
		if err == nil {
			paths := sourcePaths(entries)
			if len(paths) != p.FileCount {
				p.FileCount = len(paths)
				changed = true
			}
			if stack := detectStack(paths, info.Language); !equalStacks(stack, p.TechStack) {
				p.TechStack = stack
				changed = true
			}
		}
	}

	if changed {
		if err := s.UpdateProject(ctx, p); err != nil {
			return false, fmt.Errorf("update project: %w", err)
		}
	}

	return changed, nil
}

// All syncs every GitHub-backed project. Non-GitHub projects are skipped
// and do not count toward the totals.
func All(ctx context.Context, s store.Store, gw github.Gateway, timeout time.Duration) (*AllResult, error) {
	projects, err := s.ListProjects(ctx)
	if err != nil {
		return nil, err
	}

	result := &AllResult{}
	for _, p := range projects {
		if p.SourceType != models.SourceTypeGitHub {
			continue
		}
		result.Total++
		r := Result{Name: p.Name}
		changed, err := Project(ctx, s, p, gw, timeout)
		if err != nil {
			r.Error = err.Error()
			result.Failed++
		} else {
			r.Changed = changed
			if changed {
				result.Synced++
			}
		}
		result.Results = append(result.Results, r)
	}

	return result, nil
}

// sourcePaths filters a tree listing down to the blob paths that carry
// signal for tech detection and the file count.
func sourcePaths(entries []github.TreeEntry) []string {
	var paths []string
	for _, e := range entries {
		if e.Type != "blob" || techstack.SkipPath(e.Path) {
			continue
		}
		paths = append(paths, e.Path)
	}
	return paths
}

// detectStack combines extension-based detection with the language GitHub
// reports for the repository.
func detectStack(paths []string, language string) []string {
	stack := techstack.Detect(paths)
	if language != "" && !containsString(stack, language) {
		stack = append(stack, language)
		sort.Strings(stack)
	}
	return stack
}

func containsString(ss []string, want string) bool {
	for _, s := range ss {
		if s == want {
			return true
		}
	}
	return false
}

func equalStacks(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
