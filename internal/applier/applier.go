// Package applier lands parsed file changes in a project's local file
// store. It is the non-GitHub counterpart of committing to a remote
// branch: upload and manual projects get their changes applied here and
// reviewed through a local pull-request record.
package applier

import (
	"context"
	"fmt"

	"github.com/devaihq/devai/internal/models"
	"github.com/devaihq/devai/internal/store"
)

// Applier writes file changes into the project file store.
type Applier struct {
	store store.Store
}

// New creates an Applier backed by st.
func New(st store.Store) *Applier {
	return &Applier{store: st}
}

// Apply lands the changes in order, keyed by path. Create and update both
// overwrite in place; delete on a missing path is a no-op. On success the
// returned list is exactly the input, so the caller can build a local
// pull-request record without re-reading storage.
func (a *Applier) Apply(ctx context.Context, projectID string, files []models.FileChange) ([]models.FileChange, error) {
	for _, f := range files {
		switch f.Action {
		case models.ActionDelete:
			if _, err := a.store.DeleteProjectFile(ctx, projectID, f.Path); err != nil {
				return nil, fmt.Errorf("delete %s: %w", f.Path, err)
			}
		default:
			pf := &models.ProjectFile{
				ProjectID: projectID,
				Path:      f.Path,
				Content:   f.Content,
			}
			if err := a.store.UpsertProjectFile(ctx, pf); err != nil {
				return nil, fmt.Errorf("write %s: %w", f.Path, err)
			}
		}
	}
	return files, nil
}
