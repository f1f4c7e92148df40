package applier

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devaihq/devai/internal/errors"
	"github.com/devaihq/devai/internal/models"
	"github.com/devaihq/devai/internal/store"
)

func newTestApplier(t *testing.T) (*Applier, store.Store, string) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "devai.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	project := &models.Project{Name: "local", SourceType: models.SourceTypeManual}
	require.NoError(t, st.CreateProject(context.Background(), project))
	return New(st), st, project.ID
}

func TestApply(t *testing.T) {
	applier, st, projectID := newTestApplier(t)
	ctx := context.Background()

	files := []models.FileChange{
		{Path: "src/app.js", Content: "console.log('hi')\n", Action: models.ActionCreate},
		{Path: "README.md", Content: "# local\n", Action: models.ActionCreate},
	}
	applied, err := applier.Apply(ctx, projectID, files)
	require.NoError(t, err)
	assert.Equal(t, files, applied)

	stored, err := st.GetProjectFile(ctx, projectID, "src/app.js")
	require.NoError(t, err)
	assert.Equal(t, "console.log('hi')\n", stored.Content)

	p, err := st.GetProject(ctx, projectID)
	require.NoError(t, err)
	assert.Equal(t, 2, p.FileCount)
}

func TestApplyUpdateOverwrites(t *testing.T) {
	applier, st, projectID := newTestApplier(t)
	ctx := context.Background()

	_, err := applier.Apply(ctx, projectID, []models.FileChange{
		{Path: "config.yaml", Content: "debug: false\n", Action: models.ActionCreate},
	})
	require.NoError(t, err)

	_, err = applier.Apply(ctx, projectID, []models.FileChange{
		{Path: "config.yaml", Content: "debug: true\n", Action: models.ActionUpdate},
	})
	require.NoError(t, err)

	stored, err := st.GetProjectFile(ctx, projectID, "config.yaml")
	require.NoError(t, err)
	assert.Equal(t, "debug: true\n", stored.Content)
}

func TestApplyDelete(t *testing.T) {
	applier, st, projectID := newTestApplier(t)
	ctx := context.Background()

	_, err := applier.Apply(ctx, projectID, []models.FileChange{
		{Path: "tmp/scratch.txt", Content: "x\n", Action: models.ActionCreate},
	})
	require.NoError(t, err)

	t.Run("removes an existing file", func(t *testing.T) {
		_, err := applier.Apply(ctx, projectID, []models.FileChange{
			{Path: "tmp/scratch.txt", Action: models.ActionDelete},
		})
		require.NoError(t, err)

		_, err = st.GetProjectFile(ctx, projectID, "tmp/scratch.txt")
		assert.ErrorIs(t, err, errors.ErrNotFound)
	})

	t.Run("missing path is a no-op", func(t *testing.T) {
		applied, err := applier.Apply(ctx, projectID, []models.FileChange{
			{Path: "never/existed.txt", Action: models.ActionDelete},
		})
		require.NoError(t, err)
		assert.Len(t, applied, 1)
	})
}

func TestApplyMixedOrder(t *testing.T) {
	applier, st, projectID := newTestApplier(t)
	ctx := context.Background()

	_, err := applier.Apply(ctx, projectID, []models.FileChange{
		{Path: "a.txt", Content: "first\n", Action: models.ActionCreate},
		{Path: "a.txt", Content: "second\n", Action: models.ActionUpdate},
		{Path: "b.txt", Content: "b\n", Action: models.ActionCreate},
		{Path: "b.txt", Action: models.ActionDelete},
	})
	require.NoError(t, err)

	a, err := st.GetProjectFile(ctx, projectID, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "second\n", a.Content)

	_, err = st.GetProjectFile(ctx, projectID, "b.txt")
	assert.ErrorIs(t, err, errors.ErrNotFound)

	p, err := st.GetProject(ctx, projectID)
	require.NoError(t, err)
	assert.Equal(t, 1, p.FileCount)
}
