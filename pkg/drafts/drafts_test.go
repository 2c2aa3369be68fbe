package drafts_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formbot/formbot/pkg/drafts"
	"github.com/formbot/formbot/pkg/models"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := drafts.NewMemoryStore()
	ctx := context.Background()

	draft := &models.Draft{
		Version: 3,
		Steps: []*models.DraftStep{
			{
				Step: models.Step{StepOrder: 1, FormType: models.FormTypeTarget, FormSelector: "#form"},
				Fields: []*models.DraftField{
					{TempID: "tmp-1", Field: models.Field{Name: "email", Type: models.FieldTypeEmail, Selector: "#email"}},
				},
			},
		},
	}

	require.NoError(t, store.Save(ctx, "wf-1", draft))

	loaded, err := store.Get(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), loaded.Version)
	require.Len(t, loaded.Steps, 1)
	require.Len(t, loaded.Steps[0].Fields, 1)
	assert.Equal(t, "tmp-1", loaded.Steps[0].Fields[0].TempID)

	// stored copy is isolated from later mutation
	draft.Steps[0].Fields[0].TempID = "mutated"
	loaded, err = store.Get(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "tmp-1", loaded.Steps[0].Fields[0].TempID)
}

func TestMemoryStoreNotFound(t *testing.T) {
	store := drafts.NewMemoryStore()

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, drafts.ErrDraftNotFound)
}

func TestMemoryStoreDelete(t *testing.T) {
	store := drafts.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "wf-1", &models.Draft{Version: 1}))
	require.NoError(t, store.Delete(ctx, "wf-1"))

	_, err := store.Get(ctx, "wf-1")
	assert.ErrorIs(t, err, drafts.ErrDraftNotFound)

	// deleting again is fine
	require.NoError(t, store.Delete(ctx, "wf-1"))
}

func TestMemoryStoreLastWriteWins(t *testing.T) {
	store := drafts.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "wf-1", &models.Draft{Version: 1}))
	require.NoError(t, store.Save(ctx, "wf-1", &models.Draft{Version: 2}))

	loaded, err := store.Get(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), loaded.Version)
}
