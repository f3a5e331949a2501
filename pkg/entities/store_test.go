package entities

import (
	"context"
	"testing"

	"github.com/dukex/flowpilot/pkg/persistence"
	"github.com/dukex/flowpilot/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_CreateAndUpdate(t *testing.T) {
	ctx := context.Background()
	store := NewStore(file.NewPersistence(t.TempDir()))

	created, err := store.CreateEntity(ctx, "org-1", "lead", map[string]any{"name": "Ada"}, "ops@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "org-1", created.OrgID)

	updated, err := store.UpdateEntity(ctx, "org-1", created.ID, map[string]any{"stage": "qualified"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "Ada", "stage": "qualified"}, updated.Data)

	listed, err := store.List(ctx, "org-1", "lead")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "qualified", listed[0].Data["stage"])
}

func TestStore_UpdateEntity_OtherOrganization(t *testing.T) {
	ctx := context.Background()
	store := NewStore(file.NewPersistence(t.TempDir()))

	created, err := store.CreateEntity(ctx, "org-1", "lead", map[string]any{}, "")
	require.NoError(t, err)

	_, err = store.UpdateEntity(ctx, "org-2", created.ID, map[string]any{"x": 1})
	require.ErrorIs(t, err, ErrOrgMismatch)
}

func TestStore_UpdateEntity_NotFound(t *testing.T) {
	store := NewStore(file.NewPersistence(t.TempDir()))

	_, err := store.UpdateEntity(context.Background(), "org-1", "missing", map[string]any{})
	require.Error(t, err)
	assert.True(t, persistence.IsNotFound(err))
}
