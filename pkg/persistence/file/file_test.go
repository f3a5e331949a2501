package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dukex/flowpilot/pkg/persistence"
	"github.com/dukex/flowpilot/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPersistence(t *testing.T) {
	assert.Equal(t, "/tmp/test", NewPersistence("/tmp/test").root)
	assert.Equal(t, "/tmp/test", NewPersistence("file:///tmp/test").root)
}

func TestPersistence_Contract(t *testing.T) {
	testutil.RunStoreContract(t, func(t *testing.T) persistence.Store {
		t.Helper()

		return NewPersistence(t.TempDir())
	})
}

func TestPersistence_RejectsUnsafeIDs(t *testing.T) {
	store := NewPersistence(t.TempDir())
	ctx := context.Background()

	for _, id := range []string{"", "../escape", "a/b", `a\b`} {
		err := store.Create(ctx, persistence.KindWorkflow, id, map[string]any{})
		require.ErrorIs(t, err, persistence.ErrInvalidID, id)
	}
}

func TestPersistence_OneFilePerRecord(t *testing.T) {
	root := t.TempDir()
	store := NewPersistence(root)

	require.NoError(t, store.Create(context.Background(), persistence.KindAgent, "agent-1", map[string]any{"name": "Analyst"}))

	data, err := os.ReadFile(filepath.Join(root, "agents", "agent-1.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Analyst"}`, string(data))

	leftovers, err := filepath.Glob(filepath.Join(root, "agents", "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestPersistence_HealthCheckNeedsRoot(t *testing.T) {
	store := NewPersistence(filepath.Join(t.TempDir(), "missing"))

	assert.Error(t, store.HealthCheck(context.Background()))
}
