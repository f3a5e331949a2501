package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/dukex/flowpilot/pkg/models"
	"github.com/dukex/flowpilot/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunStoreContract checks the behaviour every persistence.Store implementation shares.
// newStore must return an empty store.
func RunStoreContract(t *testing.T, newStore func(t *testing.T) persistence.Store) {
	t.Helper()

	t.Run("create and get", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		workflow := CreateTestWorkflow()

		require.NoError(t, store.Create(ctx, persistence.KindWorkflow, workflow.ID, workflow))

		stored, err := persistence.Get[models.Workflow](ctx, store, persistence.KindWorkflow, workflow.ID)
		require.NoError(t, err)
		assert.Equal(t, workflow.Name, stored.Name)
		assert.Equal(t, workflow.Steps, stored.Steps)
		assert.True(t, stored.CreatedAt.Equal(workflow.CreatedAt))
	})

	t.Run("create rejects duplicates", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		workflow := CreateTestWorkflow()

		require.NoError(t, store.Create(ctx, persistence.KindWorkflow, workflow.ID, workflow))

		err := store.Create(ctx, persistence.KindWorkflow, workflow.ID, workflow)
		assert.True(t, persistence.IsAlreadyExists(err))
	})

	t.Run("kinds are separate collections", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		workflow := CreateTestWorkflow()

		require.NoError(t, store.Create(ctx, persistence.KindWorkflow, workflow.ID, workflow))

		_, err := persistence.Get[models.Workflow](ctx, store, persistence.KindAgent, workflow.ID)
		assert.True(t, persistence.IsNotFound(err))
	})

	t.Run("missing records", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		_, err := persistence.Get[models.Workflow](ctx, store, persistence.KindWorkflow, "missing")
		assert.True(t, persistence.IsNotFound(err))

		err = store.Update(ctx, persistence.KindWorkflow, "missing", map[string]any{"name": "x"})
		assert.True(t, persistence.IsNotFound(err))

		err = store.Delete(ctx, persistence.KindWorkflow, "missing")
		assert.True(t, persistence.IsNotFound(err))
	})

	t.Run("update overwrites top level fields only", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		workflow := CreateTestWorkflow()

		require.NoError(t, store.Create(ctx, persistence.KindWorkflow, workflow.ID, workflow))
		require.NoError(t, store.Update(ctx, persistence.KindWorkflow, workflow.ID, map[string]any{
			"execution_count": 3,
			"steps":           []models.Step{},
		}))

		stored, err := persistence.Get[models.Workflow](ctx, store, persistence.KindWorkflow, workflow.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, stored.ExecutionCount)
		assert.Empty(t, stored.Steps)
		assert.Equal(t, workflow.Name, stored.Name)
	})

	t.Run("put replaces or creates", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		workflow := CreateTestWorkflow()

		require.NoError(t, store.Put(ctx, persistence.KindWorkflow, workflow.ID, workflow))

		workflow.Name = "Renamed"
		require.NoError(t, store.Put(ctx, persistence.KindWorkflow, workflow.ID, workflow))

		stored, err := persistence.Get[models.Workflow](ctx, store, persistence.KindWorkflow, workflow.ID)
		require.NoError(t, err)
		assert.Equal(t, "Renamed", stored.Name)
	})

	t.Run("delete", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		workflow := CreateTestWorkflow()

		require.NoError(t, store.Create(ctx, persistence.KindWorkflow, workflow.ID, workflow))
		require.NoError(t, store.Delete(ctx, persistence.KindWorkflow, workflow.ID))

		_, err := persistence.Get[models.Workflow](ctx, store, persistence.KindWorkflow, workflow.ID)
		assert.True(t, persistence.IsNotFound(err))
	})

	t.Run("filter by equality with sort and paging", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		for i, count := range []int{2, 0, 1} {
			workflow := CreateTestWorkflow(WithExecutionCount(count))
			if i == 1 {
				WithOrg("org-2")(workflow)
			}

			require.NoError(t, store.Create(ctx, persistence.KindWorkflow, workflow.ID, workflow))
		}

		for _, count := range []int{5, 4} {
			workflow := CreateTestWorkflow(WithExecutionCount(count))
			require.NoError(t, store.Create(ctx, persistence.KindWorkflow, workflow.ID, workflow))
		}

		all, err := persistence.Filter[models.Workflow](ctx, store, persistence.KindWorkflow, persistence.Query{})
		require.NoError(t, err)
		assert.Len(t, all, 5)

		filtered, err := persistence.Filter[models.Workflow](ctx, store, persistence.KindWorkflow, persistence.Query{
			Where:  map[string]any{"org_id": "org-1"},
			SortBy: "execution_count",
		})
		require.NoError(t, err)
		assert.Equal(t, []int{1, 2, 4, 5}, executionCounts(filtered))

		page, err := persistence.Filter[models.Workflow](ctx, store, persistence.KindWorkflow, persistence.Query{
			Where:      map[string]any{"org_id": "org-1"},
			SortBy:     "execution_count",
			Descending: true,
			Limit:      2,
			Offset:     1,
		})
		require.NoError(t, err)
		assert.Equal(t, []int{4, 2}, executionCounts(page))

		none, err := persistence.Filter[models.Workflow](ctx, store, persistence.KindAgent, persistence.Query{})
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("filter rejects unsafe field names", func(t *testing.T) {
		store := newStore(t)

		_, err := store.Filter(context.Background(), persistence.KindWorkflow, persistence.Query{SortBy: "name; DROP TABLE records"})
		require.ErrorIs(t, err, persistence.ErrInvalidQuery)

		_, err = store.Filter(context.Background(), persistence.KindWorkflow, persistence.Query{Where: map[string]any{"Org-ID": "x"}})
		require.ErrorIs(t, err, persistence.ErrInvalidQuery)
	})

	t.Run("increment is atomic", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		workflow := CreateTestWorkflow()
		workflow.ExecutionCount = 3

		require.NoError(t, store.Create(ctx, persistence.KindWorkflow, workflow.ID, workflow))

		const runs = 20

		var wg sync.WaitGroup

		for i := range runs {
			wg.Add(1)

			go func() {
				defer wg.Done()

				err := store.Increment(ctx, persistence.KindWorkflow, workflow.ID, "execution_count", 1, map[string]any{
					"description": fmt.Sprintf("run %d", i),
				})
				assert.NoError(t, err)
			}()
		}

		wg.Wait()

		stored, err := persistence.Get[models.Workflow](ctx, store, persistence.KindWorkflow, workflow.ID)
		require.NoError(t, err)
		assert.Equal(t, 3+runs, stored.ExecutionCount)
		assert.Contains(t, stored.Description, "run ")
		assert.Equal(t, workflow.Name, stored.Name)

		err = store.Increment(ctx, persistence.KindWorkflow, "missing", "execution_count", 1, nil)
		assert.True(t, persistence.IsNotFound(err))

		err = store.Increment(ctx, persistence.KindWorkflow, workflow.ID, "execution-count", 1, nil)
		require.ErrorIs(t, err, persistence.ErrInvalidQuery)
	})

	t.Run("health check", func(t *testing.T) {
		store := newStore(t)

		assert.NoError(t, store.HealthCheck(context.Background()))
	})
}

func executionCounts(workflows []*models.Workflow) []int {
	counts := make([]int, 0, len(workflows))
	for _, workflow := range workflows {
		counts = append(counts, workflow.ExecutionCount)
	}

	return counts
}
