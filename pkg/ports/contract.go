package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/forkline/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunStateStoreContract runs a suite of tests to verify that a StateStore implementation
// adheres to the defined interface contract. The store must start empty.
func RunStateStoreContract(t *testing.T, store StateStore) {
	ctx := context.Background()

	t.Run("Load Empty Returns Default", func(t *testing.T) {
		state, err := store.Load(ctx)
		require.NoError(t, err, "first run must be silent")
		require.NotNil(t, state)
		assert.Empty(t, state.Nodes)
		assert.Equal(t, 0, state.ActiveIndex)
		assert.Nil(t, state.LastRotation)
	})

	t.Run("Save and Load Round Trip", func(t *testing.T) {
		created := time.Date(2026, 3, 14, 15, 9, 26, 535897932, time.UTC)
		updated := created.Add(90 * time.Minute)
		parent := "origin/project"

		state := domain.NewState()
		state.TotalIdentities = 4
		state.ActiveIndex = 2
		state.LastRotation = &updated
		state.Nodes = []domain.ForkNode{
			{IdentityIndex: 0, Repo: "origin/project", Status: domain.StatusSource, CreatedAt: created, UpdatedAt: created},
			{IdentityIndex: 1, Owner: "one", Repo: "one/project", Parent: &parent, QuotaUsed: 119.75, Status: domain.StatusExhausted, CreatedAt: created, UpdatedAt: updated},
			{IdentityIndex: 2, Owner: "two", Repo: "two/project", Parent: &parent, Status: domain.StatusActive, CreatedAt: updated, UpdatedAt: updated},
		}

		require.NoError(t, store.Save(ctx, state))

		loaded, err := store.Load(ctx)
		require.NoError(t, err)
		require.Len(t, loaded.Nodes, len(state.Nodes))
		assert.Equal(t, 4, loaded.TotalIdentities)
		assert.Equal(t, 2, loaded.ActiveIndex)
		require.NotNil(t, loaded.LastRotation)
		assert.True(t, updated.Equal(*loaded.LastRotation))

		for i := range state.Nodes {
			want, got := state.Nodes[i], loaded.Nodes[i]
			assert.Equal(t, want.Repo, got.Repo)
			assert.Equal(t, want.Status, got.Status)
			assert.Equal(t, want.IdentityIndex, got.IdentityIndex)
			assert.Equal(t, want.QuotaUsed, got.QuotaUsed)
			assert.True(t, want.CreatedAt.Equal(got.CreatedAt), "created_at must round-trip exactly")
			assert.True(t, want.UpdatedAt.Equal(got.UpdatedAt), "updated_at must round-trip exactly")
			if want.Parent == nil {
				assert.Nil(t, got.Parent)
			} else {
				require.NotNil(t, got.Parent)
				assert.Equal(t, *want.Parent, *got.Parent)
			}
		}
	})

	t.Run("Loaded State Is Isolated", func(t *testing.T) {
		loaded, err := store.Load(ctx)
		require.NoError(t, err)
		require.NotEmpty(t, loaded.Nodes)
		loaded.Nodes[0].Status = domain.StatusDisabled

		again, err := store.Load(ctx)
		require.NoError(t, err)
		assert.NotEqual(t, domain.StatusDisabled, again.Nodes[0].Status)
	})

	t.Run("Save Replaces Whole Aggregate", func(t *testing.T) {
		state := domain.NewState()
		state.TotalIdentities = 1
		require.NoError(t, store.Save(ctx, state))

		loaded, err := store.Load(ctx)
		require.NoError(t, err)
		assert.Empty(t, loaded.Nodes)
		assert.Equal(t, 1, loaded.TotalIdentities)
	})
}
