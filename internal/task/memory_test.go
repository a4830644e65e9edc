package task

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRepository_LatestAndListOrdering(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Create(ctx, &Task{ID: "a", RequestedName: "slide1", State: StatePending, CreatedAt: base}))
	require.NoError(t, repo.Create(ctx, &Task{ID: "b", RequestedName: "slide2", State: StatePending, CreatedAt: base.Add(time.Minute)}))
	require.NoError(t, repo.Create(ctx, &Task{ID: "c", RequestedName: "slide1", State: StatePending, CreatedAt: base.Add(2 * time.Minute)}))

	latest, err := repo.FindLatestByRequestedName(ctx, "slide1")
	require.NoError(t, err)
	assert.Equal(t, "c", latest.ID)

	_, err = repo.FindLatestByRequestedName(ctx, "nope")
	assert.ErrorIs(t, err, ErrTaskNotFound)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{all[0].ID, all[1].ID, all[2].ID})
}

func TestMemoryRepository_SnapshotsAreIsolated(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	require.NoError(t, repo.Create(ctx, &Task{ID: "a", RequestedName: "s", State: StatePending, CreatedAt: time.Now()}))

	first, err := repo.GetByID(ctx, "a")
	require.NoError(t, err)
	first.State = StateFailed

	second, err := repo.GetByID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, StatePending, second.State)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
}

func TestMemoryRepository_UpdateMissing(t *testing.T) {
	repo := NewMemoryRepository()
	err := repo.Update(context.Background(), &Task{ID: "ghost"})
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestState_Terminal(t *testing.T) {
	assert.False(t, StatePending.Terminal())
	assert.False(t, StateProcessing.Terminal())
	assert.True(t, StateCompleted.Terminal())
	assert.True(t, StateFailed.Terminal())
}
