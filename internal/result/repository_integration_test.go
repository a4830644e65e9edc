//go:build integration

package result

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"slide_analyzer/internal/config"
	"slide_analyzer/internal/db"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestDB connects with the usual DB_* variables and skips when Postgres
// is not reachable.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := config.Load()
	database, err := db.Open(&cfg.DB, 1)
	if err != nil {
		t.Skipf("Postgres not available: %v", err)
	}
	ctx := context.Background()
	require.NoError(t, db.Migrate(ctx, database))
	_, err = database.ExecContext(ctx, `TRUNCATE TABLE analysis_results, analysis_tasks`)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func TestResultRepository_UpsertKeepsTaskLink(t *testing.T) {
	ctx := context.Background()
	repo := NewResultRepository(openTestDB(t))

	taskID := "task-1"
	first := &Result{Filename: "case/a.svs", Metrics: Metrics{CellCount: 1}, AnalyzedAt: time.Now().Add(-time.Minute), TaskID: &taskID}
	require.NoError(t, repo.Upsert(ctx, first))

	second := &Result{Filename: "case/a.svs", Metrics: Metrics{CellCount: 2}, AnalyzedAt: time.Now()}
	require.NoError(t, repo.Upsert(ctx, second))
	assert.Equal(t, first.ID, second.ID)

	got, err := repo.GetByTaskID(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Metrics.CellCount)
}

func TestResultRepository_PrefixEscapesWildcards(t *testing.T) {
	ctx := context.Background()
	repo := NewResultRepository(openTestDB(t))

	for _, f := range []string{"s_1.svs", "sx1.svs", "s_1.png"} {
		require.NoError(t, repo.Upsert(ctx, &Result{Filename: f, AnalyzedAt: time.Now()}))
	}

	got, err := repo.ListByFilenamePrefix(ctx, "s_1.")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestResultRepository_AttachAndDelete(t *testing.T) {
	ctx := context.Background()
	repo := NewResultRepository(openTestDB(t))

	r := &Result{Filename: "b.tif", AnalyzedAt: time.Now()}
	require.NoError(t, repo.Upsert(ctx, r))

	ok, err := repo.AttachTask(ctx, r.ID, "t1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.AttachTask(ctx, r.ID, "t2")
	require.NoError(t, err)
	assert.False(t, ok, "an existing link is never overwritten")

	deleted, err := repo.Delete(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = repo.GetByID(ctx, r.ID)
	assert.ErrorIs(t, err, ErrResultNotFound)
}

func TestResultRepository_ConcurrentFirstUpsertsShareOneRow(t *testing.T) {
	ctx := context.Background()
	repo := NewResultRepository(openTestDB(t))

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- repo.Upsert(ctx, &Result{
				Filename:        "race.svs",
				ResultImagePath: fmt.Sprintf("fullnet_results/race_%d.png", i),
				Metrics:         Metrics{CellCount: i},
				AnalyzedAt:      time.Now(),
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	rows, err := repo.ListByFilename(ctx, "race.svs")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
