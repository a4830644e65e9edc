package analysis

import (
	"context"
	"errors"
	"testing"
	"time"

	"slide_analyzer/internal/observability"
	"slide_analyzer/internal/resolver"
	"slide_analyzer/internal/result"
	"slide_analyzer/internal/task"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func newTestReconciler(results result.ResultRepositoryInterface, chain ...LookupKey) *Reconciler {
	return NewReconciler(results, resolver.New("unused"), observability.NewMetrics(prometheus.NewRegistry()), chain...)
}

func TestResultForTask_LookupOrder(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		seed       []*result.Result
		task       *task.Task
		wantFile   string
		wantLinked bool
	}{
		{
			name: "by task id",
			seed: []*result.Result{
				{Filename: "a.svs", AnalyzedAt: base, TaskID: strPtr("t1")},
				{Filename: "a.svs", AnalyzedAt: base.Add(time.Hour)},
			},
			task:       &task.Task{ID: "t1", RequestedName: "a", ResolvedName: strPtr("a.svs"), State: task.StateCompleted},
			wantFile:   "a.svs",
			wantLinked: true,
		},
		{
			name:       "by resolved name",
			seed:       []*result.Result{{Filename: "b.tif", AnalyzedAt: base}},
			task:       &task.Task{ID: "t2", RequestedName: "b", ResolvedName: strPtr("b.tif"), State: task.StateCompleted},
			wantFile:   "b.tif",
			wantLinked: true,
		},
		{
			name:       "by requested name when it differs",
			seed:       []*result.Result{{Filename: "c", AnalyzedAt: base}},
			task:       &task.Task{ID: "t3", RequestedName: "c", ResolvedName: strPtr("c.svs"), State: task.StateCompleted},
			wantFile:   "c",
			wantLinked: true,
		},
		{
			name:       "linked to another task is left alone",
			seed:       []*result.Result{{Filename: "d.svs", AnalyzedAt: base, TaskID: strPtr("older")}},
			task:       &task.Task{ID: "t4", RequestedName: "d", ResolvedName: strPtr("d.svs"), State: task.StateCompleted},
			wantFile:   "d.svs",
			wantLinked: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := result.NewMemoryRepository()
			for _, r := range tt.seed {
				require.NoError(t, repo.Insert(ctx, r))
			}

			got, err := newTestReconciler(repo).ResultForTask(ctx, tt.task)
			require.NoError(t, err)
			assert.Equal(t, tt.wantFile, got.Filename)

			_, err = repo.GetByTaskID(ctx, tt.task.ID)
			if tt.wantLinked {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, result.ErrResultNotFound)
			}
		})
	}
}

func TestResultForTask_ByResultID(t *testing.T) {
	ctx := context.Background()
	repo := result.NewMemoryRepository()
	r := &result.Result{Filename: "renamed.svs", AnalyzedAt: time.Now()}
	require.NoError(t, repo.Insert(ctx, r))

	tk := &task.Task{ID: "t5", RequestedName: "orig", ResultID: &r.ID, State: task.StateCompleted}
	got, err := newTestReconciler(repo).ResultForTask(ctx, tk)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
	require.NotNil(t, got.TaskID)
	assert.Equal(t, "t5", *got.TaskID)
}

func TestResultForTask_CustomChain(t *testing.T) {
	ctx := context.Background()
	repo := result.NewMemoryRepository()
	require.NoError(t, repo.Insert(ctx, &result.Result{Filename: "e.svs", AnalyzedAt: time.Now()}))

	tk := &task.Task{ID: "t6", RequestedName: "e", ResolvedName: strPtr("e.svs"), State: task.StateCompleted}
	_, err := newTestReconciler(repo, ByTaskID).ResultForTask(ctx, tk)
	assert.ErrorIs(t, err, result.ErrResultNotFound)
}

type brokenResults struct {
	*result.MemoryRepository
}

func (brokenResults) GetByTaskID(context.Context, string) (*result.Result, error) {
	return nil, errors.New("db down")
}

func TestResultForTask_StoreErrorIsNotMasked(t *testing.T) {
	rec := newTestReconciler(brokenResults{result.NewMemoryRepository()})
	_, err := rec.ResultForTask(context.Background(), &task.Task{ID: "t7", State: task.StateCompleted})
	require.Error(t, err)
	assert.NotErrorIs(t, err, result.ErrResultNotFound)
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	repo := result.NewMemoryRepository()
	for i, f := range []string{"case/s1.png", "case/s1.png", "case/s1.svs", "case/s2.final.png", "case/s20.svs"} {
		require.NoError(t, repo.Insert(ctx, &result.Result{Filename: f, AnalyzedAt: base.Add(time.Duration(i) * time.Minute)}))
	}
	rec := newTestReconciler(repo)

	// .svs precedes .png in preference order.
	got, err := rec.History(ctx, "case/s1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "case/s1.svs", got[0].Filename)

	got, err = rec.History(ctx, "case/s1.png")
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.True(t, got[0].AnalyzedAt.After(got[1].AnalyzedAt), "newest first")

	got, err = rec.History(ctx, "case/s2")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "case/s2.final.png", got[0].Filename)

	got, err = rec.History(ctx, "case/s3.png")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLookupKey_String(t *testing.T) {
	assert.Equal(t, "resolved_name", ByResolvedName.String())
	assert.Equal(t, "key(9)", LookupKey(9).String())
}
