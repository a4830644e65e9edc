package task

import (
	"context"
	"encoding/json"
	"time"

	"slide_analyzer/internal/cache"
	"slide_analyzer/internal/observability"

	"github.com/sirupsen/logrus"
)

type SnapshotCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, data interface{}) error
	Delete(ctx context.Context, key string) error
}

const cacheOpTimeout = 2 * time.Second

// CachedRepository writes every task snapshot through to the cache so that
// status polling is served without hitting the database. Cache failures are
// logged and never fail the underlying operation. A snapshot that could not
// be refreshed is evicted so reads fall back to the store.
type CachedRepository struct {
	TaskRepositoryInterface
	cache   SnapshotCache
	metrics *observability.Metrics
}

func NewCachedRepository(inner TaskRepositoryInterface, c SnapshotCache, metrics *observability.Metrics) *CachedRepository {
	return &CachedRepository{
		TaskRepositoryInterface: inner,
		cache:                   c,
		metrics:                 metrics,
	}
}

func (r *CachedRepository) Create(ctx context.Context, task *Task) error {
	if err := r.TaskRepositoryInterface.Create(ctx, task); err != nil {
		return err
	}
	r.store(ctx, task)
	return nil
}

// Update evicts the snapshot before writing so a failed refresh afterwards
// cannot leave the previous state cached.
func (r *CachedRepository) Update(ctx context.Context, task *Task) error {
	r.evict(ctx, task.ID)
	if err := r.TaskRepositoryInterface.Update(ctx, task); err != nil {
		return err
	}
	r.store(ctx, task)
	return nil
}

func (r *CachedRepository) GetByID(ctx context.Context, id string) (*Task, error) {
	cctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	cachedData, err := r.cache.Get(cctx, cache.TaskKey(id))
	if err == nil && cachedData != nil {
		var t Task
		if json.Unmarshal(cachedData, &t) == nil {
			r.count(true)
			return &t, nil
		}
	}
	r.count(false)

	t, err := r.TaskRepositoryInterface.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	r.store(ctx, t)
	return t, nil
}

func (r *CachedRepository) store(ctx context.Context, t *Task) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheOpTimeout)
	defer cancel()

	if err := r.cache.Set(cctx, cache.TaskKey(t.ID), t); err != nil {
		logrus.WithError(err).WithField("task_id", t.ID).Warn("Failed to set cache for task")
		r.evict(ctx, t.ID)
	}
}

func (r *CachedRepository) evict(ctx context.Context, id string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheOpTimeout)
	defer cancel()

	if err := r.cache.Delete(cctx, cache.TaskKey(id)); err != nil {
		logrus.WithError(err).WithField("task_id", id).Warn("Failed to evict cached task")
	}
}

func (r *CachedRepository) count(hit bool) {
	if r.metrics == nil {
		return
	}
	if hit {
		r.metrics.CacheHitsTotal.WithLabelValues("task").Inc()
	} else {
		r.metrics.CacheMissesTotal.WithLabelValues("task").Inc()
	}
}
