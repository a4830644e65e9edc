package analysis

import (
	"context"
	"errors"
	"fmt"
	"path"

	"slide_analyzer/internal/observability"
	"slide_analyzer/internal/result"
	"slide_analyzer/internal/task"

	"github.com/sirupsen/logrus"
)

type LookupKey int

const (
	ByTaskID LookupKey = iota
	ByResultID
	ByResolvedName
	ByRequestedName
)

func (k LookupKey) String() string {
	switch k {
	case ByTaskID:
		return "task_id"
	case ByResultID:
		return "result_id"
	case ByResolvedName:
		return "resolved_name"
	case ByRequestedName:
		return "requested_name"
	default:
		return fmt.Sprintf("key(%d)", int(k))
	}
}

func DefaultChain() []LookupKey {
	return []LookupKey{ByTaskID, ByResultID, ByResolvedName, ByRequestedName}
}

// NameCandidates expands a logical name into the exact stored names worth
// probing, most preferred first.
type NameCandidates interface {
	Candidates(name string) []string
}

// Reconciler finds the Result belonging to a Task when the stored link is
// missing or stale, and attaches unlinked Results it finds along the way.
type Reconciler struct {
	results    result.ResultRepositoryInterface
	candidates NameCandidates
	chain      []LookupKey
	metrics    *observability.Metrics
}

func NewReconciler(results result.ResultRepositoryInterface, candidates NameCandidates, metrics *observability.Metrics, chain ...LookupKey) *Reconciler {
	if len(chain) == 0 {
		chain = DefaultChain()
	}
	return &Reconciler{
		results:    results,
		candidates: candidates,
		chain:      chain,
		metrics:    metrics,
	}
}

// ResultForTask walks the lookup chain for t. It returns
// result.ErrResultNotFound when every key misses; for a COMPLETED task that
// is logged as a consistency anomaly.
func (r *Reconciler) ResultForTask(ctx context.Context, t *task.Task) (*result.Result, error) {
	for _, key := range r.chain {
		res, err := r.lookup(ctx, key, t)
		if errors.Is(err, result.ErrResultNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("lookup result by %s: %w", key, err)
		}

		if r.metrics != nil {
			r.metrics.ReconcileLookupsTotal.WithLabelValues(key.String()).Inc()
		}
		if key != ByTaskID && res.TaskID == nil {
			r.attach(ctx, res, t.ID)
		}
		return res, nil
	}

	if t.State == task.StateCompleted {
		logrus.WithFields(logrus.Fields{
			"task_id":        t.ID,
			"requested_name": t.RequestedName,
			"resolved_name":  t.ResolvedName,
			"result_id":      t.ResultID,
		}).Warn("Completed task has no analysis result")
		if r.metrics != nil {
			r.metrics.ReconcileAnomalies.Inc()
		}
	}
	return nil, result.ErrResultNotFound
}

func (r *Reconciler) lookup(ctx context.Context, key LookupKey, t *task.Task) (*result.Result, error) {
	switch key {
	case ByTaskID:
		return r.results.GetByTaskID(ctx, t.ID)
	case ByResultID:
		if t.ResultID == nil {
			return nil, result.ErrResultNotFound
		}
		return r.results.GetByID(ctx, *t.ResultID)
	case ByResolvedName:
		if t.ResolvedName == nil || *t.ResolvedName == "" {
			return nil, result.ErrResultNotFound
		}
		return r.results.GetByFilename(ctx, *t.ResolvedName)
	case ByRequestedName:
		if t.ResolvedName != nil && *t.ResolvedName == t.RequestedName {
			return nil, result.ErrResultNotFound
		}
		return r.results.GetByFilename(ctx, t.RequestedName)
	}
	return nil, result.ErrResultNotFound
}

func (r *Reconciler) attach(ctx context.Context, res *result.Result, taskID string) {
	log := logrus.WithFields(logrus.Fields{
		"task_id":   taskID,
		"result_id": res.ID,
	})

	attached, err := r.results.AttachTask(ctx, res.ID, taskID)
	if err != nil {
		log.WithError(err).Warn("Failed to attach result to task")
		return
	}
	if !attached {
		return
	}

	id := taskID
	res.TaskID = &id
	if r.metrics != nil {
		r.metrics.ReconcileRepairsTotal.Inc()
	}
	log.Info("Attached unlinked result to task")
}

// History returns every stored analysis of name. Exact candidates are tried
// in preference order and the first that has rows wins; an extensionless
// name with no exact hit falls back to a prefix match on name + ".".
func (r *Reconciler) History(ctx context.Context, name string) ([]*result.Result, error) {
	candidates := []string{name}
	if path.Ext(path.Base(name)) == "" {
		candidates = r.candidates.Candidates(name)
	}

	for _, c := range candidates {
		rows, err := r.results.ListByFilename(ctx, c)
		if err != nil {
			return nil, err
		}
		if len(rows) > 0 {
			logrus.WithFields(logrus.Fields{
				"filename": name,
				"matched":  c,
				"count":    len(rows),
			}).Debug("History found by exact name")
			return rows, nil
		}
	}

	if path.Ext(path.Base(name)) != "" {
		return []*result.Result{}, nil
	}
	return r.results.ListByFilenamePrefix(ctx, name+".")
}
