package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"slide_analyzer/internal/compute"
	"slide_analyzer/internal/observability"
	"slide_analyzer/internal/queue"
	"slide_analyzer/internal/result"
	"slide_analyzer/internal/task"

	"github.com/sirupsen/logrus"
)

type Resolver interface {
	Resolve(name string) (string, error)
}

type Processor struct {
	tasks    task.TaskRepositoryInterface
	results  result.ResultRepositoryInterface
	resolver Resolver
	compute  compute.Analyzer
	events   queue.EventPublisher
	metrics  *observability.Metrics
	now      func() time.Time
}

type Deps struct {
	Tasks    task.TaskRepositoryInterface
	Results  result.ResultRepositoryInterface
	Resolver Resolver
	Compute  compute.Analyzer
	Events   queue.EventPublisher
	Metrics  *observability.Metrics
}

func NewProcessor(d Deps) *Processor {
	events := d.Events
	if events == nil {
		events = queue.NoopPublisher{}
	}
	return &Processor{
		tasks:    d.Tasks,
		results:  d.Results,
		resolver: d.Resolver,
		compute:  d.Compute,
		events:   events,
		metrics:  d.Metrics,
		now:      time.Now,
	}
}

// Process runs one task from PENDING to a terminal state. It never panics
// and never returns an error: every failure ends up in the task record.
// ctx cancellation is treated as a shutdown interrupt; store writes use a
// context detached from it so the terminal state is still recorded.
func (p *Processor) Process(ctx context.Context, taskID string) {
	storeCtx := context.WithoutCancel(ctx)
	log := logrus.WithField("task_id", taskID)

	t, err := p.tasks.GetByID(storeCtx, taskID)
	if err != nil {
		log.WithError(err).Error("Failed to load task for processing")
		return
	}
	if t.State != task.StatePending {
		log.WithField("state", t.State).Warn("Task is not pending, skipping")
		return
	}

	start := p.now()
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("Recovered panic while processing task")
			p.fail(storeCtx, t, "panic", fmt.Sprintf("internal error: %v", r))
		}
		if p.metrics != nil {
			p.metrics.TaskProcessingDuration.Observe(p.now().Sub(start).Seconds())
		}
	}()

	t.State = task.StateProcessing
	t.ProgressNote = task.NoteResolving
	if err := p.tasks.Update(storeCtx, t); err != nil {
		log.WithError(err).Error("Failed to mark task as processing")
		p.fail(storeCtx, t, "persistence", describePersistence("update task", err))
		return
	}
	log.WithField("requested_name", t.RequestedName).Info("Processing analysis task")

	if ctx.Err() != nil {
		p.fail(storeCtx, t, "interrupted", NoteInterrupted)
		return
	}

	resolved, err := p.resolver.Resolve(t.RequestedName)
	if err != nil {
		reason, detail := describeFailure(ctx, err)
		p.fail(storeCtx, t, reason, detail)
		return
	}

	t.ResolvedName = &resolved
	t.ProgressNote = task.NoteInvoking
	if err := p.tasks.Update(storeCtx, t); err != nil {
		p.fail(storeCtx, t, "persistence", describePersistence("update task", err))
		return
	}

	resp, err := p.compute.Analyze(ctx, resolved)
	if err != nil {
		reason, detail := describeFailure(ctx, err)
		p.fail(storeCtx, t, reason, detail)
		return
	}
	log.WithFields(logrus.Fields{
		"resolved_name": resolved,
		"result_image":  resp.ResultImagePath,
		"overlay_image": resp.OverlayImagePath,
	}).Info("Compute service finished analysis")

	t.ProgressNote = task.NoteSaving
	if err := p.tasks.Update(storeCtx, t); err != nil {
		p.fail(storeCtx, t, "persistence", describePersistence("update task", err))
		return
	}

	r := p.buildResult(t.ID, resolved, resp)
	if err := p.results.Upsert(storeCtx, r); err != nil {
		p.fail(storeCtx, t, "persistence", describePersistence("save analysis result", err))
		return
	}

	completedAt := p.now()
	t.State = task.StateCompleted
	t.ProgressNote = task.NoteDone
	t.ErrorDetail = nil
	t.CompletedAt = &completedAt
	t.ResultID = &r.ID
	if err := p.tasks.Update(storeCtx, t); err != nil {
		log.WithError(err).Error("Failed to mark task as completed")
		t.State = task.StateProcessing
		t.ResultID = nil
		p.fail(storeCtx, t, "persistence", describePersistence("update task", err))
		return
	}

	if p.metrics != nil {
		p.metrics.TasksProcessedTotal.WithLabelValues(string(task.StateCompleted)).Inc()
	}
	log.WithFields(logrus.Fields{
		"result_id":  r.ID,
		"cell_count": r.Metrics.CellCount,
	}).Info("Analysis task completed")

	p.publish(storeCtx, queue.RoutingKeyCompleted, t)
}

func (p *Processor) buildResult(taskID, resolved string, resp *compute.Response) *result.Result {
	if resp.Filename != "" && resp.Filename != resolved {
		logrus.WithFields(logrus.Fields{
			"task_id":  taskID,
			"resolved": resolved,
			"reported": resp.Filename,
		}).Warn("Compute service reported a different filename, keeping the resolved name")
	}
	id := taskID
	return NewResult(resolved, resp, &id, p.now())
}

// NewResult converts a successful compute response into a Result keyed by
// the resolved filename. now is used when the service reports no time.
func NewResult(resolved string, resp *compute.Response, taskID *string, now time.Time) *result.Result {
	analyzedAt := now
	if resp.AnalysisTime != nil && !resp.AnalysisTime.IsZero() {
		analyzedAt = *resp.AnalysisTime
	}

	r := &result.Result{
		Filename:         resolved,
		ResultImagePath:  resp.ResultImagePath,
		OverlayImagePath: resp.OverlayImagePath,
		AnalyzedAt:       analyzedAt,
		TaskID:           taskID,
	}
	if p := resp.Parameters; p != nil {
		r.Metrics = result.Metrics{
			CellCount:   p.CellCount,
			CellArea:    p.CellArea,
			TotalArea:   p.TotalArea,
			CellRatio:   p.CellRatio,
			AvgCellSize: p.AvgCellSize,
		}
	}
	return r
}

// fail records the terminal FAILED state. A task already terminal is left
// alone so no task reaches two terminal states.
func (p *Processor) fail(ctx context.Context, t *task.Task, reason, detail string) {
	if t.State.Terminal() {
		return
	}

	now := p.now()
	t.State = task.StateFailed
	t.ProgressNote = ""
	t.ErrorDetail = &detail
	t.CompletedAt = &now

	log := logrus.WithFields(logrus.Fields{
		"task_id": t.ID,
		"reason":  reason,
	})
	if err := p.tasks.Update(ctx, t); err != nil {
		log.WithError(err).Error("Failed to mark task as failed")
	} else {
		log.WithField("error_detail", detail).Warn("Analysis task failed")
	}

	if p.metrics != nil {
		p.metrics.TasksProcessedTotal.WithLabelValues(string(task.StateFailed)).Inc()
		p.metrics.TasksFailedTotal.WithLabelValues(reason).Inc()
	}

	p.publish(ctx, queue.RoutingKeyFailed, t)
}

func (p *Processor) publish(ctx context.Context, routingKey string, t *task.Task) {
	event := queue.TaskEvent{
		TaskID:        t.ID,
		RequestedName: t.RequestedName,
		ResolvedName:  t.ResolvedName,
		State:         string(t.State),
		ResultID:      t.ResultID,
		ErrorDetail:   t.ErrorDetail,
		CompletedAt:   t.CompletedAt,
	}
	if err := p.events.Publish(ctx, routingKey, event); err != nil && !errors.Is(err, context.Canceled) {
		logrus.WithError(err).WithField("task_id", t.ID).Warn("Failed to publish task event")
	}
}
