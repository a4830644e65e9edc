package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"slide_analyzer/internal/observability"
	"slide_analyzer/internal/pool"
	"slide_analyzer/internal/task"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const rejectedDetail = "rejected: analysis queue is full, resubmit later"

type TaskProcessor interface {
	Process(ctx context.Context, taskID string)
}

// Dispatcher records a submission and hands it to the executor. The caller
// only pays for one store write; the analysis runs on a pool worker.
type Dispatcher struct {
	tasks     task.TaskRepositoryInterface
	executor  pool.Executor
	processor TaskProcessor
	metrics   *observability.Metrics
	newID     func() string
	now       func() time.Time
}

func NewDispatcher(tasks task.TaskRepositoryInterface, executor pool.Executor, processor TaskProcessor, metrics *observability.Metrics) *Dispatcher {
	return &Dispatcher{
		tasks:     tasks,
		executor:  executor,
		processor: processor,
		metrics:   metrics,
		newID:     uuid.NewString,
		now:       time.Now,
	}
}

// Submit creates a PENDING task for name and schedules it. When the pool is
// saturated the task is recorded as FAILED and pool.ErrSaturated is returned.
func (d *Dispatcher) Submit(ctx context.Context, name string) (*task.Task, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: filename is required", ErrInvalidInput)
	}

	t := &task.Task{
		ID:            d.newID(),
		RequestedName: name,
		State:         task.StatePending,
		ProgressNote:  task.NoteQueued,
		CreatedAt:     d.now(),
	}
	if err := d.tasks.Create(ctx, t); err != nil {
		logrus.WithError(err).WithField("filename", name).Error("Failed to create analysis task")
		return nil, fmt.Errorf("%w: create task: %v", ErrPersistence, err)
	}
	if d.metrics != nil {
		d.metrics.TasksSubmittedTotal.Inc()
	}

	id := t.ID
	err := d.executor.Submit(func(jobCtx context.Context) {
		d.processor.Process(jobCtx, id)
	})
	if err != nil {
		d.reject(ctx, t, err)
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"task_id":  t.ID,
		"filename": name,
	}).Info("Analysis task submitted")
	return t, nil
}

func (d *Dispatcher) reject(ctx context.Context, t *task.Task, cause error) {
	detail := rejectedDetail
	if errors.Is(cause, pool.ErrClosed) {
		detail = "rejected: service is shutting down"
	}

	now := d.now()
	t.State = task.StateFailed
	t.ProgressNote = ""
	t.ErrorDetail = &detail
	t.CompletedAt = &now

	log := logrus.WithField("task_id", t.ID)
	if err := d.tasks.Update(context.WithoutCancel(ctx), t); err != nil {
		log.WithError(err).Error("Failed to mark rejected task as failed")
	}
	log.WithError(cause).Warn("Analysis task rejected by worker pool")

	if d.metrics != nil {
		d.metrics.TasksProcessedTotal.WithLabelValues(string(task.StateFailed)).Inc()
		d.metrics.TasksFailedTotal.WithLabelValues("rejected").Inc()
	}
}
