package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"slide_analyzer/internal/compute"
	"slide_analyzer/internal/result"
	"slide_analyzer/internal/task"
	"slide_analyzer/internal/worker"

	"github.com/sirupsen/logrus"
)

// TaskView is a task plus its reconciled result when the task is COMPLETED.
type TaskView struct {
	Task   *task.Task     `json:"task"`
	Result *result.Result `json:"result,omitempty"`
}

type ServiceInterface interface {
	Submit(ctx context.Context, name string) (*task.Task, error)
	GetTask(ctx context.Context, id string) (*task.Task, error)
	GetTaskView(ctx context.Context, id string) (*TaskView, error)
	GetLatestTaskForName(ctx context.Context, name string) (*TaskView, error)
	ListTasks(ctx context.Context) ([]*task.Task, error)
	GetResultForTask(ctx context.Context, id string) (*result.Result, error)
	GetResultByFilename(ctx context.Context, name string) (*result.Result, error)
	GetResultByID(ctx context.Context, id int64) (*result.Result, error)
	ListResults(ctx context.Context) ([]*result.Result, error)
	GetHistory(ctx context.Context, name string) ([]*result.Result, error)
	DeleteResult(ctx context.Context, id int64) (bool, error)
	AnalyzeSync(ctx context.Context, name string) (*result.Result, error)
}

type Resolver interface {
	Resolve(name string) (string, error)
}

type Service struct {
	tasks      task.TaskRepositoryInterface
	results    result.ResultRepositoryInterface
	dispatcher *Dispatcher
	reconciler *Reconciler
	resolver   Resolver
	compute    compute.Analyzer
}

type ServiceDeps struct {
	Tasks      task.TaskRepositoryInterface
	Results    result.ResultRepositoryInterface
	Dispatcher *Dispatcher
	Reconciler *Reconciler
	Resolver   Resolver
	Compute    compute.Analyzer
}

func NewService(d ServiceDeps) *Service {
	return &Service{
		tasks:      d.Tasks,
		results:    d.Results,
		dispatcher: d.Dispatcher,
		reconciler: d.Reconciler,
		resolver:   d.Resolver,
		compute:    d.Compute,
	}
}

func (s *Service) Submit(ctx context.Context, name string) (*task.Task, error) {
	return s.dispatcher.Submit(ctx, name)
}

// GetTask returns the stored snapshot of a task. It has no side effects.
func (s *Service) GetTask(ctx context.Context, id string) (*task.Task, error) {
	return s.tasks.GetByID(ctx, id)
}

func (s *Service) GetTaskView(ctx context.Context, id string) (*TaskView, error) {
	t, err := s.tasks.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, t), nil
}

func (s *Service) GetLatestTaskForName(ctx context.Context, name string) (*TaskView, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: filename is required", ErrInvalidInput)
	}
	t, err := s.tasks.FindLatestByRequestedName(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, t), nil
}

func (s *Service) view(ctx context.Context, t *task.Task) *TaskView {
	v := &TaskView{Task: t}
	if t.State != task.StateCompleted {
		return v
	}
	res, err := s.reconciler.ResultForTask(ctx, t)
	if err != nil {
		if !errors.Is(err, result.ErrResultNotFound) {
			logrus.WithError(err).WithField("task_id", t.ID).Error("Failed to reconcile task result")
		}
		return v
	}
	v.Result = res
	return v
}

func (s *Service) ListTasks(ctx context.Context) ([]*task.Task, error) {
	return s.tasks.List(ctx)
}

func (s *Service) GetResultForTask(ctx context.Context, id string) (*result.Result, error) {
	t, err := s.tasks.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.State != task.StateCompleted {
		return nil, fmt.Errorf("%w: current state is %s", ErrTaskNotCompleted, t.State)
	}
	return s.reconciler.ResultForTask(ctx, t)
}

func (s *Service) GetResultByFilename(ctx context.Context, name string) (*result.Result, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: filename is required", ErrInvalidInput)
	}
	return s.results.GetByFilename(ctx, name)
}

func (s *Service) GetResultByID(ctx context.Context, id int64) (*result.Result, error) {
	return s.results.GetByID(ctx, id)
}

func (s *Service) ListResults(ctx context.Context) ([]*result.Result, error) {
	return s.results.List(ctx)
}

func (s *Service) GetHistory(ctx context.Context, name string) ([]*result.Result, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: filename is required", ErrInvalidInput)
	}
	return s.reconciler.History(ctx, name)
}

func (s *Service) DeleteResult(ctx context.Context, id int64) (bool, error) {
	deleted, err := s.results.Delete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("%w: delete result: %v", ErrPersistence, err)
	}
	if deleted {
		logrus.WithField("result_id", id).Info("Deleted analysis result")
	}
	return deleted, nil
}

// AnalyzeSync runs an analysis on the caller's goroutine without creating a
// task. An existing result for the name is returned as is.
func (s *Service) AnalyzeSync(ctx context.Context, name string) (*result.Result, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: filename is required", ErrInvalidInput)
	}

	if existing, err := s.results.GetByFilename(ctx, name); err == nil {
		logrus.WithField("filename", name).Info("Found existing analysis result, skipping compute call")
		return existing, nil
	} else if !errors.Is(err, result.ErrResultNotFound) {
		return nil, err
	}

	resolved, err := s.resolver.Resolve(name)
	if err != nil {
		return nil, err
	}
	if resolved != name {
		if existing, err := s.results.GetByFilename(ctx, resolved); err == nil {
			return existing, nil
		}
	}

	resp, err := s.compute.Analyze(ctx, resolved)
	if err != nil {
		return nil, err
	}

	r := worker.NewResult(resolved, resp, nil, time.Now())

	if err := s.results.Upsert(context.WithoutCancel(ctx), r); err != nil {
		return nil, fmt.Errorf("%w: save analysis result: %v", ErrPersistence, err)
	}
	logrus.WithFields(logrus.Fields{
		"filename":  resolved,
		"result_id": r.ID,
	}).Info("Synchronous analysis completed")
	return r, nil
}
