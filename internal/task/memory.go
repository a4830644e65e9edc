package task

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepository keeps tasks in process memory. It backs STORE_DRIVER=memory
// and the package tests; records are cloned on the way in and out.
type MemoryRepository struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{tasks: make(map[string]*Task)}
}

func (r *MemoryRepository) Create(_ context.Context, task *Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[task.ID] = task.Clone()
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id string) (*Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return t.Clone(), nil
}

func (r *MemoryRepository) Update(_ context.Context, task *Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.tasks[task.ID]
	if !ok {
		return ErrTaskNotFound
	}
	updated := task.Clone()
	updated.CreatedAt = existing.CreatedAt
	updated.RequestedName = existing.RequestedName
	r.tasks[task.ID] = updated
	return nil
}

func (r *MemoryRepository) FindLatestByRequestedName(ctx context.Context, name string) (*Task, error) {
	all, _ := r.List(ctx)
	for _, t := range all {
		if t.RequestedName == name {
			return t, nil
		}
	}
	return nil, ErrTaskNotFound
}

func (r *MemoryRepository) List(_ context.Context) ([]*Task, error) {
	r.mu.RLock()
	tasks := make([]*Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		tasks = append(tasks, t.Clone())
	}
	r.mu.RUnlock()

	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].ID > tasks[j].ID
		}
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
	return tasks, nil
}
