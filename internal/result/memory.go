package result

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryRepository is the in-process result store used with
// STORE_DRIVER=memory and in tests. It follows the same upsert and
// ordering rules as the Postgres repository.
type MemoryRepository struct {
	mu      sync.RWMutex
	nextID  int64
	results map[int64]*Result
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{results: make(map[int64]*Result)}
}

// Insert stores r unconditionally, bypassing the filename upsert. It exists
// to seed duplicate or legacy rows.
func (m *MemoryRepository) Insert(_ context.Context, r *Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	r.ID = m.nextID
	m.results[r.ID] = r.Clone()
	return nil
}

func (m *MemoryRepository) Upsert(_ context.Context, r *Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing := m.freshestLocked(func(x *Result) bool { return x.Filename == r.Filename }); existing != nil {
		r.ID = existing.ID
		if r.TaskID == nil && existing.TaskID != nil {
			id := *existing.TaskID
			r.TaskID = &id
		}
	} else {
		m.nextID++
		r.ID = m.nextID
	}
	m.results[r.ID] = r.Clone()
	return nil
}

func (m *MemoryRepository) sortedLocked(match func(*Result) bool) []*Result {
	out := make([]*Result, 0)
	for _, r := range m.results {
		if match(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AnalyzedAt.Equal(out[j].AnalyzedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].AnalyzedAt.After(out[j].AnalyzedAt)
	})
	return out
}

func (m *MemoryRepository) freshestLocked(match func(*Result) bool) *Result {
	all := m.sortedLocked(match)
	if len(all) == 0 {
		return nil
	}
	return all[0]
}

func (m *MemoryRepository) getOne(match func(*Result) bool) (*Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r := m.freshestLocked(match)
	if r == nil {
		return nil, ErrResultNotFound
	}
	return r.Clone(), nil
}

func (m *MemoryRepository) list(match func(*Result) bool) []*Result {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sorted := m.sortedLocked(match)
	out := make([]*Result, len(sorted))
	for i, r := range sorted {
		out[i] = r.Clone()
	}
	return out
}

func (m *MemoryRepository) GetByID(_ context.Context, id int64) (*Result, error) {
	return m.getOne(func(r *Result) bool { return r.ID == id })
}

func (m *MemoryRepository) GetByTaskID(_ context.Context, taskID string) (*Result, error) {
	return m.getOne(func(r *Result) bool { return r.TaskID != nil && *r.TaskID == taskID })
}

func (m *MemoryRepository) GetByFilename(_ context.Context, filename string) (*Result, error) {
	return m.getOne(func(r *Result) bool { return r.Filename == filename })
}

func (m *MemoryRepository) ListByFilename(_ context.Context, filename string) ([]*Result, error) {
	return m.list(func(r *Result) bool { return r.Filename == filename }), nil
}

func (m *MemoryRepository) ListByFilenamePrefix(_ context.Context, prefix string) ([]*Result, error) {
	return m.list(func(r *Result) bool { return strings.HasPrefix(r.Filename, prefix) }), nil
}

func (m *MemoryRepository) List(_ context.Context) ([]*Result, error) {
	return m.list(func(*Result) bool { return true }), nil
}

func (m *MemoryRepository) AttachTask(_ context.Context, resultID int64, taskID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[resultID]
	if !ok || r.TaskID != nil {
		return false, nil
	}
	id := taskID
	r.TaskID = &id
	return true, nil
}

func (m *MemoryRepository) Delete(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.results[id]; !ok {
		return false, nil
	}
	delete(m.results, id)
	return true, nil
}
