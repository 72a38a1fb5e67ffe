package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"joblog/internal/models"
)

// MemoryStore keeps runs in process memory. It is meant for tests and for one-off jobs that do
// not need to share state with other processes.
type MemoryStore struct {
	mu   sync.Mutex
	runs map[string]models.Run
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]models.Run)}
}

func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) Create(ctx context.Context, run models.Run) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memoryTx{m}.Create(ctx, run)
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*models.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memoryTx{m}.Get(ctx, id)
}

func (m *MemoryStore) Update(ctx context.Context, id string, update models.RunUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memoryTx{m}.Update(ctx, id, update)
}

func (m *MemoryStore) CountByName(ctx context.Context, name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memoryTx{m}.CountByName(ctx, name)
}

func (m *MemoryStore) Query(ctx context.Context, filter models.RunFilter) ([]models.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memoryTx{m}.Query(ctx, filter)
}

// Atomic holds the store lock for the whole of fn and restores the previous contents if fn fails
func (m *MemoryStore) Atomic(ctx context.Context, fn func(Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := make(map[string]models.Run, len(m.runs))
	for id, run := range m.runs {
		snapshot[id] = run
	}

	if err := fn(memoryTx{m}); err != nil {
		m.runs = snapshot
		return err
	}
	return nil
}

// memoryTx operates on the store while its lock is already held
type memoryTx struct {
	m *MemoryStore
}

func (t memoryTx) Create(_ context.Context, run models.Run) (string, error) {
	run.ID = uuid.NewString()
	if run.State == "" {
		run.State = models.RunStateRunning
	}
	run.StartedAt = run.StartedAt.UTC()
	t.m.runs[run.ID] = run
	return run.ID, nil
}

func (t memoryTx) Get(_ context.Context, id string) (*models.Run, error) {
	run, ok := t.m.runs[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return &run, nil
}

func (t memoryTx) Update(_ context.Context, id string, update models.RunUpdate) error {
	run, ok := t.m.runs[id]
	if !ok {
		return ErrRecordNotFound
	}
	update.Apply(&run)
	t.m.runs[id] = run
	return nil
}

func (t memoryTx) CountByName(_ context.Context, name string) (int64, error) {
	var count int64
	for _, run := range t.m.runs {
		if run.Name == name {
			count++
		}
	}
	return count, nil
}

func (t memoryTx) Query(_ context.Context, filter models.RunFilter) ([]models.Run, error) {
	runs := []models.Run{}
	for _, run := range t.m.runs {
		if filter.Matches(&run) {
			runs = append(runs, run)
		}
	}

	sort.Slice(runs, func(i, j int) bool {
		a, b := runs[i], runs[j]
		if filter.NewestFirst {
			a, b = b, a
		}
		if !a.StartedAt.Equal(b.StartedAt) {
			return a.StartedAt.Before(b.StartedAt)
		}
		return a.Count < b.Count
	})

	if filter.Limit > 0 && len(runs) > filter.Limit {
		runs = runs[:filter.Limit]
	}
	return runs, nil
}

func (t memoryTx) Atomic(_ context.Context, fn func(Store) error) error {
	return fn(t)
}

var _ Backend = (*MemoryStore)(nil)
