package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/taskmesh/taskmesh/task"
)

// InMemoryRepository is a volatile RuntimeRepository storing task runtimes in
// a process local map. It is safe for concurrent access and best suited for
// tests or ephemeral runs. Each returned runtime is cloned to prevent
// external mutation of internal state.
type InMemoryRepository struct {
	mu    sync.RWMutex
	tasks map[string]*task.TaskRuntime
}

// NewInMemoryRepository constructs an empty in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{tasks: make(map[string]*task.TaskRuntime)}
}

// Put stores a clone of the provided task runtime snapshot.
func (r *InMemoryRepository) Put(_ context.Context, t *task.TaskRuntime) error {
	if t == nil || t.ID == "" {
		return fmt.Errorf("put: task id must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[t.ID] = t.Clone()
	return nil
}

// Get returns a clone of the stored runtime or task.ErrNotFound.
func (r *InMemoryRepository) Get(_ context.Context, id string) (*task.TaskRuntime, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", id, task.ErrNotFound)
	}
	return t.Clone(), nil
}

// List returns matching runtimes ordered by creation time ascending.
func (r *InMemoryRepository) List(_ context.Context, f task.Filter) ([]*task.TaskRuntime, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*task.TaskRuntime, 0, len(r.tasks))
	for _, t := range r.tasks {
		if f.Matches(t) {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Delete removes a task and its steps. A second delete of the same id fails
// with task.ErrNotFound.
func (r *InMemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[id]; !ok {
		return fmt.Errorf("delete %s: %w", id, task.ErrNotFound)
	}
	delete(r.tasks, id)
	return nil
}
