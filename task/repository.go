package task

import (
	"context"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a task for the given id does not exist in
	// the underlying repository.
	ErrNotFound = fmt.Errorf("task not found")
)

// Filter narrows List results. Zero-value fields match everything; results
// are ordered by creation time ascending.
type Filter struct {
	// Statuses restricts results to tasks in one of the given states.
	Statuses []Status
	// CreatedAfter / CreatedBefore bound the creation timestamp (exclusive).
	CreatedAfter  time.Time
	CreatedBefore time.Time
}

// Matches reports whether the task satisfies the filter predicate.
func (f Filter) Matches(t *TaskRuntime) bool {
	if len(f.Statuses) > 0 {
		ok := false
		for _, s := range f.Statuses {
			if t.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if !f.CreatedAfter.IsZero() && !t.CreatedAt.After(f.CreatedAfter) {
		return false
	}
	if !f.CreatedBefore.IsZero() && !t.CreatedAt.Before(f.CreatedBefore) {
		return false
	}
	return true
}

// RuntimeRepository persists task runtimes and their steps keyed by task id.
//
// Put upserts the full task including all steps; implementations must leave
// either the old or the new complete state behind on a crash mid-write.
// Delete removes a task and all of its steps and returns ErrNotFound when the
// task is absent; a second Delete of the same id therefore fails with
// ErrNotFound as well.
type RuntimeRepository interface {
	Put(ctx context.Context, t *TaskRuntime) error
	Get(ctx context.Context, id string) (*TaskRuntime, error)
	List(ctx context.Context, f Filter) ([]*TaskRuntime, error)
	Delete(ctx context.Context, id string) error
}
