package monitor

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/taskmesh/repository"
	"github.com/taskmesh/taskmesh/router"
	"github.com/taskmesh/taskmesh/task"
)

// Interface compliance (compile-time assertion)
var _ router.Listener = (*ExecutionMonitor)(nil)

// failingRepo wraps a real repository and fails Put on demand.
type failingRepo struct {
	task.RuntimeRepository
	fail bool
}

func (r *failingRepo) Put(ctx context.Context, t *task.TaskRuntime) error {
	if r.fail {
		return fmt.Errorf("disk full")
	}
	return r.RuntimeRepository.Put(ctx, t)
}

func newMonitor(t *testing.T) (*ExecutionMonitor, *task.TaskRuntime, task.RuntimeRepository) {
	t.Helper()
	repo := repository.NewInMemoryRepository()
	rt := task.NewTaskRuntime("test query")
	require.NoError(t, repo.Put(context.Background(), rt))
	mon, err := NewExecutionMonitor(rt, repo)
	require.NoError(t, err)
	return mon, rt, repo
}

func TestNewExecutionMonitor_RequiresRepository(t *testing.T) {
	_, err := NewExecutionMonitor(task.NewTaskRuntime("q"), nil)
	assert.ErrorIs(t, err, ErrNoRepository)

	_, err = NewExecutionMonitor(nil, repository.NewInMemoryRepository())
	assert.Error(t, err)
}

func TestExecutionMonitor_StepLifecycle(t *testing.T) {
	mon, _, repo := newMonitor(t)
	require.NoError(t, mon.OnTaskStart())

	stepID, err := mon.OnStepStart("researcher", "test query")
	require.NoError(t, err)
	require.NotEmpty(t, stepID)

	require.NoError(t, mon.OnToolCall(stepID, "search", `{"q":"go"}`))
	require.NoError(t, mon.OnToolResult(stepID, "search", "3 hits", true))
	require.NoError(t, mon.OnStepEnd("researcher", "found it", task.StatusCompleted))
	require.NoError(t, mon.OnTaskEnd(task.StatusCompleted, "found it"))

	// Everything above must be visible through the repository.
	got, err := repo.Get(context.Background(), mon.TaskID())
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, got.Status)
	assert.Equal(t, "found it", got.Result)
	require.Len(t, got.Steps, 1)
	step := got.Steps[0]
	assert.Equal(t, task.StatusCompleted, step.Status)
	assert.Equal(t, "found it", step.Output)
	require.Len(t, step.ToolCalls, 1)
	assert.Equal(t, "search", step.ToolCalls[0].Name)
	assert.Equal(t, "3 hits", step.ToolCalls[0].Output)
	assert.True(t, step.ToolCalls[0].Success)
	require.NotNil(t, step.ToolCalls[0].CompletedAt)
}

func TestExecutionMonitor_StepFailureStoresError(t *testing.T) {
	mon, _, _ := newMonitor(t)
	require.NoError(t, mon.OnTaskStart())

	_, err := mon.OnStepStart("worker", "do it")
	require.NoError(t, err)
	require.NoError(t, mon.OnStepEnd("worker", "model timed out", task.StatusFailed))

	steps := mon.ListSteps()
	require.Len(t, steps, 1)
	assert.Equal(t, task.StatusFailed, steps[0].Status)
	assert.Equal(t, "model timed out", steps[0].Error)
	assert.Empty(t, steps[0].Output)
}

func TestExecutionMonitor_TaskEndClosesRunningSteps(t *testing.T) {
	mon, _, _ := newMonitor(t)
	require.NoError(t, mon.OnTaskStart())

	_, err := mon.OnStepStart("worker", "long job")
	require.NoError(t, err)
	require.NoError(t, mon.OnTaskEnd(task.StatusCancelled, "task cancelled"))

	rt := mon.Runtime()
	assert.True(t, rt.IsCompleted())
	for _, s := range rt.Steps {
		assert.False(t, s.IsRunning())
	}
}

func TestExecutionMonitor_NoStepsAfterTerminal(t *testing.T) {
	mon, _, _ := newMonitor(t)
	require.NoError(t, mon.OnTaskStart())
	require.NoError(t, mon.OnTaskEnd(task.StatusCompleted, "done"))

	_, err := mon.OnStepStart("worker", "too late")
	assert.ErrorIs(t, err, task.ErrTerminalState)
	assert.ErrorIs(t, mon.OnTaskEnd(task.StatusFailed, "again"), task.ErrTerminalState)
}

func TestExecutionMonitor_UnmatchedToolResult(t *testing.T) {
	mon, _, _ := newMonitor(t)
	require.NoError(t, mon.OnTaskStart())
	stepID, err := mon.OnStepStart("worker", "q")
	require.NoError(t, err)

	assert.Error(t, mon.OnToolResult(stepID, "never-called", "x", true))
	assert.ErrorIs(t, mon.OnToolCall("missing-step", "search", "{}"), task.ErrNotFound)
}

func TestExecutionMonitor_PersistFailureKeepsState(t *testing.T) {
	inner := repository.NewInMemoryRepository()
	rt := task.NewTaskRuntime("q")
	require.NoError(t, inner.Put(context.Background(), rt))
	repo := &failingRepo{RuntimeRepository: inner}
	mon, err := NewExecutionMonitor(rt, repo)
	require.NoError(t, err)
	require.NoError(t, mon.OnTaskStart())

	repo.fail = true
	stepID, err := mon.OnStepStart("worker", "q")
	require.Error(t, err)
	require.NotEmpty(t, stepID)

	// The in-memory runtime already carries the step, so retrying the persist
	// later loses nothing.
	assert.Len(t, mon.ListSteps(), 1)

	repo.fail = false
	require.NoError(t, mon.OnStepEnd("worker", "done", task.StatusCompleted))
	got, err := inner.Get(context.Background(), rt.ID)
	require.NoError(t, err)
	assert.Len(t, got.Steps, 1)
}
