package monitor

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/taskmesh/agent"
	"github.com/taskmesh/taskmesh/model"
	"github.com/taskmesh/taskmesh/planner"
	"github.com/taskmesh/taskmesh/repository"
	"github.com/taskmesh/taskmesh/task"
)

func newManager(t *testing.T, llm model.Model, optFns ...func(o *ManagerOptions)) *Manager {
	t.Helper()
	mgr, err := NewManager(repository.NewInMemoryRepository(), llm, optFns...)
	require.NoError(t, err)
	return mgr
}

func TestNewManager_Validation(t *testing.T) {
	_, err := NewManager(nil, model.NewMockModel("m"))
	assert.ErrorIs(t, err, ErrNoRepository)

	_, err = NewManager(repository.NewInMemoryRepository(), nil)
	assert.Error(t, err)
}

func TestManager_SingleAgentTask(t *testing.T) {
	mock := model.NewMockModel("m")
	mock.EnqueueText("forty two")
	mgr := newManager(t, mock)
	ctx := context.Background()

	mon, err := mgr.CreateTask(ctx, "the answer?", nil)
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, mon.Runtime().Status)

	out, err := mgr.RunTask(ctx, mon.TaskID())
	require.NoError(t, err)
	assert.Equal(t, "forty two", out)

	rt, err := mgr.GetTask(ctx, mon.TaskID())
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, rt.Status)
	assert.Equal(t, "forty two", rt.Result)
	require.Len(t, rt.Steps, 1)
	assert.Equal(t, "assistant", rt.Steps[0].AgentID)
}

func TestManager_HandoffTeamTask(t *testing.T) {
	mock := model.NewMockModel("m")
	mock.Enqueue(model.Response{
		Text: "facts gathered",
		ToolCalls: []model.ToolCall{{
			ID: "c1", Name: agent.HandoffToolName, Arguments: `{"agent":"writer"}`,
		}},
	})
	mock.EnqueueText("polished answer")
	mgr := newManager(t, mock)
	ctx := context.Background()

	team := &planner.TeamSpec{
		Agents: []planner.AgentSpec{
			{Name: "researcher", Instructions: "research"},
			{Name: "writer", Instructions: "write"},
		},
		Default: "researcher",
	}
	mon, err := mgr.CreateTask(ctx, "explain goroutines", team)
	require.NoError(t, err)

	out, err := mgr.RunTask(ctx, mon.TaskID())
	require.NoError(t, err)
	assert.Equal(t, "polished answer", out)

	steps := mon.ListSteps()
	require.Len(t, steps, 2)
	assert.Equal(t, "researcher", steps[0].AgentID)
	assert.Equal(t, "writer", steps[1].AgentID)
	assert.Equal(t, task.StatusCompleted, mon.Runtime().Status)
}

func TestManager_RunUnknownTask(t *testing.T) {
	mgr := newManager(t, model.NewMockModel("m"))

	_, err := mgr.RunTask(context.Background(), "ghost")
	assert.ErrorIs(t, err, task.ErrNotFound)
}

func TestManager_CancelPendingTask(t *testing.T) {
	mgr := newManager(t, model.NewMockModel("m"))
	ctx := context.Background()

	mon, err := mgr.CreateTask(ctx, "later", nil)
	require.NoError(t, err)

	require.NoError(t, mgr.CancelTask(ctx, mon.TaskID()))
	rt := mon.Runtime()
	assert.Equal(t, task.StatusCancelled, rt.Status)

	// A second cancel hits the terminal guard.
	assert.ErrorIs(t, mgr.CancelTask(ctx, mon.TaskID()), task.ErrTerminalState)
}

func TestManager_DeleteTask(t *testing.T) {
	mock := model.NewMockModel("m")
	mock.EnqueueText("done")
	mgr := newManager(t, mock)
	ctx := context.Background()

	mon, err := mgr.CreateTask(ctx, "q", nil)
	require.NoError(t, err)
	_, err = mgr.RunTask(ctx, mon.TaskID())
	require.NoError(t, err)

	require.NoError(t, mgr.DeleteTask(ctx, mon.TaskID()))
	_, err = mgr.GetTask(ctx, mon.TaskID())
	assert.ErrorIs(t, err, task.ErrNotFound)
	assert.ErrorIs(t, mgr.DeleteTask(ctx, mon.TaskID()), task.ErrNotFound)
}

func TestManager_ListTasks(t *testing.T) {
	mock := model.NewMockModel("m")
	mock.EnqueueText("done")
	mgr := newManager(t, mock)
	ctx := context.Background()

	first, err := mgr.CreateTask(ctx, "first", nil)
	require.NoError(t, err)
	_, err = mgr.CreateTask(ctx, "second", nil)
	require.NoError(t, err)
	_, err = mgr.RunTask(ctx, first.TaskID())
	require.NoError(t, err)

	all, err := mgr.ListTasks(ctx, task.Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	done, err := mgr.ListTasks(ctx, task.Filter{Statuses: []task.Status{task.StatusCompleted}})
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, "first", done[0].Query)
}

// erroringPlanner always fails, forcing the single-agent fallback.
type erroringPlanner struct{}

func (erroringPlanner) Plan(context.Context, string) (*planner.TeamSpec, error) {
	return nil, fmt.Errorf("planner offline")
}

func TestManager_PlannerFallback(t *testing.T) {
	mock := model.NewMockModel("m")
	mock.EnqueueText("fallback answer")
	mgr := newManager(t, mock, func(o *ManagerOptions) {
		o.Planner = erroringPlanner{}
		o.DefaultAgentName = "generalist"
	})
	ctx := context.Background()

	mon, err := mgr.CreateTask(ctx, "q", nil)
	require.NoError(t, err)
	out, err := mgr.RunTask(ctx, mon.TaskID())
	require.NoError(t, err)
	assert.Equal(t, "fallback answer", out)
	require.Len(t, mon.ListSteps(), 1)
	assert.Equal(t, "generalist", mon.ListSteps()[0].AgentID)
}

func TestManager_RestoreFailsInterruptedTasks(t *testing.T) {
	repo := repository.NewInMemoryRepository()
	ctx := context.Background()

	interrupted := task.NewTaskRuntime("was running")
	require.NoError(t, interrupted.Start())
	require.NoError(t, repo.Put(ctx, interrupted))
	pending := task.NewTaskRuntime("still pending")
	require.NoError(t, repo.Put(ctx, pending))

	mgr, err := NewManager(repo, model.NewMockModel("m"))
	require.NoError(t, err)
	require.NoError(t, mgr.Restore(ctx))

	got, err := repo.Get(ctx, interrupted.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, got.Status)
	assert.Equal(t, "interrupted by restart", got.Error)

	untouched, err := repo.Get(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, untouched.Status)
}
