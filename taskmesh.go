// Package taskmesh provides a high-level façade over the task runtime,
// repository, planner and monitor abstractions for running agent tasks end to
// end. Most applications interact with this package by:
//  1. Creating a TaskMesh via New() (optionally overriding the repository,
//     planner, tools or logger)
//  2. Submitting queries with SubmitTask / RunTask
//  3. Inspecting progress via GetTask, ListTasks and the task monitors
//
// All defaults are safe for local development and testing; production
// deployments typically supply a durable repository and a structured logger.
package taskmesh

import (
	"context"

	"github.com/taskmesh/taskmesh/logging"
	"github.com/taskmesh/taskmesh/model"
	"github.com/taskmesh/taskmesh/monitor"
	"github.com/taskmesh/taskmesh/planner"
	"github.com/taskmesh/taskmesh/repository"
	"github.com/taskmesh/taskmesh/router"
	"github.com/taskmesh/taskmesh/task"
	"github.com/taskmesh/taskmesh/tool"
)

// Options configures the TaskMesh instance.
type Options struct {
	// Repository stores task runtimes (defaults to in-memory).
	Repository task.RuntimeRepository

	// Planner designs a team per task. Nil means every task runs with a
	// single generalist agent.
	Planner planner.Planner

	// Tools available to planned agents, resolved by name.
	Tools []tool.Tool

	// TurnLimit bounds agent turns per task run.
	TurnLimit int

	// StepRetries is the per-step retry budget.
	StepRetries int

	// DefaultAgentName names the fallback single agent.
	DefaultAgentName string

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// TaskMesh is the high-level façade aggregating the manager and its services.
type TaskMesh struct {
	opts    Options
	manager *monitor.Manager
}

// New creates a TaskMesh backed by the given model, with optional overrides.
// Any unset service is initialized with an in-memory implementation.
func New(llm model.Model, optFns ...func(o *Options)) (*TaskMesh, error) {
	opts := Options{
		Repository:       repository.NewInMemoryRepository(),
		TurnLimit:        router.DefaultTurnLimit,
		StepRetries:      router.DefaultStepRetries,
		DefaultAgentName: "assistant",
		Logger:           logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	mgr, err := monitor.NewManager(opts.Repository, llm, func(o *monitor.ManagerOptions) {
		o.Planner = opts.Planner
		o.Tools = opts.Tools
		o.TurnLimit = opts.TurnLimit
		o.StepRetries = opts.StepRetries
		o.DefaultAgentName = opts.DefaultAgentName
		o.Logger = opts.Logger
	})
	if err != nil {
		return nil, err
	}
	return &TaskMesh{opts: opts, manager: mgr}, nil
}

// Manager exposes the underlying task manager for advanced use.
func (m *TaskMesh) Manager() *monitor.Manager { return m.manager }

// SubmitTask creates a PENDING task for the query without running it. The
// team is planned if a planner is configured.
func (m *TaskMesh) SubmitTask(ctx context.Context, query string) (string, error) {
	mon, err := m.manager.CreateTask(ctx, query, nil)
	if err != nil {
		return "", err
	}
	return mon.TaskID(), nil
}

// RunTask is the synchronous helper: it creates a task for the query, runs it
// to a terminal status and returns the task id and final output.
func (m *TaskMesh) RunTask(ctx context.Context, query string) (string, string, error) {
	taskID, err := m.SubmitTask(ctx, query)
	if err != nil {
		return "", "", err
	}
	output, err := m.manager.RunTask(ctx, taskID)
	return taskID, output, err
}

// GetTask returns a snapshot of the task runtime.
func (m *TaskMesh) GetTask(ctx context.Context, taskID string) (*task.TaskRuntime, error) {
	return m.manager.GetTask(ctx, taskID)
}

// ListTasks returns tasks matching the filter.
func (m *TaskMesh) ListTasks(ctx context.Context, filter task.Filter) ([]*task.TaskRuntime, error) {
	return m.manager.ListTasks(ctx, filter)
}

// CancelTask requests cancellation of a task.
func (m *TaskMesh) CancelTask(ctx context.Context, taskID string) error {
	return m.manager.CancelTask(ctx, taskID)
}

// DeleteTask removes a task and its steps.
func (m *TaskMesh) DeleteTask(ctx context.Context, taskID string) error {
	return m.manager.DeleteTask(ctx, taskID)
}
