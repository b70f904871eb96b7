package monitor

import (
	"context"
	"fmt"
	"sync"

	"github.com/taskmesh/taskmesh/agent"
	"github.com/taskmesh/taskmesh/logging"
	"github.com/taskmesh/taskmesh/model"
	"github.com/taskmesh/taskmesh/planner"
	"github.com/taskmesh/taskmesh/router"
	"github.com/taskmesh/taskmesh/task"
	"github.com/taskmesh/taskmesh/tool"
)

// ErrTaskRunning is returned when an operation requires a task that is not
// actively executing.
var ErrTaskRunning = fmt.Errorf("monitor: task is running")

// Manager is the task-level front door: it creates tasks with a planned or
// supplied team, runs them through the handoff router, and answers queries
// over tracked and persisted tasks. Each task gets exactly one
// ExecutionMonitor for its lifetime.
type Manager struct {
	repo        task.RuntimeRepository
	llm         model.Model
	planner     planner.Planner
	tools       map[string]tool.Tool
	turnLimit   int
	stepRetries int
	defaultName string
	logger      logging.Logger

	mu       sync.Mutex
	monitors map[string]*ExecutionMonitor
	teams    map[string]*planner.TeamSpec
	active   map[string]context.CancelFunc
}

// ManagerOptions holds configuration overrides for NewManager.
type ManagerOptions struct {
	// Planner designs a team per task. Nil disables planning; tasks run with
	// the single-agent fallback team unless one is supplied explicitly.
	Planner planner.Planner
	// Tools available to planned agents, resolved by name.
	Tools []tool.Tool
	// TurnLimit bounds agent turns per task run.
	TurnLimit int
	// StepRetries is the per-step retry budget.
	StepRetries int
	// DefaultAgentName names the fallback single agent.
	DefaultAgentName string
	// Logger for task lifecycle events.
	Logger logging.Logger
}

// NewManager constructs a manager. The repository and model are mandatory.
func NewManager(repo task.RuntimeRepository, llm model.Model, optFns ...func(o *ManagerOptions)) (*Manager, error) {
	if repo == nil {
		return nil, ErrNoRepository
	}
	if llm == nil {
		return nil, fmt.Errorf("monitor: model is required")
	}
	opts := ManagerOptions{
		TurnLimit:        router.DefaultTurnLimit,
		StepRetries:      router.DefaultStepRetries,
		DefaultAgentName: "assistant",
		Logger:           logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	tools := make(map[string]tool.Tool, len(opts.Tools))
	for _, t := range opts.Tools {
		tools[t.Name()] = t
	}
	return &Manager{
		repo:        repo,
		llm:         llm,
		planner:     opts.Planner,
		tools:       tools,
		turnLimit:   opts.TurnLimit,
		stepRetries: opts.StepRetries,
		defaultName: opts.DefaultAgentName,
		logger:      opts.Logger,
		monitors:    make(map[string]*ExecutionMonitor),
		teams:       make(map[string]*planner.TeamSpec),
		active:      make(map[string]context.CancelFunc),
	}, nil
}

// CreateTask registers a new PENDING task for the query and persists it. When
// team is nil the planner designs one; if planning fails or no planner is
// configured, the single-agent fallback team is used.
func (m *Manager) CreateTask(ctx context.Context, query string, team *planner.TeamSpec) (*ExecutionMonitor, error) {
	if team == nil {
		team = m.planTeam(ctx, query)
	} else if err := team.Validate(); err != nil {
		return nil, err
	}

	rt := task.NewTaskRuntime(query)
	if err := m.repo.Put(ctx, rt); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	mon, err := NewExecutionMonitor(rt, m.repo, func(o *ExecutionMonitorOptions) {
		o.Logger = m.logger
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.monitors[rt.ID] = mon
	m.teams[rt.ID] = team
	m.mu.Unlock()

	m.logger.Info("task created", "task", rt.ID, "agents", len(team.Agents))
	return mon, nil
}

func (m *Manager) planTeam(ctx context.Context, query string) *planner.TeamSpec {
	if m.planner == nil {
		return planner.SingleAgent(m.defaultName)
	}
	team, err := m.planner.Plan(ctx, query)
	if err != nil {
		m.logger.Warn("team planning failed, falling back to single agent", "error", err)
		return planner.SingleAgent(m.defaultName)
	}
	return team
}

// RunTask executes a created task to a terminal status and returns its final
// output. The run is registered in the active set so CancelTask can reach it;
// cancellation takes effect at the next turn boundary.
func (m *Manager) RunTask(ctx context.Context, taskID string) (string, error) {
	m.mu.Lock()
	mon, ok := m.monitors[taskID]
	team := m.teams[taskID]
	if !ok {
		m.mu.Unlock()
		return "", fmt.Errorf("task %s: %w", taskID, task.ErrNotFound)
	}
	if _, running := m.active[taskID]; running {
		m.mu.Unlock()
		return "", fmt.Errorf("task %s: %w", taskID, ErrTaskRunning)
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.active[taskID] = cancel
	m.mu.Unlock()

	defer func() {
		cancel()
		m.mu.Lock()
		delete(m.active, taskID)
		m.mu.Unlock()
	}()

	agents, err := m.buildTeam(team)
	if err != nil {
		return "", err
	}
	r, err := router.New(agents, team.DefaultAgent(), func(o *router.Options) {
		o.TurnLimit = m.turnLimit
		o.StepRetries = m.stepRetries
		o.Logger = m.logger
	})
	if err != nil {
		return "", err
	}

	if err := mon.OnTaskStart(); err != nil {
		return "", err
	}
	rt := mon.Runtime()
	m.logger.Info("task running", "task", taskID)

	output, err := r.Run(runCtx, rt.Query, mon)
	if err != nil {
		// Infrastructure fault out of the router. Best effort to leave the
		// task terminal; a persist failure here has already been logged.
		if endErr := mon.OnTaskEnd(task.StatusFailed, err.Error()); endErr != nil {
			m.logger.Error("task finalization failed", "task", taskID, "error", endErr)
		}
		return output, err
	}
	return output, nil
}

// buildTeam instantiates model agents for a team plan. Every agent sees its
// teammates as handoff peers. Unknown tool names in the plan are skipped.
func (m *Manager) buildTeam(team *planner.TeamSpec) ([]agent.Agent, error) {
	agents := make([]agent.Agent, 0, len(team.Agents))
	for _, spec := range team.Agents {
		peers := make([]string, 0, len(team.Agents)-1)
		for _, other := range team.Agents {
			if other.Name != spec.Name {
				peers = append(peers, other.Name)
			}
		}
		var tools []tool.Tool
		for _, name := range spec.Tools {
			t, ok := m.tools[name]
			if !ok {
				m.logger.Warn("planned tool not registered", "agent", spec.Name, "tool", name)
				continue
			}
			tools = append(tools, t)
		}
		ag, err := agent.NewModelAgent(spec.Name, m.llm, func(o *agent.ModelAgentOptions) {
			o.Instructions = spec.Instructions
			o.Tools = tools
			o.Peers = peers
			o.Logger = m.logger
		})
		if err != nil {
			return nil, fmt.Errorf("build team: %w", err)
		}
		agents = append(agents, ag)
	}
	return agents, nil
}

// CancelTask requests cancellation. A running task is cancelled at its next
// turn boundary by the router; a task that never started is finalized
// CANCELLED immediately.
func (m *Manager) CancelTask(ctx context.Context, taskID string) error {
	m.mu.Lock()
	cancel, running := m.active[taskID]
	mon, tracked := m.monitors[taskID]
	m.mu.Unlock()

	if running {
		cancel()
		m.logger.Info("task cancellation requested", "task", taskID)
		return nil
	}
	if !tracked {
		return fmt.Errorf("task %s: %w", taskID, task.ErrNotFound)
	}
	if mon.Runtime().IsCompleted() {
		return fmt.Errorf("task %s: %w", taskID, task.ErrTerminalState)
	}
	return mon.OnTaskEnd(task.StatusCancelled, "task cancelled")
}

// GetTask returns a snapshot of the task, preferring live in-memory state
// over the repository.
func (m *Manager) GetTask(ctx context.Context, taskID string) (*task.TaskRuntime, error) {
	m.mu.Lock()
	mon, ok := m.monitors[taskID]
	m.mu.Unlock()
	if ok {
		return mon.Runtime(), nil
	}
	return m.repo.Get(ctx, taskID)
}

// Monitor returns the live monitor for a tracked task, or nil.
func (m *Manager) Monitor(taskID string) *ExecutionMonitor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.monitors[taskID]
}

// ListTasks returns persisted tasks matching the filter.
func (m *Manager) ListTasks(ctx context.Context, filter task.Filter) ([]*task.TaskRuntime, error) {
	return m.repo.List(ctx, filter)
}

// DeleteTask removes a task from the repository and drops its tracking state.
// An actively running task must be cancelled first.
func (m *Manager) DeleteTask(ctx context.Context, taskID string) error {
	m.mu.Lock()
	if _, running := m.active[taskID]; running {
		m.mu.Unlock()
		return fmt.Errorf("task %s: %w", taskID, ErrTaskRunning)
	}
	delete(m.monitors, taskID)
	delete(m.teams, taskID)
	m.mu.Unlock()

	return m.repo.Delete(ctx, taskID)
}

// Restore reloads persisted tasks after a restart. Tasks left RUNNING by a
// previous process are finalized FAILED, since their execution state is gone.
func (m *Manager) Restore(ctx context.Context) error {
	runtimes, err := m.repo.List(ctx, task.Filter{})
	if err != nil {
		return fmt.Errorf("restore tasks: %w", err)
	}
	for _, rt := range runtimes {
		if rt.Status != task.StatusRunning {
			continue
		}
		if err := rt.Finish(task.StatusFailed, "", "interrupted by restart"); err != nil {
			return err
		}
		if err := m.repo.Put(ctx, rt); err != nil {
			return fmt.Errorf("restore task %s: %w", rt.ID, err)
		}
		m.logger.Warn("interrupted task failed on restore", "task", rt.ID)
	}
	return nil
}
