package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/taskmesh/taskmesh/logging"
	"github.com/taskmesh/taskmesh/task"
)

// ErrNoRepository is returned when a monitor or manager is constructed
// without a runtime repository.
var ErrNoRepository = fmt.Errorf("monitor: runtime repository is required")

// ExecutionMonitor synchronizes execution events of exactly one task into the
// runtime model and the repository. It is the canonical router.Listener: one
// handler per lifecycle event, driven in well-formed order (step start before
// any tool events before step end, task end last). Handlers are serialized by
// a per-monitor mutex so concurrent events can never persist interleaved
// partial snapshots.
//
// Every handler mutates the in-memory runtime before persisting, so a
// persistence failure surfaces to the caller while the state remains valid
// for a retry of the persist.
type ExecutionMonitor struct {
	mu      sync.Mutex
	runtime *task.TaskRuntime
	repo    task.RuntimeRepository
	logger  logging.Logger
}

// ExecutionMonitorOptions holds configuration overrides for NewExecutionMonitor.
type ExecutionMonitorOptions struct {
	Logger logging.Logger
}

// NewExecutionMonitor binds a monitor to the given runtime. The repository is
// mandatory; without one the monitor is non-functional and construction fails.
func NewExecutionMonitor(rt *task.TaskRuntime, repo task.RuntimeRepository, optFns ...func(o *ExecutionMonitorOptions)) (*ExecutionMonitor, error) {
	if repo == nil {
		return nil, ErrNoRepository
	}
	if rt == nil {
		return nil, fmt.Errorf("monitor: task runtime is required")
	}
	opts := ExecutionMonitorOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &ExecutionMonitor{runtime: rt, repo: repo, logger: opts.Logger}, nil
}

// TaskID returns the id of the monitored task.
func (m *ExecutionMonitor) TaskID() string { return m.runtime.ID }

// Runtime returns a snapshot clone of the monitored runtime.
func (m *ExecutionMonitor) Runtime() *task.TaskRuntime {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runtime.Clone()
}

// ListSteps returns snapshot clones of the task's steps in turn order.
func (m *ExecutionMonitor) ListSteps() []*task.TaskRuntimeStep {
	return m.Runtime().Steps
}

// OnTaskStart transitions the task to RUNNING and persists.
func (m *ExecutionMonitor) OnTaskStart() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.runtime.Start(); err != nil {
		return err
	}
	return m.persist()
}

// OnStepStart implements router.Listener: it records a new RUNNING step for
// the agent and returns its id.
func (m *ExecutionMonitor) OnStepStart(agentID, input string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runtime.IsCompleted() {
		return "", fmt.Errorf("task %s: %w", m.runtime.ID, task.ErrTerminalState)
	}
	step := task.NewStep(agentID, agentID, input)
	m.runtime.AppendStep(step)
	m.logger.Debug("step started", "task", m.runtime.ID, "step", step.ID, "agent", agentID)
	return step.ID, m.persist()
}

// OnToolCall implements router.Listener: it appends a tool-call record to
// the named step.
func (m *ExecutionMonitor) OnToolCall(stepID, name, input string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	step := m.runtime.Step(stepID)
	if step == nil {
		return fmt.Errorf("step %s: %w", stepID, task.ErrNotFound)
	}
	step.ToolCalls = append(step.ToolCalls, task.ToolCall{
		ID:        task.NewID(),
		Name:      name,
		Input:     input,
		StartedAt: nowUTC(),
	})
	return m.persist()
}

// OnToolResult implements router.Listener. It completes the newest pending tool-call
// record with a matching name; an unmatched result is an event-ordering bug
// on the caller's side and is rejected.
func (m *ExecutionMonitor) OnToolResult(stepID, name, output string, success bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	step := m.runtime.Step(stepID)
	if step == nil {
		return fmt.Errorf("step %s: %w", stepID, task.ErrNotFound)
	}
	for i := len(step.ToolCalls) - 1; i >= 0; i-- {
		tc := &step.ToolCalls[i]
		if tc.Name == name && tc.CompletedAt == nil {
			now := nowUTC()
			tc.CompletedAt = &now
			tc.Output = output
			tc.Success = success
			return m.persist()
		}
	}
	return fmt.Errorf("step %s: no pending tool call %q", stepID, name)
}

// OnStepEnd implements router.Listener: it finalizes the agent's most recent running
// step.
func (m *ExecutionMonitor) OnStepEnd(agentID, output string, status task.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	step := m.latestRunningStep(agentID)
	if step == nil {
		return fmt.Errorf("agent %s: no running step: %w", agentID, task.ErrNotFound)
	}
	errMsg := ""
	if status == task.StatusFailed {
		errMsg = output
		output = ""
	}
	if err := step.Finish(status, output, errMsg); err != nil {
		return err
	}
	m.logger.Debug("step finished", "task", m.runtime.ID, "step", step.ID, "status", status)
	return m.persist()
}

// OnTaskEnd implements router.Listener: it moves the task to a terminal
// status. For COMPLETED the result is the task result payload, otherwise the
// failure reason.
func (m *ExecutionMonitor) OnTaskEnd(status task.Status, result string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, errMsg := result, ""
	if status != task.StatusCompleted {
		res, errMsg = "", result
	}
	if err := m.runtime.Finish(status, res, errMsg); err != nil {
		return err
	}
	m.logger.Info("task finished", "task", m.runtime.ID, "status", status)
	return m.persist()
}

// persist writes the full runtime snapshot. Caller must hold the mutex.
// A background context keeps final writes possible after run cancellation.
func (m *ExecutionMonitor) persist() error {
	if err := m.repo.Put(context.Background(), m.runtime); err != nil {
		return fmt.Errorf("persist task %s: %w", m.runtime.ID, err)
	}
	return nil
}

func nowUTC() time.Time { return time.Now().UTC() }

func (m *ExecutionMonitor) latestRunningStep(agentID string) *task.TaskRuntimeStep {
	for i := len(m.runtime.Steps) - 1; i >= 0; i-- {
		if s := m.runtime.Steps[i]; s.AgentID == agentID && s.IsRunning() {
			return s
		}
	}
	return nil
}
