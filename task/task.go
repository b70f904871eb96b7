package task

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status enumerates the lifecycle states of a task or step.
// Transitions only move forward: PENDING -> RUNNING -> terminal.
type Status string

const (
	// StatusPending is the initial state before execution begins.
	StatusPending Status = "PENDING"
	// StatusRunning indicates execution is in progress.
	StatusRunning Status = "RUNNING"
	// StatusCompleted is the successful terminal state.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed is the unsuccessful terminal state.
	StatusFailed Status = "FAILED"
	// StatusCancelled is the terminal state for cancelled tasks. Steps never
	// carry this status; cancellation force-fails running steps instead.
	StatusCancelled Status = "CANCELLED"
)

// IsTerminal reports whether no further transition may leave this status.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CanTransition reports whether moving from s to next is a legal forward
// transition in the state machine.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusRunning || next.IsTerminal()
	case StatusRunning:
		return next.IsTerminal()
	default:
		return false
	}
}

// ErrTerminalState is returned when a mutation would resurrect a task or step
// that already reached a terminal status.
var ErrTerminalState = fmt.Errorf("task: illegal transition from terminal state")

// NewID generates a unique identifier for tasks, steps and tool calls.
func NewID() string { return uuid.NewString() }

// ToolCall records one tool invocation within a step, including timing and
// the success flag reported by the tool result event.
type ToolCall struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Input       string     `json:"input"`
	Output      string     `json:"output"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Success     bool       `json:"success"`
}

// TaskRuntimeStep is one agent's single turn of execution within a task.
type TaskRuntimeStep struct {
	ID          string     `json:"id"`
	AgentID     string     `json:"agent_id"`
	AgentName   string     `json:"agent_name"`
	Status      Status     `json:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Input       string     `json:"input"`
	Output      string     `json:"output"`
	Error       string     `json:"error,omitempty"`
	ToolCalls   []ToolCall `json:"tool_calls,omitempty"`
}

// NewStep creates a RUNNING step for the named agent with started_at set to now.
func NewStep(agentID, agentName, input string) *TaskRuntimeStep {
	now := time.Now().UTC()
	return &TaskRuntimeStep{
		ID:        NewID(),
		AgentID:   agentID,
		AgentName: agentName,
		Status:    StatusRunning,
		StartedAt: &now,
		Input:     input,
	}
}

// IsRunning reports whether the step is currently executing.
func (s *TaskRuntimeStep) IsRunning() bool { return s.Status == StatusRunning }

// IsCompleted reports whether the step reached a terminal status.
func (s *TaskRuntimeStep) IsCompleted() bool { return s.Status.IsTerminal() }

// Duration returns the elapsed step time. For a running step this is the time
// since started_at; the second return is false when started_at is unset.
func (s *TaskRuntimeStep) Duration() (time.Duration, bool) {
	return duration(s.StartedAt, s.CompletedAt)
}

// Finish transitions the step to a terminal status and stamps completed_at.
// It rejects resurrection of an already terminal step.
func (s *TaskRuntimeStep) Finish(status Status, output, errMsg string) error {
	if s.Status.IsTerminal() {
		return fmt.Errorf("step %s: %w", s.ID, ErrTerminalState)
	}
	if !s.Status.CanTransition(status) || status == StatusCancelled {
		return fmt.Errorf("step %s: illegal transition %s -> %s", s.ID, s.Status, status)
	}
	now := time.Now().UTC()
	s.Status = status
	s.CompletedAt = &now
	s.Output = output
	s.Error = errMsg
	return nil
}

// TaskRuntime is the full execution state of one tracked task. The steps
// slice preserves creation order, which equals turn order.
type TaskRuntime struct {
	ID          string             `json:"id"`
	Status      Status             `json:"status"`
	Query       string             `json:"query"`
	CreatedAt   time.Time          `json:"created_at"`
	StartedAt   *time.Time         `json:"started_at,omitempty"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
	Result      string             `json:"result,omitempty"`
	Error       string             `json:"error,omitempty"`
	Steps       []*TaskRuntimeStep `json:"-"`
}

// NewTaskRuntime creates a PENDING task runtime with a fresh id.
func NewTaskRuntime(query string) *TaskRuntime {
	return &TaskRuntime{
		ID:        NewID(),
		Status:    StatusPending,
		Query:     query,
		CreatedAt: time.Now().UTC(),
	}
}

// IsCompleted reports whether the task reached a terminal status.
func (t *TaskRuntime) IsCompleted() bool { return t.Status.IsTerminal() }

// Duration returns completed_at-started_at, or the running duration for an
// in-flight task. The second return is false when started_at is unset.
func (t *TaskRuntime) Duration() (time.Duration, bool) {
	return duration(t.StartedAt, t.CompletedAt)
}

// Start transitions the task to RUNNING and stamps started_at.
func (t *TaskRuntime) Start() error {
	if t.Status.IsTerminal() {
		return fmt.Errorf("task %s: %w", t.ID, ErrTerminalState)
	}
	if !t.Status.CanTransition(StatusRunning) {
		return fmt.Errorf("task %s: illegal transition %s -> %s", t.ID, t.Status, StatusRunning)
	}
	now := time.Now().UTC()
	t.Status = StatusRunning
	t.StartedAt = &now
	return nil
}

// Finish transitions the task to a terminal status, stamps completed_at and
// records the result payload. A FAILED or CANCELLED reason goes to Error.
// Any step still running is force-failed so the invariant "a completed task
// has no running step" holds.
func (t *TaskRuntime) Finish(status Status, result, errMsg string) error {
	if t.Status.IsTerminal() {
		return fmt.Errorf("task %s: %w", t.ID, ErrTerminalState)
	}
	if !t.Status.CanTransition(status) {
		return fmt.Errorf("task %s: illegal transition %s -> %s", t.ID, t.Status, status)
	}
	marker := errMsg
	if status == StatusCancelled && marker == "" {
		marker = "task cancelled"
	}
	for _, step := range t.Steps {
		if step.IsRunning() {
			_ = step.Finish(StatusFailed, step.Output, marker)
		}
	}
	now := time.Now().UTC()
	t.Status = status
	t.CompletedAt = &now
	t.Result = result
	t.Error = errMsg
	return nil
}

// AppendStep adds a step to the ordered step sequence.
func (t *TaskRuntime) AppendStep(step *TaskRuntimeStep) { t.Steps = append(t.Steps, step) }

// Step returns the step with the given id, or nil if absent.
func (t *TaskRuntime) Step(id string) *TaskRuntimeStep {
	for _, s := range t.Steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// Clone returns a deep copy safe for independent mutation.
func (t *TaskRuntime) Clone() *TaskRuntime {
	clone := *t
	clone.Steps = make([]*TaskRuntimeStep, len(t.Steps))
	for i, s := range t.Steps {
		sc := *s
		sc.ToolCalls = append([]ToolCall(nil), s.ToolCalls...)
		clone.Steps[i] = &sc
	}
	return &clone
}

func duration(started, completed *time.Time) (time.Duration, bool) {
	if started == nil {
		return 0, false
	}
	if completed != nil {
		return completed.Sub(*started), true
	}
	return time.Since(*started), true
}
