package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/taskmesh/taskmesh/agent"
	"github.com/taskmesh/taskmesh/logging"
	"github.com/taskmesh/taskmesh/model"
	"github.com/taskmesh/taskmesh/task"
)

var (
	// ErrEmptyTeam is returned when a router is constructed without agents.
	ErrEmptyTeam = fmt.Errorf("router: team must contain at least one agent")
	// ErrUnknownAgent is returned when the default agent is not in the team
	// or two team members share a name.
	ErrUnknownAgent = fmt.Errorf("router: unknown agent")
)

const (
	// DefaultTurnLimit bounds agent turns per task run.
	DefaultTurnLimit = 16
	// DefaultStepRetries is how often a failed step is retried before the
	// failure becomes permanent.
	DefaultStepRetries = 2

	turnLimitReason = "turn limit exceeded"
	cancelledReason = "task cancelled"
)

// Listener receives the execution events the router emits while running a
// task. monitor.ExecutionMonitor is the production implementation.
type Listener interface {
	// OnStepStart records a new RUNNING step for the agent and returns its id.
	OnStepStart(agentID, input string) (string, error)
	// OnToolCall appends a tool-call record to the named step.
	OnToolCall(stepID, name, input string) error
	// OnToolResult completes the pending tool-call record on the step.
	OnToolResult(stepID, name, output string, success bool) error
	// OnStepEnd finalizes the agent's running step. For a FAILED status the
	// output carries the error text.
	OnStepEnd(agentID, output string, status task.Status) error
	// OnTaskEnd moves the task to a terminal status with a result payload or
	// failure reason.
	OnTaskEnd(status task.Status, result string) error
}

// Router drives a fixed team of agents through handoff turns. Routing is
// deterministic: given the same agent outputs, the same sequence of steps and
// the same terminal status are produced.
type Router struct {
	agents      map[string]agent.Agent
	order       []string
	defaultName string
	turnLimit   int
	stepRetries int
	logger      logging.Logger
}

// Options holds configuration overrides for New.
type Options struct {
	// TurnLimit bounds agent turns per task; exceeding it fails the task.
	TurnLimit int
	// StepRetries is the per-step retry budget for agent errors.
	StepRetries int
	// Logger for routing decisions.
	Logger logging.Logger
}

// New builds a router over the given team. The default agent takes the first
// turn and must be a team member.
func New(team []agent.Agent, defaultName string, optFns ...func(o *Options)) (*Router, error) {
	if len(team) == 0 {
		return nil, ErrEmptyTeam
	}
	opts := Options{TurnLimit: DefaultTurnLimit, StepRetries: DefaultStepRetries, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	agents := make(map[string]agent.Agent, len(team))
	order := make([]string, 0, len(team))
	for _, a := range team {
		if _, dup := agents[a.Name()]; dup {
			return nil, fmt.Errorf("duplicate agent %q: %w", a.Name(), ErrUnknownAgent)
		}
		agents[a.Name()] = a
		order = append(order, a.Name())
	}
	if defaultName == "" {
		defaultName = order[0]
	}
	if _, ok := agents[defaultName]; !ok {
		return nil, fmt.Errorf("default agent %q: %w", defaultName, ErrUnknownAgent)
	}
	return &Router{
		agents:      agents,
		order:       order,
		defaultName: defaultName,
		turnLimit:   opts.TurnLimit,
		stepRetries: opts.StepRetries,
		logger:      opts.Logger,
	}, nil
}

// routingState tracks who holds the turn and which agents may still receive
// handoffs. An agent whose step fails permanently becomes ineligible.
type routingState struct {
	current  string
	eligible map[string]bool
}

func (r *Router) newState() *routingState {
	eligible := make(map[string]bool, len(r.order))
	for _, name := range r.order {
		eligible[name] = true
	}
	return &routingState{current: r.defaultName, eligible: eligible}
}

// Run executes the turn loop for one task until a terminal outcome and
// reports it through the listener. The returned error is reserved for
// infrastructure faults (listener persistence failures); domain outcomes,
// including step failures, the turn limit and cancellation, end the task via
// OnTaskEnd and return nil.
//
// Cancellation is observed at turn boundaries: a turn in flight completes and
// is recorded before the task ends CANCELLED.
func (r *Router) Run(ctx context.Context, query string, listener Listener) (string, error) {
	state := r.newState()
	var history []model.Message
	var lastOutput string

	for turn := 0; ; turn++ {
		select {
		case <-ctx.Done():
			return lastOutput, r.endTask(listener, task.StatusCancelled, cancelledReason)
		default:
		}
		if turn >= r.turnLimit {
			r.logger.Warn("turn limit exceeded", "limit", r.turnLimit)
			return lastOutput, r.endTask(listener, task.StatusFailed, turnLimitReason)
		}

		stepInput := lastOutput
		if turn == 0 {
			stepInput = query
		}
		out, err := r.runStep(ctx, state.current, stepInput, history, listener)
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				return lastOutput, r.endTask(listener, task.StatusCancelled, cancelledReason)
			}
			state.eligible[state.current] = false
			return lastOutput, r.endTask(listener, task.StatusFailed, err.Error())
		}
		lastOutput = out.Text
		if turn == 0 {
			history = append(history, model.Message{Role: "user", Text: query})
		}
		history = append(history, model.Message{Role: "assistant", Text: out.Text})

		if out.Handoff == "" {
			return lastOutput, r.endTask(listener, task.StatusCompleted, lastOutput)
		}
		if !state.eligible[out.Handoff] {
			// Unknown or ineligible target: the task ends with the last
			// coherent output rather than guessing a recipient.
			r.logger.Warn("handoff target not routable", "from", state.current, "to", out.Handoff)
			return lastOutput, r.endTask(listener, task.StatusCompleted, lastOutput)
		}
		r.logger.Debug("handoff", "from", state.current, "to", out.Handoff)
		state.current = out.Handoff
	}
}

// runStep runs one agent turn as a recorded step, retrying failed attempts
// within the retry budget. Each attempt is its own step record.
func (r *Router) runStep(ctx context.Context, agentName, input string, history []model.Message, listener Listener) (agent.Output, error) {
	ag := r.agents[agentName]
	var lastErr error
	for attempt := 0; attempt <= r.stepRetries; attempt++ {
		stepID, err := listener.OnStepStart(agentName, input)
		if err != nil {
			return agent.Output{}, err
		}
		query := ""
		if len(history) == 0 {
			query = input
		}
		out, runErr := ag.Run(ctx, agent.Input{
			Query:    query,
			History:  history,
			StepID:   stepID,
			Recorder: listener,
		})
		if runErr == nil {
			if err := listener.OnStepEnd(agentName, out.Text, task.StatusCompleted); err != nil {
				return agent.Output{}, err
			}
			return out, nil
		}
		if err := listener.OnStepEnd(agentName, runErr.Error(), task.StatusFailed); err != nil {
			return agent.Output{}, err
		}
		lastErr = runErr
		if ctx.Err() != nil {
			break
		}
		if attempt < r.stepRetries {
			r.logger.Warn("step failed, retrying", "agent", agentName, "attempt", attempt+1, "error", runErr)
		}
	}
	return agent.Output{}, fmt.Errorf("agent %s: %w", agentName, lastErr)
}

// endTask finalizes the task, tolerating a race with an external cancel that
// already moved it to a terminal status.
func (r *Router) endTask(listener Listener, status task.Status, result string) error {
	err := listener.OnTaskEnd(status, result)
	if err != nil && errors.Is(err, task.ErrTerminalState) {
		return nil
	}
	return err
}
