// Package agent defines the Agent contract the handoff router drives, plus a
// model-backed implementation that supports tool calling and structured
// handoff directives.
package agent

import (
	"context"

	"github.com/taskmesh/taskmesh/model"
)

// StepRecorder receives tool-call lifecycle events for the step an agent is
// currently executing. The execution monitor implements it; a nil recorder
// disables recording.
type StepRecorder interface {
	OnToolCall(stepID, name, input string) error
	OnToolResult(stepID, name, output string, success bool) error
}

// Input carries one turn's worth of context into an agent: the task query,
// the conversation so far, and the identity of the step being recorded.
type Input struct {
	Query    string
	History  []model.Message
	StepID   string
	Recorder StepRecorder
}

// Output is the result of one agent turn. Handoff names the peer agent that
// should take the next turn; empty means the agent considers the conversation
// finished. The directive is structured, never inferred from prose.
type Output struct {
	Text    string
	Handoff string
}

// Agent is one named participant in a task team.
type Agent interface {
	Name() string
	Run(ctx context.Context, in Input) (Output, error)
}
