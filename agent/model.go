package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/taskmesh/taskmesh/logging"
	"github.com/taskmesh/taskmesh/model"
	"github.com/taskmesh/taskmesh/tool"
)

// ModelAgent drives a model.Model through a bounded tool loop. When peers are
// configured the handoff tool is offered to the model; a call to it ends the
// turn with a structured handoff directive instead of executing a tool.
type ModelAgent struct {
	name         string
	instructions string
	llm          model.Model
	tools        map[string]tool.Tool
	peers        []string
	maxToolTurns int
	logger       logging.Logger
}

// ModelAgentOptions holds configuration overrides for NewModelAgent.
type ModelAgentOptions struct {
	// Instructions is the system prompt for the agent.
	Instructions string
	// Tools the agent may call during a turn.
	Tools []tool.Tool
	// Peers are agent names this agent may hand off to. Empty disables the
	// handoff tool entirely.
	Peers []string
	// MaxToolTurns bounds model/tool round trips within one agent turn.
	MaxToolTurns int
	// Logger for tool execution records.
	Logger logging.Logger
}

// NewModelAgent constructs a model-backed agent.
func NewModelAgent(name string, llm model.Model, optFns ...func(o *ModelAgentOptions)) (*ModelAgent, error) {
	if name == "" {
		return nil, fmt.Errorf("model agent: name must not be empty")
	}
	if llm == nil {
		return nil, fmt.Errorf("model agent %s: model is required", name)
	}
	opts := ModelAgentOptions{MaxToolTurns: 8, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	tools := make(map[string]tool.Tool, len(opts.Tools))
	for _, t := range opts.Tools {
		if t.Name() == HandoffToolName {
			return nil, fmt.Errorf("model agent %s: tool name %q is reserved", name, HandoffToolName)
		}
		tools[t.Name()] = t
	}
	return &ModelAgent{
		name:         name,
		instructions: opts.Instructions,
		llm:          llm,
		tools:        tools,
		peers:        opts.Peers,
		maxToolTurns: opts.MaxToolTurns,
		logger:       opts.Logger,
	}, nil
}

// Name implements Agent.
func (a *ModelAgent) Name() string { return a.name }

// Run implements Agent: it converses with the model, executing requested
// tools and feeding results back, until the model produces a plain response
// or a handoff directive.
func (a *ModelAgent) Run(ctx context.Context, in Input) (Output, error) {
	messages := append([]model.Message(nil), in.History...)
	if in.Query != "" {
		messages = append(messages, model.Message{Role: "user", Text: in.Query})
	}

	defs := a.toolDefinitions()

	for turn := 0; turn < a.maxToolTurns; turn++ {
		resp, err := a.llm.Generate(ctx, model.Request{
			Instructions: a.instructions,
			Messages:     messages,
			Tools:        defs,
		})
		if err != nil {
			return Output{}, fmt.Errorf("agent %s: %w", a.name, err)
		}
		if len(resp.ToolCalls) == 0 {
			return Output{Text: resp.Text}, nil
		}

		messages = append(messages, model.Message{
			Role:      "assistant",
			Text:      resp.Text,
			ToolCalls: resp.ToolCalls,
		})

		for _, tc := range resp.ToolCalls {
			if tc.Name == HandoffToolName {
				target, err := parseHandoffTarget(tc.Arguments)
				if err != nil {
					return Output{}, fmt.Errorf("agent %s: %w", a.name, err)
				}
				return Output{Text: resp.Text, Handoff: target}, nil
			}
			result := a.executeTool(ctx, in, tc)
			messages = append(messages, model.Message{Role: "tool", ToolResult: &result})
		}
	}
	return Output{}, fmt.Errorf("agent %s: tool turn limit (%d) exceeded", a.name, a.maxToolTurns)
}

func (a *ModelAgent) toolDefinitions() []model.ToolDefinition {
	defs := make([]model.ToolDefinition, 0, len(a.tools)+1)
	for _, t := range a.tools {
		defs = append(defs, model.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	if len(a.peers) > 0 {
		defs = append(defs, handoffToolDefinition(a.peers))
	}
	return defs
}

// executeTool runs one requested tool call and reports it to the step
// recorder. Tool failures are contained: the error text becomes the tool
// result so the model can react, and the record carries success=false.
func (a *ModelAgent) executeTool(ctx context.Context, in Input, tc model.ToolCall) model.ToolResult {
	if in.Recorder != nil {
		if err := in.Recorder.OnToolCall(in.StepID, tc.Name, tc.Arguments); err != nil {
			a.logger.Warn("tool call record failed", "agent", a.name, "tool", tc.Name, "error", err)
		}
	}

	start := time.Now()
	content, success := a.callTool(ctx, tc)
	a.logger.Info("tool executed",
		"agent", a.name, "tool", tc.Name,
		"duration_ms", time.Since(start).Milliseconds(), "success", success)

	if in.Recorder != nil {
		if err := in.Recorder.OnToolResult(in.StepID, tc.Name, content, success); err != nil {
			a.logger.Warn("tool result record failed", "agent", a.name, "tool", tc.Name, "error", err)
		}
	}
	return model.ToolResult{ID: tc.ID, Name: tc.Name, Content: content, IsError: !success}
}

func (a *ModelAgent) callTool(ctx context.Context, tc model.ToolCall) (string, bool) {
	t, ok := a.tools[tc.Name]
	if !ok {
		return fmt.Sprintf("unknown tool %q", tc.Name), false
	}
	args := map[string]any{}
	if tc.Arguments != "" {
		if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
			return fmt.Sprintf("invalid tool arguments: %v", err), false
		}
	}
	result, err := t.Call(ctx, args)
	if err != nil {
		return err.Error(), false
	}
	switch v := result.(type) {
	case string:
		return v, true
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v), true
		}
		return string(encoded), true
	}
}

func parseHandoffTarget(arguments string) (string, error) {
	var args struct {
		Agent string `json:"agent"`
	}
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return "", fmt.Errorf("handoff directive: %w", err)
	}
	if args.Agent == "" {
		return "", fmt.Errorf("handoff directive: field 'agent' must be a non-empty string")
	}
	return args.Agent, nil
}
