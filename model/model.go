// Package model defines the provider-neutral interface agents use to drive
// text generation with tool calling, plus a scripted MockModel for tests and
// examples. Vendor adapters live in the anthropic and openai subpackages.
package model

import (
	"context"
	"fmt"
)

// ToolCall is a function call request surfaced by a model provider, unified
// across vendors so downstream logic needs no per-provider branching.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON-encoded arguments object
}

// ToolResult carries the outcome of a previously requested tool call back to
// the model on the next turn.
type ToolResult struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// Message is one entry of the conversation handed to a model. Role is one of
// "system", "user", "assistant" or "tool". Assistant messages may carry tool
// calls; tool messages carry exactly one tool result.
type Message struct {
	Role       string      `json:"role"`
	Text       string      `json:"text,omitempty"`
	ToolCalls  []ToolCall  `json:"tool_calls,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
}

// ToolDefinition declaratively exposes a callable function to the model.
// Parameters is a JSON Schema object (minimal subset expected).
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request captures the normalized model input produced by agents.
type Request struct {
	Instructions string           `json:"instructions,omitempty"`
	Messages     []Message        `json:"messages"`
	Tools        []ToolDefinition `json:"tools,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the final completion for one model turn. A response carrying
// tool calls expects the caller to execute them and send the results back in
// a follow-up request.
type Response struct {
	Text         string      `json:"text"`
	ToolCalls    []ToolCall  `json:"tool_calls,omitempty"`
	FinishReason string      `json:"finish_reason"`
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"`
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the minimal interface required by agents to drive generation.
// Generate blocks until the provider returns a complete turn; cancellation
// and deadlines flow through ctx.
type Model interface {
	Generate(ctx context.Context, req Request) (Response, error)
	Info() Info
}

// MockModel is a scripted in-memory Model for tests and examples. Responses
// are consumed in order; once the script is exhausted Generate echoes the
// last user message.
type MockModel struct {
	info   Info
	script []Response
	calls  int
}

// NewMockModel constructs a MockModel with tool support enabled.
func NewMockModel(name string) *MockModel {
	return &MockModel{info: Info{Name: name, Provider: "mock", SupportsTools: true}}
}

// Enqueue appends a scripted response returned by a future Generate call.
func (m *MockModel) Enqueue(resp Response) *MockModel {
	m.script = append(m.script, resp)
	return m
}

// EnqueueText is shorthand for a plain-text scripted response.
func (m *MockModel) EnqueueText(text string) *MockModel {
	return m.Enqueue(Response{Text: text, FinishReason: "stop"})
}

// Calls reports how many times Generate has been invoked.
func (m *MockModel) Calls() int { return m.calls }

// Generate implements Model.
func (m *MockModel) Generate(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	m.calls++
	if len(m.script) > 0 {
		resp := m.script[0]
		m.script = m.script[1:]
		return resp, nil
	}
	var last string
	for _, msg := range req.Messages {
		if msg.Role == "user" {
			last = msg.Text
		}
	}
	return Response{Text: fmt.Sprintf("Mock response to: %s", last), FinishReason: "stop"}, nil
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }
