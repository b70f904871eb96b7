package agent

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/taskmesh/model"
	"github.com/taskmesh/taskmesh/tool"
)

var _ Agent = (*ModelAgent)(nil)

// recorder collects tool lifecycle events like the execution monitor would.
type recorder struct {
	calls   []string
	results []string
	success []bool
}

func (r *recorder) OnToolCall(stepID, name, input string) error {
	r.calls = append(r.calls, name)
	return nil
}

func (r *recorder) OnToolResult(stepID, name, output string, success bool) error {
	r.results = append(r.results, output)
	r.success = append(r.success, success)
	return nil
}

func TestNewModelAgent_Validation(t *testing.T) {
	mock := model.NewMockModel("m")

	_, err := NewModelAgent("", mock)
	assert.Error(t, err)

	_, err = NewModelAgent("a", nil)
	assert.Error(t, err)

	reserved := tool.NewFunctionTool(HandoffToolName, "nope", nil,
		func(context.Context, map[string]any) (any, error) { return nil, nil })
	_, err = NewModelAgent("a", mock, func(o *ModelAgentOptions) {
		o.Tools = []tool.Tool{reserved}
	})
	assert.Error(t, err)
}

func TestModelAgent_PlainResponse(t *testing.T) {
	mock := model.NewMockModel("m")
	mock.EnqueueText("the answer is 4")
	ag, err := NewModelAgent("solver", mock)
	require.NoError(t, err)

	out, err := ag.Run(context.Background(), Input{Query: "2+2?"})
	require.NoError(t, err)
	assert.Equal(t, "the answer is 4", out.Text)
	assert.Empty(t, out.Handoff)
}

func TestModelAgent_ToolLoop(t *testing.T) {
	mock := model.NewMockModel("m")
	mock.Enqueue(model.Response{
		ToolCalls: []model.ToolCall{{ID: "c1", Name: "add", Arguments: `{"a": 2, "b": 2}`}},
	})
	mock.EnqueueText("2+2 equals 4")

	add := tool.NewFunctionTool("add", "Adds two numbers",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"a": map[string]any{"type": "number"},
				"b": map[string]any{"type": "number"},
			},
			"required": []string{"a", "b"},
		},
		func(_ context.Context, args map[string]any) (any, error) {
			return args["a"].(float64) + args["b"].(float64), nil
		})

	ag, err := NewModelAgent("solver", mock, func(o *ModelAgentOptions) {
		o.Tools = []tool.Tool{add}
	})
	require.NoError(t, err)

	rec := &recorder{}
	out, err := ag.Run(context.Background(), Input{Query: "2+2?", StepID: "s1", Recorder: rec})
	require.NoError(t, err)
	assert.Equal(t, "2+2 equals 4", out.Text)
	assert.Equal(t, 2, mock.Calls())

	require.Equal(t, []string{"add"}, rec.calls)
	require.Equal(t, []string{"4"}, rec.results)
	assert.Equal(t, []bool{true}, rec.success)
}

func TestModelAgent_ToolFailureContained(t *testing.T) {
	mock := model.NewMockModel("m")
	mock.Enqueue(model.Response{
		ToolCalls: []model.ToolCall{{ID: "c1", Name: "flaky", Arguments: `{}`}},
	})
	mock.EnqueueText("the tool did not cooperate")

	flaky := tool.NewFunctionTool("flaky", "Always fails", nil,
		func(context.Context, map[string]any) (any, error) {
			return nil, fmt.Errorf("backend unavailable")
		})

	ag, err := NewModelAgent("worker", mock, func(o *ModelAgentOptions) {
		o.Tools = []tool.Tool{flaky}
	})
	require.NoError(t, err)

	rec := &recorder{}
	out, err := ag.Run(context.Background(), Input{Query: "go", StepID: "s1", Recorder: rec})
	require.NoError(t, err)
	assert.Equal(t, "the tool did not cooperate", out.Text)
	require.Equal(t, []bool{false}, rec.success)
	assert.Contains(t, rec.results[0], "backend unavailable")
}

func TestModelAgent_HandoffDirective(t *testing.T) {
	mock := model.NewMockModel("m")
	mock.Enqueue(model.Response{
		Text: "passing this to the writer",
		ToolCalls: []model.ToolCall{{
			ID: "c1", Name: HandoffToolName, Arguments: `{"agent":"writer"}`,
		}},
	})

	ag, err := NewModelAgent("researcher", mock, func(o *ModelAgentOptions) {
		o.Peers = []string{"writer"}
	})
	require.NoError(t, err)

	out, err := ag.Run(context.Background(), Input{Query: "draft a post"})
	require.NoError(t, err)
	assert.Equal(t, "writer", out.Handoff)
	assert.Equal(t, "passing this to the writer", out.Text)
}

func TestModelAgent_MalformedHandoff(t *testing.T) {
	mock := model.NewMockModel("m")
	mock.Enqueue(model.Response{
		ToolCalls: []model.ToolCall{{ID: "c1", Name: HandoffToolName, Arguments: `{"agent":""}`}},
	})

	ag, err := NewModelAgent("researcher", mock, func(o *ModelAgentOptions) {
		o.Peers = []string{"writer"}
	})
	require.NoError(t, err)

	_, err = ag.Run(context.Background(), Input{Query: "draft a post"})
	assert.Error(t, err)
}

func TestModelAgent_ToolTurnLimit(t *testing.T) {
	mock := model.NewMockModel("m")
	for i := 0; i < 3; i++ {
		mock.Enqueue(model.Response{
			ToolCalls: []model.ToolCall{{ID: fmt.Sprintf("c%d", i), Name: "noop", Arguments: `{}`}},
		})
	}
	noop := tool.NewFunctionTool("noop", "Does nothing", nil,
		func(context.Context, map[string]any) (any, error) { return "ok", nil })

	ag, err := NewModelAgent("spinner", mock, func(o *ModelAgentOptions) {
		o.Tools = []tool.Tool{noop}
		o.MaxToolTurns = 2
	})
	require.NoError(t, err)

	_, err = ag.Run(context.Background(), Input{Query: "loop"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tool turn limit")
}

func TestHandoffToolDefinition(t *testing.T) {
	def := handoffToolDefinition([]string{"writer", "critic"})
	assert.Equal(t, HandoffToolName, def.Name)
	assert.Contains(t, def.Description, "writer")
	props := def.Parameters["properties"].(map[string]any)
	assert.Contains(t, props, "agent")
}
