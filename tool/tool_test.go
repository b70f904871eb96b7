package tool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/taskmesh/session"
)

// Interface compliance (compile-time assertions)
var (
	_ Tool = (*FunctionTool)(nil)
	_ Tool = (*ProviderTool)(nil)
)

func TestFunctionTool_Call(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"city": map[string]any{"type": "string"},
		},
		"required": []string{"city"},
	}
	weather := NewFunctionTool("get_weather", "Look up the weather", schema,
		func(_ context.Context, args map[string]any) (any, error) {
			return "sunny in " + args["city"].(string), nil
		})

	got, err := weather.Call(context.Background(), map[string]any{"city": "Berlin"})
	require.NoError(t, err)
	assert.Equal(t, "sunny in Berlin", got)
}

func TestFunctionTool_ValidationRejects(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"count": map[string]any{"type": "integer"},
		},
		"required": []string{"count"},
	}
	tl := NewFunctionTool("counter", "Counts", schema,
		func(context.Context, map[string]any) (any, error) { return nil, nil })

	// Missing required field
	_, err := tl.Call(context.Background(), map[string]any{})
	assert.Error(t, err)

	// Wrong type
	_, err = tl.Call(context.Background(), map[string]any{"count": "three"})
	assert.Error(t, err)
}

func TestFunctionTool_NilParameters(t *testing.T) {
	tl := NewFunctionTool("ping", "Answers pong", nil,
		func(context.Context, map[string]any) (any, error) { return "pong", nil })

	got, err := tl.Call(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "pong", got)
	assert.Equal(t, "object", tl.Parameters()["type"])
}

// recordingConn captures the operation and args forwarded through a session.
type recordingConn struct {
	op   string
	args map[string]any
}

func (c *recordingConn) Invoke(_ context.Context, op string, args map[string]any) (any, error) {
	c.op, c.args = op, args
	return map[string]any{"rows": 3}, nil
}

func (c *recordingConn) Close() error { return nil }

func TestProviderTool_ForwardsThroughSession(t *testing.T) {
	sessions := session.NewManager()
	conn := &recordingConn{}
	_, err := sessions.Open(context.Background(), "db", func(context.Context) (session.Conn, error) {
		return conn, nil
	})
	require.NoError(t, err)

	query, err := NewProviderTool("run_query", "Run a database query",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"sql": map[string]any{"type": "string"},
			},
			"required": []string{"sql"},
		},
		sessions, "db", "query")
	require.NoError(t, err)

	got, err := query.Call(context.Background(), map[string]any{"sql": "SELECT 1"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"rows": 3}, got)
	assert.Equal(t, "query", conn.op)
	assert.Equal(t, "SELECT 1", conn.args["sql"])
}

func TestProviderTool_ClosedSession(t *testing.T) {
	sessions := session.NewManager()
	query, err := NewProviderTool("run_query", "Run a database query", nil, sessions, "db", "query")
	require.NoError(t, err)

	_, err = query.Call(context.Background(), map[string]any{})
	assert.ErrorIs(t, err, session.ErrClosed)
}

func TestProviderTool_RequiresSessionManager(t *testing.T) {
	_, err := NewProviderTool("x", "y", nil, nil, "db", "query")
	assert.Error(t, err)
}
