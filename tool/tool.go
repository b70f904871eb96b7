// Package tool implements the function calling subsystem that lets agents
// invoke structured capabilities with schema-validated arguments and
// consistent error handling. ProviderTool bridges tool calls onto long-lived
// provider sessions owned by the session package.
package tool

import (
	"context"
	"fmt"

	"github.com/taskmesh/taskmesh/internal/util"
)

// Tool defines the interface for extending agent capabilities with external
// functions.
//
// Tool implementations should provide clear names and descriptions (both are
// surfaced to the model), define a JSON schema for parameters, and be safe
// for concurrent use.
type Tool interface {
	// Name returns the unique identifier for this tool (snake_case recommended).
	Name() string

	// Description is provided to the model to explain when to use the tool.
	Description() string

	// Parameters returns a JSON schema describing the expected arguments.
	Parameters() map[string]any

	// Call executes the tool with arguments already validated against the schema.
	Call(ctx context.Context, args map[string]any) (any, error)
}

// ValidationError reports a tool argument that failed schema validation.
type ValidationError = util.ValidationError

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{Tool: tool, Message: message, Code: code}
}
