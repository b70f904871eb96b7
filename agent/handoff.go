package agent

import (
	"fmt"

	"github.com/taskmesh/taskmesh/model"
)

// HandoffToolName is the reserved tool through which a model signals transfer
// of control to a named peer agent.
const HandoffToolName = "handoff_to_agent"

// handoffToolDefinition exposes the handoff directive to the model as an
// ordinary function tool listing the reachable peers.
func handoffToolDefinition(peers []string) model.ToolDefinition {
	return model.ToolDefinition{
		Name: HandoffToolName,
		Description: fmt.Sprintf(
			"Hand the conversation off to another agent by name when it is better suited to continue. Known agents: %v.",
			peers,
		),
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"agent": map[string]any{"type": "string", "description": "Target agent name"},
			},
			"required": []string{"agent"},
		},
	}
}
