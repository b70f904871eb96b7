package tool

import (
	"context"
	"fmt"

	"github.com/taskmesh/taskmesh/internal/util"
	"github.com/taskmesh/taskmesh/session"
)

// ProviderTool exposes one operation of an external tool provider as a Tool.
// Calls are forwarded through the session manager, so many concurrent tool
// invocations share the provider's single long-lived connection. The session
// must be opened before the first call; a closed session surfaces
// session.ErrClosed to the agent loop.
type ProviderTool struct {
	name        string
	description string
	parameters  map[string]any
	providerKey string
	op          string
	sessions    *session.Manager
}

// NewProviderTool constructs a ProviderTool bound to a provider key and
// operation name on the given session manager.
func NewProviderTool(
	name, description string,
	parameters map[string]any,
	sessions *session.Manager,
	providerKey, op string,
) (*ProviderTool, error) {
	if sessions == nil {
		return nil, fmt.Errorf("provider tool %s: session manager is required", name)
	}
	if parameters == nil {
		parameters = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return &ProviderTool{
		name:        name,
		description: description,
		parameters:  parameters,
		providerKey: providerKey,
		op:          op,
		sessions:    sessions,
	}, nil
}

// Name implements Tool.
func (t *ProviderTool) Name() string { return t.name }

// Description implements Tool.
func (t *ProviderTool) Description() string { return t.description }

// Parameters implements Tool.
func (t *ProviderTool) Parameters() map[string]any { return t.parameters }

// ProviderKey returns the session key this tool invokes through.
func (t *ProviderTool) ProviderKey() string { return t.providerKey }

// Call validates args and forwards the operation through the provider session.
func (t *ProviderTool) Call(ctx context.Context, args map[string]any) (any, error) {
	if err := util.ValidateParameters(args, t.parameters); err != nil {
		return nil, fmt.Errorf("tool %s: %w", t.name, err)
	}
	return t.sessions.Invoke(ctx, t.providerKey, t.op, args)
}
