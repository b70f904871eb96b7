// Package planner turns a task query into a team plan: which agents to
// create, their instructions and tools, and who takes the first turn.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/taskmesh/taskmesh/logging"
	"github.com/taskmesh/taskmesh/model"
)

// AgentSpec describes one agent of a planned team.
type AgentSpec struct {
	Name         string   `json:"name"`
	Instructions string   `json:"instructions"`
	Tools        []string `json:"tools,omitempty"`
}

// TeamSpec is a complete team plan. Default names the agent that takes the
// first turn; empty means the first listed agent.
type TeamSpec struct {
	Agents  []AgentSpec `json:"agents"`
	Default string      `json:"default,omitempty"`
}

// Validate checks structural soundness of the plan.
func (s *TeamSpec) Validate() error {
	if len(s.Agents) == 0 {
		return fmt.Errorf("team plan: at least one agent is required")
	}
	seen := make(map[string]bool, len(s.Agents))
	for _, a := range s.Agents {
		if a.Name == "" {
			return fmt.Errorf("team plan: agent name must not be empty")
		}
		if seen[a.Name] {
			return fmt.Errorf("team plan: duplicate agent %q", a.Name)
		}
		seen[a.Name] = true
	}
	if s.Default != "" && !seen[s.Default] {
		return fmt.Errorf("team plan: default agent %q not in team", s.Default)
	}
	return nil
}

// DefaultAgent resolves the agent taking the first turn.
func (s *TeamSpec) DefaultAgent() string {
	if s.Default != "" {
		return s.Default
	}
	return s.Agents[0].Name
}

// SingleAgent is the minimal viable plan: one generalist agent handling the
// whole task. It is the fallback when planning fails or is disabled.
func SingleAgent(name string) *TeamSpec {
	return &TeamSpec{
		Agents: []AgentSpec{{
			Name:         name,
			Instructions: "You are a capable generalist assistant. Solve the user's task end to end.",
		}},
		Default: name,
	}
}

// Planner produces a team plan for a task query.
type Planner interface {
	Plan(ctx context.Context, query string) (*TeamSpec, error)
}

const planInstructions = `You are a team planner for a multi-agent task system.
Given a task, design the smallest team of specialist agents that can solve it.
Respond with JSON only, matching this shape:
{"agents":[{"name":"...","instructions":"...","tools":["..."]}],"default":"..."}
Agent names must be short lowercase identifiers. "default" names the agent
that starts. Do not include any text outside the JSON object.`

// ModelPlanner asks a model to design the team and parses its JSON answer.
type ModelPlanner struct {
	llm    model.Model
	logger logging.Logger
}

// ModelPlannerOptions holds configuration overrides for NewModelPlanner.
type ModelPlannerOptions struct {
	Logger logging.Logger
}

// NewModelPlanner constructs a model-backed planner.
func NewModelPlanner(llm model.Model, optFns ...func(o *ModelPlannerOptions)) (*ModelPlanner, error) {
	if llm == nil {
		return nil, fmt.Errorf("model planner: model is required")
	}
	opts := ModelPlannerOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &ModelPlanner{llm: llm, logger: opts.Logger}, nil
}

// Plan implements Planner.
func (p *ModelPlanner) Plan(ctx context.Context, query string) (*TeamSpec, error) {
	resp, err := p.llm.Generate(ctx, model.Request{
		Instructions: planInstructions,
		Messages:     []model.Message{{Role: "user", Text: query}},
	})
	if err != nil {
		return nil, fmt.Errorf("plan team: %w", err)
	}
	spec, err := parseTeamSpec(resp.Text)
	if err != nil {
		return nil, fmt.Errorf("plan team: %w", err)
	}
	p.logger.Debug("team planned", "agents", len(spec.Agents), "default", spec.DefaultAgent())
	return spec, nil
}

// parseTeamSpec decodes a plan, tolerating markdown code fences around the
// JSON body.
func parseTeamSpec(text string) (*TeamSpec, error) {
	body := strings.TrimSpace(text)
	if strings.HasPrefix(body, "```") {
		body = strings.TrimPrefix(body, "```json")
		body = strings.TrimPrefix(body, "```")
		if i := strings.LastIndex(body, "```"); i >= 0 {
			body = body[:i]
		}
		body = strings.TrimSpace(body)
	}
	var spec TeamSpec
	if err := json.Unmarshal([]byte(body), &spec); err != nil {
		return nil, fmt.Errorf("invalid team plan: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}
