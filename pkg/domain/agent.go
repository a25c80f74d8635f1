package domain

import "slices"

// Agent is a named conversational role.
// Agents reference each other by name only; the handoff graph is owned by the registry.
type Agent struct {
	Name               string   `json:"name" yaml:"name"`
	Instructions       string   `json:"instructions" yaml:"instructions"`
	HandoffDescription string   `json:"handoff_description,omitempty" yaml:"handoff_description"`
	Tools              []string `json:"tools,omitempty" yaml:"tools"`
	Handoffs           []string `json:"handoffs,omitempty" yaml:"handoffs"`
}

// CanHandoffTo reports whether target is in the agent's permitted handoff set.
// Handoffs are directional: A -> B does not imply B -> A.
func (a Agent) CanHandoffTo(target string) bool {
	return slices.Contains(a.Handoffs, target)
}

// HasTool reports whether the agent may invoke the named tool.
func (a Agent) HasTool(name string) bool {
	return slices.Contains(a.Tools, name)
}

// Tool is the engine-facing description of a callable tool.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"` // JSON schema
}
