package domain

// ToolCallRequest is a single tool invocation proposed by the reasoning engine.
type ToolCallRequest struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// Generation is the structured output of one reasoning-engine call.
// Handoff takes precedence over tool calls when both are present.
type Generation struct {
	Message   string            `json:"message,omitempty"`
	ToolCalls []ToolCallRequest `json:"tool_calls,omitempty"`
	Handoff   string            `json:"handoff,omitempty"`
}

// IsFinal reports whether the generation ends the turn loop.
func (g Generation) IsFinal() bool {
	return g.Handoff == "" && len(g.ToolCalls) == 0
}

// RunResult is the ephemeral outcome of executing one inbound message.
type RunResult struct {
	NewItems        Transcript `json:"new_items"`
	LastAgent       string     `json:"last_agent"`
	Turns           int        `json:"turns"`
	MaxTurns        int        `json:"max_turns"`
	BudgetExhausted bool       `json:"budget_exhausted,omitempty"`
}
