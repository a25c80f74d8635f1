package rules_test

import (
	"context"
	"testing"

	"github.com/aretw0/concierge/pkg/adapters/rules"
	"github.com/aretw0/concierge/pkg/domain"
	"github.com/aretw0/concierge/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ruleset = `
fallback: Sorry?
fallbacks:
  Desk: Ask me about orders.
rules:
  - agent: Desk
    keywords: [status]
    handoff: Tracker
  - agent: Tracker
    keywords: [status]
    tool: lookup
    args:
      id:
        pattern: 'order-(\d+)'
        group: 1
        type: number
    ask: Which order?
`

var (
	desk    = domain.Agent{Name: "Desk", Handoffs: []string{"Tracker"}}
	tracker = domain.Agent{Name: "Tracker", Tools: []string{"lookup"}, Handoffs: []string{"Desk"}}
)

func load(t *testing.T) *rules.Engine {
	t.Helper()
	e, err := rules.Load([]byte(ruleset))
	require.NoError(t, err)
	return e
}

func gen(t *testing.T, e *rules.Engine, agent domain.Agent, items ...domain.Item) domain.Generation {
	t.Helper()
	g, err := e.Generate(context.Background(), ports.GenerateRequest{Agent: agent, Transcript: items})
	require.NoError(t, err)
	return g
}

func TestEngine_HandoffThenTool(t *testing.T) {
	e := load(t)
	user := domain.UserMessage{Text: "Status of order-7 please"}

	assert.Equal(t, domain.Generation{Handoff: "Tracker"}, gen(t, e, desk, user))

	handoff := domain.HandoffOccurred{From: "Desk", To: "Tracker"}
	g := gen(t, e, tracker, user, handoff)
	require.Len(t, g.ToolCalls, 1)
	assert.Equal(t, "lookup", g.ToolCalls[0].Name)
	assert.Equal(t, map[string]any{"id": float64(7)}, g.ToolCalls[0].Args)

	result := domain.ToolCallResult{Agent: "Tracker", CallID: "x", Tool: "lookup", Output: "open"}
	requested := domain.ToolCallRequested{Agent: "Tracker", CallID: "x", Tool: "lookup"}
	assert.Equal(t, domain.Generation{Message: "open"}, gen(t, e, tracker, user, handoff, requested, result))
}

func TestEngine_AsksForMissingArguments(t *testing.T) {
	e := load(t)
	g := gen(t, e, tracker, domain.UserMessage{Text: "status?"})
	assert.Equal(t, domain.Generation{Message: "Which order?"}, g)
}

func TestEngine_OneHandoffPerMessage(t *testing.T) {
	e := load(t)
	bounce := domain.Agent{Name: "Desk", Handoffs: []string{"Tracker"}}
	g := gen(t, e, bounce,
		domain.UserMessage{Text: "status"},
		domain.HandoffOccurred{From: "Tracker", To: "Desk"},
	)
	assert.Equal(t, domain.Generation{Message: "Ask me about orders."}, g)
}

func TestEngine_Fallback(t *testing.T) {
	e := load(t)
	g := gen(t, e, domain.Agent{Name: "Other"}, domain.UserMessage{Text: "hi"})
	assert.Equal(t, domain.Generation{Message: "Sorry?"}, g)
}

func TestLoad_Invalid(t *testing.T) {
	_, err := rules.Load([]byte("rules:\n  - agent: A\n    keywords: [x]\n"))
	assert.ErrorContains(t, err, "exactly one of handoff or tool")

	_, err = rules.Load([]byte("rules:\n  - agent: A\n    tool: t\n    args:\n      id: {pattern: '(', group: 1}\n"))
	assert.Error(t, err)

	_, err = rules.Load([]byte("rules:\n  - agent: A\n    tool: t\n    args:\n      id: {pattern: 'x', group: 1}\n"))
	assert.ErrorContains(t, err, "has no group 1")
}
