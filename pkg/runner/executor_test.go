package runner_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/aretw0/concierge/internal/testutils"
	"github.com/aretw0/concierge/pkg/adapters/memory"
	"github.com/aretw0/concierge/pkg/domain"
	"github.com/aretw0/concierge/pkg/durable"
	"github.com/aretw0/concierge/pkg/ports"
	"github.com/aretw0/concierge/pkg/registry"
	"github.com/aretw0/concierge/pkg/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	triage = "Triage Agent"
	status = "Order Status Agent"
)

type fixture struct {
	agents    *registry.Agents
	tools     *registry.Registry
	lookups   int
	lookupsMu sync.Mutex
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{}
	f.tools = registry.NewRegistry().MustRegister(
		registry.ToolDef{
			Name:        "get_order_status",
			Description: "Gets the life cycle status of the order.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"order_id": map[string]any{"type": "string"}},
				"required":   []string{"order_id"},
			},
			Handler: func(ctx context.Context, call *registry.Call, args map[string]any) (string, error) {
				f.lookupsMu.Lock()
				f.lookups++
				f.lookupsMu.Unlock()
				return "Status of order " + args["order_id"].(string) + " is OPEN", nil
			},
		},
		registry.ToolDef{
			Name: "explode",
			Handler: func(context.Context, *registry.Call, map[string]any) (string, error) {
				return "", errors.New("backend unavailable")
			},
		},
	)

	agents, err := registry.BuildAgents(registry.GraphSpec{
		Default: triage,
		Agents: []domain.Agent{
			{Name: triage, Handoffs: []string{status}},
			{Name: status, Tools: []string{"get_order_status", "explode"}, Handoffs: []string{triage}},
		},
	}, f.tools)
	require.NoError(t, err)
	f.agents = agents
	return f
}

func (f *fixture) agent(t *testing.T, name string) domain.Agent {
	a, err := f.agents.Resolve(name)
	require.NoError(t, err)
	return a
}

func session(key string) runner.Session {
	return runner.Session{Key: key, Steps: durable.NewTable()}
}

func TestExecutor_FinalMessage(t *testing.T) {
	f := newFixture(t)
	engine := testutils.NewScriptedEngine(testutils.Message("How can I help?"))
	exec := runner.NewExecutor(engine, f.agents, f.tools)

	res, err := exec.Run(context.Background(), session("k"), f.agent(t, triage), nil, "hello")
	require.NoError(t, err)

	assert.Equal(t, domain.Transcript{domain.AgentMessage{Agent: triage, Text: "How can I help?"}}, res.NewItems)
	assert.Equal(t, triage, res.LastAgent)
	assert.Equal(t, 1, res.Turns)
	assert.False(t, res.BudgetExhausted)

	req := engine.Requests()[0]
	assert.Equal(t, domain.UserMessage{Text: "hello"}, req.Transcript.Last())
	require.Len(t, req.Handoffs, 1)
	assert.Equal(t, status, req.Handoffs[0].Name)
}

func TestExecutor_HandoffThenToolThenMessage(t *testing.T) {
	f := newFixture(t)
	engine := testutils.NewScriptedEngine(
		testutils.Handoff(status),
		testutils.ToolCall("c1", "get_order_status", map[string]any{"order_id": "order-42"}),
		testutils.Message("Your order is open."),
	)
	exec := runner.NewExecutor(engine, f.agents, f.tools)

	res, err := exec.Run(context.Background(), session("order-42"), f.agent(t, triage), nil, "Where is order-42?")
	require.NoError(t, err)

	assert.Equal(t, status, res.LastAgent)
	assert.Equal(t, domain.Transcript{
		domain.HandoffOccurred{From: triage, To: status},
		domain.ToolCallRequested{Agent: status, CallID: "c1", Tool: "get_order_status", Args: map[string]any{"order_id": "order-42"}},
		domain.ToolCallResult{Agent: status, CallID: "c1", Tool: "get_order_status", Output: "Status of order order-42 is OPEN"},
		domain.AgentMessage{Agent: status, Text: "Your order is open."},
	}, res.NewItems)

	// The status agent saw its own tools after the handoff.
	reqs := engine.Requests()
	require.Len(t, reqs, 3)
	assert.Equal(t, status, reqs[1].Agent.Name)
	assert.Len(t, reqs[1].Tools, 2)

	out := runner.FormatResponse(res)
	assert.True(t, strings.HasPrefix(out, "Your order is open.\n\n--- Detailed Steps: ---\n\n"))
	assert.Contains(t, out, "Handed off from Triage Agent to Order Status Agent\n")
	assert.Contains(t, out, "Order Status Agent: Calling a tool\n")
	assert.Contains(t, out, "Order Status Agent: Tool call output: Status of order order-42 is OPEN\n")
	assert.Contains(t, out, "Order Status Agent: Your order is open.\n")
}

func TestExecutor_HandoffNotPermitted(t *testing.T) {
	f := newFixture(t)
	engine := testutils.NewScriptedEngine(testutils.Handoff("Order Placement Agent"))
	exec := runner.NewExecutor(engine, f.agents, f.tools)

	_, err := exec.Run(context.Background(), session("k"), f.agent(t, triage), nil, "buy")

	var hce *domain.HandoffConfigError
	require.ErrorAs(t, err, &hce)
	assert.Equal(t, triage, hce.From)
	assert.ErrorIs(t, err, domain.ErrInvalidHandoff)
}

func TestExecutor_StopOnHandoff(t *testing.T) {
	f := newFixture(t)
	engine := testutils.NewScriptedEngine(testutils.Handoff(status), testutils.Message("unused"))
	exec := runner.NewExecutor(engine, f.agents, f.tools, runner.WithContinueOnHandoff(false))

	res, err := exec.Run(context.Background(), session("k"), f.agent(t, triage), nil, "status please")
	require.NoError(t, err)

	assert.Equal(t, 1, engine.Calls())
	assert.Equal(t, status, res.LastAgent)
	assert.Equal(t, "Handed off from Triage Agent to Order Status Agent\n", runner.FormatResponse(res))
}

func TestExecutor_TurnBudget(t *testing.T) {
	f := newFixture(t)
	loop := testutils.ToolCall("", "get_order_status", map[string]any{"order_id": "o"})
	engine := testutils.NewScriptedEngine(loop, loop, loop, loop)
	exec := runner.NewExecutor(engine, f.agents, f.tools, runner.WithMaxTurns(3))

	res, err := exec.Run(context.Background(), session("k"), f.agent(t, status), nil, "loop")
	require.NoError(t, err)

	assert.True(t, res.BudgetExhausted)
	assert.Equal(t, 3, res.Turns)
	assert.Equal(t, 3, engine.Calls())
	assert.Len(t, res.NewItems, 6)
	assert.True(t, strings.HasSuffix(runner.FormatResponse(res), "(stopped after 3 turns)\n"))

	// Generated call ids are filled in.
	call := res.NewItems[0].(domain.ToolCallRequested)
	assert.NotEmpty(t, call.CallID)
}

func TestExecutor_BudgetWithoutOutput(t *testing.T) {
	f := newFixture(t)
	engine := testutils.NewScriptedEngine(domain.Generation{}, domain.Generation{})
	exec := runner.NewExecutor(engine, f.agents, f.tools, runner.WithMaxTurns(2))

	_, err := exec.Run(context.Background(), session("k"), f.agent(t, triage), nil, "hello?")
	assert.ErrorIs(t, err, domain.ErrTurnBudgetExhausted)
}

func TestExecutor_ToolFailuresBecomeText(t *testing.T) {
	f := newFixture(t)
	engine := testutils.NewScriptedEngine(
		testutils.ToolCall("c1", "explode", nil),
		testutils.ToolCall("c2", "cancel_order", map[string]any{"order_id": "o"}),
		testutils.ToolCall("c3", "get_order_status", map[string]any{}),
		testutils.Message("Sorry, something went wrong."),
	)
	exec := runner.NewExecutor(engine, f.agents, f.tools)

	res, err := exec.Run(context.Background(), session("k"), f.agent(t, status), nil, "status")
	require.NoError(t, err)
	require.Len(t, res.NewItems, 7)

	outputs := []string{
		res.NewItems[1].(domain.ToolCallResult).Output,
		res.NewItems[3].(domain.ToolCallResult).Output,
		res.NewItems[5].(domain.ToolCallResult).Output,
	}
	assert.Equal(t, "Error running tool explode: backend unavailable", outputs[0])
	assert.Equal(t, "Error running tool cancel_order: tool is not available to Order Status Agent", outputs[1])
	assert.Contains(t, outputs[2], "invalid tool arguments")
}

func TestExecutor_InterceptorDenial(t *testing.T) {
	f := newFixture(t)
	engine := testutils.NewScriptedEngine(
		testutils.ToolCall("c1", "get_order_status", map[string]any{"order_id": "o"}),
		testutils.Message("ok"),
	)
	exec := runner.NewExecutor(engine, f.agents, f.tools,
		runner.WithInterceptor(runner.MultiInterceptor(
			runner.AutoApproveMiddleware(),
			runner.DenyToolsMiddleware("get_order_status"),
		)),
	)

	res, err := exec.Run(context.Background(), session("k"), f.agent(t, status), nil, "status")
	require.NoError(t, err)

	assert.Equal(t, "Tool get_order_status is disabled by policy", res.NewItems[1].(domain.ToolCallResult).Output)
	assert.Equal(t, 0, f.lookups)
}

func TestExecutor_ReplayDoesNotCallEngineOrTools(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	journal := memory.NewJournal()
	scope := ports.Scope{SessionKey: "order-42", Seq: 0}

	script := []domain.Generation{
		testutils.Handoff(status),
		testutils.ToolCall("c1", "get_order_status", map[string]any{"order_id": "order-42"}),
		testutils.Message("Open."),
	}

	steps1, err := durable.Open(ctx, journal, scope)
	require.NoError(t, err)
	first, err := runner.NewExecutor(testutils.NewScriptedEngine(script...), f.agents, f.tools).
		Run(ctx, runner.Session{Key: "order-42", Steps: steps1}, f.agent(t, triage), nil, "status of order-42")
	require.NoError(t, err)

	// Same invocation retried: an engine with no script would fail if asked.
	silent := testutils.NewScriptedEngine()
	steps2, err := durable.Open(ctx, journal, scope)
	require.NoError(t, err)
	second, err := runner.NewExecutor(silent, f.agents, f.tools).
		Run(ctx, runner.Session{Key: "order-42", Steps: steps2}, f.agent(t, triage), nil, "status of order-42")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 0, silent.Calls())
	// The status tool itself is not durable here, only the engine calls are.
	assert.Equal(t, 2, f.lookups)
}

func TestExecutor_ReplayWithDifferentInputMismatches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	journal := memory.NewJournal()
	scope := ports.Scope{SessionKey: "k"}

	steps1, _ := durable.Open(ctx, journal, scope)
	_, err := runner.NewExecutor(testutils.NewScriptedEngine(testutils.Message("hi")), f.agents, f.tools).
		Run(ctx, runner.Session{Key: "k", Steps: steps1}, f.agent(t, triage), nil, "first text")
	require.NoError(t, err)

	steps2, _ := durable.Open(ctx, journal, scope)
	_, err = runner.NewExecutor(testutils.NewScriptedEngine(testutils.Message("hi")), f.agents, f.tools).
		Run(ctx, runner.Session{Key: "k", Steps: steps2}, f.agent(t, triage), nil, "other text")
	assert.ErrorIs(t, err, domain.ErrReplayMismatch)
}

func TestExecutor_EngineErrorFails(t *testing.T) {
	f := newFixture(t)
	engine := testutils.NewScriptedEngine().Then(testutils.Step{Err: errors.New("rate limited")})
	exec := runner.NewExecutor(engine, f.agents, f.tools)

	_, err := exec.Run(context.Background(), session("k"), f.agent(t, triage), nil, "hello")
	assert.ErrorContains(t, err, "rate limited")
}

func TestExecutor_Hooks(t *testing.T) {
	f := newFixture(t)
	engine := testutils.NewScriptedEngine(
		testutils.Handoff(status),
		testutils.ToolCall("c1", "get_order_status", map[string]any{"order_id": "o"}),
		testutils.Message("done"),
	)

	var mu sync.Mutex
	events := []string{}
	record := func(s string) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, s)
	}
	hooks := domain.LifecycleHooks{
		OnTurnStart:  func(_ context.Context, e *domain.TurnEvent) { record("turn:" + e.Agent) },
		OnHandoff:    func(_ context.Context, e *domain.HandoffEvent) { record("handoff:" + e.To) },
		OnToolCall:   func(_ context.Context, e *domain.ToolEvent) { record("call:" + e.ToolName) },
		OnToolReturn: func(_ context.Context, e *domain.ToolEvent) { record("return:" + e.Output) },
	}
	exec := runner.NewExecutor(engine, f.agents, f.tools, runner.WithLifecycleHooks(hooks))

	_, err := exec.Run(context.Background(), session("k"), f.agent(t, triage), nil, "go")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"turn:" + triage,
		"handoff:" + status,
		"turn:" + status,
		"call:get_order_status",
		"return:Status of order o is OPEN",
		"turn:" + status,
	}, events)
}
