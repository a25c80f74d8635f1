package runner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aretw0/concierge/internal/logging"
	"github.com/aretw0/concierge/pkg/domain"
	"github.com/aretw0/concierge/pkg/durable"
	"github.com/aretw0/concierge/pkg/ports"
	"github.com/aretw0/concierge/pkg/registry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/aretw0/concierge/pkg/runner"

// Label prefixes of the steps the executor records for itself.
const (
	engineStepPrefix  = "engine/"
	callIDStepPrefix  = "call-id/"
	approveStepPrefix = "approve/"
)

// IsLocalStep reports whether label names a step recorded by the executor
// itself. Any other step was recorded by a tool and may stand for a remote effect.
func IsLocalStep(label string) bool {
	return strings.HasPrefix(label, engineStepPrefix) ||
		strings.HasPrefix(label, callIDStepPrefix) ||
		strings.HasPrefix(label, approveStepPrefix)
}

// Session is the explicit per-invocation context threaded through the turn loop.
type Session struct {
	Key   string
	Steps durable.Runner
}

// Executor runs the active agent for one inbound message.
type Executor struct {
	engine ports.ReasoningEngine
	agents *registry.Agents
	tools  *registry.Registry

	maxTurns          int
	continueOnHandoff bool
	interceptor       ToolInterceptor
	hooks             domain.LifecycleHooks
	logger            *slog.Logger
	tracer            trace.Tracer
}

// NewExecutor creates an Executor over a frozen agent graph and a tool registry.
func NewExecutor(engine ports.ReasoningEngine, agents *registry.Agents, tools *registry.Registry, opts ...Option) *Executor {
	e := &Executor{
		engine:            engine,
		agents:            agents,
		tools:             tools,
		maxTurns:          DefaultMaxTurns,
		continueOnHandoff: true,
		logger:            logging.NewNop(),
		tracer:            otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MaxTurns returns the configured turn budget.
func (e *Executor) MaxTurns() int {
	return e.maxTurns
}

// engineStep is the argument fingerprint of an engine call: the agent and
// everything it can see. A replay with a different transcript is a mismatch.
type engineStep struct {
	Agent      string            `json:"agent"`
	Transcript domain.Transcript `json:"transcript"`
}

type approval struct {
	Allowed bool   `json:"allowed"`
	Denial  string `json:"denial,omitempty"`
}

// Run executes input against agent, given the committed history of the session.
// The user message is appended to the engine's view but is not part of RunResult.NewItems.
func (e *Executor) Run(ctx context.Context, sess Session, agent domain.Agent, history domain.Transcript, input string) (*domain.RunResult, error) {
	ctx, span := e.tracer.Start(ctx, "executor.run", trace.WithAttributes(
		attribute.String("session.key", sess.Key),
		attribute.String("agent.start", agent.Name),
	))
	defer span.End()

	transcript := append(history.Clone(), domain.UserMessage{Text: input})
	result := &domain.RunResult{NewItems: domain.Transcript{}, MaxTurns: e.maxTurns}
	add := func(item domain.Item) {
		transcript = append(transcript, item)
		result.NewItems = append(result.NewItems, item)
	}

	current := agent
	logger := e.logger.With("session_key", sess.Key)

	for result.Turns < e.maxTurns {
		result.Turns++
		gen, err := e.generate(ctx, sess, current, transcript, result.Turns)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "engine call failed")
			return nil, err
		}

		if gen.Message != "" {
			add(domain.AgentMessage{Agent: current.Name, Text: gen.Message})
		}

		if gen.Handoff != "" {
			if !current.CanHandoffTo(gen.Handoff) {
				err := &domain.HandoffConfigError{From: current.Name, To: gen.Handoff}
				span.RecordError(err)
				span.SetStatus(codes.Error, "invalid handoff")
				return nil, err
			}
			target, err := e.agents.Resolve(gen.Handoff)
			if err != nil {
				return nil, fmt.Errorf("handoff target: %w", err)
			}
			add(domain.HandoffOccurred{From: current.Name, To: target.Name})
			logger.Info("Handoff", "from", current.Name, "to", target.Name)
			if e.hooks.OnHandoff != nil {
				e.hooks.OnHandoff(ctx, &domain.HandoffEvent{
					EventBase: domain.EventBase{Timestamp: time.Now(), Type: domain.EventHandoff, SessionKey: sess.Key},
					From:      current.Name,
					To:        target.Name,
				})
			}
			current = target
			if !e.continueOnHandoff {
				return e.finish(span, result, current), nil
			}
			continue
		}

		if len(gen.ToolCalls) == 0 {
			if gen.Message == "" {
				// Nothing to show and nothing to do: ask again, within budget.
				logger.Warn("Engine returned an empty generation", "agent", current.Name, "turn", result.Turns)
				continue
			}
			return e.finish(span, result, current), nil
		}

		for _, tc := range gen.ToolCalls {
			callID := tc.ID
			if callID == "" {
				if callID, err = durable.UUID(ctx, sess.Steps, callIDStepPrefix+tc.Name); err != nil {
					return nil, err
				}
			}
			add(domain.ToolCallRequested{Agent: current.Name, CallID: callID, Tool: tc.Name, Args: tc.Args})

			output, err := e.invokeTool(ctx, sess, current, callID, tc)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "tool invocation aborted")
				return nil, err
			}
			add(domain.ToolCallResult{Agent: current.Name, CallID: callID, Tool: tc.Name, Output: output})
		}
	}

	if len(result.NewItems) == 0 {
		return nil, domain.ErrTurnBudgetExhausted
	}
	result.BudgetExhausted = true
	logger.Warn("Turn budget exhausted", "turns", result.Turns, "agent", current.Name)
	return e.finish(span, result, current), nil
}

func (e *Executor) finish(span trace.Span, result *domain.RunResult, last domain.Agent) *domain.RunResult {
	result.LastAgent = last.Name
	span.SetAttributes(
		attribute.String("agent.last", last.Name),
		attribute.Int("turns", result.Turns),
		attribute.Bool("budget_exhausted", result.BudgetExhausted),
	)
	return result
}

func (e *Executor) generate(ctx context.Context, sess Session, agent domain.Agent, transcript domain.Transcript, turn int) (domain.Generation, error) {
	ctx, span := e.tracer.Start(ctx, "engine.generate", trace.WithAttributes(
		attribute.String("agent", agent.Name),
		attribute.Int("turn", turn),
	))
	defer span.End()

	base := domain.EventBase{Timestamp: time.Now(), SessionKey: sess.Key}
	if e.hooks.OnTurnStart != nil {
		base.Type = domain.EventTurnStart
		e.hooks.OnTurnStart(ctx, &domain.TurnEvent{EventBase: base, Agent: agent.Name, Turn: turn})
	}

	req := ports.GenerateRequest{
		Agent:      agent,
		Tools:      e.tools.Describe(agent.Tools),
		Handoffs:   e.agents.HandoffTargets(agent),
		Transcript: transcript,
	}
	start := time.Now()
	gen, err := durable.Run(ctx, sess.Steps, engineStepPrefix+agent.Name, engineStep{Agent: agent.Name, Transcript: transcript},
		func(ctx context.Context) (domain.Generation, error) {
			return e.engine.Generate(ctx, req)
		})
	if err != nil {
		span.RecordError(err)
		return domain.Generation{}, fmt.Errorf("engine call for %q: %w", agent.Name, err)
	}

	if e.hooks.OnTurnEnd != nil {
		base.Type = domain.EventTurnEnd
		base.Timestamp = time.Now()
		e.hooks.OnTurnEnd(ctx, &domain.TurnEvent{EventBase: base, Agent: agent.Name, Turn: turn, Took: time.Since(start)})
	}
	return gen, nil
}

// invokeTool returns the textual tool output. Tool failures become text;
// only errors that break durability abort the invocation.
func (e *Executor) invokeTool(ctx context.Context, sess Session, agent domain.Agent, callID string, tc domain.ToolCallRequest) (string, error) {
	ctx, span := e.tracer.Start(ctx, "tool."+tc.Name, trace.WithAttributes(attribute.String("agent", agent.Name)))
	defer span.End()

	logger := e.logger.With("session_key", sess.Key, "agent", agent.Name, "tool", tc.Name)
	base := domain.EventBase{Timestamp: time.Now(), Type: domain.EventToolCall, SessionKey: sess.Key}
	if e.hooks.OnToolCall != nil {
		e.hooks.OnToolCall(ctx, &domain.ToolEvent{EventBase: base, Agent: agent.Name, ToolName: tc.Name, Input: tc.Args})
	}

	start := time.Now()
	output, isErr, err := e.execute(ctx, sess, agent, callID, tc)
	if err != nil {
		return "", err
	}
	if isErr {
		span.SetStatus(codes.Error, output)
		logger.Warn("Tool failed", "output", output)
	} else {
		logger.Debug("Tool returned", "output", output)
	}

	if e.hooks.OnToolReturn != nil {
		base.Type = domain.EventToolReturn
		base.Timestamp = time.Now()
		e.hooks.OnToolReturn(ctx, &domain.ToolEvent{
			EventBase: base, Agent: agent.Name, ToolName: tc.Name,
			Input: tc.Args, Output: output, IsError: isErr, Took: time.Since(start),
		})
	}
	return output, nil
}

func (e *Executor) execute(ctx context.Context, sess Session, agent domain.Agent, callID string, tc domain.ToolCallRequest) (string, bool, error) {
	if !agent.HasTool(tc.Name) {
		return fmt.Sprintf("Error running tool %s: tool is not available to %s", tc.Name, agent.Name), true, nil
	}

	if e.interceptor != nil {
		decision, err := durable.Run(ctx, sess.Steps, approveStepPrefix+tc.Name, tc, func(ctx context.Context) (approval, error) {
			allowed, denial, err := e.interceptor(ctx, agent.Name, tc)
			return approval{Allowed: allowed, Denial: denial}, err
		})
		if err != nil {
			return "", false, fmt.Errorf("tool interceptor: %w", err)
		}
		if !decision.Allowed {
			return decision.Denial, true, nil
		}
	}

	call := &registry.Call{
		SessionKey: sess.Key,
		Agent:      agent.Name,
		CallID:     callID,
		Steps:      sess.Steps,
		Logger:     e.logger.With("session_key", sess.Key, "tool", tc.Name),
	}
	output, err := e.tools.Execute(ctx, call, tc.Name, tc.Args)
	if err != nil {
		if durable.IsFatal(err) || ctx.Err() != nil {
			return "", false, err
		}
		return err.Error(), true, nil
	}
	return output, false, nil
}
