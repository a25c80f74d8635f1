package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventTurnStart  EventType = "turn_start"
	EventTurnEnd    EventType = "turn_end"
	EventToolCall   EventType = "tool_call"
	EventToolReturn EventType = "tool_return"
	EventHandoff    EventType = "handoff"
	EventCommit     EventType = "commit"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp  time.Time `json:"timestamp"`
	Type       EventType `json:"type"`
	SessionKey string    `json:"session_key"`
}

// TurnEvent is emitted around each reasoning-engine call.
type TurnEvent struct {
	EventBase
	Agent string        `json:"agent"`
	Turn  int           `json:"turn"`
	Took  time.Duration `json:"took,omitempty"`
}

// ToolEvent represents a tool execution.
type ToolEvent struct {
	EventBase
	Agent    string        `json:"agent"`
	ToolName string        `json:"tool_name"`
	Input    any           `json:"input,omitempty"`
	Output   string        `json:"output,omitempty"`
	IsError  bool          `json:"is_error,omitempty"`
	Took     time.Duration `json:"took,omitempty"`
}

// HandoffEvent represents a transfer of control between agents.
type HandoffEvent struct {
	EventBase
	From string `json:"from"`
	To   string `json:"to"`
}

// CommitEvent is emitted after a session state was persisted.
type CommitEvent struct {
	EventBase
	Seq             uint64 `json:"seq"`
	Items           int    `json:"items"`
	BudgetExhausted bool   `json:"budget_exhausted,omitempty"`
}

// LifecycleHooks defines callbacks for engine observability.
// Every field is optional.
type LifecycleHooks struct {
	OnTurnStart  func(context.Context, *TurnEvent)
	OnTurnEnd    func(context.Context, *TurnEvent)
	OnToolCall   func(context.Context, *ToolEvent)
	OnToolReturn func(context.Context, *ToolEvent)
	OnHandoff    func(context.Context, *HandoffEvent)
	OnCommit     func(context.Context, *CommitEvent)
}

// Merge returns hooks that call h first and then other, for every event.
func (h LifecycleHooks) Merge(other LifecycleHooks) LifecycleHooks {
	return LifecycleHooks{
		OnTurnStart:  chain(h.OnTurnStart, other.OnTurnStart),
		OnTurnEnd:    chain(h.OnTurnEnd, other.OnTurnEnd),
		OnToolCall:   chain(h.OnToolCall, other.OnToolCall),
		OnToolReturn: chain(h.OnToolReturn, other.OnToolReturn),
		OnHandoff:    chain(h.OnHandoff, other.OnHandoff),
		OnCommit:     chain(h.OnCommit, other.OnCommit),
	}
}

func chain[E any](a, b func(context.Context, E)) func(context.Context, E) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(ctx context.Context, e E) {
		a(ctx, e)
		b(ctx, e)
	}
}
