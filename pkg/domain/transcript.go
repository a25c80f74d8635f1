package domain

import (
	"encoding/json"
	"fmt"
)

// ItemKind is the discriminator of a transcript item on the wire.
type ItemKind string

const (
	KindUserMessage       ItemKind = "user_message"
	KindAgentMessage      ItemKind = "agent_message"
	KindToolCallRequested ItemKind = "tool_call_requested"
	KindToolCallResult    ItemKind = "tool_call_result"
	KindHandoff           ItemKind = "handoff"
)

// Item is one entry of a Transcript.
// The set of variants is closed: the unexported marker keeps other packages from
// adding kinds, and ItemVisitor forces every consumer to handle all of them.
type Item interface {
	Kind() ItemKind
	Accept(v ItemVisitor)
	isItem()
}

// ItemVisitor dispatches over every Item variant.
type ItemVisitor interface {
	VisitUserMessage(UserMessage)
	VisitAgentMessage(AgentMessage)
	VisitToolCallRequested(ToolCallRequested)
	VisitToolCallResult(ToolCallResult)
	VisitHandoff(HandoffOccurred)
}

// UserMessage is text typed by the customer.
type UserMessage struct {
	Text string `json:"text"`
}

// AgentMessage is text produced by an agent.
type AgentMessage struct {
	Agent string `json:"agent"`
	Text  string `json:"text"`
}

// ToolCallRequested records that an agent asked for a tool invocation.
type ToolCallRequested struct {
	Agent  string         `json:"agent"`
	CallID string         `json:"call_id"`
	Tool   string         `json:"tool"`
	Args   map[string]any `json:"args,omitempty"`
}

// ToolCallResult is the textual output of a tool invocation.
// Failures are rendered as text too, so the conversation can continue.
type ToolCallResult struct {
	Agent  string `json:"agent"`
	CallID string `json:"call_id"`
	Tool   string `json:"tool"`
	Output string `json:"output"`
}

// HandoffOccurred records a transfer of control between agents.
type HandoffOccurred struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (UserMessage) Kind() ItemKind       { return KindUserMessage }
func (AgentMessage) Kind() ItemKind      { return KindAgentMessage }
func (ToolCallRequested) Kind() ItemKind { return KindToolCallRequested }
func (ToolCallResult) Kind() ItemKind    { return KindToolCallResult }
func (HandoffOccurred) Kind() ItemKind   { return KindHandoff }

func (i UserMessage) Accept(v ItemVisitor)       { v.VisitUserMessage(i) }
func (i AgentMessage) Accept(v ItemVisitor)      { v.VisitAgentMessage(i) }
func (i ToolCallRequested) Accept(v ItemVisitor) { v.VisitToolCallRequested(i) }
func (i ToolCallResult) Accept(v ItemVisitor)    { v.VisitToolCallResult(i) }
func (i HandoffOccurred) Accept(v ItemVisitor)   { v.VisitHandoff(i) }

func (UserMessage) isItem()       {}
func (AgentMessage) isItem()      {}
func (ToolCallRequested) isItem() {}
func (ToolCallResult) isItem()    {}
func (HandoffOccurred) isItem()   {}

// Transcript is the ordered, append-only conversation history of a session.
type Transcript []Item

// Clone returns a copy that can be appended to without aliasing the original.
func (t Transcript) Clone() Transcript {
	if t == nil {
		return nil
	}
	out := make(Transcript, len(t))
	copy(out, t)
	return out
}

// Last returns the final item, or nil for an empty transcript.
func (t Transcript) Last() Item {
	if len(t) == 0 {
		return nil
	}
	return t[len(t)-1]
}

type itemEnvelope struct {
	Kind ItemKind        `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// MarshalJSON encodes each item inside a {kind, data} envelope.
func (t Transcript) MarshalJSON() ([]byte, error) {
	envelopes := make([]itemEnvelope, 0, len(t))
	for i, item := range t {
		data, err := json.Marshal(item)
		if err != nil {
			return nil, fmt.Errorf("transcript item %d: %w", i, err)
		}
		envelopes = append(envelopes, itemEnvelope{Kind: item.Kind(), Data: data})
	}
	return json.Marshal(envelopes)
}

// UnmarshalJSON decodes the envelope format produced by MarshalJSON.
func (t *Transcript) UnmarshalJSON(data []byte) error {
	var envelopes []itemEnvelope
	if err := json.Unmarshal(data, &envelopes); err != nil {
		return err
	}
	if envelopes == nil {
		*t = nil
		return nil
	}

	items := make(Transcript, 0, len(envelopes))
	for i, env := range envelopes {
		item, err := decodeItem(env)
		if err != nil {
			return fmt.Errorf("transcript item %d: %w", i, err)
		}
		items = append(items, item)
	}
	*t = items
	return nil
}

func decodeItem(env itemEnvelope) (Item, error) {
	switch env.Kind {
	case KindUserMessage:
		var it UserMessage
		err := json.Unmarshal(env.Data, &it)
		return it, err
	case KindAgentMessage:
		var it AgentMessage
		err := json.Unmarshal(env.Data, &it)
		return it, err
	case KindToolCallRequested:
		var it ToolCallRequested
		err := json.Unmarshal(env.Data, &it)
		return it, err
	case KindToolCallResult:
		var it ToolCallResult
		err := json.Unmarshal(env.Data, &it)
		return it, err
	case KindHandoff:
		var it HandoffOccurred
		err := json.Unmarshal(env.Data, &it)
		return it, err
	default:
		return nil, fmt.Errorf("unknown item kind %q", env.Kind)
	}
}
