package openai

import (
	"encoding/json"
	"fmt"

	"github.com/aretw0/concierge/pkg/domain"
	"github.com/aretw0/concierge/pkg/ports"
	"github.com/openai/openai-go"
)

// Messages renders the agent instructions and transcript as chat messages.
// Every tool call is its own assistant message followed by its result, and a
// handoff is replayed as a transfer function call answered by the new agent's name.
func Messages(req ports.GenerateRequest) ([]openai.ChatCompletionMessageParamUnion, error) {
	c := &converter{}
	if req.Agent.Instructions != "" {
		c.out = append(c.out, openai.SystemMessage(req.Agent.Instructions))
	}
	for _, item := range req.Transcript {
		item.Accept(c)
		if c.err != nil {
			return nil, c.err
		}
	}
	return c.out, nil
}

type converter struct {
	out      []openai.ChatCompletionMessageParamUnion
	handoffs int
	err      error
}

func (c *converter) VisitUserMessage(m domain.UserMessage) {
	c.out = append(c.out, openai.UserMessage(m.Text))
}

func (c *converter) VisitAgentMessage(m domain.AgentMessage) {
	c.out = append(c.out, openai.AssistantMessage(m.Text))
}

func (c *converter) VisitToolCallRequested(m domain.ToolCallRequested) {
	args, err := json.Marshal(m.Args)
	if err != nil {
		c.err = fmt.Errorf("failed to marshal arguments of %s: %w", m.Tool, err)
		return
	}
	if m.Args == nil {
		args = []byte("{}")
	}
	c.call(m.CallID, m.Tool, string(args))
}

func (c *converter) VisitToolCallResult(m domain.ToolCallResult) {
	c.out = append(c.out, openai.ToolMessage(m.Output, m.CallID))
}

func (c *converter) VisitHandoff(m domain.HandoffOccurred) {
	c.handoffs++
	id := fmt.Sprintf("handoff-%d", c.handoffs)
	c.call(id, HandoffFunction(m.To), "{}")
	out, _ := json.Marshal(map[string]string{"assistant": m.To})
	c.out = append(c.out, openai.ToolMessage(string(out), id))
}

func (c *converter) call(id, name, args string) {
	msg := openai.ChatCompletionMessage{
		Role: "assistant",
		ToolCalls: []openai.ChatCompletionMessageToolCall{{
			ID:   id,
			Type: "function",
			Function: openai.ChatCompletionMessageToolCallFunction{
				Name:      name,
				Arguments: args,
			},
		}},
	}
	c.out = append(c.out, msg.ToParam())
}
