package openai_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aretw0/concierge/pkg/adapters/openai"
	"github.com/aretw0/concierge/pkg/domain"
	"github.com/aretw0/concierge/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const completion = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "gpt-4o-mini",
  "choices": [{
    "index": 0,
    "finish_reason": "tool_calls",
    "message": {
      "role": "assistant",
      "content": %s,
      "tool_calls": %s
    }
  }],
  "usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
}`

type capture struct {
	body map[string]any
}

func serve(t *testing.T, content, toolCalls string) (*openai.Engine, *capture) {
	t.Helper()
	c := &capture{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		raw, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(raw, &c.body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, fmt.Sprintf(completion, content, toolCalls))
	}))
	t.Cleanup(srv.Close)

	return openai.New(openai.Config{APIKey: "test-key", BaseURL: srv.URL + "/"}), c
}

func request() ports.GenerateRequest {
	return ports.GenerateRequest{
		Agent: domain.Agent{Name: "Triage Agent", Instructions: "You are a helpful triaging agent."},
		Tools: []domain.Tool{{
			Name:        "get_order_status",
			Description: "Gets the life cycle status of the order.",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{"order_id": map[string]any{"type": "string"}}},
		}},
		Handoffs: []domain.Agent{{Name: "Order Status Agent", HandoffDescription: "Checks orders."}},
		Transcript: domain.Transcript{
			domain.UserMessage{Text: "where is order-42?"},
			domain.HandoffOccurred{From: "Triage Agent", To: "Order Status Agent"},
			domain.ToolCallRequested{Agent: "Order Status Agent", CallID: "c1", Tool: "get_order_status", Args: map[string]any{"order_id": "order-42"}},
			domain.ToolCallResult{Agent: "Order Status Agent", CallID: "c1", Tool: "get_order_status", Output: "Status of order order-42 is OPEN"},
			domain.AgentMessage{Agent: "Order Status Agent", Text: "It is open."},
		},
	}
}

func TestEngine_Handoff(t *testing.T) {
	engine, c := serve(t, "null", `[{"id":"call_1","type":"function","function":{"name":"transfer_to_order_status_agent","arguments":"{}"}}]`)

	gen, err := engine.Generate(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, domain.Generation{Handoff: "Order Status Agent"}, gen)

	assert.Equal(t, openai.DefaultModel, c.body["model"])
	tools := c.body["tools"].([]any)
	require.Len(t, tools, 2)
	names := []string{}
	for _, tool := range tools {
		names = append(names, tool.(map[string]any)["function"].(map[string]any)["name"].(string))
	}
	assert.Equal(t, []string{"get_order_status", "transfer_to_order_status_agent"}, names)
}

func TestEngine_ToolCallsAndMessage(t *testing.T) {
	engine, _ := serve(t, `"Let me check."`, `[{"id":"call_9","type":"function","function":{"name":"get_order_status","arguments":"{\"order_id\":\"order-7\"}"}}]`)

	gen, err := engine.Generate(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, "Let me check.", gen.Message)
	require.Len(t, gen.ToolCalls, 1)
	assert.Equal(t, domain.ToolCallRequest{ID: "call_9", Name: "get_order_status", Args: map[string]any{"order_id": "order-7"}}, gen.ToolCalls[0])
}

func TestEngine_TranscriptAsMessages(t *testing.T) {
	engine, c := serve(t, `"ok"`, `[]`)

	_, err := engine.Generate(context.Background(), request())
	require.NoError(t, err)

	msgs := c.body["messages"].([]any)
	roles := []string{}
	for _, m := range msgs {
		roles = append(roles, m.(map[string]any)["role"].(string))
	}
	assert.Equal(t, []string{"system", "user", "assistant", "tool", "assistant", "tool", "assistant"}, roles)

	system := msgs[0].(map[string]any)
	assert.Equal(t, "You are a helpful triaging agent.", system["content"])
	result := msgs[5].(map[string]any)
	assert.Equal(t, "c1", result["tool_call_id"])
	assert.Equal(t, "Status of order order-42 is OPEN", result["content"])
}

func TestEngine_BadArguments(t *testing.T) {
	engine, _ := serve(t, "null", `[{"id":"x","type":"function","function":{"name":"get_order_status","arguments":"{not json"}}]`)

	_, err := engine.Generate(context.Background(), request())
	assert.ErrorContains(t, err, "failed to parse arguments of get_order_status")
}

func TestHandoffFunction(t *testing.T) {
	assert.Equal(t, "transfer_to_order_status_agent", openai.HandoffFunction("Order Status Agent"))
	assert.Equal(t, "transfer_to_triage_agent", openai.HandoffFunction("  Triage   Agent! "))
}
