package domain_test

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/aretw0/concierge/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTranscript() domain.Transcript {
	return domain.Transcript{
		domain.UserMessage{Text: "where is order-42?"},
		domain.HandoffOccurred{From: "Triage Agent", To: "Order Status Agent"},
		domain.ToolCallRequested{Agent: "Order Status Agent", CallID: "c1", Tool: "get_order_status", Args: map[string]any{"order_id": "order-42"}},
		domain.ToolCallResult{Agent: "Order Status Agent", CallID: "c1", Tool: "get_order_status", Output: "Status of order order-42 is OPEN"},
		domain.AgentMessage{Agent: "Order Status Agent", Text: "It is open."},
	}
}

func TestTranscript_JSONEnvelope(t *testing.T) {
	original := sampleTranscript()

	data, err := json.Marshal(original)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"handoff"`)
	assert.Contains(t, string(data), `"kind":"tool_call_result"`)

	var decoded domain.Transcript
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, len(original))

	assert.Equal(t, original[0], decoded[0])
	assert.Equal(t, original[1], decoded[1])
	assert.Equal(t, original[4], decoded[4])

	call, ok := decoded[2].(domain.ToolCallRequested)
	require.True(t, ok)
	assert.Equal(t, "order-42", call.Args["order_id"])
}

func TestTranscript_UnknownKind(t *testing.T) {
	var decoded domain.Transcript
	err := json.Unmarshal([]byte(`[{"kind":"telepathy","data":{}}]`), &decoded)
	assert.ErrorContains(t, err, "unknown item kind")
}

func TestTranscript_CloneDoesNotAlias(t *testing.T) {
	original := sampleTranscript()[:2]
	clone := original.Clone()
	clone = append(clone, domain.UserMessage{Text: "more"})

	assert.Len(t, original, 2)
	assert.Len(t, clone, 3)
	assert.Equal(t, domain.UserMessage{Text: "more"}, clone.Last())
	assert.Nil(t, domain.Transcript{}.Last())
}

// kindCounter is a visitor that must name every variant to compile.
type kindCounter struct {
	seen []string
}

func (k *kindCounter) VisitUserMessage(m domain.UserMessage) {
	k.seen = append(k.seen, "user:"+m.Text)
}
func (k *kindCounter) VisitAgentMessage(m domain.AgentMessage) {
	k.seen = append(k.seen, "agent:"+m.Agent)
}
func (k *kindCounter) VisitToolCallRequested(m domain.ToolCallRequested) {
	k.seen = append(k.seen, "call:"+m.Tool)
}
func (k *kindCounter) VisitToolCallResult(m domain.ToolCallResult) {
	k.seen = append(k.seen, "result:"+m.Tool)
}
func (k *kindCounter) VisitHandoff(m domain.HandoffOccurred) {
	k.seen = append(k.seen, fmt.Sprintf("handoff:%s>%s", m.From, m.To))
}

func TestTranscript_VisitorDispatch(t *testing.T) {
	v := &kindCounter{}
	for _, item := range sampleTranscript() {
		item.Accept(v)
	}

	assert.Equal(t, strings.Join([]string{
		"user:where is order-42?",
		"handoff:Triage Agent>Order Status Agent",
		"call:get_order_status",
		"result:get_order_status",
		"agent:Order Status Agent",
	}, "|"), strings.Join(v.seen, "|"))
}

func TestSessionState_SnapshotRoundTrip(t *testing.T) {
	state := domain.NewSessionState("order-42", "Triage Agent")
	state.Transcript = sampleTranscript()
	state.Seq = 3

	snap := state.Snapshot()
	snap.Transcript = append(snap.Transcript, domain.UserMessage{Text: "extra"})
	assert.Len(t, state.Transcript, 5)

	data, err := json.Marshal(state)
	require.NoError(t, err)

	var loaded domain.SessionState
	require.NoError(t, json.Unmarshal(data, &loaded))
	assert.Equal(t, "Triage Agent", loaded.ActiveAgent)
	assert.Equal(t, uint64(3), loaded.Seq)
	assert.Len(t, loaded.Transcript, 5)
}

func TestAgent_Permissions(t *testing.T) {
	a := domain.Agent{Name: "Order Status Agent", Tools: []string{"get_order_status"}, Handoffs: []string{"Triage Agent"}}

	assert.True(t, a.CanHandoffTo("Triage Agent"))
	assert.False(t, a.CanHandoffTo("Order Placement Agent"))
	assert.True(t, a.HasTool("get_order_status"))
	assert.False(t, a.HasTool("cancel_order"))
}

func TestErrors_Unwrap(t *testing.T) {
	err := &domain.SessionError{Key: "k", Op: "handle", Err: &domain.HandoffConfigError{From: "A", To: "B"}}
	assert.ErrorIs(t, err, domain.ErrInvalidHandoff)
	assert.Contains(t, err.Error(), `agent "A" cannot hand off to "B"`)
}
