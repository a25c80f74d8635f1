package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/concierge/internal/testutils"
	"github.com/aretw0/concierge/pkg/adapters/memory"
	"github.com/aretw0/concierge/pkg/domain"
	"github.com/aretw0/concierge/pkg/registry"
	"github.com/aretw0/concierge/pkg/runner"
	"github.com/aretw0/concierge/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMachine(t *testing.T, script ...domain.Generation) *session.Machine {
	t.Helper()
	tools := registry.NewRegistry()
	agents, err := registry.BuildAgents(registry.GraphSpec{
		Default: "Triage Agent",
		Agents: []domain.Agent{
			{Name: "Triage Agent", Handoffs: []string{"Order Status Agent"}},
			{Name: "Order Status Agent", Handoffs: []string{"Triage Agent"}},
		},
	}, tools)
	require.NoError(t, err)

	journal := memory.NewJournal()
	return session.NewMachine(
		session.NewManager(memory.NewStore(memory.WithJournal(journal))),
		journal,
		runner.NewExecutor(testutils.NewScriptedEngine(script...), agents, tools),
		agents,
	)
}

func post(h http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestPostMessage(t *testing.T) {
	h := NewHandler(newMachine(t,
		testutils.Handoff("Order Status Agent"),
		testutils.Message("Which order?"),
	))

	w := post(h, "/sessions/customer-1/messages", `{"text":"order status"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp MessageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Order Status Agent", resp.Agent)
	assert.Equal(t, 2, resp.Turns)
	assert.True(t, strings.HasPrefix(resp.Response, "Which order?\n\n--- Detailed Steps: ---"))
	assert.Equal(t, domain.Transcript{
		domain.HandoffOccurred{From: "Triage Agent", To: "Order Status Agent"},
		domain.AgentMessage{Agent: "Order Status Agent", Text: "Which order?"},
	}, resp.Items)

	w = get(h, "/sessions/customer-1")
	require.Equal(t, http.StatusOK, w.Code)
	var state map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	assert.Equal(t, "Order Status Agent", state["active_agent"])
	assert.Equal(t, float64(1), state["seq"])
	assert.Equal(t, "idle", state["status"])

	w = get(h, "/sessions")
	assert.JSONEq(t, `{"sessions":["customer-1"]}`, w.Body.String())
}

func TestPostMessage_Errors(t *testing.T) {
	h := NewHandler(newMachine(t))

	tests := []struct {
		name string
		body string
		code int
	}{
		{"malformed body", `{`, http.StatusBadRequest},
		{"missing text", `{}`, http.StatusBadRequest},
		{"empty text", `{"text":""}`, http.StatusBadRequest},
		{"text is not a string", `{"text":42}`, http.StatusBadRequest},
		{"unknown field", `{"text":"hi","agent":"Triage Agent"}`, http.StatusBadRequest},
		{"blank text", `{"text":"   "}`, http.StatusBadRequest},
		{"engine has nothing to say", `{"text":"hello"}`, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := post(h, "/sessions/k/messages", tt.body)
			assert.Equal(t, tt.code, w.Code, w.Body.String())
		})
	}

	assert.Equal(t, http.StatusNotFound, get(h, "/sessions/unknown").Code)
}

func TestPostMessage_RequiresJSON(t *testing.T) {
	h := NewHandler(newMachine(t, testutils.Message("hi")))

	req := httptest.NewRequest(http.MethodPost, "/sessions/k/messages", strings.NewReader(`{"text":"hello"}`))
	req.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Content-Type")
	assert.Equal(t, http.StatusNotFound, get(h, "/sessions/k").Code, "rejected requests never reach the machine")
}

func TestOpenAPIDocument(t *testing.T) {
	_, err := loadAPI()
	require.NoError(t, err)

	w := get(NewHandler(newMachine(t)), "/openapi.yaml")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/yaml", w.Header().Get("Content-Type"))
	assert.Equal(t, openAPIDocument, w.Body.Bytes())
	assert.Contains(t, w.Body.String(), "/sessions/{key}/messages:")
}

func TestDeleteSession(t *testing.T) {
	h := NewHandler(newMachine(t, testutils.Message("hi")))
	require.Equal(t, http.StatusOK, post(h, "/sessions/k/messages", `{"text":"hello"}`).Code)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/sessions/k", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, http.StatusNotFound, get(h, "/sessions/k").Code)
}

func TestRateLimit(t *testing.T) {
	h := NewHandler(newMachine(t, testutils.Message("one"), testutils.Message("two")), WithRateLimit(0.001, 1))

	assert.Equal(t, http.StatusOK, post(h, "/sessions/k/messages", `{"text":"a"}`).Code)
	assert.Equal(t, http.StatusTooManyRequests, post(h, "/sessions/k/messages", `{"text":"b"}`).Code)
	assert.Equal(t, http.StatusOK, post(h, "/sessions/other/messages", `{"text":"c"}`).Code, "limits are per key")
}

func TestHealthInfoAndCORS(t *testing.T) {
	h := NewHandler(newMachine(t), WithMetrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("metrics"))
	})))

	assert.JSONEq(t, `{"status":"ok"}`, get(h, "/health").Body.String())
	assert.Contains(t, get(h, "/info").Body.String(), `"app":"concierge-http"`)
	assert.Equal(t, "metrics", get(h, "/metrics").Body.String())

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/sessions", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestSubscribeEvents_Session(t *testing.T) {
	h := NewHandler(newMachine(t, testutils.Message("Hello there")))
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/sessions/k/events", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: ping\n", line)

	res, err := http.Post(srv.URL+"/sessions/k/messages", "application/json", bytes.NewBufferString(`{"text":"hi"}`))
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	for {
		line, err = reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: {") {
			break
		}
	}
	assert.Contains(t, line, `"response":"Hello there`)
}

func TestLimiter_SweepsIdleKeysPeriodically(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := newLimiter(1000, 10)
	l.now = func() time.Time { return now }
	l.lastSweep = now

	for _, key := range []string{"a", "b", "c"} {
		assert.True(t, l.allow(key))
	}

	now = now.Add(limiterIdle + time.Second)
	l.lastSweep = now.Add(-limiterSweep / 2)
	assert.True(t, l.allow("d"))
	assert.Len(t, l.seen, 4, "no sweep before the interval elapses")

	now = now.Add(limiterSweep)
	assert.True(t, l.allow("d"))
	assert.Len(t, l.seen, 1)
	assert.Len(t, l.limiters, 1)
	assert.Contains(t, l.limiters, "d")
	assert.Equal(t, now, l.lastSweep)
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, StatusCode(&domain.SessionError{Op: "validate", Err: assert.AnError}))
	assert.Equal(t, http.StatusNotFound, StatusCode(&domain.SessionError{Op: "inspect", Err: domain.ErrSessionNotFound}))
	assert.Equal(t, http.StatusBadGateway, StatusCode(&domain.SessionError{Op: "run", Err: domain.ErrTurnBudgetExhausted}))
	assert.Equal(t, http.StatusGatewayTimeout, StatusCode(context.DeadlineExceeded))
	assert.Equal(t, http.StatusInternalServerError, StatusCode(assert.AnError))
}
