package testutils

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aretw0/concierge/pkg/domain"
	"github.com/aretw0/concierge/pkg/ports"
)

// ErrScriptExhausted is returned when a ScriptedEngine has no generation left.
var ErrScriptExhausted = errors.New("scripted engine: no more generations")

// Step is one scripted engine reply. Err, when set, is returned instead of Gen.
type Step struct {
	Gen domain.Generation
	Err error
}

// ScriptedEngine is a ports.ReasoningEngine that replays canned replies in order.
type ScriptedEngine struct {
	mu       sync.Mutex
	steps    []Step
	requests []ports.GenerateRequest
}

// NewScriptedEngine creates an engine that answers with gens in order.
func NewScriptedEngine(gens ...domain.Generation) *ScriptedEngine {
	s := &ScriptedEngine{}
	for _, g := range gens {
		s.steps = append(s.steps, Step{Gen: g})
	}
	return s
}

// Then appends more replies.
func (s *ScriptedEngine) Then(steps ...Step) *ScriptedEngine {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, steps...)
	return s
}

// Generate implements ports.ReasoningEngine.
func (s *ScriptedEngine) Generate(ctx context.Context, req ports.GenerateRequest) (domain.Generation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := len(s.requests)
	s.requests = append(s.requests, req)
	if idx >= len(s.steps) {
		return domain.Generation{}, fmt.Errorf("%w (call %d)", ErrScriptExhausted, idx+1)
	}
	step := s.steps[idx]
	return step.Gen, step.Err
}

// Calls returns how many times Generate was called.
func (s *ScriptedEngine) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// Requests returns a copy of every request received.
func (s *ScriptedEngine) Requests() []ports.GenerateRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ports.GenerateRequest(nil), s.requests...)
}

// Message is a shortcut for a final agent message.
func Message(text string) domain.Generation {
	return domain.Generation{Message: text}
}

// Handoff is a shortcut for a handoff generation.
func Handoff(target string) domain.Generation {
	return domain.Generation{Handoff: target}
}

// ToolCall is a shortcut for a single tool call generation.
func ToolCall(id, name string, args map[string]any) domain.Generation {
	return domain.Generation{ToolCalls: []domain.ToolCallRequest{{ID: id, Name: name, Args: args}}}
}

// CountingOrders wraps a ports.OrderService, counting calls per operation and
// optionally failing selected operations.
type CountingOrders struct {
	Next ports.OrderService

	mu    sync.Mutex
	calls map[string]int
	fail  map[string]error
}

// NewCountingOrders wraps next.
func NewCountingOrders(next ports.OrderService) *CountingOrders {
	return &CountingOrders{Next: next, calls: map[string]int{}, fail: map[string]error{}}
}

// FailOn makes op return err until cleared with a nil err.
func (c *CountingOrders) FailOn(op string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.fail, op)
		return
	}
	c.fail[op] = err
}

// Calls returns how many times op was invoked.
func (c *CountingOrders) Calls(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

func (c *CountingOrders) record(op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[op]++
	return c.fail[op]
}

func (c *CountingOrders) GetStatus(ctx context.Context, id string) (string, bool, error) {
	if err := c.record("GetStatus"); err != nil {
		return "", false, err
	}
	return c.Next.GetStatus(ctx, id)
}

func (c *CountingOrders) GetPendingItems(ctx context.Context, id string) (string, bool, error) {
	if err := c.record("GetPendingItems"); err != nil {
		return "", false, err
	}
	return c.Next.GetPendingItems(ctx, id)
}

func (c *CountingOrders) GetBookedItems(ctx context.Context, id string) (string, bool, error) {
	if err := c.record("GetBookedItems"); err != nil {
		return "", false, err
	}
	return c.Next.GetBookedItems(ctx, id)
}

func (c *CountingOrders) Create(ctx context.Context, id string) error {
	if err := c.record("Create"); err != nil {
		return err
	}
	return c.Next.Create(ctx, id)
}

func (c *CountingOrders) AddItem(ctx context.Context, id string, item ports.Asset) (bool, error) {
	if err := c.record("AddItem"); err != nil {
		return false, err
	}
	return c.Next.AddItem(ctx, id, item)
}

func (c *CountingOrders) Close(ctx context.Context, id string) (string, error) {
	if err := c.record("Close"); err != nil {
		return "", err
	}
	return c.Next.Close(ctx, id)
}

func (c *CountingOrders) Cancel(ctx context.Context, id string) (string, error) {
	if err := c.record("Cancel"); err != nil {
		return "", err
	}
	return c.Next.Cancel(ctx, id)
}
