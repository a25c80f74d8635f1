// Package openai implements ports.ReasoningEngine with the OpenAI chat completions API.
//
// Handoffs are offered to the model as functions named transfer_to_<agent>,
// the same way tool calls are, and mapped back to Generation.Handoff.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/aretw0/concierge/internal/logging"
	"github.com/aretw0/concierge/pkg/domain"
	"github.com/aretw0/concierge/pkg/ports"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "gpt-4o-mini"

// Config selects the model and endpoint.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxRetries  int
}

// Engine implements ports.ReasoningEngine.
type Engine struct {
	client      openai.Client
	model       string
	temperature float64
	logger      *slog.Logger
	reqOpts     []option.RequestOption
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithRequestOptions appends raw client options, e.g. a custom HTTP client.
func WithRequestOptions(opts ...option.RequestOption) Option {
	return func(e *Engine) {
		e.reqOpts = append(e.reqOpts, opts...)
	}
}

// New creates an engine for cfg.
func New(cfg Config, opts ...Option) *Engine {
	reqOpts := []option.RequestOption{option.WithMaxRetries(cfg.MaxRetries)}
	if cfg.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}

	e := &Engine{
		model:       cfg.Model,
		temperature: cfg.Temperature,
		logger:      logging.NewNop(),
		reqOpts:     reqOpts,
	}
	if e.model == "" {
		e.model = DefaultModel
	}
	for _, opt := range opts {
		opt(e)
	}
	e.client = openai.NewClient(e.reqOpts...)
	return e
}

var _ ports.ReasoningEngine = (*Engine)(nil)

// Generate asks the model for the next step of req.Agent.
func (e *Engine) Generate(ctx context.Context, req ports.GenerateRequest) (domain.Generation, error) {
	messages, err := Messages(req)
	if err != nil {
		return domain.Generation{}, err
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(e.model),
		Messages: messages,
	}
	if e.temperature > 0 {
		params.Temperature = openai.Float(e.temperature)
	}

	handoffs := make(map[string]string, len(req.Handoffs))
	tools := make([]openai.ChatCompletionToolParam, 0, len(req.Tools)+len(req.Handoffs))
	for _, t := range req.Tools {
		tools = append(tools, functionTool(t.Name, t.Description, t.Parameters))
	}
	for _, target := range req.Handoffs {
		name := HandoffFunction(target.Name)
		handoffs[name] = target.Name
		desc := fmt.Sprintf("Handoff to the %s agent to handle the request. %s", target.Name, target.HandoffDescription)
		tools = append(tools, functionTool(name, strings.TrimSpace(desc), map[string]any{
			"type":                 "object",
			"properties":           map[string]any{},
			"additionalProperties": false,
		}))
	}
	if len(tools) > 0 {
		params.Tools = tools
	}

	resp, err := e.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return domain.Generation{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return domain.Generation{}, errors.New("no response choices returned")
	}
	e.logger.Debug("Chat completion",
		"agent", req.Agent.Name,
		"model", e.model,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)

	msg := resp.Choices[0].Message
	gen := domain.Generation{Message: msg.Content}
	for _, tc := range msg.ToolCalls {
		if target, ok := handoffs[tc.Function.Name]; ok {
			// The first handoff wins; later calls in the same response are dropped.
			if gen.Handoff == "" {
				gen.Handoff = target
			}
			continue
		}
		var args map[string]any
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return domain.Generation{}, fmt.Errorf("failed to parse arguments of %s: %w", tc.Function.Name, err)
			}
		}
		gen.ToolCalls = append(gen.ToolCalls, domain.ToolCallRequest{ID: tc.ID, Name: tc.Function.Name, Args: args})
	}
	if gen.Handoff != "" {
		gen.ToolCalls = nil
	}
	return gen, nil
}

func functionTool(name, description string, schema map[string]any) openai.ChatCompletionToolParam {
	if schema == nil {
		schema = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return openai.ChatCompletionToolParam{
		Type: "function",
		Function: openai.FunctionDefinitionParam{
			Name:        name,
			Description: openai.String(description),
			Parameters:  openai.FunctionParameters(schema),
		},
	}
}

// HandoffFunction is the function name a model calls to hand off to agent,
// e.g. "Order Status Agent" becomes "transfer_to_order_status_agent".
func HandoffFunction(agent string) string {
	var b strings.Builder
	b.WriteString("transfer_to_")
	underscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(agent)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore {
			b.WriteByte('_')
			underscore = true
		}
	}
	return strings.TrimRight(b.String(), "_")
}
