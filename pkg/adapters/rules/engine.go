// Package rules is an offline ports.ReasoningEngine driven by keyword rules.
// It needs no model provider, which makes it useful for demos and smoke tests.
package rules

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/aretw0/concierge/pkg/domain"
	"github.com/aretw0/concierge/pkg/ports"
	"gopkg.in/yaml.v3"
)

const defaultFallback = "How can I help you?"

// Arg extracts one tool argument from the customer's text.
type Arg struct {
	Pattern string `yaml:"pattern"`
	Group   int    `yaml:"group"`
	Type    string `yaml:"type"`

	re *regexp.Regexp
}

// Rule fires when the active agent is Agent and the latest customer message
// contains one of Keywords. It either hands off or calls a tool.
type Rule struct {
	Agent    string         `yaml:"agent"`
	Keywords []string       `yaml:"keywords"`
	Handoff  string         `yaml:"handoff"`
	Tool     string         `yaml:"tool"`
	Args     map[string]Arg `yaml:"args"`
	Ask      string         `yaml:"ask"`
}

// Ruleset is the document accepted by Load.
type Ruleset struct {
	Rules     []Rule            `yaml:"rules"`
	Fallback  string            `yaml:"fallback"`
	Fallbacks map[string]string `yaml:"fallbacks"`
}

// Engine implements ports.ReasoningEngine.
type Engine struct {
	set Ruleset
}

var _ ports.ReasoningEngine = (*Engine)(nil)

// Load parses and compiles a YAML ruleset.
func Load(data []byte) (*Engine, error) {
	var set Ruleset
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}
	return New(set)
}

// New compiles set.
func New(set Ruleset) (*Engine, error) {
	for i := range set.Rules {
		r := &set.Rules[i]
		if (r.Handoff == "") == (r.Tool == "") {
			return nil, fmt.Errorf("rule %d for %q: exactly one of handoff or tool is required", i, r.Agent)
		}
		for j, kw := range r.Keywords {
			r.Keywords[j] = strings.ToLower(kw)
		}
		for name, arg := range r.Args {
			re, err := regexp.Compile(arg.Pattern)
			if err != nil {
				return nil, fmt.Errorf("rule %d argument %q: %w", i, name, err)
			}
			if arg.Group > re.NumSubexp() {
				return nil, fmt.Errorf("rule %d argument %q: pattern has no group %d", i, name, arg.Group)
			}
			arg.re = re
			r.Args[name] = arg
		}
	}
	if set.Fallback == "" {
		set.Fallback = defaultFallback
	}
	return &Engine{set: set}, nil
}

// Generate picks the first rule of the active agent that matches the latest customer message.
func (e *Engine) Generate(ctx context.Context, req ports.GenerateRequest) (domain.Generation, error) {
	if err := ctx.Err(); err != nil {
		return domain.Generation{}, err
	}
	text, tail := lastUserTurn(req.Transcript)

	// Relay tool output to the customer once the call has returned.
	if res, ok := req.Transcript.Last().(domain.ToolCallResult); ok && res.Agent == req.Agent.Name {
		return domain.Generation{Message: res.Output}, nil
	}

	handedOff := slices.ContainsFunc(tail, func(it domain.Item) bool {
		_, ok := it.(domain.HandoffOccurred)
		return ok
	})
	lower := strings.ToLower(text)

	for _, r := range e.set.Rules {
		if r.Agent != req.Agent.Name || !matches(lower, r.Keywords) {
			continue
		}
		if r.Handoff != "" {
			// One handoff per message keeps two agents from bouncing the customer.
			if handedOff || !req.Agent.CanHandoffTo(r.Handoff) {
				continue
			}
			return domain.Generation{Handoff: r.Handoff}, nil
		}
		if !req.Agent.HasTool(r.Tool) || called(tail, req.Agent.Name, r.Tool) {
			continue
		}
		args, ok := extract(text, r.Args)
		if !ok {
			return domain.Generation{Message: r.ask()}, nil
		}
		return domain.Generation{ToolCalls: []domain.ToolCallRequest{{Name: r.Tool, Args: args}}}, nil
	}

	if msg, ok := e.set.Fallbacks[req.Agent.Name]; ok {
		return domain.Generation{Message: msg}, nil
	}
	return domain.Generation{Message: e.set.Fallback}, nil
}

func (r Rule) ask() string {
	if r.Ask != "" {
		return r.Ask
	}
	return "Could you give me a few more details?"
}

func lastUserTurn(t domain.Transcript) (string, domain.Transcript) {
	for i := len(t) - 1; i >= 0; i-- {
		if m, ok := t[i].(domain.UserMessage); ok {
			return m.Text, t[i+1:]
		}
	}
	return "", t
}

func matches(text string, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func called(tail domain.Transcript, agent, tool string) bool {
	return slices.ContainsFunc(tail, func(it domain.Item) bool {
		req, ok := it.(domain.ToolCallRequested)
		return ok && req.Agent == agent && req.Tool == tool
	})
}

func extract(text string, specs map[string]Arg) (map[string]any, bool) {
	args := make(map[string]any, len(specs))
	for name, spec := range specs {
		m := spec.re.FindStringSubmatch(text)
		if m == nil {
			return nil, false
		}
		raw := m[spec.Group]
		switch spec.Type {
		case "number":
			n, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, false
			}
			args[name] = n
		default:
			args[name] = raw
		}
	}
	return args, true
}
