package registry

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/aretw0/concierge/pkg/domain"
	"gopkg.in/yaml.v3"
)

// GraphSpec is the adjacency specification of the agent graph.
type GraphSpec struct {
	Default string         `yaml:"default"`
	Agents  []domain.Agent `yaml:"agents"`

	// PromptPrefix is prepended to the instructions of every agent.
	PromptPrefix string `yaml:"prompt_prefix"`
}

// ParseGraph decodes a YAML graph specification.
func ParseGraph(data []byte) (GraphSpec, error) {
	var spec GraphSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return GraphSpec{}, fmt.Errorf("failed to parse agent graph: %w", err)
	}
	return spec, nil
}

// ToolLookup reports whether a tool name is registered.
type ToolLookup interface {
	Has(name string) bool
}

// Agents is the frozen agent graph. It has no mutation API; build a new one instead.
type Agents struct {
	byName map[string]domain.Agent
	order  []string
	def    string
}

// BuildAgents validates spec in one pass and freezes the resulting graph.
// Every handoff target must name an agent of the spec, and every tool must exist
// in tools when tools is not nil.
func BuildAgents(spec GraphSpec, tools ToolLookup) (*Agents, error) {
	var errs []error
	g := &Agents{
		byName: make(map[string]domain.Agent, len(spec.Agents)),
		def:    spec.Default,
	}

	for _, a := range spec.Agents {
		if a.Name == "" {
			errs = append(errs, errors.New("agent with empty name"))
			continue
		}
		if _, dup := g.byName[a.Name]; dup {
			errs = append(errs, fmt.Errorf("duplicate agent %q", a.Name))
			continue
		}
		if spec.PromptPrefix != "" {
			a.Instructions = strings.TrimRight(spec.PromptPrefix, "\n") + "\n" + a.Instructions
		}
		g.byName[a.Name] = cloneAgent(a)
		g.order = append(g.order, a.Name)
	}

	for _, name := range g.order {
		a := g.byName[name]
		for _, target := range a.Handoffs {
			if _, ok := g.byName[target]; !ok {
				errs = append(errs, fmt.Errorf("agent %q hands off to unknown agent %q", name, target))
			}
			if target == name {
				errs = append(errs, fmt.Errorf("agent %q hands off to itself", name))
			}
		}
		seen := make(map[string]bool, len(a.Tools))
		for _, tool := range a.Tools {
			if seen[tool] {
				errs = append(errs, fmt.Errorf("agent %q lists tool %q more than once", name, tool))
			}
			seen[tool] = true
		}
		if tools == nil {
			continue
		}
		for _, tool := range a.Tools {
			if !tools.Has(tool) {
				errs = append(errs, fmt.Errorf("agent %q uses unregistered tool %q", name, tool))
			}
		}
	}

	if g.def == "" && len(g.order) > 0 {
		g.def = g.order[0]
	}
	if _, ok := g.byName[g.def]; !ok {
		errs = append(errs, fmt.Errorf("default agent %q is not defined", g.def))
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid agent graph: %w", errors.Join(errs...))
	}
	return g, nil
}

// Resolve returns the agent named name.
func (g *Agents) Resolve(name string) (domain.Agent, error) {
	a, ok := g.byName[name]
	if !ok {
		return domain.Agent{}, fmt.Errorf("%w: %q", domain.ErrUnknownAgent, name)
	}
	return cloneAgent(a), nil
}

// Default returns the agent new sessions start with.
func (g *Agents) Default() domain.Agent {
	return cloneAgent(g.byName[g.def])
}

// Names lists the agents in declaration order.
func (g *Agents) Names() []string {
	return slices.Clone(g.order)
}

// All returns every agent in declaration order.
func (g *Agents) All() []domain.Agent {
	out := make([]domain.Agent, 0, len(g.order))
	for _, name := range g.order {
		out = append(out, cloneAgent(g.byName[name]))
	}
	return out
}

// HandoffTargets resolves the permitted handoff targets of a.
func (g *Agents) HandoffTargets(a domain.Agent) []domain.Agent {
	out := make([]domain.Agent, 0, len(a.Handoffs))
	for _, name := range a.Handoffs {
		if t, ok := g.byName[name]; ok {
			out = append(out, cloneAgent(t))
		}
	}
	return out
}

func cloneAgent(a domain.Agent) domain.Agent {
	a.Tools = slices.Clone(a.Tools)
	a.Handoffs = slices.Clone(a.Handoffs)
	return a
}
