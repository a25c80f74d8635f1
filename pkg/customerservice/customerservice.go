// Package customerservice is the customer service deployment: three agents
// and the order tools they use.
package customerservice

import (
	_ "embed"
	"fmt"

	"github.com/aretw0/concierge/pkg/orders"
	"github.com/aretw0/concierge/pkg/registry"
)

// Agent names of the deployment.
const (
	TriageAgent    = "Triage Agent"
	StatusAgent    = "Order Status Agent"
	PlacementAgent = "Order Placement Agent"
)

// Tools that change an order irreversibly.
const (
	ExecuteOrderTool = "execute_order"
	CancelOrderTool  = "cancel_order"
)

//go:embed agents.yaml
var graphYAML []byte

// GraphYAML returns the embedded agent graph.
func GraphYAML() []byte {
	return graphYAML
}

//go:embed rules.yaml
var rulesYAML []byte

// RulesYAML returns the embedded keyword rules for the offline engine.
func RulesYAML() []byte {
	return rulesYAML
}

// Build registers the order tools over client and freezes the agent graph.
// A non-empty graph overrides the embedded one.
func Build(client *orders.Client, graph []byte) (*registry.Agents, *registry.Registry, error) {
	tools := registry.NewRegistry()
	for _, def := range Tools(client) {
		if err := tools.Register(def); err != nil {
			return nil, nil, err
		}
	}

	if len(graph) == 0 {
		graph = graphYAML
	}
	spec, err := registry.ParseGraph(graph)
	if err != nil {
		return nil, nil, err
	}
	agents, err := registry.BuildAgents(spec, tools)
	if err != nil {
		return nil, nil, fmt.Errorf("customer service graph: %w", err)
	}
	return agents, tools, nil
}
