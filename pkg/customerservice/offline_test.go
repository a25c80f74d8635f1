package customerservice_test

import (
	"context"
	"testing"

	"github.com/aretw0/concierge/pkg/adapters/memory"
	"github.com/aretw0/concierge/pkg/adapters/rules"
	"github.com/aretw0/concierge/pkg/customerservice"
	"github.com/aretw0/concierge/pkg/orders"
	"github.com/aretw0/concierge/pkg/runner"
	"github.com/aretw0/concierge/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOfflineRules(t *testing.T) {
	ctx := context.Background()
	service := orders.NewService(orders.NewMockInventory(reliable(), nil),
		orders.WithInventoryRetry(orders.RetryPolicy{MaxAttempts: 1}))
	require.NoError(t, service.Create(ctx, "order-42"))

	agents, tools, err := customerservice.Build(orders.NewClient(service), nil)
	require.NoError(t, err)
	engine, err := rules.Load(customerservice.RulesYAML())
	require.NoError(t, err)

	journal := memory.NewJournal()
	machine := session.NewMachine(session.NewManager(memory.NewStore(memory.WithJournal(journal))), journal,
		runner.NewExecutor(engine, agents, tools), agents)

	out, err := machine.HandleMessage(ctx, "c", "What is the status of order-42?")
	require.NoError(t, err)
	assert.Equal(t,
		"Status of order order-42 is OPEN\n\n--- Detailed Steps: ---\n\n"+
			"Handed off from Triage Agent to Order Status Agent\n"+
			"Order Status Agent: Calling a tool\n"+
			"Order Status Agent: Tool call output: Status of order order-42 is OPEN\n"+
			"Order Status Agent: Status of order order-42 is OPEN\n",
		out)

	out, err = machine.HandleMessage(ctx, "c", "thanks")
	require.NoError(t, err)
	assert.Equal(t, "Which order would you like me to look at? Please share its order id.\n\n--- Detailed Steps: ---\n\n"+
		"Order Status Agent: Which order would you like me to look at? Please share its order id.\n", out)
}
