/*
Package runner implements the turn loop of the concierge engine.

The Executor runs one inbound message against the active agent: it calls the
reasoning engine, executes the requested tools, applies handoffs and stops on a
final message or when the turn budget is spent. Every engine call is a durable
step, so a retried invocation replays recorded generations instead of asking the
engine again. The Executor never touches persisted session state; it returns a
domain.RunResult that the session state machine commits.

# Key Components

  - Executor: The turn loop.
  - ToolInterceptor: Middleware that can block a tool call by policy (for example a confirmation prompt).
  - FormatResponse: Renders a RunResult as the customer-facing text.
  - SanitizeInput: Enforces size and encoding limits on inbound text.

# Usage

	exec := runner.NewExecutor(engine, agents, tools,
		runner.WithMaxTurns(10),
		runner.WithLogger(logger),
	)

	result, err := exec.Run(ctx, runner.Session{Key: "order-42", Steps: steps}, agent, history, "where is my order?")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Print(runner.FormatResponse(result))
*/
package runner
