/*
Package durable provides the durable step primitive.

A step is a labelled, side-effecting or non-deterministic computation. The first
time a step runs, its outcome is written to a ports.Journal; when the same
invocation is retried (after a crash or a transient failure) the recorded outcome
is returned instead of executing the computation again.

Step identity is positional: (session key, committed seq, step index). The label
and a hash of the arguments are stored alongside the outcome and checked on
replay, so a code path that diverges from the recorded one fails loudly with a
ReplayMismatchError instead of silently returning the wrong result.

Only successful results and errors marked with Terminal are recorded. Any other
error is considered transient: it propagates, nothing is journaled, and the step
runs again on the next attempt.

	steps, err := durable.Open(ctx, journal, ports.Scope{SessionKey: "order-42", Seq: 3})
	id, err := durable.UUID(ctx, steps, "create unique order id")
	status, err := durable.Run(ctx, steps, "orders/get_status", id, func(ctx context.Context) (string, error) {
		return client.Status(ctx, id)
	})
*/
package durable
