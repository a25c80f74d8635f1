/*
Package ports defines the driven ports (interfaces) of the concierge engine.

These interfaces decouple the session state machine from external implementations,
allowing it to work with various storage backends, reasoning engines and order services.

# Key Interfaces

  - StateStore: Persists and loads the per-key SessionState document.
  - Journal: Records durable step outcomes so retries replay instead of re-executing.
  - DistributedLocker: Provides distributed locking for concurrent session access across replicas.
  - ReasoningEngine: Produces the next Generation for the active agent.
  - OrderService: The keyed order-management backend consumed by the order tools.
*/
package ports
