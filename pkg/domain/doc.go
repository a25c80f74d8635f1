/*
Package domain contains the core models of the concierge engine.

It defines the agents that take turns in a conversation, the transcript they
produce, and the per-key session snapshot that is persisted between messages.
This package is kept pure and free of I/O, following Hexagonal Architecture
principles: persistence, reasoning engines and remote services live behind the
interfaces in package ports.

# Key Entities

  - Agent: A named conversational role with a fixed tool set and a list of permitted handoff targets.
  - Item: One entry of the Transcript (user message, agent message, tool call, tool result, handoff).
  - SessionState: The committed snapshot of a session (active agent, transcript, sequence number).
  - Generation: The structured output of one reasoning-engine call.
  - RunResult: The outcome of executing one inbound message against the active agent.
*/
package domain
