/*
Package concierge is a customer service agent system built on a durable,
session-keyed state machine.

A customer talks to one agent at a time. Each inbound message runs a bounded
loop of reasoning turns in which the active agent answers, calls order tools
or hands the conversation to another agent. The agent that finished the loop
stays active for the next message of the same session.

# Concept

Every session key owns a committed state (active agent, transcript, sequence
number) and, while a message is in flight, a journal of durable steps. Engine
calls, generated ids and order backend calls are steps: a retried message
replays them from the journal instead of executing them again, so a crash
between a remote effect and the commit never repeats the effect.

Messages for the same key are serialised; different keys run in parallel.
Nothing is committed until the whole loop succeeds.

# Usage

	package main

	import (
		"context"
		"fmt"
		"log"

		"github.com/aretw0/concierge"
	)

	func main() {
		// In memory, with the offline rules engine and a local order backend.
		c, err := concierge.New()
		if err != nil {
			log.Fatal(err)
		}
		defer c.Close()

		out, err := c.HandleMessage(context.Background(), "customer-1", "I want to place a new order")
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(out)
	}

Stores (file, redis, sqlite), the OpenAI engine, an HTTP order backend and
the persistence middleware are plugged in with options; see the cmd/concierge
command for a complete wiring driven by configuration.
*/
package concierge
