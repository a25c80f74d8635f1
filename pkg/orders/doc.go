// Package orders implements the bulk order backend and the clients agents use to reach it.
//
// Service is the order state machine itself:
//
//	(NONE) --create--> (OPEN) --close--> (CLOSED) --> (EXECUTED) --cancel--> (REVERSED)
//	                     |  ^                 |
//	                 addItem                  +--> (FAILED)
//	                     |
//	                  cancel --> (CANCELED)
//
// Client wraps any ports.OrderService with retries and a circuit breaker and
// records every call as a durable step of the calling invocation.
package orders
