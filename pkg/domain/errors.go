package domain

import (
	"errors"
	"fmt"
)

// ErrSessionNotFound is returned when a session key cannot be found in the store.
var ErrSessionNotFound = errors.New("session not found")

// ErrUnknownAgent is returned when an agent name does not resolve in the frozen graph.
var ErrUnknownAgent = errors.New("unknown agent")

// ErrInvalidHandoff is the sentinel behind HandoffConfigError.
var ErrInvalidHandoff = errors.New("handoff not permitted")

// ErrTurnBudgetExhausted is returned when the turn budget ran out before any output was produced.
var ErrTurnBudgetExhausted = errors.New("turn budget exhausted without output")

// ErrReplayMismatch is returned when a journaled step does not match the step being replayed.
var ErrReplayMismatch = errors.New("durable step replay mismatch")

// HandoffConfigError means the engine asked for a handoff the active agent is not allowed to perform.
// It indicates a configuration or engine bug and aborts the invocation.
type HandoffConfigError struct {
	From string
	To   string
}

func (e *HandoffConfigError) Error() string {
	return fmt.Sprintf("agent %q cannot hand off to %q", e.From, e.To)
}

func (e *HandoffConfigError) Unwrap() error { return ErrInvalidHandoff }

// SessionError wraps a failure of a session-level operation.
// The committed state of the session is untouched when it is returned.
type SessionError struct {
	Key string
	Op  string
	Err error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session %q: %s: %v", e.Key, e.Op, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }
