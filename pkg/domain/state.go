package domain

import "time"

// SessionState is the committed snapshot of a session.
// ActiveAgent, Transcript and Seq are always persisted together as one document.
type SessionState struct {
	Key         string     `json:"key"`
	ActiveAgent string     `json:"active_agent,omitempty"`
	Transcript  Transcript `json:"transcript,omitempty"`

	// Seq counts committed invocations. It scopes the durable step journal,
	// so a journal left behind by a committed invocation is never replayed.
	Seq       uint64    `json:"seq"`
	UpdatedAt time.Time `json:"updated_at"`

	// Sealed holds an opaque payload when a persistence middleware (encryption)
	// replaced the readable fields.
	Sealed []byte `json:"sealed,omitempty"`
}

// NewSessionState creates the initial state of a session.
func NewSessionState(key, activeAgent string) *SessionState {
	return &SessionState{
		Key:         key,
		ActiveAgent: activeAgent,
		Transcript:  Transcript{},
		UpdatedAt:   time.Now().UTC(),
	}
}

// Snapshot returns a copy whose transcript can be extended independently.
func (s *SessionState) Snapshot() *SessionState {
	if s == nil {
		return nil
	}
	out := *s
	out.Transcript = s.Transcript.Clone()
	if s.Sealed != nil {
		out.Sealed = append([]byte(nil), s.Sealed...)
	}
	return &out
}

// SessionStatus reports whether a key has an invocation in flight.
type SessionStatus string

const (
	StatusIdle    SessionStatus = "idle"
	StatusRunning SessionStatus = "running"
)
