package ports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrJournalConflict is returned by Append when the record index does not
// extend the journal by exactly one entry (another writer got there first).
var ErrJournalConflict = errors.New("journal append conflict")

// Scope identifies the journal of one invocation: a session key at a committed seq.
type Scope struct {
	SessionKey string `json:"session_key"`
	Seq        uint64 `json:"seq"`
}

func (s Scope) String() string {
	return fmt.Sprintf("%s@%d", s.SessionKey, s.Seq)
}

// StepRecord is the recorded outcome of one durable step.
type StepRecord struct {
	Index      int             `json:"index"`
	Label      string          `json:"label"`
	ArgsHash   string          `json:"args_hash"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// Journal is the write-ahead log of durable steps.
type Journal interface {
	// Load returns the records of scope ordered by Index. A missing journal is empty, not an error.
	Load(ctx context.Context, scope Scope) ([]StepRecord, error)

	// Append stores rec, which must carry Index == len(existing records).
	Append(ctx context.Context, scope Scope, rec StepRecord) error

	// Clear drops every record of scope.
	Clear(ctx context.Context, scope Scope) error
}
