package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/aretw0/concierge/pkg/ports"
)

// Journal implements ports.Journal in memory.
type Journal struct {
	mu      sync.Mutex
	records map[ports.Scope][]ports.StepRecord
}

// NewJournal creates an empty in-memory journal.
func NewJournal() *Journal {
	return &Journal{
		records: make(map[ports.Scope][]ports.StepRecord),
	}
}

// Load returns a copy of the records of scope.
func (j *Journal) Load(ctx context.Context, scope ports.Scope) ([]ports.StepRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	recs := j.records[scope]
	out := make([]ports.StepRecord, len(recs))
	copy(out, recs)
	return out, nil
}

// Append adds rec at the end of the journal.
func (j *Journal) Append(ctx context.Context, scope ports.Scope, rec ports.StepRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	recs := j.records[scope]
	if rec.Index != len(recs) {
		return fmt.Errorf("%w: %s has %d steps, got index %d", ports.ErrJournalConflict, scope, len(recs), rec.Index)
	}
	j.records[scope] = append(recs, rec)
	return nil
}

// Clear drops every record of scope.
func (j *Journal) Clear(ctx context.Context, scope ports.Scope) error {
	j.drop(scope)
	return nil
}

// Len returns the number of records of scope.
func (j *Journal) Len(scope ports.Scope) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.records[scope])
}

func (j *Journal) drop(scope ports.Scope) {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.records, scope)
}
