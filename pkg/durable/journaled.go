package durable

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/concierge/internal/logging"
	"github.com/aretw0/concierge/pkg/ports"
)

// Journaled is a Runner backed by a ports.Journal.
// One Journaled serves one invocation; steps are executed sequentially.
type Journaled struct {
	journal ports.Journal
	scope   ports.Scope
	logger  *slog.Logger

	mu       sync.Mutex
	records  []ports.StepRecord
	next     int
	replayed int
}

// Option configures a Journaled runner.
type Option func(*Journaled)

// WithLogger configures a logger for replay diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(j *Journaled) {
		j.logger = logger
	}
}

// Open loads the journal of scope and returns a runner positioned at its first step.
func Open(ctx context.Context, journal ports.Journal, scope ports.Scope, opts ...Option) (*Journaled, error) {
	records, err := journal.Load(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to load journal %s: %w", scope, err)
	}
	j := &Journaled{
		journal: journal,
		scope:   scope,
		logger:  logging.NewNop(),
		records: records,
	}
	for _, opt := range opts {
		opt(j)
	}
	if len(records) > 0 {
		j.logger.Info("Resuming invocation from journal", "scope", scope.String(), "steps", len(records))
	}
	return j, nil
}

// Scope returns the journal scope of this invocation.
func (j *Journaled) Scope() ports.Scope {
	return j.scope
}

// Recorded returns the number of steps present in the journal.
func (j *Journaled) Recorded() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.records)
}

// Records returns a copy of the steps present in the journal.
func (j *Journaled) Records() []ports.StepRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]ports.StepRecord(nil), j.records...)
}

// Replayed returns how many steps were answered from the journal so far.
func (j *Journaled) Replayed() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.replayed
}

// Do implements Runner.
func (j *Journaled) Do(ctx context.Context, label string, args any, fn StepFunc, out any) error {
	hash, err := HashArgs(args)
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	idx := j.next
	if idx < len(j.records) {
		rec := j.records[idx]
		if rec.Label != label {
			return &ReplayMismatchError{Scope: j.scope, Index: idx, Recorded: rec.Label, Requested: label}
		}
		if rec.ArgsHash != hash {
			return &ReplayMismatchError{Scope: j.scope, Index: idx, Recorded: rec.Label, Requested: label, ArgsOnly: true}
		}
		j.next++
		j.replayed++
		j.logger.Debug("Replayed durable step", "scope", j.scope.String(), "step", idx, "label", label)
		return decodeRecord(rec, out)
	}

	val, runErr := fn(ctx)
	rec := ports.StepRecord{
		Index:      idx,
		Label:      label,
		ArgsHash:   hash,
		RecordedAt: time.Now().UTC(),
	}
	switch {
	case runErr != nil && !IsTerminal(runErr):
		// Transient: the step runs again on the next attempt.
		return runErr
	case runErr != nil:
		rec.Error = runErr.Error()
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Errorf("encode step %d (%s): %w", idx, label, err)
		}
		rec.Result = data
	}

	if err := j.journal.Append(ctx, j.scope, rec); err != nil {
		return fmt.Errorf("%w: step %d (%s): %w", ErrJournalWrite, idx, label, err)
	}
	j.records = append(j.records, rec)
	j.next++

	if runErr != nil {
		return runErr
	}
	// Decode from the recorded bytes so the first run and a replay observe identical values.
	return decodeRecord(rec, out)
}
