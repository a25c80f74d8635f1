package durable

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aretw0/concierge/pkg/domain"
	"github.com/aretw0/concierge/pkg/ports"
	"github.com/google/uuid"
)

// ErrJournalWrite wraps failures to persist a step outcome.
var ErrJournalWrite = errors.New("journal write failed")

// StepFunc is the computation guarded by a durable step.
type StepFunc func(ctx context.Context) (any, error)

// Runner executes durable steps.
// Do runs fn at most once per step identity and decodes the recorded result into out
// (a pointer, or nil to discard it).
type Runner interface {
	Do(ctx context.Context, label string, args any, fn StepFunc, out any) error
}

// Run is the typed form of Runner.Do.
func Run[T any](ctx context.Context, r Runner, label string, args any, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := r.Do(ctx, label, args, func(ctx context.Context) (any, error) {
		return fn(ctx)
	}, &out)
	return out, err
}

// UUID generates a random identifier once and replays it afterwards.
func UUID(ctx context.Context, r Runner, label string) (string, error) {
	return Run(ctx, r, label, nil, func(context.Context) (string, error) {
		return uuid.NewString(), nil
	})
}

// TerminalError marks a failure that is part of the step outcome.
// It is journaled and replayed like a result.
type TerminalError struct {
	Err error
}

func (e *TerminalError) Error() string { return e.Err.Error() }
func (e *TerminalError) Unwrap() error { return e.Err }

// Terminal marks err as a recordable step outcome. nil stays nil.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	var te *TerminalError
	if errors.As(err, &te) {
		return err
	}
	return &TerminalError{Err: err}
}

// IsTerminal reports whether err (or anything it wraps) was marked with Terminal.
func IsTerminal(err error) bool {
	var te *TerminalError
	return errors.As(err, &te)
}

// IsFatal reports whether err must abort the whole invocation rather than
// being absorbed as a step outcome.
func IsFatal(err error) bool {
	return errors.Is(err, domain.ErrReplayMismatch) || errors.Is(err, ErrJournalWrite)
}

// ReplayMismatchError reports that the step being executed differs from the recorded one.
type ReplayMismatchError struct {
	Scope     ports.Scope
	Index     int
	Recorded  string
	Requested string
	ArgsOnly  bool
}

func (e *ReplayMismatchError) Error() string {
	if e.ArgsOnly {
		return fmt.Sprintf("step %d of %s (%s): arguments differ from the recorded step", e.Index, e.Scope, e.Requested)
	}
	return fmt.Sprintf("step %d of %s: recorded %q, requested %q", e.Index, e.Scope, e.Recorded, e.Requested)
}

func (e *ReplayMismatchError) Unwrap() error { return domain.ErrReplayMismatch }

// HashArgs returns the stable fingerprint of step arguments.
func HashArgs(args any) (string, error) {
	data, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("hash step args: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func decodeRecord(rec ports.StepRecord, out any) error {
	if rec.Error != "" {
		return &TerminalError{Err: errors.New(rec.Error)}
	}
	if out == nil || len(rec.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(rec.Result, out); err != nil {
		return fmt.Errorf("decode step %d (%s): %w", rec.Index, rec.Label, err)
	}
	return nil
}
