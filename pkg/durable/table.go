package durable

import (
	"context"
	"encoding/json"
	"sync"
)

// Table is an in-memory idempotency table keyed by label and argument hash.
// It is meant for tests and single-process tools that need Runner semantics without a journal.
type Table struct {
	mu      sync.Mutex
	results map[string]tableEntry
	calls   map[string]int
}

type tableEntry struct {
	result json.RawMessage
	err    string
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		results: make(map[string]tableEntry),
		calls:   make(map[string]int),
	}
}

// Executions returns how many times fn actually ran for label.
func (t *Table) Executions(label string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls[label]
}

// Do implements Runner.
func (t *Table) Do(ctx context.Context, label string, args any, fn StepFunc, out any) error {
	hash, err := HashArgs(args)
	if err != nil {
		return err
	}
	key := label + "/" + hash

	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, ok := t.results[key]; ok {
		return entry.decode(out)
	}

	t.calls[label]++
	val, runErr := fn(ctx)
	if runErr != nil {
		if !IsTerminal(runErr) {
			return runErr
		}
		t.results[key] = tableEntry{err: runErr.Error()}
		return runErr
	}

	data, err := json.Marshal(val)
	if err != nil {
		return err
	}
	entry := tableEntry{result: data}
	t.results[key] = entry
	return entry.decode(out)
}

func (e tableEntry) decode(out any) error {
	if e.err != "" {
		return &TerminalError{Err: errString(e.err)}
	}
	if out == nil || len(e.result) == 0 {
		return nil
	}
	return json.Unmarshal(e.result, out)
}

type errString string

func (e errString) Error() string { return string(e) }
