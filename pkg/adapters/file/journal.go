package file

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/aretw0/concierge/pkg/ports"
)

// Journal implements ports.Journal with one JSON-lines file per scope.
// Appends are serialized within the process; cross-process writers must hold the session lock.
type Journal struct {
	BasePath string
	mu       sync.Mutex
}

// NewJournal creates a journal under basePath, ".concierge/journal" by default.
func NewJournal(basePath string) *Journal {
	if basePath == "" {
		basePath = filepath.Join(".concierge", "journal")
	}
	return &Journal{BasePath: basePath}
}

func (j *Journal) path(scope ports.Scope) string {
	return filepath.Join(j.BasePath, url.PathEscape(scope.SessionKey)+"."+strconv.FormatUint(scope.Seq, 10)+".jsonl")
}

func (j *Journal) Load(ctx context.Context, scope ports.Scope) ([]ports.StepRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.read(scope)
}

func (j *Journal) read(scope ports.Scope) ([]ports.StepRecord, error) {
	f, err := os.Open(j.path(scope))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []ports.StepRecord{}, nil
		}
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	defer f.Close()

	recs := []ports.StepRecord{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec ports.StepRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			// A torn final line is what a crash mid-append leaves behind.
			break
		}
		recs = append(recs, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}
	return recs, nil
}

func (j *Journal) Append(ctx context.Context, scope ports.Scope, rec ports.StepRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	existing, err := j.read(scope)
	if err != nil {
		return err
	}
	if rec.Index != len(existing) {
		return fmt.Errorf("%w: %s has %d records, got index %d", ports.ErrJournalConflict, scope, len(existing), rec.Index)
	}

	// Rewriting the whole file drops a torn tail left by a crash.
	var buf []byte
	for _, r := range append(existing, rec) {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to marshal step record: %w", err)
		}
		buf = append(append(buf, data...), '\n')
	}
	return writeAtomic(j.BasePath, j.path(scope), buf)
}

func (j *Journal) Clear(ctx context.Context, scope ports.Scope) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := os.Remove(j.path(scope)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to clear journal: %w", err)
	}
	return nil
}
