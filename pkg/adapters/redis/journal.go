package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aretw0/concierge/pkg/ports"
	backend "github.com/redis/go-redis/v9"
)

// appendScript pushes ARGV[2] only if the list has exactly ARGV[1] entries.
var appendScript = backend.NewScript(`
if redis.call("LLEN", KEYS[1]) ~= tonumber(ARGV[1]) then
	return -1
end
return redis.call("RPUSH", KEYS[1], ARGV[2])
`)

// Journal implements ports.Journal with one Redis list per scope.
type Journal struct {
	client *backend.Client
	prefix string
}

// NewJournal creates a journal sharing the key prefix of a Store.
func NewJournal(client *backend.Client, prefix string) *Journal {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Journal{client: client, prefix: prefix}
}

func (j *Journal) Load(ctx context.Context, scope ports.Scope) ([]ports.StepRecord, error) {
	raw, err := j.client.LRange(ctx, journalKey(j.prefix, scope), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}
	recs := make([]ports.StepRecord, 0, len(raw))
	for i, r := range raw {
		var rec ports.StepRecord
		if err := json.Unmarshal([]byte(r), &rec); err != nil {
			return nil, fmt.Errorf("corrupt journal record %d of %s: %w", i, scope, err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func (j *Journal) Append(ctx context.Context, scope ports.Scope, rec ports.StepRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal step record: %w", err)
	}
	n, err := appendScript.Run(ctx, j.client, []string{journalKey(j.prefix, scope)}, rec.Index, data).Int64()
	if err != nil {
		return fmt.Errorf("failed to append to journal: %w", err)
	}
	if n < 0 {
		return fmt.Errorf("%w: %s, got index %d", ports.ErrJournalConflict, scope, rec.Index)
	}
	return nil
}

func (j *Journal) Clear(ctx context.Context, scope ports.Scope) error {
	return j.client.Del(ctx, journalKey(j.prefix, scope)).Err()
}
