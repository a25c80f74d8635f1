package middleware

import (
	"context"
	"regexp"

	"github.com/aretw0/concierge/pkg/domain"
	"github.com/aretw0/concierge/pkg/ports"
)

const mask = "***"

// DefaultValuePatterns match e-mail addresses and card-like digit runs.
var DefaultValuePatterns = []string{
	`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`,
	`\b(?:\d[ -]?){13,19}\b`,
}

// PIIConfig selects what is masked before a state is stored.
type PIIConfig struct {
	// KeyPatterns mask tool argument values whose key matches, at any depth.
	KeyPatterns []string
	// ValuePatterns mask matching substrings of every message, tool output and string argument.
	ValuePatterns []string
}

type piiMiddleware struct {
	next   ports.StateStore
	keys   []*regexp.Regexp
	values []*regexp.Regexp
}

// NewPIIMiddleware masks personal data in the transcript on the way to the store.
// The caller's state is never modified. Patterns must compile.
func NewPIIMiddleware(config PIIConfig) Middleware {
	m := &piiMiddleware{
		keys:   compile(config.KeyPatterns),
		values: compile(config.ValuePatterns),
	}
	return func(next ports.StateStore) ports.StateStore {
		bound := *m
		bound.next = next
		return withCommit(&bound, next, bound.scrub)
	}
}

func compile(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

func (m *piiMiddleware) scrub(state *domain.SessionState) (*domain.SessionState, error) {
	out := state.Snapshot()
	for i, item := range out.Transcript {
		switch it := item.(type) {
		case domain.UserMessage:
			it.Text = m.maskText(it.Text)
			out.Transcript[i] = it
		case domain.AgentMessage:
			it.Text = m.maskText(it.Text)
			out.Transcript[i] = it
		case domain.ToolCallResult:
			it.Output = m.maskText(it.Output)
			out.Transcript[i] = it
		case domain.ToolCallRequested:
			it.Args = m.maskMap(it.Args)
			out.Transcript[i] = it
		}
	}
	return out, nil
}

func (m *piiMiddleware) Save(ctx context.Context, key string, state *domain.SessionState) error {
	scrubbed, _ := m.scrub(state)
	return m.next.Save(ctx, key, scrubbed)
}

func (m *piiMiddleware) Load(ctx context.Context, key string) (*domain.SessionState, error) {
	return m.next.Load(ctx, key)
}

func (m *piiMiddleware) Delete(ctx context.Context, key string) error {
	return m.next.Delete(ctx, key)
}

func (m *piiMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}

func (m *piiMiddleware) maskText(s string) string {
	for _, p := range m.values {
		s = p.ReplaceAllString(s, mask)
	}
	return s
}

// maskMap returns a masked deep copy of in.
func (m *piiMiddleware) maskMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		if m.sensitive(k) {
			out[k] = mask
			continue
		}
		out[k] = m.maskValue(v)
	}
	return out
}

func (m *piiMiddleware) maskValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return m.maskMap(val)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = m.maskValue(e)
		}
		return out
	case string:
		return m.maskText(val)
	default:
		return v
	}
}

func (m *piiMiddleware) sensitive(key string) bool {
	for _, p := range m.keys {
		if p.MatchString(key) {
			return true
		}
	}
	return false
}
