package ports

import (
	"context"

	"github.com/aretw0/concierge/pkg/domain"
)

// GenerateRequest is everything a reasoning engine sees for one call.
type GenerateRequest struct {
	Agent      domain.Agent
	Tools      []domain.Tool
	Handoffs   []domain.Agent
	Transcript domain.Transcript
}

// ReasoningEngine decides what the active agent does next.
// Its output is non-deterministic, so callers record it as a durable step.
type ReasoningEngine interface {
	Generate(ctx context.Context, req GenerateRequest) (domain.Generation, error)
}
