package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/concierge/pkg/domain"
)

// LoggingHooks writes one structured line per lifecycle event.
func LoggingHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnTurnStart: func(ctx context.Context, e *domain.TurnEvent) {
			logger.DebugContext(ctx, "turn_start", "session_key", e.SessionKey, "agent", e.Agent, "turn", e.Turn)
		},
		OnToolCall: func(ctx context.Context, e *domain.ToolEvent) {
			logger.InfoContext(ctx, "tool_call", "session_key", e.SessionKey, "agent", e.Agent, "tool", e.ToolName)
		},
		OnToolReturn: func(ctx context.Context, e *domain.ToolEvent) {
			level := slog.LevelInfo
			if e.IsError {
				level = slog.LevelWarn
			}
			logger.Log(ctx, level, "tool_return",
				"session_key", e.SessionKey, "tool", e.ToolName, "is_error", e.IsError, "took", e.Took)
		},
		OnHandoff: func(ctx context.Context, e *domain.HandoffEvent) {
			logger.InfoContext(ctx, "handoff", "session_key", e.SessionKey, "from", e.From, "to", e.To)
		},
		OnCommit: func(ctx context.Context, e *domain.CommitEvent) {
			logger.InfoContext(ctx, "commit", "session_key", e.SessionKey, "seq", e.Seq, "items", e.Items)
		},
	}
}
