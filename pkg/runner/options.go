package runner

import (
	"log/slog"

	"github.com/aretw0/concierge/pkg/domain"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMaxTurns bounds the number of engine calls per inbound message.
const DefaultMaxTurns = 10

// Option defines a functional option for configuring the Executor.
type Option func(*Executor)

// WithMaxTurns sets the turn budget. Values below 1 are ignored.
func WithMaxTurns(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxTurns = n
		}
	}
}

// WithContinueOnHandoff controls whether the new agent runs immediately after a
// handoff (the default) or only on the next inbound message.
func WithContinueOnHandoff(enabled bool) Option {
	return func(e *Executor) {
		e.continueOnHandoff = enabled
	}
}

// WithLogger configures the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Executor) {
		e.hooks = hooks
	}
}

// WithInterceptor configures the tool execution middleware.
func WithInterceptor(interceptor ToolInterceptor) Option {
	return func(e *Executor) {
		e.interceptor = interceptor
	}
}

// WithTracerProvider sets the OpenTelemetry provider used for spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Executor) {
		e.tracer = tp.Tracer(tracerName)
	}
}
