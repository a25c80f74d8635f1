package runner

import (
	"context"
	"fmt"
	"slices"

	"github.com/aretw0/concierge/pkg/domain"
)

// ToolInterceptor is a middleware that can intercept or block a tool call.
// It returns true if execution should proceed. When it blocks, denial becomes the tool output.
// Decisions are recorded as durable steps, so a replay never asks twice.
type ToolInterceptor func(ctx context.Context, agent string, call domain.ToolCallRequest) (allowed bool, denial string, err error)

// MultiInterceptor chains multiple interceptors. The first denial wins.
func MultiInterceptor(interceptors ...ToolInterceptor) ToolInterceptor {
	return func(ctx context.Context, agent string, call domain.ToolCallRequest) (bool, string, error) {
		for _, interceptor := range interceptors {
			allowed, denial, err := interceptor(ctx, agent, call)
			if err != nil {
				return false, "", err // System Error
			}
			if !allowed {
				return false, denial, nil // Blocked by policy
			}
		}
		return true, "", nil
	}
}

// AutoApproveMiddleware allows everything.
func AutoApproveMiddleware() ToolInterceptor {
	return func(ctx context.Context, agent string, call domain.ToolCallRequest) (bool, string, error) {
		return true, "", nil
	}
}

// DenyToolsMiddleware blocks the named tools, e.g. to run a read-only deployment.
func DenyToolsMiddleware(names ...string) ToolInterceptor {
	return func(ctx context.Context, agent string, call domain.ToolCallRequest) (bool, string, error) {
		if slices.Contains(names, call.Name) {
			return false, fmt.Sprintf("Tool %s is disabled by policy", call.Name), nil
		}
		return true, "", nil
	}
}

// Prompter asks a human operator a yes/no question.
type Prompter interface {
	Confirm(ctx context.Context, question string) (bool, error)
}

// ConfirmationMiddleware asks the operator before running any of the guarded tools.
// With no names, every tool is guarded.
func ConfirmationMiddleware(p Prompter, guarded ...string) ToolInterceptor {
	return func(ctx context.Context, agent string, call domain.ToolCallRequest) (bool, string, error) {
		if len(guarded) > 0 && !slices.Contains(guarded, call.Name) {
			return true, "", nil
		}
		ok, err := p.Confirm(ctx, fmt.Sprintf("%s wants to call '%s' with %v. Allow execution?", agent, call.Name, call.Args))
		if err != nil {
			return false, "", err
		}
		if !ok {
			return false, "User denied execution by policy", nil
		}
		return true, "", nil
	}
}
