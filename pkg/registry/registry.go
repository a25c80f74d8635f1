package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/aretw0/concierge/internal/logging"
	"github.com/aretw0/concierge/pkg/domain"
	"github.com/aretw0/concierge/pkg/durable"
	"github.com/mitchellh/mapstructure"
	"github.com/xeipuuv/gojsonschema"
)

// Call is the explicit session context handed to a tool handler.
type Call struct {
	SessionKey string
	Agent      string
	CallID     string
	Steps      durable.Runner
	Logger     *slog.Logger
}

// ToolFunction defines the signature for a tool implementation.
// The returned text is fed back into the conversation.
type ToolFunction func(ctx context.Context, call *Call, args map[string]any) (string, error)

// ToolDef declares a tool.
type ToolDef struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON schema of the arguments object
	Handler     ToolFunction
}

// ErrToolNotFound is returned for names that were never registered.
var ErrToolNotFound = errors.New("tool not found")

// ErrInvalidArguments is returned when arguments fail schema validation.
var ErrInvalidArguments = errors.New("invalid tool arguments")

// ToolExecutionError wraps every failure of a tool invocation.
// It never aborts a turn: the executor renders it as the tool's output.
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("Error running tool %s: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

type toolEntry struct {
	def    ToolDef
	schema *gojsonschema.Schema
}

// Registry manages the available tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]toolEntry
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]toolEntry),
	}
}

// Register adds a tool to the registry. Names must be unique.
func (r *Registry) Register(def ToolDef) error {
	if def.Name == "" || def.Handler == nil {
		return errors.New("tool needs a name and a handler")
	}

	var schema *gojsonschema.Schema
	if def.Parameters != nil {
		var err error
		schema, err = gojsonschema.NewSchema(gojsonschema.NewGoLoader(def.Parameters))
		if err != nil {
			return fmt.Errorf("invalid schema for tool %q: %w", def.Name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tool %q already registered", def.Name)
	}
	r.tools[def.Name] = toolEntry{def: def, schema: schema}
	return nil
}

// MustRegister is Register for static wiring; it panics on error.
func (r *Registry) MustRegister(defs ...ToolDef) *Registry {
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			panic(err)
		}
	}
	return r
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns the engine-facing descriptions of the named tools, in order.
func (r *Registry) Describe(names []string) []domain.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Tool, 0, len(names))
	for _, name := range names {
		if e, ok := r.tools[name]; ok {
			out = append(out, domain.Tool{
				Name:        e.def.Name,
				Description: e.def.Description,
				Parameters:  e.def.Parameters,
			})
		}
	}
	return out
}

// Execute validates args against the tool schema and runs the handler.
// Every failure, including a panicking handler, comes back as *ToolExecutionError.
func (r *Registry) Execute(ctx context.Context, call *Call, name string, args map[string]any) (out string, err error) {
	r.mu.RLock()
	entry, ok := r.tools[name]
	r.mu.RUnlock()

	if !ok {
		return "", &ToolExecutionError{Tool: name, Err: ErrToolNotFound}
	}
	if args == nil {
		args = map[string]any{}
	}

	if entry.schema != nil {
		result, err := entry.schema.Validate(gojsonschema.NewGoLoader(args))
		if err != nil {
			return "", &ToolExecutionError{Tool: name, Err: fmt.Errorf("%w: %v", ErrInvalidArguments, err)}
		}
		if !result.Valid() {
			return "", &ToolExecutionError{Tool: name, Err: fmt.Errorf("%w: %v", ErrInvalidArguments, result.Errors())}
		}
	}

	if call == nil {
		call = &Call{}
	}
	if call.Logger == nil {
		call.Logger = logging.NewNop()
	}

	defer func() {
		if p := recover(); p != nil {
			out, err = "", &ToolExecutionError{Tool: name, Err: fmt.Errorf("panic: %v", p)}
		}
	}()

	out, err = entry.def.Handler(ctx, call, args)
	if err != nil {
		return "", &ToolExecutionError{Tool: name, Err: err}
	}
	return out, nil
}

// DecodeArgs decodes validated tool arguments into a typed struct.
// JSON numbers arrive as float64 and are converted to the target field types.
func DecodeArgs(args map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(args); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}
