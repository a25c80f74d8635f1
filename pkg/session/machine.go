package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/concierge/internal/logging"
	"github.com/aretw0/concierge/pkg/domain"
	"github.com/aretw0/concierge/pkg/durable"
	"github.com/aretw0/concierge/pkg/ports"
	"github.com/aretw0/concierge/pkg/registry"
	"github.com/aretw0/concierge/pkg/runner"
)

const inputStep = "input"

// Machine is the agent-handoff state machine keyed by session key.
type Machine struct {
	manager  *Manager
	journal  ports.Journal
	executor *runner.Executor
	agents   *registry.Agents

	maxInput int
	hooks    domain.LifecycleHooks
	logger   *slog.Logger
	now      func() time.Time
}

// MachineOption configures a Machine.
type MachineOption func(*Machine)

// WithMachineLogger configures the Machine logger.
func WithMachineLogger(logger *slog.Logger) MachineOption {
	return func(m *Machine) {
		m.logger = logger
	}
}

// WithCommitHook registers a callback fired after every successful commit.
func WithCommitHook(hooks domain.LifecycleHooks) MachineOption {
	return func(m *Machine) {
		m.hooks = hooks
	}
}

// WithMaxInputSize overrides the inbound message size limit, in bytes.
func WithMaxInputSize(n int) MachineOption {
	return func(m *Machine) {
		m.maxInput = n
	}
}

// NewMachine wires a Machine. The journal is where durable steps of in-flight invocations live.
func NewMachine(manager *Manager, journal ports.Journal, executor *runner.Executor, agents *registry.Agents, opts ...MachineOption) *Machine {
	m := &Machine{
		manager:  manager,
		journal:  journal,
		executor: executor,
		agents:   agents,
		logger:   logging.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Manager exposes the underlying session manager.
func (m *Machine) Manager() *Manager { return m.manager }

type inputArgs struct {
	Text string `json:"text"`
}

// HandleMessage runs one inbound message for key and returns the customer-facing
// response. Invocations for the same key are serialized; different keys run in parallel.
// On error the committed state is unchanged and the error is a *domain.SessionError.
func (m *Machine) HandleMessage(ctx context.Context, key, text string) (string, error) {
	var response string
	err := m.handle(ctx, key, text, func(r *domain.RunResult) {
		response = runner.FormatResponse(r)
	})
	return response, err
}

// Run is HandleMessage returning the structured result instead of text.
func (m *Machine) Run(ctx context.Context, key, text string) (*domain.RunResult, error) {
	var result *domain.RunResult
	err := m.handle(ctx, key, text, func(r *domain.RunResult) {
		result = r
	})
	return result, err
}

func (m *Machine) handle(ctx context.Context, key, text string, deliver func(*domain.RunResult)) error {
	if key == "" {
		return sessionError(key, "validate", errors.New("session key is empty"))
	}
	input, err := runner.SanitizeInputLimit(text, m.inputLimit())
	if err != nil {
		return sessionError(key, "sanitize", err)
	}

	logger := m.logger.With("session_key", key)
	return m.manager.WithLock(ctx, key, func(ctx context.Context) error {
		state, err := m.manager.loadOrStart(ctx, key, m.agents.Default().Name)
		if err != nil {
			return sessionError(key, "load", err)
		}
		if state.Sealed != nil {
			return sessionError(key, "load", errors.New("state is sealed; configure the decryption key"))
		}

		result, err := m.invoke(ctx, key, state, input, logger)
		var unfinished *unfinishedError
		if errors.As(err, &unfinished) {
			// The journal holds remote effects of another message: commit that
			// message first so its effects reach the transcript.
			logger.Warn("Finishing an interrupted message before the new one",
				"seq", state.Seq, "interrupted", unfinished.input, "steps", unfinished.steps)
			if _, err := m.invoke(ctx, key, state, unfinished.input, logger); err != nil {
				return &domain.SessionError{Key: key, Op: "recover", Err: fmt.Errorf(
					"%w: interrupted message %q holds remote effects and could not be finished: %w",
					domain.ErrReplayMismatch, unfinished.input, err)}
			}
			if state, err = m.manager.store.Load(ctx, key); err != nil {
				return sessionError(key, "load", err)
			}
			result, err = m.invoke(ctx, key, state, input, logger)
		}
		if err != nil {
			return sessionError(key, "journal", err)
		}
		deliver(result)
		return nil
	})
}

// invoke runs input against the committed state and commits the outcome.
func (m *Machine) invoke(ctx context.Context, key string, state *domain.SessionState, input string, logger *slog.Logger) (*domain.RunResult, error) {
	agent, err := m.agents.Resolve(state.ActiveAgent)
	if err != nil {
		return nil, sessionError(key, "resolve", err)
	}

	scope := ports.Scope{SessionKey: key, Seq: state.Seq}
	steps, err := m.openScope(ctx, scope, input, logger)
	if err != nil {
		var unfinished *unfinishedError
		if errors.As(err, &unfinished) {
			return nil, err
		}
		return nil, sessionError(key, "journal", err)
	}

	result, err := m.executor.Run(ctx, runner.Session{Key: key, Steps: steps}, agent, state.Transcript, input)
	if err != nil {
		logger.Error("Invocation failed", "agent", agent.Name, "err", err)
		return nil, sessionError(key, "run", err)
	}

	next := state.Snapshot()
	next.ActiveAgent = result.LastAgent
	next.Transcript = append(next.Transcript, domain.UserMessage{Text: input})
	next.Transcript = append(next.Transcript, result.NewItems...)
	next.Seq = state.Seq + 1
	next.UpdatedAt = m.now().UTC()

	if err := m.commit(ctx, next, scope, logger); err != nil {
		return nil, sessionError(key, "commit", err)
	}

	logger.Info("Committed invocation",
		"seq", next.Seq,
		"agent", next.ActiveAgent,
		"items", len(result.NewItems),
		"replayed_steps", steps.Replayed(),
	)
	if m.hooks.OnCommit != nil {
		m.hooks.OnCommit(ctx, &domain.CommitEvent{
			EventBase:       domain.EventBase{Timestamp: next.UpdatedAt, Type: domain.EventCommit, SessionKey: key},
			Seq:             next.Seq,
			Items:           len(result.NewItems),
			BudgetExhausted: result.BudgetExhausted,
		})
	}
	return result, nil
}

func sessionError(key, op string, err error) error {
	var se *domain.SessionError
	if errors.As(err, &se) {
		return err
	}
	return &domain.SessionError{Key: key, Op: op, Err: err}
}

// unfinishedError reports a journal left by a crashed invocation of another
// message that already recorded tool steps.
type unfinishedError struct {
	input string
	steps int
}

func (e *unfinishedError) Error() string {
	return fmt.Sprintf("journal holds an unfinished invocation of %q (%d steps)", e.input, e.steps)
}

func (e *unfinishedError) Unwrap() error { return domain.ErrReplayMismatch }

// openScope opens the journal of scope and records the inbound text as its
// first step. A journal left by a crashed invocation of a different message is
// discarded when it holds executor steps only; one holding tool steps is
// reported as an *unfinishedError.
func (m *Machine) openScope(ctx context.Context, scope ports.Scope, input string, logger *slog.Logger) (*durable.Journaled, error) {
	for attempt := 0; ; attempt++ {
		steps, err := durable.Open(ctx, m.journal, scope, durable.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		_, err = durable.Run(ctx, steps, inputStep, inputArgs{Text: input}, func(context.Context) (string, error) {
			return input, nil
		})
		if err == nil {
			return steps, nil
		}
		if !errors.Is(err, domain.ErrReplayMismatch) || attempt > 0 {
			return nil, err
		}

		records := steps.Records()
		recorded, unfinished, err := interruptedInput(records)
		if err != nil {
			return nil, err
		}
		if unfinished {
			return nil, &unfinishedError{input: recorded, steps: len(records)}
		}
		logger.Warn("Discarding journal of an abandoned message", "scope", scope.String(), "steps", len(records))
		if err := m.journal.Clear(ctx, scope); err != nil {
			return nil, err
		}
	}
}

// interruptedInput returns the recorded input of records when any step after it
// was recorded by a tool.
func interruptedInput(records []ports.StepRecord) (string, bool, error) {
	effects := false
	for _, rec := range records {
		if rec.Label != inputStep && !runner.IsLocalStep(rec.Label) {
			effects = true
			break
		}
	}
	if !effects {
		return "", false, nil
	}
	var input string
	if len(records) == 0 || records[0].Label != inputStep {
		return "", false, fmt.Errorf("%w: journal holds tool steps without a recorded input", domain.ErrReplayMismatch)
	}
	if err := json.Unmarshal(records[0].Result, &input); err != nil {
		return "", false, fmt.Errorf("decode recorded input: %w", err)
	}
	return input, true, nil
}

func (m *Machine) commit(ctx context.Context, next *domain.SessionState, finished ports.Scope, logger *slog.Logger) error {
	store := m.manager.Store()
	if c, ok := store.(ports.Committer); ok {
		return c.Commit(ctx, next, finished)
	}
	if err := store.Save(ctx, next.Key, next); err != nil {
		return err
	}
	// Seq moved on, so a journal that survives here is never replayed.
	if err := m.journal.Clear(ctx, finished); err != nil {
		logger.Warn("Failed to clear finished journal", "scope", finished.String(), "err", err)
	}
	return nil
}

// Inspect returns the committed state of key.
func (m *Machine) Inspect(ctx context.Context, key string) (*domain.SessionState, error) {
	state, err := m.manager.Load(ctx, key)
	if err != nil {
		return nil, &domain.SessionError{Key: key, Op: "inspect", Err: err}
	}
	return state, nil
}

// Status reports whether an invocation for key is in flight in this process.
func (m *Machine) Status(key string) domain.SessionStatus {
	return m.manager.Status(key)
}

// List returns every committed session key.
func (m *Machine) List(ctx context.Context) ([]string, error) {
	return m.manager.List(ctx)
}

// Reset forgets key: its committed state and any journal of an unfinished invocation.
func (m *Machine) Reset(ctx context.Context, key string) error {
	err := m.manager.WithLock(ctx, key, func(ctx context.Context) error {
		var seq uint64
		state, err := m.manager.store.Load(ctx, key)
		switch {
		case err == nil:
			seq = state.Seq
		case !errors.Is(err, domain.ErrSessionNotFound):
			return err
		}
		if err := m.journal.Clear(ctx, ports.Scope{SessionKey: key, Seq: seq}); err != nil {
			return err
		}
		return m.manager.store.Delete(ctx, key)
	})
	if err != nil {
		return &domain.SessionError{Key: key, Op: "reset", Err: err}
	}
	return nil
}

func (m *Machine) inputLimit() int {
	if m.maxInput > 0 {
		return m.maxInput
	}
	return runner.SanitizeLimitFromEnv()
}
