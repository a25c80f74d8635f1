package concierge

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/concierge/internal/logging"
	"github.com/aretw0/concierge/pkg/adapters/memory"
	"github.com/aretw0/concierge/pkg/adapters/rules"
	"github.com/aretw0/concierge/pkg/customerservice"
	"github.com/aretw0/concierge/pkg/domain"
	"github.com/aretw0/concierge/pkg/orders"
	"github.com/aretw0/concierge/pkg/persistence/middleware"
	"github.com/aretw0/concierge/pkg/ports"
	"github.com/aretw0/concierge/pkg/registry"
	"github.com/aretw0/concierge/pkg/runner"
	"github.com/aretw0/concierge/pkg/session"
)

// Concierge is the high-level entry point: the customer service deployment wired
// to a store, a journal, a reasoning engine and an order backend.
type Concierge struct {
	*session.Machine

	agents  *registry.Agents
	orders  *orders.Client
	closers []func() error
}

// Option configures New.
type Option func(*settings)

type settings struct {
	store       ports.StateStore
	journal     ports.Journal
	locker      ports.DistributedLocker
	lockTTL     time.Duration
	engine      ports.ReasoningEngine
	backend     ports.OrderService
	graph       []byte
	middlewares []middleware.Middleware
	clientOpts  []orders.ClientOption
	execOpts    []runner.Option
	hooks       domain.LifecycleHooks
	logger      *slog.Logger
	maxInput    int
	closers     []func() error
}

// WithStore sets where committed sessions and in-flight journals live.
// Both must point at the same backend for commits to drop journals atomically.
func WithStore(store ports.StateStore, journal ports.Journal) Option {
	return func(s *settings) {
		s.store = store
		s.journal = journal
	}
}

// WithStoreMiddleware wraps the store, first middleware outermost.
func WithStoreMiddleware(mws ...middleware.Middleware) Option {
	return func(s *settings) {
		s.middlewares = append(s.middlewares, mws...)
	}
}

// WithLocker serialises each session key across processes. A zero ttl keeps
// the session default.
func WithLocker(locker ports.DistributedLocker, ttl time.Duration) Option {
	return func(s *settings) {
		s.locker = locker
		s.lockTTL = ttl
	}
}

// WithEngine sets the reasoning engine. The default is the offline rules engine.
func WithEngine(engine ports.ReasoningEngine) Option {
	return func(s *settings) {
		s.engine = engine
	}
}

// WithOrderBackend sets the order backend the tools call.
// The default is an in-process orders.Service over a mock inventory.
func WithOrderBackend(backend ports.OrderService) Option {
	return func(s *settings) {
		s.backend = backend
	}
}

// WithOrderClientOptions tunes the retry and circuit breaker around the backend.
func WithOrderClientOptions(opts ...orders.ClientOption) Option {
	return func(s *settings) {
		s.clientOpts = append(s.clientOpts, opts...)
	}
}

// WithAgentGraph replaces the embedded agent graph.
func WithAgentGraph(yaml []byte) Option {
	return func(s *settings) {
		s.graph = yaml
	}
}

// WithExecutorOptions passes options to the turn executor.
func WithExecutorOptions(opts ...runner.Option) Option {
	return func(s *settings) {
		s.execOpts = append(s.execOpts, opts...)
	}
}

// WithLifecycleHooks registers observability hooks on the executor and the machine.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(s *settings) {
		s.hooks = s.hooks.Merge(hooks)
	}
}

// WithLogger sets a structured logger for every component.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// WithMaxInputSize overrides the inbound message size limit, in bytes.
func WithMaxInputSize(n int) Option {
	return func(s *settings) {
		s.maxInput = n
	}
}

// WithCloser registers a function run by Close, in reverse order.
func WithCloser(fn func() error) Option {
	return func(s *settings) {
		s.closers = append(s.closers, fn)
	}
}

// New builds the deployment. Without options it runs fully in memory and offline.
func New(opts ...Option) (*Concierge, error) {
	s := &settings{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(s)
	}

	if s.store == nil {
		journal := memory.NewJournal()
		s.store = memory.NewStore(memory.WithJournal(journal))
		s.journal = journal
	}
	if s.journal == nil {
		return nil, errors.New("a journal is required with a custom store")
	}
	if s.engine == nil {
		engine, err := rules.Load(customerservice.RulesYAML())
		if err != nil {
			return nil, err
		}
		s.engine = engine
	}
	if s.backend == nil {
		inv := orders.NewMockInventory(orders.DefaultMockConfig(), s.logger)
		s.backend = orders.NewService(inv, orders.WithServiceLogger(s.logger))
	}

	client := orders.NewClient(s.backend, append([]orders.ClientOption{orders.WithClientLogger(s.logger)}, s.clientOpts...)...)
	agents, tools, err := customerservice.Build(client, s.graph)
	if err != nil {
		return nil, fmt.Errorf("failed to build agents: %w", err)
	}

	execOpts := append([]runner.Option{
		runner.WithLogger(s.logger),
		runner.WithLifecycleHooks(s.hooks),
	}, s.execOpts...)
	exec := runner.NewExecutor(s.engine, agents, tools, execOpts...)

	mgrOpts := []session.Option{session.WithLogger(s.logger)}
	if s.locker != nil {
		mgrOpts = append(mgrOpts, session.WithLocker(s.locker))
	}
	if s.lockTTL > 0 {
		mgrOpts = append(mgrOpts, session.WithLockTTL(s.lockTTL))
	}
	store := middleware.Chain(s.store, s.middlewares...)

	machineOpts := []session.MachineOption{
		session.WithMachineLogger(s.logger),
		session.WithCommitHook(s.hooks),
	}
	if s.maxInput > 0 {
		machineOpts = append(machineOpts, session.WithMaxInputSize(s.maxInput))
	}

	return &Concierge{
		Machine: session.NewMachine(session.NewManager(store, mgrOpts...), s.journal, exec, agents, machineOpts...),
		agents:  agents,
		orders:  client,
		closers: s.closers,
	}, nil
}

// Agents returns the frozen agent graph.
func (c *Concierge) Agents() *registry.Agents { return c.agents }

// Orders returns the order client the tools use.
func (c *Concierge) Orders() *orders.Client { return c.orders }

// Close releases the backends registered with WithCloser.
func (c *Concierge) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i]())
	}
	return errors.Join(errs...)
}
