// Package cli wires a concierge deployment from configuration for the commands.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/aretw0/concierge"
	"github.com/aretw0/concierge/internal/config"
	"github.com/aretw0/concierge/pkg/adapters/file"
	"github.com/aretw0/concierge/pkg/adapters/memory"
	"github.com/aretw0/concierge/pkg/adapters/openai"
	redisAdapter "github.com/aretw0/concierge/pkg/adapters/redis"
	"github.com/aretw0/concierge/pkg/adapters/rules"
	sqlAdapter "github.com/aretw0/concierge/pkg/adapters/sql"
	"github.com/aretw0/concierge/pkg/customerservice"
	"github.com/aretw0/concierge/pkg/observability"
	"github.com/aretw0/concierge/pkg/orders"
	"github.com/aretw0/concierge/pkg/persistence/middleware"
	"github.com/aretw0/concierge/pkg/ports"
	"github.com/aretw0/concierge/pkg/runner"
	"github.com/sony/gobreaker/v2"
)

// Deployment is a built concierge plus the pieces the commands expose.
type Deployment struct {
	*concierge.Concierge
	Metrics *observability.Metrics
	Store   ports.StateStore
}

// Build assembles the deployment described by cfg. traceOut receives spans
// when tracing is enabled. interceptors gate tool calls after the configured
// deny list.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger, traceOut io.Writer, interceptors ...runner.ToolInterceptor) (*Deployment, error) {
	var opts []concierge.Option

	b, err := openBackend(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	opts = append(opts, concierge.WithStore(b.store, b.journal), concierge.WithCloser(b.close))
	if b.locker != nil {
		opts = append(opts, concierge.WithLocker(b.locker, cfg.Store.LockTTL))
	}

	mws, err := storeMiddleware(cfg.Security)
	if err != nil {
		_ = b.close()
		return nil, err
	}
	opts = append(opts, concierge.WithStoreMiddleware(mws...))

	engine, err := buildEngine(cfg, logger)
	if err != nil {
		_ = b.close()
		return nil, err
	}
	opts = append(opts, concierge.WithEngine(engine))

	orderBackend, err := buildOrders(cfg, logger)
	if err != nil {
		_ = b.close()
		return nil, err
	}
	opts = append(opts,
		concierge.WithOrderBackend(orderBackend),
		concierge.WithOrderClientOptions(orders.WithRetry(cfg.Orders.Retry), orders.WithBreaker(cfg.Orders.Breaker)),
	)

	if cfg.AgentGraph != "" {
		graph, err := os.ReadFile(cfg.AgentGraph)
		if err != nil {
			_ = b.close()
			return nil, fmt.Errorf("failed to read agent graph: %w", err)
		}
		opts = append(opts, concierge.WithAgentGraph(graph))
	}

	if cfg.Tracing.Enabled {
		shutdown, err := observability.InitTracing(cfg.Tracing.Service, traceOut)
		if err != nil {
			_ = b.close()
			return nil, fmt.Errorf("failed to init tracing: %w", err)
		}
		opts = append(opts, concierge.WithCloser(func() error {
			return shutdown(context.Background())
		}))
	}

	if len(cfg.Executor.DenyTools) > 0 {
		interceptors = append([]runner.ToolInterceptor{runner.DenyToolsMiddleware(cfg.Executor.DenyTools...)}, interceptors...)
	}
	if len(interceptors) > 0 {
		opts = append(opts, concierge.WithExecutorOptions(runner.WithInterceptor(runner.MultiInterceptor(interceptors...))))
	}

	metrics := observability.NewMetrics()
	opts = append(opts,
		concierge.WithLogger(logger),
		concierge.WithLifecycleHooks(observability.LoggingHooks(logger)),
		concierge.WithLifecycleHooks(metrics.Hooks()),
		concierge.WithExecutorOptions(
			runner.WithMaxTurns(cfg.Executor.MaxTurns),
			runner.WithContinueOnHandoff(cfg.Executor.ContinueOnHandoff),
		),
		concierge.WithMaxInputSize(cfg.Executor.MaxInputSize),
	)

	c, err := concierge.New(opts...)
	if err != nil {
		_ = b.close()
		return nil, err
	}
	metrics.Gauge("concierge_orders_breaker_open", "1 when the order backend circuit breaker is open.", func() float64 {
		if c.Orders().BreakerState() == gobreaker.StateOpen {
			return 1
		}
		return 0
	})
	return &Deployment{Concierge: c, Metrics: metrics, Store: b.store}, nil
}

// OpenStore opens only the configured state store, for the session commands.
// The returned function releases its connection.
func OpenStore(ctx context.Context, cfg config.Config) (ports.StateStore, func() error, error) {
	b, err := openBackend(ctx, cfg.Store)
	if err != nil {
		return nil, nil, err
	}
	mws, err := storeMiddleware(cfg.Security)
	if err != nil {
		_ = b.close()
		return nil, nil, err
	}
	return middleware.Chain(b.store, mws...), b.close, nil
}

type backend struct {
	store   ports.StateStore
	journal ports.Journal
	locker  ports.DistributedLocker
	close   func() error
}

func noClose() error { return nil }

func openBackend(ctx context.Context, cfg config.StoreConfig) (*backend, error) {
	switch cfg.Backend {
	case "memory":
		journal := memory.NewJournal()
		return &backend{store: memory.NewStore(memory.WithJournal(journal)), journal: journal, close: noClose}, nil
	case "file":
		return &backend{
			store:   file.New(filepath.Join(cfg.Dir, "sessions")),
			journal: file.NewJournal(filepath.Join(cfg.Dir, "journal")),
			close:   noClose,
		}, nil
	case "redis":
		var storeOpts []redisAdapter.Option
		if cfg.Redis.Prefix != "" {
			storeOpts = append(storeOpts, redisAdapter.WithPrefix(cfg.Redis.Prefix))
		}
		if cfg.Redis.TTL > 0 {
			storeOpts = append(storeOpts, redisAdapter.WithTTL(cfg.Redis.TTL))
		}
		store := redisAdapter.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, storeOpts...)
		if err := store.Client().Ping(ctx).Err(); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.Redis.Addr, err)
		}
		b := &backend{
			store:   store,
			journal: redisAdapter.NewJournal(store.Client(), cfg.Redis.Prefix),
			close:   store.Close,
		}
		if cfg.Lock {
			prefix := cfg.Redis.Prefix
			if prefix == "" {
				prefix = redisAdapter.DefaultPrefix
			}
			b.locker = redisAdapter.NewLocker(store.Client(), prefix)
		}
		return b, nil
	case "sqlite":
		store, err := sqlAdapter.Open(cfg.SQLite)
		if err != nil {
			return nil, err
		}
		return &backend{store: store, journal: store.Journal(), close: store.Close}, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}

func storeMiddleware(cfg config.SecurityConfig) ([]middleware.Middleware, error) {
	var mws []middleware.Middleware
	if cfg.PII {
		mws = append(mws, middleware.NewPIIMiddleware(middleware.PIIConfig{
			KeyPatterns:   cfg.PIIKeyPatterns,
			ValuePatterns: middleware.DefaultValuePatterns,
		}))
	}
	active, fallbacks, err := cfg.Keys()
	if err != nil {
		return nil, err
	}
	if active != nil {
		// Innermost, so masking sees plaintext.
		mws = append(mws, middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
			ActiveKey:    active,
			FallbackKeys: fallbacks,
		}))
	}
	return mws, nil
}

func buildEngine(cfg config.Config, logger *slog.Logger) (ports.ReasoningEngine, error) {
	switch cfg.Engine.Kind {
	case "openai":
		key := cfg.Engine.APIKey()
		if key == "" {
			return nil, fmt.Errorf("engine openai needs an api key in $%s", cfg.Engine.APIKeyEnv)
		}
		return openai.New(openai.Config{
			APIKey:      key,
			BaseURL:     cfg.Engine.BaseURL,
			Model:       cfg.Engine.Model,
			Temperature: cfg.Engine.Temperature,
			MaxRetries:  cfg.Engine.MaxRetries,
		}, openai.WithLogger(logger)), nil
	case "rules":
		data := customerservice.RulesYAML()
		if cfg.Rules != "" {
			var err error
			if data, err = os.ReadFile(cfg.Rules); err != nil {
				return nil, fmt.Errorf("failed to read rules: %w", err)
			}
		}
		return rules.Load(data)
	}
	return nil, fmt.Errorf("unknown engine %q", cfg.Engine.Kind)
}

func buildOrders(cfg config.Config, logger *slog.Logger) (ports.OrderService, error) {
	switch cfg.Orders.Backend {
	case "http":
		return orders.NewHTTPClient(cfg.Orders.BaseURL, &http.Client{Timeout: cfg.Orders.Timeout}), nil
	case "local":
		return LocalOrders(cfg, logger), nil
	}
	return nil, fmt.Errorf("unknown orders backend %q", cfg.Orders.Backend)
}

// LocalOrders is the in-process order backend over the mock inventory.
func LocalOrders(cfg config.Config, logger *slog.Logger) *orders.Service {
	inv := orders.NewMockInventory(cfg.Inventory, logger)
	return orders.NewService(inv,
		orders.WithServiceLogger(logger),
		orders.WithInventoryRetry(cfg.Orders.Retry),
	)
}
