package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/concierge/internal/logging"
	"github.com/aretw0/concierge/pkg/durable"
	"github.com/aretw0/concierge/pkg/ports"
	"github.com/sony/gobreaker/v2"
)

// BreakerConfig configures the circuit breaker in front of the backend.
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

const (
	defaultBreakerMaxFailures uint32 = 5
	defaultBreakerTimeout            = 30 * time.Second
	defaultBreakerInterval           = 60 * time.Second
)

// Client is the agents' view of the order backend: retries, a circuit breaker
// and durable step recording around any ports.OrderService.
type Client struct {
	backend ports.OrderService
	retry   RetryPolicy
	breaker *gobreaker.CircuitBreaker[any]
	logger  *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*clientConfig)

type clientConfig struct {
	retry   RetryPolicy
	breaker BreakerConfig
	logger  *slog.Logger
}

// WithRetry sets the retry policy.
func WithRetry(p RetryPolicy) ClientOption {
	return func(c *clientConfig) { c.retry = p }
}

// WithBreaker sets the circuit breaker settings.
func WithBreaker(b BreakerConfig) ClientOption {
	return func(c *clientConfig) { c.breaker = b }
}

// WithClientLogger configures the logger.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *clientConfig) { c.logger = logger }
}

// NewClient wraps backend.
func NewClient(backend ports.OrderService, opts ...ClientOption) *Client {
	cfg := clientConfig{retry: DefaultRetryPolicy(), logger: logging.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	maxFailures := cfg.breaker.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultBreakerMaxFailures
	}
	timeout := cfg.breaker.Timeout
	if timeout == 0 {
		timeout = defaultBreakerTimeout
	}
	interval := cfg.breaker.Interval
	if interval == 0 {
		interval = defaultBreakerInterval
	}

	logger := cfg.logger
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "orders",
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
		// A conflict is a healthy backend saying no.
		IsSuccessful: func(err error) bool {
			return err == nil || !IsRetryable(err)
		},
	})

	return &Client{backend: backend, retry: cfg.retry, breaker: cb, logger: logger}
}

// BreakerState returns the circuit breaker state for monitoring.
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}

// With returns an OrderService whose calls are durable steps of steps.
// A failure that survives the retries is recorded as a terminal outcome, so a
// replay reports the same failure instead of calling the backend again.
func (c *Client) With(steps durable.Runner) ports.OrderService {
	return &stepClient{c: c, steps: steps}
}

func call[T any](ctx context.Context, c *Client, op string, fn func(context.Context) (T, error)) (T, error) {
	out, err := retry(ctx, c.retry, c.logger, op, func(ctx context.Context) (T, error) {
		v, err := c.breaker.Execute(func() (any, error) {
			return fn(ctx)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return *new(T), fmt.Errorf("order backend unavailable: %w", err)
			}
			return *new(T), err
		}
		return v.(T), nil
	})
	if err != nil && ctx.Err() == nil {
		return out, durable.Terminal(err)
	}
	return out, err
}

type stepClient struct {
	c     *Client
	steps durable.Runner
}

type orderArgs struct {
	OrderID string       `json:"order_id"`
	Item    *ports.Asset `json:"item,omitempty"`
}

type lookup struct {
	Value string `json:"value"`
	OK    bool   `json:"ok"`
}

func (s *stepClient) read(ctx context.Context, op, id string, fn func(context.Context, string) (string, bool, error)) (string, bool, error) {
	res, err := durable.Run(ctx, s.steps, "bulkOrder/"+op, orderArgs{OrderID: id}, func(ctx context.Context) (lookup, error) {
		return call(ctx, s.c, op, func(ctx context.Context) (lookup, error) {
			v, ok, err := fn(ctx, id)
			return lookup{Value: v, OK: ok}, err
		})
	})
	return res.Value, res.OK, err
}

func (s *stepClient) GetStatus(ctx context.Context, id string) (string, bool, error) {
	return s.read(ctx, "getStatus", id, s.c.backend.GetStatus)
}

func (s *stepClient) GetPendingItems(ctx context.Context, id string) (string, bool, error) {
	return s.read(ctx, "getPendingOrders", id, s.c.backend.GetPendingItems)
}

func (s *stepClient) GetBookedItems(ctx context.Context, id string) (string, bool, error) {
	return s.read(ctx, "getBookedOrders", id, s.c.backend.GetBookedItems)
}

func (s *stepClient) Create(ctx context.Context, id string) error {
	_, err := durable.Run(ctx, s.steps, "bulkOrder/create", orderArgs{OrderID: id}, func(ctx context.Context) (struct{}, error) {
		return call(ctx, s.c, "create", func(ctx context.Context) (struct{}, error) {
			return struct{}{}, s.c.backend.Create(ctx, id)
		})
	})
	return err
}

func (s *stepClient) AddItem(ctx context.Context, id string, item ports.Asset) (bool, error) {
	return durable.Run(ctx, s.steps, "bulkOrder/addOrder", orderArgs{OrderID: id, Item: &item}, func(ctx context.Context) (bool, error) {
		return call(ctx, s.c, "addOrder", func(ctx context.Context) (bool, error) {
			return s.c.backend.AddItem(ctx, id, item)
		})
	})
}

func (s *stepClient) Close(ctx context.Context, id string) (string, error) {
	return s.write(ctx, "close", id, s.c.backend.Close)
}

func (s *stepClient) Cancel(ctx context.Context, id string) (string, error) {
	return s.write(ctx, "cancel", id, s.c.backend.Cancel)
}

func (s *stepClient) write(ctx context.Context, op, id string, fn func(context.Context, string) (string, error)) (string, error) {
	return durable.Run(ctx, s.steps, "bulkOrder/"+op, orderArgs{OrderID: id}, func(ctx context.Context) (string, error) {
		return call(ctx, s.c, op, func(ctx context.Context) (string, error) {
			return fn(ctx, id)
		})
	})
}
