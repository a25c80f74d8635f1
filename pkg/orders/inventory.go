package orders

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/aretw0/concierge/internal/logging"
	"github.com/aretw0/concierge/pkg/ports"
)

// EarmarkedItem is a pending order item holding an inventory reservation.
type EarmarkedItem struct {
	ReservationID string      `json:"reservationId"`
	Asset         ports.Asset `json:"asset"`
}

// BookedItem is an order item the inventory has sold.
type BookedItem struct {
	OrderID string      `json:"orderId"`
	Asset   ports.Asset `json:"asset"`
}

// Inventory is the asset inventory behind the order backend.
type Inventory interface {
	Earmark(ctx context.Context, orderID string, item EarmarkedItem) (bool, error)
	ReleaseEarmark(ctx context.Context, item EarmarkedItem) error
	Book(ctx context.Context, orderID string, item EarmarkedItem) (BookedItem, error)
	Reverse(ctx context.Context, item BookedItem) error
}

// MockConfig tunes MockInventory.
type MockConfig struct {
	Delay             time.Duration `yaml:"delay"`
	TransientErrProb  float64       `yaml:"transient_error_prob"`
	FailedEarmarkProb float64       `yaml:"failed_earmark_prob"`
	FailedOrderProb   float64       `yaml:"failed_order_prob"`
	Seed              uint64        `yaml:"seed"`
}

// DefaultMockConfig mirrors a mildly unreliable inventory.
func DefaultMockConfig() MockConfig {
	return MockConfig{
		Delay:             time.Second,
		TransientErrProb:  0.05,
		FailedEarmarkProb: 0.0,
		FailedOrderProb:   0.05,
	}
}

// MockInventory fakes inventory calls with delays and random failures.
type MockInventory struct {
	cfg    MockConfig
	logger *slog.Logger

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewMockInventory creates a MockInventory. A zero Seed picks a random one.
func NewMockInventory(cfg MockConfig, logger *slog.Logger) *MockInventory {
	if logger == nil {
		logger = logging.NewNop()
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &MockInventory{
		cfg:    cfg,
		logger: logger,
		rnd:    rand.New(rand.NewPCG(seed, seed>>1|1)),
	}
}

func (m *MockInventory) roll() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rnd.Float64()
}

func (m *MockInventory) delay(ctx context.Context) error {
	if m.cfg.Delay <= 0 {
		return nil
	}
	jitter := time.Duration(m.roll() * float64(100*time.Millisecond))
	select {
	case <-time.After(m.cfg.Delay + jitter):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *MockInventory) maybeFail(ctx context.Context) error {
	if err := m.delay(ctx); err != nil {
		return err
	}
	if m.roll() < m.cfg.TransientErrProb {
		return fmt.Errorf("%w: Transient API error", ErrTransient)
	}
	return nil
}

func (m *MockInventory) Earmark(ctx context.Context, orderID string, item EarmarkedItem) (bool, error) {
	if err := m.maybeFail(ctx); err != nil {
		return false, err
	}
	ok := m.roll() >= m.cfg.FailedEarmarkProb
	m.logger.Info("Earmark", "order_id", orderID, "reservation", item.ReservationID, "asset", item.Asset.Name, "ok", ok)
	return ok, nil
}

func (m *MockInventory) ReleaseEarmark(ctx context.Context, item EarmarkedItem) error {
	if err := m.maybeFail(ctx); err != nil {
		return err
	}
	m.logger.Info("Released earmark", "reservation", item.ReservationID)
	return nil
}

func (m *MockInventory) Book(ctx context.Context, orderID string, item EarmarkedItem) (BookedItem, error) {
	if err := m.maybeFail(ctx); err != nil {
		return BookedItem{}, err
	}
	if m.roll() < m.cfg.FailedOrderProb {
		m.logger.Warn("Booking rejected", "order_id", orderID, "reservation", item.ReservationID)
		return BookedItem{}, &BookingError{ReservationID: item.ReservationID, Asset: item.Asset.Name, Quantity: item.Asset.Quantity}
	}
	m.logger.Info("Booked", "order_id", orderID, "reservation", item.ReservationID)
	return BookedItem{OrderID: item.ReservationID, Asset: item.Asset}, nil
}

func (m *MockInventory) Reverse(ctx context.Context, item BookedItem) error {
	if err := m.delay(ctx); err != nil {
		return err
	}
	m.logger.Info("Reversed booking", "order_id", item.OrderID)
	return nil
}
