package orders

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/aretw0/concierge/internal/logging"
	"github.com/aretw0/concierge/pkg/ports"
	"github.com/google/uuid"
)

// State is the life cycle state of an order.
type State string

const (
	StateNone      State = "NONE"
	StateOpen      State = "OPEN"
	StateClosed    State = "CLOSED"
	StateExecuted  State = "EXECUTED"
	StateCanceled  State = "CANCELED"
	StateFailed    State = "FAILED"
	StateReversing State = "REVERSING"
	StateReversed  State = "REVERSED"
)

type order struct {
	mu      sync.Mutex
	state   State
	pending []EarmarkedItem
	booked  []BookedItem
	removed bool
}

// Service is an in-process bulk order backend. Operations on one order id are
// serialized; different orders proceed in parallel.
type Service struct {
	inventory Inventory
	retry     RetryPolicy
	logger    *slog.Logger
	newID     func() string

	mu     sync.Mutex
	orders map[string]*order
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceLogger configures the logger.
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithInventoryRetry sets the retry policy for transient inventory failures.
func WithInventoryRetry(p RetryPolicy) ServiceOption {
	return func(s *Service) { s.retry = p }
}

// NewService creates a Service on top of inventory.
func NewService(inventory Inventory, opts ...ServiceOption) *Service {
	s := &Service{
		inventory: inventory,
		retry:     DefaultRetryPolicy(),
		logger:    logging.NewNop(),
		newID:     uuid.NewString,
		orders:    make(map[string]*order),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ ports.OrderService = (*Service)(nil)

// lock returns the locked order entry for id, creating it in state NONE.
// Only operations that may change the order call it.
func (s *Service) lock(id string) *order {
	for {
		s.mu.Lock()
		o, ok := s.orders[id]
		if !ok {
			o = &order{state: StateNone}
			s.orders[id] = o
		}
		s.mu.Unlock()
		o.mu.Lock()
		if !o.removed {
			return o
		}
		o.mu.Unlock()
	}
}

// view calls fn with the locked entry for id, or with nil if id is unknown.
func (s *Service) view(id string, fn func(o *order)) {
	s.mu.Lock()
	o := s.orders[id]
	s.mu.Unlock()
	if o == nil {
		fn(nil)
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.removed {
		fn(nil)
		return
	}
	fn(o)
}

// unlock releases an entry taken with lock. An entry left in state NONE is
// forgotten, so failed calls and resets do not keep ids around.
func (s *Service) unlock(id string, o *order) {
	if o.state == StateNone && !o.removed {
		s.mu.Lock()
		if s.orders[id] == o {
			delete(s.orders, id)
		}
		s.mu.Unlock()
		o.removed = true
	}
	o.mu.Unlock()
}

func (o *order) require(legal ...State) error {
	if slices.Contains(legal, o.state) {
		return nil
	}
	return newConflict(o.state, legal...)
}

func (s *Service) GetStatus(ctx context.Context, id string) (string, bool, error) {
	state := StateNone
	s.view(id, func(o *order) {
		if o != nil {
			state = o.state
		}
	})
	return string(state), true, nil
}

func (s *Service) GetPendingItems(ctx context.Context, id string) (string, bool, error) {
	var items []EarmarkedItem
	s.view(id, func(o *order) {
		if o != nil {
			items = slices.Clone(o.pending)
		}
	})
	return renderItems(items)
}

func (s *Service) GetBookedItems(ctx context.Context, id string) (string, bool, error) {
	var items []BookedItem
	s.view(id, func(o *order) {
		if o != nil {
			items = slices.Clone(o.booked)
		}
	})
	return renderItems(items)
}

func renderItems[T any](items []T) (string, bool, error) {
	if items == nil {
		items = []T{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "", false, err
	}
	return string(data), true, nil
}

// Create opens a new order. Only possible if the order did not exist before.
func (s *Service) Create(ctx context.Context, id string) error {
	o := s.lock(id)
	defer s.unlock(id, o)
	if err := o.require(StateNone); err != nil {
		return err
	}
	o.state = StateOpen
	s.logger.Info("Order created", "order_id", id)
	return nil
}

// AddItem earmarks the asset and adds it to the pending items.
// It returns false when the inventory cannot reserve the asset.
func (s *Service) AddItem(ctx context.Context, id string, asset ports.Asset) (bool, error) {
	o := s.lock(id)
	defer s.unlock(id, o)
	if err := o.require(StateOpen); err != nil {
		return false, err
	}

	item := EarmarkedItem{ReservationID: s.newID(), Asset: asset}
	ok, err := retry(ctx, s.retry, s.logger, "earmark", func(ctx context.Context) (bool, error) {
		return s.inventory.Earmark(ctx, id, item)
	})
	if err != nil || !ok {
		return false, err
	}
	o.pending = append(o.pending, item)
	return true, nil
}

// Close books every pending item. With nothing pending the order executes
// trivially. A rejected booking reverses the completed ones and fails the order.
func (s *Service) Close(ctx context.Context, id string) (string, error) {
	o := s.lock(id)
	defer s.unlock(id, o)
	if err := o.require(StateOpen); err != nil {
		return "", err
	}
	o.state = StateClosed
	pending := o.pending
	o.pending = nil

	if len(pending) == 0 {
		o.state = StateExecuted
		return "true", nil
	}

	booked, err := s.book(ctx, id, pending)
	if err != nil {
		o.state = StateFailed
		s.logger.Warn("Order failed", "order_id", id, "err", err)
		return "false", nil
	}
	o.booked = booked
	o.state = StateExecuted
	s.logger.Info("Order executed", "order_id", id, "items", len(booked))
	return "true", nil
}

// book runs the saga: book every item, undo the completed ones on failure.
func (s *Service) book(ctx context.Context, id string, items []EarmarkedItem) ([]BookedItem, error) {
	completed := make([]BookedItem, 0, len(items))
	for _, item := range items {
		b, err := retry(ctx, s.retry, s.logger, "book", func(ctx context.Context) (BookedItem, error) {
			return s.inventory.Book(ctx, id, item)
		})
		if err != nil {
			// Undo must not be cut short by the caller going away.
			undoCtx := context.WithoutCancel(ctx)
			if rerr := s.reverse(undoCtx, completed); rerr != nil {
				return nil, errors.Join(err, rerr)
			}
			return nil, err
		}
		completed = append(completed, b)
	}
	return completed, nil
}

func (s *Service) reverse(ctx context.Context, items []BookedItem) error {
	var errs []error
	for _, b := range items {
		_, err := retry(ctx, s.retry, s.logger, "reverse", func(ctx context.Context) (struct{}, error) {
			return struct{}{}, s.inventory.Reverse(ctx, b)
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Cancel releases earmarks of an open order or reverses the bookings of an
// executed one. It returns the resulting state; an order that never existed
// is marked canceled and "NONE" is returned.
func (s *Service) Cancel(ctx context.Context, id string) (string, error) {
	o := s.lock(id)
	defer s.unlock(id, o)

	switch o.state {
	case StateNone:
		o.state = StateCanceled
		return string(StateNone), nil

	case StateCanceled, StateFailed, StateReversed:
		return string(o.state), nil

	case StateOpen:
		for _, item := range o.pending {
			_, err := retry(ctx, s.retry, s.logger, "release", func(ctx context.Context) (struct{}, error) {
				return struct{}{}, s.inventory.ReleaseEarmark(ctx, item)
			})
			if err != nil {
				return "", err
			}
		}
		o.state = StateCanceled

	case StateExecuted:
		o.state = StateReversing
		if err := s.reverse(ctx, o.booked); err != nil {
			o.state = StateExecuted
			return "", err
		}
		o.state = StateReversed

	default:
		return "", newConflict(o.state, StateNone, StateOpen, StateExecuted, StateCanceled, StateFailed, StateReversed)
	}

	o.pending = nil
	o.booked = nil
	s.logger.Info("Order canceled", "order_id", id, "state", o.state)
	return string(o.state), nil
}

// Reset forgets a finished order so its id can be reused.
func (s *Service) Reset(ctx context.Context, id string) error {
	o := s.lock(id)
	defer s.unlock(id, o)
	if err := o.require(StateNone, StateExecuted, StateCanceled, StateFailed, StateReversed); err != nil {
		return err
	}
	o.state, o.pending, o.booked = StateNone, nil, nil
	return nil
}

// Len returns how many order ids the service currently tracks.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}
