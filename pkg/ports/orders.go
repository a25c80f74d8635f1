package ports

import (
	"context"
	"fmt"
)

// Asset is one order item: a named asset and a quantity.
type Asset struct {
	Name     string `json:"name" mapstructure:"asset_name"`
	Quantity int    `json:"quantity" mapstructure:"asset_quantity"`
}

func (a Asset) String() string {
	return fmt.Sprintf("name='%s' quantity=%d", a.Name, a.Quantity)
}

// OrderService is the keyed order-management backend.
// Every operation targets one order id and the backend serialises access per id.
// Reads return ok=false when the backend has nothing to report.
type OrderService interface {
	GetStatus(ctx context.Context, orderID string) (status string, ok bool, err error)
	GetPendingItems(ctx context.Context, orderID string) (items string, ok bool, err error)
	GetBookedItems(ctx context.Context, orderID string) (items string, ok bool, err error)
	Create(ctx context.Context, orderID string) error
	AddItem(ctx context.Context, orderID string, item Asset) (bool, error)
	Close(ctx context.Context, orderID string) (string, error)
	Cancel(ctx context.Context, orderID string) (string, error)
}
