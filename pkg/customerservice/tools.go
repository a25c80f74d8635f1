package customerservice

import (
	"context"
	"fmt"

	"github.com/aretw0/concierge/pkg/durable"
	"github.com/aretw0/concierge/pkg/orders"
	"github.com/aretw0/concierge/pkg/ports"
	"github.com/aretw0/concierge/pkg/registry"
)

func orderIDSchema(description string) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"order_id": map[string]any{"type": "string", "description": description},
		},
		"required":             []string{"order_id"},
		"additionalProperties": false,
	}
}

const orderIDDescription = "The unique order id by which to identify the order."

type orderRef struct {
	OrderID string `mapstructure:"order_id"`
}

type addItemArgs struct {
	OrderID     string `mapstructure:"order_id"`
	ports.Asset `mapstructure:",squash"`
}

// Tools returns the seven order tools. Every backend call goes through client
// as a durable step of the invocation that runs the tool.
func Tools(client *orders.Client) []registry.ToolDef {
	t := &toolset{client: client}
	return []registry.ToolDef{
		{
			Name:        "get_order_status",
			Description: "Gets the life cycle status of the order.",
			Parameters:  orderIDSchema(orderIDDescription),
			Handler:     t.getOrderStatus,
		},
		{
			Name:        "get_pending_order_items",
			Description: "Gets the pending items of the order, i.e., items that have not been booked",
			Parameters:  orderIDSchema(orderIDDescription),
			Handler:     t.getPendingItems,
		},
		{
			Name:        "get_booked_order_items",
			Description: "Gets the booked items of the order, i.e., items that have been successfully ordered",
			Parameters:  orderIDSchema(orderIDDescription),
			Handler:     t.getBookedItems,
		},
		{
			Name:        "create_new_order",
			Description: "Create a new empty order.",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
			Handler:     t.createNewOrder,
		},
		{
			Name:        "add_order_item",
			Description: "Adds an item to the order.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"order_id":       map[string]any{"type": "string", "description": "The unique order id by which to identify the order to which to add the item."},
					"asset_name":     map[string]any{"type": "string", "description": "The name of the asset in the order item."},
					"asset_quantity": map[string]any{"type": "integer", "description": "The quantity of the asset in the order item."},
				},
				"required":             []string{"order_id", "asset_name", "asset_quantity"},
				"additionalProperties": false,
			},
			Handler: t.addOrderItem,
		},
		{
			Name:        ExecuteOrderTool,
			Description: "Executes an order.",
			Parameters:  orderIDSchema(orderIDDescription),
			Handler:     t.executeOrder,
		},
		{
			Name:        CancelOrderTool,
			Description: "Cancels or reverses an order.",
			Parameters:  orderIDSchema(orderIDDescription),
			Handler:     t.cancelOrder,
		},
	}
}

type toolset struct {
	client *orders.Client
}

func (t *toolset) orders(call *registry.Call) ports.OrderService {
	return t.client.With(call.Steps)
}

// aborts reports whether err must stop the invocation instead of being told to the customer.
func aborts(ctx context.Context, err error) bool {
	return durable.IsFatal(err) || ctx.Err() != nil
}

func (t *toolset) getOrderStatus(ctx context.Context, call *registry.Call, args map[string]any) (string, error) {
	var ref orderRef
	if err := registry.DecodeArgs(args, &ref); err != nil {
		return "", err
	}
	status, ok, err := t.orders(call).GetStatus(ctx, ref.OrderID)
	if err != nil {
		return "", err
	}
	if !ok || status == string(orders.StateNone) {
		return fmt.Sprintf("Could not find the order with number %s", ref.OrderID), nil
	}
	return fmt.Sprintf("Status of order %s is %s", ref.OrderID, status), nil
}

func (t *toolset) getPendingItems(ctx context.Context, call *registry.Call, args map[string]any) (string, error) {
	var ref orderRef
	if err := registry.DecodeArgs(args, &ref); err != nil {
		return "", err
	}
	items, ok, err := t.orders(call).GetPendingItems(ctx, ref.OrderID)
	if err != nil {
		return "", err
	}
	if !ok {
		return fmt.Sprintf("Could not find the order with number %s", ref.OrderID), nil
	}
	return fmt.Sprintf("The order %s contains these pending order items %s", ref.OrderID, items), nil
}

func (t *toolset) getBookedItems(ctx context.Context, call *registry.Call, args map[string]any) (string, error) {
	var ref orderRef
	if err := registry.DecodeArgs(args, &ref); err != nil {
		return "", err
	}
	items, ok, err := t.orders(call).GetBookedItems(ctx, ref.OrderID)
	if err != nil {
		return "", err
	}
	if !ok {
		return fmt.Sprintf("Could not find the order with number %s", ref.OrderID), nil
	}
	return fmt.Sprintf("The order %s contains these completed order items %s", ref.OrderID, items), nil
}

func (t *toolset) createNewOrder(ctx context.Context, call *registry.Call, _ map[string]any) (string, error) {
	id, err := durable.UUID(ctx, call.Steps, "create unique order id")
	if err != nil {
		return "", err
	}
	if err := t.orders(call).Create(ctx, id); err != nil {
		if aborts(ctx, err) {
			return "", err
		}
		return fmt.Sprintf("Could not create order %s: %v", id, err), nil
	}
	call.Logger.Info("Order created", "order_id", id)
	return fmt.Sprintf("Created a new order with id: %s", id), nil
}

func (t *toolset) addOrderItem(ctx context.Context, call *registry.Call, args map[string]any) (string, error) {
	var in addItemArgs
	if err := registry.DecodeArgs(args, &in); err != nil {
		return "", err
	}
	added, err := t.orders(call).AddItem(ctx, in.OrderID, in.Asset)
	if err != nil {
		if aborts(ctx, err) {
			return "", err
		}
		return fmt.Sprintf("Failed to add item to %s: %v", in.OrderID, err), nil
	}
	if !added {
		return fmt.Sprintf("Could not add %s to order %s", in.Asset, in.OrderID), nil
	}
	return fmt.Sprintf("Item %s was successfully added to order %s", in.Asset, in.OrderID), nil
}

func (t *toolset) executeOrder(ctx context.Context, call *registry.Call, args map[string]any) (string, error) {
	var ref orderRef
	if err := registry.DecodeArgs(args, &ref); err != nil {
		return "", err
	}
	result, err := t.orders(call).Close(ctx, ref.OrderID)
	if err != nil {
		if aborts(ctx, err) {
			return "", err
		}
		result = fmt.Sprintf("Could not execute order %s: %v", ref.OrderID, err)
	}
	return fmt.Sprintf("Tried to execute order, the result was %s", result), nil
}

func (t *toolset) cancelOrder(ctx context.Context, call *registry.Call, args map[string]any) (string, error) {
	var ref orderRef
	if err := registry.DecodeArgs(args, &ref); err != nil {
		return "", err
	}
	result, err := t.orders(call).Cancel(ctx, ref.OrderID)
	if err != nil {
		if aborts(ctx, err) {
			return "", err
		}
		result = fmt.Sprintf("Could not cancel or revert order %s: %v", ref.OrderID, err)
	}
	return fmt.Sprintf("Canceling order resulted in %s", result), nil
}
