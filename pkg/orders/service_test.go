package orders_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/aretw0/concierge/pkg/orders"
	"github.com/aretw0/concierge/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeInventory rejects bookings of assets listed in reject and counts operations.
type fakeInventory struct {
	mu        sync.Mutex
	reject    map[string]bool
	noEarmark map[string]bool
	transient int // remaining transient failures for Earmark
	released  []string
	reversed  []string
	booked    []string
}

func newFakeInventory() *fakeInventory {
	return &fakeInventory{reject: map[string]bool{}, noEarmark: map[string]bool{}}
}

func (f *fakeInventory) Earmark(ctx context.Context, orderID string, item orders.EarmarkedItem) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.transient > 0 {
		f.transient--
		return false, fmt.Errorf("%w: flaky", orders.ErrTransient)
	}
	return !f.noEarmark[item.Asset.Name], nil
}

func (f *fakeInventory) ReleaseEarmark(ctx context.Context, item orders.EarmarkedItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, item.Asset.Name)
	return nil
}

func (f *fakeInventory) Book(ctx context.Context, orderID string, item orders.EarmarkedItem) (orders.BookedItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject[item.Asset.Name] {
		return orders.BookedItem{}, &orders.BookingError{ReservationID: item.ReservationID, Asset: item.Asset.Name, Quantity: item.Asset.Quantity}
	}
	f.booked = append(f.booked, item.Asset.Name)
	return orders.BookedItem{OrderID: item.ReservationID, Asset: item.Asset}, nil
}

func (f *fakeInventory) Reverse(ctx context.Context, item orders.BookedItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reversed = append(f.reversed, item.Asset.Name)
	return nil
}

func noDelay() orders.ServiceOption {
	return orders.WithInventoryRetry(orders.RetryPolicy{MaxAttempts: 3})
}

func status(t *testing.T, svc *orders.Service, id string) string {
	t.Helper()
	s, ok, err := svc.GetStatus(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok)
	return s
}

func TestService_HappyPath(t *testing.T) {
	inv := newFakeInventory()
	svc := orders.NewService(inv, noDelay())
	ctx := context.Background()

	assert.Equal(t, "NONE", status(t, svc, "o-1"))
	require.NoError(t, svc.Create(ctx, "o-1"))
	assert.Equal(t, "OPEN", status(t, svc, "o-1"))

	ok, err := svc.AddItem(ctx, "o-1", ports.Asset{Name: "MSFT", Quantity: 10})
	require.NoError(t, err)
	assert.True(t, ok)

	pending, _, err := svc.GetPendingItems(ctx, "o-1")
	require.NoError(t, err)
	assert.Contains(t, pending, `"asset":{"name":"MSFT","quantity":10}`)

	res, err := svc.Close(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, "true", res)
	assert.Equal(t, "EXECUTED", status(t, svc, "o-1"))
	assert.Equal(t, []string{"MSFT"}, inv.booked)

	pending, _, _ = svc.GetPendingItems(ctx, "o-1")
	assert.Equal(t, "[]", pending)
	booked, _, _ := svc.GetBookedItems(ctx, "o-1")
	assert.Contains(t, booked, `"name":"MSFT"`)

	res, err = svc.Cancel(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, "REVERSED", res)
	assert.Equal(t, []string{"MSFT"}, inv.reversed)
	booked, _, _ = svc.GetBookedItems(ctx, "o-1")
	assert.Equal(t, "[]", booked)
}

func TestService_CloseEmptyOrder(t *testing.T) {
	svc := orders.NewService(newFakeInventory(), noDelay())
	ctx := context.Background()

	require.NoError(t, svc.Create(ctx, "o"))
	res, err := svc.Close(ctx, "o")
	require.NoError(t, err)
	assert.Equal(t, "true", res)
	assert.Equal(t, "EXECUTED", status(t, svc, "o"))
}

func TestService_SagaUndoOnRejectedBooking(t *testing.T) {
	inv := newFakeInventory()
	inv.reject["GOOG"] = true
	svc := orders.NewService(inv, noDelay())
	ctx := context.Background()

	require.NoError(t, svc.Create(ctx, "o"))
	for _, name := range []string{"AAPL", "GOOG", "MSFT"} {
		ok, err := svc.AddItem(ctx, "o", ports.Asset{Name: name, Quantity: 1})
		require.NoError(t, err)
		require.True(t, ok)
	}

	res, err := svc.Close(ctx, "o")
	require.NoError(t, err)
	assert.Equal(t, "false", res)
	assert.Equal(t, "FAILED", status(t, svc, "o"))
	assert.Equal(t, []string{"AAPL"}, inv.booked)
	assert.Equal(t, []string{"AAPL"}, inv.reversed, "completed bookings are undone")

	res, err = svc.Cancel(ctx, "o")
	require.NoError(t, err)
	assert.Equal(t, "FAILED", res)
}

func TestService_CancelOpenReleasesEarmarks(t *testing.T) {
	inv := newFakeInventory()
	svc := orders.NewService(inv, noDelay())
	ctx := context.Background()

	require.NoError(t, svc.Create(ctx, "o"))
	_, err := svc.AddItem(ctx, "o", ports.Asset{Name: "AAPL", Quantity: 2})
	require.NoError(t, err)

	res, err := svc.Cancel(ctx, "o")
	require.NoError(t, err)
	assert.Equal(t, "CANCELED", res)
	assert.Equal(t, []string{"AAPL"}, inv.released)

	res, err = svc.Cancel(ctx, "o")
	require.NoError(t, err)
	assert.Equal(t, "CANCELED", res, "canceling twice is a no-op")
}

func TestService_CancelUnknownOrder(t *testing.T) {
	svc := orders.NewService(newFakeInventory(), noDelay())

	res, err := svc.Cancel(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Equal(t, "NONE", res)
	assert.Equal(t, "CANCELED", status(t, svc, "ghost"))
}

func TestService_Conflicts(t *testing.T) {
	svc := orders.NewService(newFakeInventory(), noDelay())
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "o", ports.Asset{Name: "X", Quantity: 1})
	var conflict *orders.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, `Order is not in any expected state ["OPEN"], but in state NONE`, err.Error())
	assert.Equal(t, 409, conflict.StatusCode())

	require.NoError(t, svc.Create(ctx, "o"))
	err = svc.Create(ctx, "o")
	assert.EqualError(t, err, `Order is not in any expected state ["NONE"], but in state OPEN`)

	_, err = svc.Close(ctx, "missing")
	assert.ErrorAs(t, err, &conflict)
}

func TestService_AddItemEarmarkRefused(t *testing.T) {
	inv := newFakeInventory()
	inv.noEarmark["RARE"] = true
	svc := orders.NewService(inv, noDelay())
	ctx := context.Background()
	require.NoError(t, svc.Create(ctx, "o"))

	ok, err := svc.AddItem(ctx, "o", ports.Asset{Name: "RARE", Quantity: 1})
	require.NoError(t, err)
	assert.False(t, ok)

	pending, _, _ := svc.GetPendingItems(ctx, "o")
	assert.Equal(t, "[]", pending)
}

func TestService_TransientInventoryErrorsAreRetried(t *testing.T) {
	inv := newFakeInventory()
	inv.transient = 2
	svc := orders.NewService(inv, noDelay())
	ctx := context.Background()
	require.NoError(t, svc.Create(ctx, "o"))

	ok, err := svc.AddItem(ctx, "o", ports.Asset{Name: "X", Quantity: 1})
	require.NoError(t, err)
	assert.True(t, ok)

	inv.transient = 5
	_, err = svc.AddItem(ctx, "o", ports.Asset{Name: "Y", Quantity: 1})
	assert.True(t, errors.Is(err, orders.ErrTransient))
}

func TestService_Reset(t *testing.T) {
	svc := orders.NewService(newFakeInventory(), noDelay())
	ctx := context.Background()

	require.NoError(t, svc.Create(ctx, "o"))
	assert.Error(t, svc.Reset(ctx, "o"), "an open order cannot be reset")

	_, err := svc.Close(ctx, "o")
	require.NoError(t, err)
	require.NoError(t, svc.Reset(ctx, "o"))
	assert.Equal(t, "NONE", status(t, svc, "o"))
	assert.Zero(t, svc.Len(), "a reset order is forgotten")
	require.NoError(t, svc.Create(ctx, "o"), "the id can be reused")
}

func TestService_LookupsDoNotTrackUnknownOrders(t *testing.T) {
	svc := orders.NewService(newFakeInventory(), noDelay())
	ctx := context.Background()

	for i := range 100 {
		id := fmt.Sprintf("unknown-%d", i)
		assert.Equal(t, "NONE", status(t, svc, id))
		pending, ok, err := svc.GetPendingItems(ctx, id)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "[]", pending)
		booked, _, err := svc.GetBookedItems(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "[]", booked)
	}
	assert.Zero(t, svc.Len())

	_, err := svc.AddItem(ctx, "never-created", ports.Asset{Name: "X", Quantity: 1})
	require.Error(t, err)
	_, err = svc.Close(ctx, "never-created")
	require.Error(t, err)
	assert.Zero(t, svc.Len(), "rejected calls leave nothing behind")

	require.NoError(t, svc.Create(ctx, "o"))
	_, err = svc.Cancel(ctx, "ghost")
	require.NoError(t, err)
	assert.Equal(t, 2, svc.Len(), "created and canceled orders are kept")
}

func TestMockInventory_Deterministic(t *testing.T) {
	inv := orders.NewMockInventory(orders.MockConfig{FailedOrderProb: 1, Seed: 7}, nil)
	ctx := context.Background()

	ok, err := inv.Earmark(ctx, "o", orders.EarmarkedItem{ReservationID: "r", Asset: ports.Asset{Name: "A", Quantity: 1}})
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = inv.Book(ctx, "o", orders.EarmarkedItem{ReservationID: "r", Asset: ports.Asset{Name: "A", Quantity: 1}})
	var booking *orders.BookingError
	require.ErrorAs(t, err, &booking)
	assert.Equal(t, "Not possible to book order r (1 of A)", err.Error())

	always := orders.NewMockInventory(orders.MockConfig{TransientErrProb: 1}, nil)
	assert.ErrorIs(t, always.ReleaseEarmark(ctx, orders.EarmarkedItem{}), orders.ErrTransient)
}
