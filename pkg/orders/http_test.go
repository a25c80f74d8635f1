package orders_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aretw0/concierge/pkg/orders"
	"github.com/aretw0/concierge/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTP_RoundTrip(t *testing.T) {
	svc := orders.NewService(newFakeInventory(), noDelay())
	srv := httptest.NewServer(orders.NewHandler(svc, nil))
	defer srv.Close()

	client := orders.NewHTTPClient(srv.URL, srv.Client())
	ctx := context.Background()

	status, ok, err := client.GetStatus(ctx, "order 1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "NONE", status)

	require.NoError(t, client.Create(ctx, "order 1"))
	added, err := client.AddItem(ctx, "order 1", ports.Asset{Name: "AAPL", Quantity: 3})
	require.NoError(t, err)
	assert.True(t, added)

	pending, _, err := client.GetPendingItems(ctx, "order 1")
	require.NoError(t, err)
	assert.Contains(t, pending, `"quantity":3`)

	res, err := client.Close(ctx, "order 1")
	require.NoError(t, err)
	assert.Equal(t, "true", res)

	res, err = client.Cancel(ctx, "order 1")
	require.NoError(t, err)
	assert.Equal(t, "REVERSED", res)
}

func TestHTTP_ConflictMapsTo409(t *testing.T) {
	svc := orders.NewService(newFakeInventory(), noDelay())
	srv := httptest.NewServer(orders.NewHandler(svc, nil))
	defer srv.Close()

	resp, err := srv.Client().Post(srv.URL+"/orders/x/close", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	client := orders.NewHTTPClient(srv.URL, srv.Client())
	_, err = client.Close(context.Background(), "x")
	var conflict *orders.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, `Order is not in any expected state ["OPEN"], but in state NONE`, err.Error())
	assert.False(t, orders.IsRetryable(err))
}

func TestHTTP_BadBody(t *testing.T) {
	srv := httptest.NewServer(orders.NewHandler(orders.NewService(newFakeInventory()), nil))
	defer srv.Close()

	resp, err := srv.Client().Post(srv.URL+"/orders/x/items", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHTTP_ServerErrorsAreRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, _, err := orders.NewHTTPClient(srv.URL, nil).GetStatus(context.Background(), "o")
	var se *orders.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.Code)
	assert.Equal(t, "Request failed (502): boom", err.Error())
	assert.True(t, orders.IsRetryable(err))
}
