package app_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"order-outbox/orders/internal/app"
	"order-outbox/orders/internal/domain"
)

func TestCreateOrderRecordsCreatedEvent(t *testing.T) {
	f := newFixture(t, app.Options{})

	out, err := f.create.Execute(context.Background(), app.CreateOrderInput{OrderID: "o-7", CustomerID: "c-7"})
	require.NoError(t, err)
	assert.Equal(t, "o-7", out.OrderID)

	records := f.store.Records()
	require.Len(t, records, 1)
	assert.Equal(t, string(domain.EventOrderCreated), records[0].EventType)
	assert.JSONEq(t, `{"order_id":"o-7","customer_id":"c-7"}`, string(records[0].Payload))
}

func TestCreateOrderGeneratesID(t *testing.T) {
	f := newFixture(t, app.Options{})

	out, err := f.create.Execute(context.Background(), app.CreateOrderInput{CustomerID: "c-1"})
	require.NoError(t, err)
	_, err = uuid.Parse(out.OrderID)
	assert.NoError(t, err)
}

func TestCreateOrderDuplicateIsConflict(t *testing.T) {
	f := newFixture(t, app.Options{})
	f.newOrder(t, "o-1")

	_, err := f.create.Execute(context.Background(), app.CreateOrderInput{OrderID: "o-1", CustomerID: "c-2"})

	appErr := requireKind(t, err, app.KindConflict)
	assert.ErrorIs(t, appErr, app.ErrDuplicateOrder)
	assert.Len(t, f.store.Records(), 1)
}

func TestCreateOrderRequiresCustomer(t *testing.T) {
	f := newFixture(t, app.Options{})

	_, err := f.create.Execute(context.Background(), app.CreateOrderInput{OrderID: "o-1"})

	appErr := requireKind(t, err, app.KindValidation)
	assert.Equal(t, "Customer ID is required", appErr.Fields["customerId"])
	assert.Equal(t, 0, f.store.Calls().Save)
}

func TestGetOrderReturnsView(t *testing.T) {
	f := newFixture(t, app.Options{})
	f.newOrder(t, "o-1")
	_, err := f.addItem.Execute(context.Background(), app.AddItemInput{OrderID: "o-1", SKU: "abc-1", Quantity: 3, Currency: "EUR"})
	require.NoError(t, err)

	view, err := app.NewGetOrder(f.store).Execute(context.Background(), "o-1")
	require.NoError(t, err)
	assert.Equal(t, "c-1", view.CustomerID)
	assert.Equal(t, "30.00", view.Total)
	assert.Equal(t, "EUR", view.Currency)
	assert.Equal(t, 2, view.Version)
	require.Len(t, view.Items, 1)
	assert.Equal(t, app.OrderItemView{SKU: "abc-1", Quantity: 3, UnitPrice: "10.00", Subtotal: "30.00", Currency: "EUR"}, view.Items[0])
}

func TestGetOrderNotFound(t *testing.T) {
	f := newFixture(t, app.Options{})

	_, err := app.NewGetOrder(f.store).Execute(context.Background(), "nope")
	requireKind(t, err, app.KindNotFound)

	_, err = app.NewGetOrder(f.store).Execute(context.Background(), "")
	requireKind(t, err, app.KindValidation)
}
