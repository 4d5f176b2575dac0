package domain

import (
	"encoding/json"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func mustSKU(t *testing.T, raw string) SKU {
	t.Helper()
	sku, err := NewSKU(raw)
	require.NoError(t, err)
	return sku
}

func mustMoney(t *testing.T, amount string, currency Currency) Money {
	t.Helper()
	m, err := ParseMoney(amount, currency)
	require.NoError(t, err)
	return m
}

func mustQty(t *testing.T, n int) Quantity {
	t.Helper()
	q, err := NewQuantity(n, DefaultMaxQuantity)
	require.NoError(t, err)
	return q
}

func TestNewOrderRecordsCreatedEvent(t *testing.T) {
	order := NewOrder("o-1", "c-1", testNow)

	events := order.PullDomainEvents()
	require.Len(t, events, 1)
	assert.Equal(t, EventOrderCreated, events[0].Type)
	assert.Equal(t, OrderID("o-1"), events[0].AggregateID)
	assert.Equal(t, testNow, events[0].OccurredAt)
	assert.Equal(t, OrderCreated{OrderID: "o-1", CustomerID: "c-1"}, events[0].Payload)
}

func TestScenarioTwoItemsSameCurrency(t *testing.T) {
	order := NewOrder("o-1", "c-1", testNow)

	require.NoError(t, order.AddItem(mustSKU(t, "abc-1"), mustMoney(t, "10.00", EUR), mustQty(t, 2), testNow))
	require.NoError(t, order.AddItem(mustSKU(t, "abc-2"), mustMoney(t, "5.00", EUR), mustQty(t, 1), testNow))

	total := order.Total()
	assert.Equal(t, EUR, total.Currency())
	assert.Equal(t, "25.00", total.StringFixed())

	events := order.PullDomainEvents()
	counts := map[EventType]int{}
	for _, e := range events {
		counts[e.Type]++
	}
	assert.Equal(t, 1, counts[EventOrderCreated])
	assert.Equal(t, 2, counts[EventOrderItemAdded])
}

func TestScenarioCurrencyMismatchLeavesOrderUnchanged(t *testing.T) {
	order := NewOrder("o-1", "c-1", testNow)
	require.NoError(t, order.AddItem(mustSKU(t, "abc-1"), mustMoney(t, "10.00", EUR), mustQty(t, 1), testNow))
	order.PullDomainEvents()
	before := order.Total()

	err := order.AddItem(mustSKU(t, "abc-2"), mustMoney(t, "10.00", USD), mustQty(t, 1), testNow)

	require.ErrorIs(t, err, ErrCurrencyMismatch)
	assert.Len(t, order.Items(), 1)
	assert.True(t, before.Equal(order.Total()))
	assert.Empty(t, order.PullDomainEvents())
}

func TestCurrencyInvariantHoldsForRandomSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	currencies := []Currency{USD, EUR, GBP}

	for run := 0; run < 200; run++ {
		order := NewOrder("o-prop", "c-prop", testNow)
		var established Currency
		for step := 0; step < 8; step++ {
			c := currencies[rng.Intn(len(currencies))]
			beforeLen := len(order.Items())
			beforeTotal := order.Total()

			err := order.AddItem(mustSKU(t, "sku-1"), mustMoney(t, "1.25", c), mustQty(t, 1+rng.Intn(5)), testNow)

			if established == "" {
				require.NoError(t, err)
				established = c
				continue
			}
			if c != established {
				require.ErrorIs(t, err, ErrCurrencyMismatch)
				require.Len(t, order.Items(), beforeLen)
				require.True(t, beforeTotal.Equal(order.Total()))
			} else {
				require.NoError(t, err)
			}
		}
	}
}

func TestTotalMatchesSumOfSubtotals(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for run := 0; run < 100; run++ {
		order := NewOrder("o-sum", "c-sum", testNow)
		expected := decimal.Zero
		for i := 0; i < 1+rng.Intn(10); i++ {
			cents := rng.Int63n(100000)
			price, err := NewMoney(decimal.New(cents, -2), USD)
			require.NoError(t, err)
			qty := 1 + rng.Intn(20)
			require.NoError(t, order.AddItem(mustSKU(t, "sku-9"), price, mustQty(t, qty), testNow))
			expected = expected.Add(decimal.New(cents, -2).Mul(decimal.NewFromInt(int64(qty))))
		}
		require.True(t, expected.Round(2).Equal(order.Total().Amount()),
			"expected %s, got %s", expected.StringFixed(2), order.Total().StringFixed())
	}
}

func TestEmptyOrderTotalIsZeroInDefaultCurrency(t *testing.T) {
	order := NewOrder("o-1", "c-1", testNow)
	assert.True(t, order.Total().Equal(Zero(DefaultCurrency)))
	_, ok := order.Currency()
	assert.False(t, ok)
}

func TestPullDomainEventsDrainsOnce(t *testing.T) {
	order := NewOrder("o-1", "c-1", testNow)
	require.NoError(t, order.AddItem(mustSKU(t, "abc-1"), mustMoney(t, "1.00", USD), mustQty(t, 1), testNow))

	first := order.PullDomainEvents()
	second := order.PullDomainEvents()
	assert.Len(t, first, 2)
	assert.Empty(t, second)

	// The drained slice is owned by the caller.
	first[0].Type = "tampered"
	require.NoError(t, order.AddItem(mustSKU(t, "abc-2"), mustMoney(t, "1.00", USD), mustQty(t, 1), testNow))
	third := order.PullDomainEvents()
	require.Len(t, third, 1)
	assert.Equal(t, EventOrderItemAdded, third[0].Type)
}

func TestRestoredOrderHasNoEvents(t *testing.T) {
	items := []OrderItem{NewOrderItem(mustSKU(t, "abc-1"), mustMoney(t, "3.10", GBP), mustQty(t, 3))}
	order := RestoreOrder("o-9", "c-9", items, 4)

	items[0] = OrderItem{}
	assert.Empty(t, order.PullDomainEvents())
	assert.Equal(t, 4, order.Version())
	assert.Equal(t, "9.30", order.Total().StringFixed())
}

func TestItemAddedPayloadSerializes(t *testing.T) {
	order := NewOrder("o-1", "c-1", testNow)
	require.NoError(t, order.AddItem(mustSKU(t, "abc-1"), mustMoney(t, "10", EUR), mustQty(t, 2), testNow))
	events := order.PullDomainEvents()

	raw, err := events[1].MarshalPayload()
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(raw, &payload))
	assert.Equal(t, "abc-1", payload["sku"])
	assert.Equal(t, "10.00", payload["unit_price"])
	assert.Equal(t, "20.00", payload["subtotal"])
	assert.Equal(t, "EUR", payload["currency"])
}
