package domain

import (
	"fmt"
	"time"
)

type OrderID string

type CustomerID string

type OrderItem struct {
	sku       SKU
	unitPrice Money
	quantity  Quantity
}

func NewOrderItem(sku SKU, unitPrice Money, quantity Quantity) OrderItem {
	return OrderItem{sku: sku, unitPrice: unitPrice, quantity: quantity}
}

func (i OrderItem) SKU() SKU { return i.sku }
func (i OrderItem) UnitPrice() Money { return i.unitPrice }
func (i OrderItem) Quantity() Quantity { return i.quantity }
func (i OrderItem) Subtotal() Money { return i.unitPrice.Mul(i.quantity.Int()) }
func (i OrderItem) Currency() Currency { return i.unitPrice.Currency() }

// Order is the aggregate root. Items and the pending event buffer are only
// changed through its methods; the currency of the first item fixes the
// order's currency for its lifetime.
type Order struct {
	id         OrderID
	customerID CustomerID
	items      []OrderItem
	events     []Event
	version    int
}

// NewOrder starts a fresh aggregate with a buffered OrderCreated event.
func NewOrder(id OrderID, customerID CustomerID, at time.Time) *Order {
	o := &Order{id: id, customerID: customerID}
	o.record(at, OrderCreated{OrderID: string(id), CustomerID: string(customerID)})
	return o
}

// RestoreOrder rebuilds a persisted aggregate. No events are recorded.
func RestoreOrder(id OrderID, customerID CustomerID, items []OrderItem, version int) *Order {
	owned := make([]OrderItem, len(items))
	copy(owned, items)
	return &Order{id: id, customerID: customerID, items: owned, version: version}
}

func (o *Order) ID() OrderID { return o.id }
func (o *Order) CustomerID() CustomerID { return o.customerID }
func (o *Order) Version() int { return o.version }

// Items returns a copy; callers cannot reach the aggregate's slice.
func (o *Order) Items() []OrderItem {
	out := make([]OrderItem, len(o.items))
	copy(out, o.items)
	return out
}

// Currency reports the established currency, false while the order is empty.
func (o *Order) Currency() (Currency, bool) {
	if len(o.items) == 0 {
		return "", false
	}
	return o.items[0].Currency(), true
}

// AddItem appends a line item and records OrderItemAdded. On error nothing
// changes.
func (o *Order) AddItem(sku SKU, unitPrice Money, quantity Quantity, at time.Time) error {
	if current, ok := o.Currency(); ok && current != unitPrice.Currency() {
		return fmt.Errorf("%w: order %s is priced in %s, item %s in %s",
			ErrCurrencyMismatch, o.id, current, sku, unitPrice.Currency())
	}
	if quantity.Int() <= 0 {
		return fmt.Errorf("%w: zero quantity", ErrInvalidQuantity)
	}

	item := NewOrderItem(sku, unitPrice, quantity)
	payload := OrderItemAdded{
		OrderID:   string(o.id),
		SKU:       sku.String(),
		Quantity:  quantity.Int(),
		UnitPrice: unitPrice.StringFixed(),
		Subtotal:  item.Subtotal().StringFixed(),
		Currency:  string(unitPrice.Currency()),
	}

	o.items = append(o.items, item)
	o.record(at, payload)
	return nil
}

// Total sums item subtotals, or returns zero in DefaultCurrency when empty.
func (o *Order) Total() Money {
	currency, ok := o.Currency()
	if !ok {
		return Zero(DefaultCurrency)
	}
	total := Zero(currency)
	for _, item := range o.items {
		// AddItem guarantees a single currency, so Add cannot fail here.
		total, _ = total.Add(item.Subtotal())
	}
	return total
}

// PullDomainEvents hands over the pending events and empties the buffer. A
// second call without further mutations returns an empty slice.
func (o *Order) PullDomainEvents() []Event {
	out := make([]Event, len(o.events))
	copy(out, o.events)
	o.events = nil
	return out
}

func (o *Order) record(at time.Time, payload EventPayload) {
	o.events = append(o.events, newEvent(o.id, at, payload))
}
