package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const AggregateTypeOrder = "order"

type EventType string

const (
	EventOrderCreated   EventType = "order.created"
	EventOrderItemAdded EventType = "order.item_added"
)

// EventPayload is implemented only by the payload types in this package.
type EventPayload interface {
	eventType() EventType
}

// Event is an immutable record of something that happened to an order. ID is
// assigned when the event is recorded and doubles as the outbox row id and the
// consumer idempotency key.
type Event struct {
	ID          uuid.UUID
	Type        EventType
	AggregateID OrderID
	OccurredAt  time.Time
	Payload     EventPayload
}

func newEvent(aggregateID OrderID, at time.Time, payload EventPayload) Event {
	return Event{
		ID:          uuid.New(),
		Type:        payload.eventType(),
		AggregateID: aggregateID,
		OccurredAt:  at.UTC(),
		Payload:     payload,
	}
}

func (e Event) MarshalPayload() ([]byte, error) {
	return json.Marshal(e.Payload)
}

type OrderCreated struct {
	OrderID    string `json:"order_id"`
	CustomerID string `json:"customer_id"`
}

func (OrderCreated) eventType() EventType { return EventOrderCreated }

type OrderItemAdded struct {
	OrderID   string `json:"order_id"`
	SKU       string `json:"sku"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	Subtotal  string `json:"subtotal"`
	Currency  string `json:"currency"`
}

func (OrderItemAdded) eventType() EventType { return EventOrderItemAdded }
