package events

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Envelope is the broker message body for every published outbox record.
// EventID is stable across redeliveries and is the consumer's dedupe key.
type Envelope struct {
	EventID       uuid.UUID       `json:"event_id"`
	EventType     string          `json:"event_type"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
}

const (
	HeaderEventID       = "event_id"
	HeaderEventType     = "event_type"
	HeaderAggregateType = "aggregate_type"
	HeaderAggregateID   = "aggregate_id"
	HeaderPublishedAt   = "published_at"
)

const (
	TypeOrderCreated   = "order.created"
	TypeOrderItemAdded = "order.item_added"
)

// OrderEventTypes lists the routing keys the order service emits by default.
func OrderEventTypes() []string {
	return []string{TypeOrderCreated, TypeOrderItemAdded}
}

func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, err
	}
	if env.EventID == uuid.Nil {
		return Envelope{}, errors.New("envelope missing event_id")
	}
	if env.EventType == "" {
		return Envelope{}, errors.New("envelope missing event_type")
	}
	return env, nil
}
