package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"order-outbox/orders/internal/domain"
	"order-outbox/shared/events"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusPublished Status = "PUBLISHED"
)

// Record is one outbox row. Status is derived from PublishedAt: a row moves
// from PENDING to PUBLISHED exactly once and never back.
type Record struct {
	ID            uuid.UUID
	EventType     string
	AggregateType string
	AggregateID   string
	Payload       json.RawMessage
	OccurredAt    time.Time
	PublishedAt   *time.Time
	Attempts      int
	LastError     string
	ClaimedUntil  *time.Time
}

func (r Record) Status() Status {
	if r.PublishedAt != nil {
		return StatusPublished
	}
	return StatusPending
}

// Claimable reports whether a relay may pick the record up at now.
func (r Record) Claimable(now time.Time) bool {
	if r.PublishedAt != nil {
		return false
	}
	return r.ClaimedUntil == nil || r.ClaimedUntil.Before(now)
}

// FromEvent maps a drained domain event onto a new pending record. The event
// id is reused as the record id.
func FromEvent(e domain.Event) (Record, error) {
	payload, err := e.MarshalPayload()
	if err != nil {
		return Record{}, fmt.Errorf("marshal %s payload: %w", e.Type, err)
	}
	return Record{
		ID:            e.ID,
		EventType:     string(e.Type),
		AggregateType: domain.AggregateTypeOrder,
		AggregateID:   string(e.AggregateID),
		Payload:       payload,
		OccurredAt:    e.OccurredAt.UTC(),
	}, nil
}

func FromEvents(evts []domain.Event) ([]Record, error) {
	records := make([]Record, 0, len(evts))
	for _, e := range evts {
		r, err := FromEvent(e)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

func (r Record) Envelope() events.Envelope {
	return events.Envelope{
		EventID:       r.ID,
		EventType:     r.EventType,
		AggregateType: r.AggregateType,
		AggregateID:   r.AggregateID,
		OccurredAt:    r.OccurredAt,
		Payload:       r.Payload,
	}
}

func (r Record) Headers(publishedAt time.Time) map[string]string {
	return map[string]string{
		events.HeaderEventID:       r.ID.String(),
		events.HeaderEventType:     r.EventType,
		events.HeaderAggregateType: r.AggregateType,
		events.HeaderAggregateID:   r.AggregateID,
		events.HeaderPublishedAt:   publishedAt.UTC().Format(time.RFC3339Nano),
	}
}
