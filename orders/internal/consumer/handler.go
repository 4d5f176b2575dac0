// Package consumer is the reference downstream consumer of order events. It
// turns the relay's at-least-once delivery into effectively-once handling by
// deduplicating on event_id.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"order-outbox/orders/internal/domain"
	"order-outbox/shared/events"
	"order-outbox/shared/logx"
	"order-outbox/shared/metricsx"
)

// ErrMalformed marks messages that can never be handled. Callers should ack
// them rather than redeliver.
var ErrMalformed = errors.New("malformed event message")

// Store runs fn at most once per event id, recording the id together with
// fn's effects.
type Store interface {
	ProcessOnce(ctx context.Context, eventID uuid.UUID, eventType string, fn func(ctx context.Context) error) (bool, error)
}

type HandlerFunc func(ctx context.Context, env events.Envelope) error

type Handler struct {
	store  Store
	handle HandlerFunc
	logger logx.Logger
}

func New(store Store, handle HandlerFunc, logger logx.Logger) *Handler {
	return &Handler{store: store, handle: handle, logger: logger}
}

// Handle decodes one broker message and applies it unless its event id was
// already processed. A nil return means the message may be acknowledged.
func (h *Handler) Handle(ctx context.Context, raw []byte) error {
	env, err := events.Decode(raw)
	if err != nil {
		metricsx.IncConsumed("malformed")
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	handled, err := h.store.ProcessOnce(ctx, env.EventID, env.EventType, func(ctx context.Context) error {
		return h.handle(ctx, env)
	})
	if err != nil {
		metricsx.IncConsumed("error")
		return fmt.Errorf("handle %s %s: %w", env.EventType, env.EventID, err)
	}
	if !handled {
		metricsx.IncConsumed("duplicate")
		h.logger.Debug(ctx, "event_duplicate", "event already processed",
			slog.String("event_id", env.EventID.String()),
			slog.String("event_type", env.EventType),
		)
		return nil
	}
	metricsx.IncConsumed("ok")
	return nil
}

// LogOrderEvents is a HandlerFunc that decodes order payloads and logs them.
// Unknown event types are ignored.
func LogOrderEvents(logger logx.Logger) HandlerFunc {
	return func(ctx context.Context, env events.Envelope) error {
		switch env.EventType {
		case string(domain.EventOrderCreated):
			var p domain.OrderCreated
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				return fmt.Errorf("%w: %v", ErrMalformed, err)
			}
			logger.Info(ctx, "order_created_received", "order created",
				slog.String("event_id", env.EventID.String()),
				slog.String("order_id", p.OrderID),
				slog.String("customer_id", p.CustomerID),
			)
		case string(domain.EventOrderItemAdded):
			var p domain.OrderItemAdded
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				return fmt.Errorf("%w: %v", ErrMalformed, err)
			}
			logger.Info(ctx, "order_item_added_received", "order item added",
				slog.String("event_id", env.EventID.String()),
				slog.String("order_id", p.OrderID),
				slog.String("sku", p.SKU),
				slog.Int("quantity", p.Quantity),
				slog.String("subtotal", p.Subtotal+" "+p.Currency),
			)
		}
		return nil
	}
}
