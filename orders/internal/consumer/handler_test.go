package consumer_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"order-outbox/orders/internal/consumer"
	"order-outbox/orders/internal/memory"
	"order-outbox/shared/events"
	"order-outbox/shared/logx"
)

func envelope(t *testing.T, id uuid.UUID) []byte {
	t.Helper()
	raw, err := events.Envelope{
		EventID:       id,
		EventType:     events.TypeOrderItemAdded,
		AggregateType: "order",
		AggregateID:   "o-1",
		OccurredAt:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Payload:       []byte(`{"order_id":"o-1","sku":"abc-1","quantity":2,"unit_price":"10.00","subtotal":"20.00","currency":"EUR"}`),
	}.Marshal()
	require.NoError(t, err)
	return raw
}

func TestRedeliveredEventIsAppliedOnce(t *testing.T) {
	applied := 0
	h := consumer.New(memory.NewStore(), func(ctx context.Context, env events.Envelope) error {
		applied++
		return nil
	}, logx.Nop())
	msg := envelope(t, uuid.New())

	for i := 0; i < 3; i++ {
		require.NoError(t, h.Handle(context.Background(), msg))
	}
	assert.Equal(t, 1, applied)

	require.NoError(t, h.Handle(context.Background(), envelope(t, uuid.New())))
	assert.Equal(t, 2, applied)
}

func TestFailedHandlingIsRetriedOnRedelivery(t *testing.T) {
	calls := 0
	h := consumer.New(memory.NewStore(), func(ctx context.Context, env events.Envelope) error {
		calls++
		if calls == 1 {
			return errors.New("downstream unavailable")
		}
		return nil
	}, logx.Nop())
	msg := envelope(t, uuid.New())

	require.Error(t, h.Handle(context.Background(), msg))
	require.NoError(t, h.Handle(context.Background(), msg))
	require.NoError(t, h.Handle(context.Background(), msg))
	assert.Equal(t, 2, calls)
}

func TestMalformedMessage(t *testing.T) {
	h := consumer.New(memory.NewStore(), func(ctx context.Context, env events.Envelope) error {
		t.Fatalf("handler must not run")
		return nil
	}, logx.Nop())

	err := h.Handle(context.Background(), []byte(`{"event_type":"order.created"}`))
	assert.ErrorIs(t, err, consumer.ErrMalformed)
}

func TestLogOrderEvents(t *testing.T) {
	var buf bytes.Buffer
	logger := logx.NewWithWriter(&buf, "consumer", "test", "", "debug")
	h := consumer.New(memory.NewStore(), consumer.LogOrderEvents(logger), logger)

	require.NoError(t, h.Handle(context.Background(), envelope(t, uuid.New())))
	assert.Contains(t, buf.String(), `"event":"order_item_added_received"`)
	assert.Contains(t, buf.String(), `"sku":"abc-1"`)
}

func TestHandleWithRetryRedeliversInPlace(t *testing.T) {
	calls := 0
	h := consumer.New(memory.NewStore(), func(ctx context.Context, env events.Envelope) error {
		calls++
		if calls < 3 {
			return errors.New("db unavailable")
		}
		return nil
	}, logx.Nop())

	var retries []int
	err := h.HandleWithRetry(context.Background(), envelope(t, uuid.New()), consumer.RetryPolicy{
		Initial: time.Millisecond,
		Max:     2 * time.Millisecond,
		OnRetry: func(attempt int, err error) { retries = append(retries, attempt) },
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retries)
}

func TestHandleWithRetryStopsWithoutAckWhenCancelled(t *testing.T) {
	h := consumer.New(memory.NewStore(), func(ctx context.Context, env events.Envelope) error {
		return errors.New("db unavailable")
	}, logx.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := h.HandleWithRetry(ctx, envelope(t, uuid.New()), consumer.RetryPolicy{Initial: time.Millisecond})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, consumer.ErrMalformed)
}

func TestHandleWithRetryGivesUpOnMalformed(t *testing.T) {
	h := consumer.New(memory.NewStore(), func(ctx context.Context, env events.Envelope) error {
		t.Fatalf("handler must not run")
		return nil
	}, logx.Nop())

	err := h.HandleWithRetry(context.Background(), []byte(`not json`), consumer.RetryPolicy{Initial: time.Millisecond})
	assert.ErrorIs(t, err, consumer.ErrMalformed)
}
