package outbox

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"order-outbox/shared/logx"
	"order-outbox/shared/metricsx"
)

// Store is the relay's view of the outbox table.
type Store interface {
	// ClaimPending leases up to limit claimable records, oldest first. Rows
	// claimed by another relay are skipped.
	ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]Record, error)
	MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error
	// MarkFailed keeps the record pending, bumps Attempts and makes it
	// claimable again at retryAt.
	MarkFailed(ctx context.Context, id uuid.UUID, reason string, retryAt time.Time) error
}

// Publisher delivers one message to the broker. A nil return means the broker
// acknowledged it.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, key []byte, payload []byte, headers map[string]string) error
}

type Options struct {
	BatchSize int
	Lease     time.Duration
	Interval  time.Duration
	// RoutingKey overrides the per-event-type routing key when set.
	RoutingKey string
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if o.Lease <= 0 {
		o.Lease = 30 * time.Second
	}
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	return o
}

type Result struct {
	Claimed   int
	Published int
	Failed    int
}

// Relay moves pending outbox records to the broker with at-least-once
// delivery. A record is marked published only after the broker acknowledges
// it; any failure leaves it pending for a later pass.
type Relay struct {
	store     Store
	publisher Publisher
	logger    logx.Logger
	opts      Options
	now       func() time.Time
}

func NewRelay(store Store, publisher Publisher, logger logx.Logger, opts Options) *Relay {
	return &Relay{
		store:     store,
		publisher: publisher,
		logger:    logger,
		opts:      opts.withDefaults(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the relay's time source.
func (r *Relay) WithClock(now func() time.Time) *Relay {
	r.now = now
	return r
}

func (r *Relay) RoutingKey(rec Record) string {
	if r.opts.RoutingKey != "" {
		return r.opts.RoutingKey
	}
	return rec.EventType
}

// RunOnce performs a single claim-publish-mark pass.
func (r *Relay) RunOnce(ctx context.Context) (Result, error) {
	ctx, span := otel.Tracer("order-outbox/outbox").Start(ctx, "outbox.relay")
	defer span.End()

	records, err := r.store.ClaimPending(ctx, r.opts.BatchSize, r.opts.Lease)
	if err != nil {
		return Result{}, err
	}
	metricsx.ObserveOutboxBatch(len(records))
	span.SetAttributes(attribute.Int("outbox.claimed", len(records)))

	res := Result{Claimed: len(records)}
	for _, rec := range records {
		if ctx.Err() != nil {
			// Unprocessed claims expire with their lease.
			return res, ctx.Err()
		}
		if err := r.publish(ctx, rec); err != nil {
			res.Failed++
			continue
		}
		res.Published++
	}
	return res, nil
}

func (r *Relay) publish(ctx context.Context, rec Record) error {
	routingKey := r.RoutingKey(rec)
	body, err := rec.Envelope().Marshal()
	if err == nil {
		err = r.publisher.Publish(ctx, routingKey, []byte(rec.AggregateID), body, rec.Headers(r.now()))
	}
	if err != nil {
		metricsx.IncOutboxPublishFailure()
		attempts := rec.Attempts + 1
		r.logger.Warn(ctx, "outbox_publish_failed", "publish failed, record stays pending",
			slog.String("event_id", rec.ID.String()),
			slog.String("event_type", rec.EventType),
			slog.Int("attempts", attempts),
			slog.String("error", err.Error()),
		)
		if markErr := r.store.MarkFailed(ctx, rec.ID, err.Error(), r.now().Add(retryDelay(attempts))); markErr != nil {
			r.logger.Error(ctx, "outbox_mark_failed", "failed to record publish failure",
				slog.String("event_id", rec.ID.String()),
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", markErr.Error()),
			)
		}
		return err
	}

	if err := r.store.MarkPublished(ctx, rec.ID, r.now()); err != nil {
		// The broker already has the message; the record will be published
		// again once its lease expires and consumers dedupe on event_id.
		r.logger.Error(ctx, "outbox_mark_published_failed", "failed to mark record published",
			slog.String("event_id", rec.ID.String()),
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", err.Error()),
		)
		return err
	}
	metricsx.IncOutboxPublished(routingKey)
	r.logger.Debug(ctx, "outbox_published", "record published",
		slog.String("event_id", rec.ID.String()),
		slog.String("routing_key", routingKey),
	)
	return nil
}

// Run polls on a fixed interval until ctx is cancelled. Pass errors are
// logged and the loop continues.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	r.logger.Info(ctx, "relay_start", "outbox relay started",
		slog.Int("batch_size", r.opts.BatchSize),
		slog.Duration("interval", r.opts.Interval),
	)
	for {
		if _, err := r.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error(ctx, "relay_pass_failed", "outbox relay pass failed",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
		}
		select {
		case <-ctx.Done():
			r.logger.Info(context.Background(), "relay_stop", "outbox relay stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func retryDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 5 * time.Second
	}
	delay := time.Duration(attempt*attempt) * 5 * time.Second
	if delay > 5*time.Minute {
		return 5 * time.Minute
	}
	return delay
}
