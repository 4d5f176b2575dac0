package repos

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"order-outbox/orders/internal/app"
	"order-outbox/orders/internal/domain"
	"order-outbox/orders/internal/outbox"
)

const outboxColumns = `id, event_type, aggregate_type, aggregate_id, payload, occurred_at, published_at, attempts, COALESCE(last_error, ''), claimed_until`

// OutboxRepo is both the transactional writer used by the use cases and the
// claim store used by the relay.
type OutboxRepo struct {
	pool *pgxpool.Pool
}

func NewOutboxRepo(pool *pgxpool.Pool) *OutboxRepo {
	return &OutboxRepo{pool: pool}
}

func (r *OutboxRepo) AppendEvents(ctx context.Context, tx app.Tx, evts []domain.Event) error {
	db, err := asPgxTx(tx)
	if err != nil {
		return err
	}
	records, err := outbox.FromEvents(evts)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if err := insertRecord(ctx, db, rec); err != nil {
			return fmt.Errorf("append outbox %s: %w", rec.ID, err)
		}
	}
	return nil
}

func insertRecord(ctx context.Context, db DBTX, rec outbox.Record) error {
	_, err := db.Exec(ctx, `
		INSERT INTO outbox (id, event_type, aggregate_type, aggregate_id, payload, occurred_at, attempts)
		VALUES ($1, $2, $3, $4, $5, $6, 0)
	`, rec.ID, rec.EventType, rec.AggregateType, rec.AggregateID, []byte(rec.Payload), rec.OccurredAt)
	return err
}

// ClaimPending leases the oldest claimable rows. SKIP LOCKED keeps two relays
// from claiming the same row in overlapping transactions; the lease keeps a
// later relay off it until the claimant has marked it or the lease expires.
func (r *OutboxRepo) ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]outbox.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		WITH candidates AS (
			SELECT id
			FROM outbox
			WHERE published_at IS NULL AND (claimed_until IS NULL OR claimed_until < now())
			ORDER BY occurred_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $1
		)
		UPDATE outbox o
		SET claimed_until = now() + make_interval(secs => $2)
		FROM candidates c
		WHERE o.id = c.id
		RETURNING o.id, o.event_type, o.aggregate_type, o.aggregate_id, o.payload, o.occurred_at,
			o.published_at, o.attempts, COALESCE(o.last_error, ''), o.claimed_until
	`, limit, lease.Seconds())
	if err != nil {
		return nil, err
	}
	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	// UPDATE ... RETURNING does not preserve the CTE order.
	sortByOccurredAt(records)
	return records, nil
}

func (r *OutboxRepo) MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE outbox
		SET published_at = $2, claimed_until = NULL
		WHERE id = $1 AND published_at IS NULL
	`, id, at.UTC())
	return err
}

func (r *OutboxRepo) MarkFailed(ctx context.Context, id uuid.UUID, reason string, retryAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE outbox
		SET attempts = attempts + 1, last_error = $2, claimed_until = $3
		WHERE id = $1 AND published_at IS NULL
	`, id, reason, retryAt.UTC())
	return err
}

func (r *OutboxRepo) GetByID(ctx context.Context, id uuid.UUID) (outbox.Record, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+outboxColumns+` FROM outbox WHERE id = $1`, id)
	if err != nil {
		return outbox.Record{}, err
	}
	records, err := scanRecords(rows)
	if err != nil {
		return outbox.Record{}, err
	}
	if len(records) == 0 {
		return outbox.Record{}, pgx.ErrNoRows
	}
	return records[0], nil
}

func (r *OutboxRepo) ListByAggregate(ctx context.Context, aggregateID string) ([]outbox.Record, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+outboxColumns+`
		FROM outbox
		WHERE aggregate_id = $1
		ORDER BY occurred_at ASC
	`, aggregateID)
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

func (r *OutboxRepo) CountPending(ctx context.Context) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM outbox WHERE published_at IS NULL`).Scan(&n)
	return n, err
}

func scanRecords(rows pgx.Rows) ([]outbox.Record, error) {
	defer rows.Close()
	var records []outbox.Record
	for rows.Next() {
		var rec outbox.Record
		var payload []byte
		if err := rows.Scan(
			&rec.ID, &rec.EventType, &rec.AggregateType, &rec.AggregateID, &payload, &rec.OccurredAt,
			&rec.PublishedAt, &rec.Attempts, &rec.LastError, &rec.ClaimedUntil,
		); err != nil {
			return nil, err
		}
		rec.Payload = payload
		records = append(records, rec)
	}
	return records, rows.Err()
}

func sortByOccurredAt(records []outbox.Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].OccurredAt.Before(records[j].OccurredAt)
	})
}
