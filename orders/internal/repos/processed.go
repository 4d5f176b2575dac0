package repos

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"order-outbox/shared/dbx"
)

// ProcessedRepo records which event ids a consumer has already handled.
type ProcessedRepo struct {
	pool *pgxpool.Pool
}

func NewProcessedRepo(pool *pgxpool.Pool) *ProcessedRepo {
	return &ProcessedRepo{pool: pool}
}

// ProcessOnce inserts eventID and runs fn in the same transaction. It returns
// false without calling fn when the id is already present; an error from fn
// rolls the insert back so a redelivery is handled again.
func (r *ProcessedRepo) ProcessOnce(ctx context.Context, eventID uuid.UUID, eventType string, fn func(ctx context.Context) error) (bool, error) {
	handled := false
	err := dbx.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO processed_events (event_id, event_type, processed_at)
			VALUES ($1, $2, now())
			ON CONFLICT (event_id) DO NOTHING
		`, eventID, eventType)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		if err := fn(ctx); err != nil {
			return err
		}
		handled = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return handled, nil
}
