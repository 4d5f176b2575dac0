package repos

import (
	"context"
	_ "embed"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"order-outbox/orders/internal/app"
	"order-outbox/shared/dbx"
)

type DBTX interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

//go:embed schema.sql
var Schema string

// ApplySchema creates the tables if they do not exist.
func ApplySchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, Schema)
	return err
}

var errForeignTx = errors.New("repos: transaction handle is not a pgx.Tx")

func asPgxTx(tx app.Tx) (pgx.Tx, error) {
	t, ok := tx.(pgx.Tx)
	if !ok || t == nil {
		return nil, errForeignTx
	}
	return t, nil
}

// Transactor opens pgx transactions for the use cases.
type Transactor struct {
	pool *pgxpool.Pool
}

func NewTransactor(pool *pgxpool.Pool) *Transactor {
	return &Transactor{pool: pool}
}

func (t *Transactor) WithinTx(ctx context.Context, fn func(ctx context.Context, tx app.Tx) error) error {
	return dbx.WithTx(ctx, t.pool, func(tx pgx.Tx) error {
		return fn(ctx, tx)
	})
}

func (t *Transactor) Ping(ctx context.Context) error {
	return dbx.Ping(ctx, t.pool)
}
