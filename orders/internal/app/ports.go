package app

import (
	"context"
	"time"

	"order-outbox/orders/internal/domain"
)

// Tx is an opaque transaction handle issued by a Transactor. Adapters assert
// it back to their own transaction type.
type Tx interface{}

// Transactor runs fn inside one ACID transaction. It commits when fn returns
// nil and rolls back otherwise; a cancelled ctx must prevent the commit.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

type OrderRepository interface {
	// FindByID returns an error wrapping ErrOrderNotFound when absent.
	FindByID(ctx context.Context, id domain.OrderID) (*domain.Order, error)
	// Save inserts a new order (Version 0) or updates an existing one whose
	// stored version still equals order.Version(). A stale version yields
	// ErrConcurrentUpdate, an existing id on insert ErrDuplicateOrder.
	Save(ctx context.Context, tx Tx, order *domain.Order) error
}

type OutboxWriter interface {
	AppendEvents(ctx context.Context, tx Tx, events []domain.Event) error
}

type PricingService interface {
	// GetCurrentPrice returns nil without error for an unknown SKU.
	GetCurrentPrice(ctx context.Context, sku domain.SKU, currency domain.Currency) (*domain.Money, error)
}

type Clock interface {
	Now() time.Time
}

// OrderLocker optionally serialises writers of the same order. Correctness
// rests on versioned saves; the lock only reduces conflict retries.
type OrderLocker interface {
	Lock(ctx context.Context, id domain.OrderID) (unlock func(), err error)
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

type noLocker struct{}

func (noLocker) Lock(context.Context, domain.OrderID) (func(), error) { return func() {}, nil }
