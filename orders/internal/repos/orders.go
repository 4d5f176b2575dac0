package repos

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"order-outbox/orders/internal/app"
	"order-outbox/orders/internal/domain"
)

// OrdersRepo persists orders with optimistic versioning. Items are
// append-only, so a save inserts only the lines the stored row lacks.
type OrdersRepo struct {
	pool *pgxpool.Pool
}

func NewOrdersRepo(pool *pgxpool.Pool) *OrdersRepo {
	return &OrdersRepo{pool: pool}
}

func (r *OrdersRepo) FindByID(ctx context.Context, id domain.OrderID) (*domain.Order, error) {
	var (
		customerID string
		version    int
	)
	err := r.pool.QueryRow(ctx, `
		SELECT customer_id, version
		FROM orders
		WHERE order_id = $1
	`, string(id)).Scan(&customerID, &version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("order %s: %w", id, app.ErrOrderNotFound)
		}
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT sku, quantity, unit_price::text, currency
		FROM order_items
		WHERE order_id = $1
		ORDER BY line_no ASC
	`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var sku, price, currency string
		var qty int
		if err := rows.Scan(&sku, &qty, &price, &currency); err != nil {
			return nil, err
		}
		item, err := restoreItem(sku, qty, price, currency)
		if err != nil {
			return nil, fmt.Errorf("order %s: %w", id, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return domain.RestoreOrder(id, domain.CustomerID(customerID), items, version), nil
}

func restoreItem(rawSKU string, qty int, price string, rawCurrency string) (domain.OrderItem, error) {
	sku, err := domain.NewSKU(rawSKU)
	if err != nil {
		return domain.OrderItem{}, err
	}
	currency, err := domain.ParseCurrency(rawCurrency)
	if err != nil {
		return domain.OrderItem{}, err
	}
	unitPrice, err := domain.ParseMoney(price, currency)
	if err != nil {
		return domain.OrderItem{}, err
	}
	// A lowered ORDER_MAX_QUANTITY does not invalidate stored lines.
	quantity, err := domain.NewQuantity(qty, qty)
	if err != nil {
		return domain.OrderItem{}, err
	}
	return domain.NewOrderItem(sku, unitPrice, quantity), nil
}

func (r *OrdersRepo) Save(ctx context.Context, tx app.Tx, order *domain.Order) error {
	db, err := asPgxTx(tx)
	if err != nil {
		return err
	}
	return saveOrder(ctx, db, order)
}

func saveOrder(ctx context.Context, db pgx.Tx, order *domain.Order) error {
	if order.Version() == 0 {
		tag, err := db.Exec(ctx, `
			INSERT INTO orders (order_id, customer_id, version, created_at, updated_at)
			VALUES ($1, $2, 1, now(), now())
			ON CONFLICT (order_id) DO NOTHING
		`, string(order.ID()), string(order.CustomerID()))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("order %s: %w", order.ID(), app.ErrDuplicateOrder)
		}
	} else {
		tag, err := db.Exec(ctx, `
			UPDATE orders
			SET version = version + 1, updated_at = now()
			WHERE order_id = $1 AND version = $2
		`, string(order.ID()), order.Version())
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("order %s at version %d: %w", order.ID(), order.Version(), app.ErrConcurrentUpdate)
		}
	}

	batch := &pgx.Batch{}
	for i, item := range order.Items() {
		batch.Queue(`
			INSERT INTO order_items (order_id, line_no, sku, quantity, unit_price, currency)
			VALUES ($1, $2, $3, $4, $5::numeric, $6)
			ON CONFLICT (order_id, line_no) DO NOTHING
		`, string(order.ID()), i+1, item.SKU().String(), item.Quantity().Int(), item.UnitPrice().StringFixed(), string(item.Currency()))
	}
	if batch.Len() == 0 {
		return nil
	}
	results := db.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return err
		}
	}
	return results.Close()
}
