package app

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"order-outbox/orders/internal/domain"
)

type CreateOrderInput struct {
	OrderID    string
	CustomerID string
}

type CreateOrderOutput struct {
	OrderID string
}

// CreateOrder opens an empty order and records OrderCreated in the outbox.
// An empty OrderID is replaced with a generated UUID.
type CreateOrder struct {
	deps Dependencies
}

func NewCreateOrder(deps Dependencies) *CreateOrder {
	return &CreateOrder{deps: deps.withDefaults()}
}

func (u *CreateOrder) Execute(ctx context.Context, in CreateOrderInput) (CreateOrderOutput, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "orders.create")
	defer span.End()

	fields := map[string]string{}
	customerID := strings.TrimSpace(in.CustomerID)
	if customerID == "" {
		fields["customerId"] = "Customer ID is required"
	}
	orderID := strings.TrimSpace(in.OrderID)
	if len(orderID) > 64 {
		fields["orderId"] = "Order ID must be at most 64 characters"
	}
	if len(fields) > 0 {
		return CreateOrderOutput{}, ValidationError("invalid create order request", fields)
	}
	if orderID == "" {
		orderID = uuid.NewString()
	}
	span.SetAttributes(attribute.String("order.id", orderID))

	order := domain.NewOrder(domain.OrderID(orderID), domain.CustomerID(customerID), u.deps.Clock.Now())
	err := u.deps.Transactor.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := u.deps.Orders.Save(ctx, tx, order); err != nil {
			return err
		}
		return u.deps.Outbox.AppendEvents(ctx, tx, order.PullDomainEvents())
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateOrder) {
			return CreateOrderOutput{}, ConflictError("order "+orderID+" already exists", err)
		}
		u.deps.Logger.Error(ctx, "create_order_failed", "create order failed",
			slog.String("order_id", orderID),
			slog.String("error_code", "INFRA"),
			slog.String("error", err.Error()),
		)
		return CreateOrderOutput{}, InfraError("persist order", err)
	}

	u.deps.Logger.Info(ctx, "order_created", "order created", slog.String("order_id", orderID))
	return CreateOrderOutput{OrderID: orderID}, nil
}
