package app

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"order-outbox/orders/internal/domain"
	"order-outbox/shared/logx"
	"order-outbox/shared/metricsx"
)

const tracerName = "order-outbox/orders/app"

type AddItemInput struct {
	OrderID  string
	SKU      string
	Quantity int
	Currency string
}

type AddItemOutput struct {
	OrderID string
	Total   domain.Money
}

// Dependencies are the ports shared by every order use case.
type Dependencies struct {
	Orders     OrderRepository
	Outbox     OutboxWriter
	Transactor Transactor
	Pricing    PricingService
	Clock      Clock
	Locker     OrderLocker
	Logger     logx.Logger
}

type Options struct {
	MaxQuantity         int
	SupportedCurrencies []domain.Currency
	ConflictRetries     int
}

func (o Options) withDefaults() Options {
	if o.MaxQuantity <= 0 {
		o.MaxQuantity = domain.DefaultMaxQuantity
	}
	if len(o.SupportedCurrencies) == 0 {
		o.SupportedCurrencies = []domain.Currency{domain.USD, domain.EUR}
	}
	if o.ConflictRetries < 0 {
		o.ConflictRetries = 0
	}
	return o
}

func (d Dependencies) withDefaults() Dependencies {
	if d.Clock == nil {
		d.Clock = SystemClock{}
	}
	if d.Locker == nil {
		d.Locker = noLocker{}
	}
	return d
}

// AddItemToOrder prices a SKU, appends it to an existing order and records
// the resulting events in the outbox within the same transaction as the
// order row.
type AddItemToOrder struct {
	deps Dependencies
	opts Options
}

func NewAddItemToOrder(deps Dependencies, opts Options) *AddItemToOrder {
	return &AddItemToOrder{deps: deps.withDefaults(), opts: opts.withDefaults()}
}

func (u *AddItemToOrder) Execute(ctx context.Context, in AddItemInput) (AddItemOutput, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "orders.add_item")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", in.OrderID), attribute.String("order.sku", in.SKU))

	out, err := u.execute(ctx, in)
	result := "ok"
	if err != nil {
		appErr, ok := AsError(err)
		if !ok {
			appErr = InfraError("add item", err)
			err = appErr
		}
		result = string(appErr.Kind)
		span.RecordError(err)
		span.SetStatus(codes.Error, result)
		if appErr.Kind == KindInfra {
			u.deps.Logger.Error(ctx, "add_item_failed", "add item failed",
				slog.String("order_id", in.OrderID),
				slog.String("error_code", "INFRA"),
				slog.String("error", err.Error()),
			)
		}
	}
	metricsx.IncAddItem(result)
	return out, err
}

func (u *AddItemToOrder) execute(ctx context.Context, in AddItemInput) (AddItemOutput, error) {
	sku, qty, currency, verr := u.validate(in)
	if verr != nil {
		return AddItemOutput{}, verr
	}
	orderID := domain.OrderID(strings.TrimSpace(in.OrderID))

	unlock, err := u.deps.Locker.Lock(ctx, orderID)
	if err != nil {
		return AddItemOutput{}, InfraError("acquire order lock", err)
	}
	defer unlock()

	for attempt := 0; ; attempt++ {
		out, err := u.attempt(ctx, orderID, sku, qty, currency)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, ErrConcurrentUpdate) {
			return AddItemOutput{}, err
		}
		if attempt >= u.opts.ConflictRetries {
			return AddItemOutput{}, ConflictError("order was modified concurrently, retry the request", err)
		}
		u.deps.Logger.Debug(ctx, "add_item_retry", "version conflict, reloading order",
			slog.String("order_id", string(orderID)),
			slog.Int("attempt", attempt+1),
		)
	}
}

// attempt runs one load-price-mutate-persist cycle. A version conflict is
// returned unwrapped so the caller can retry.
func (u *AddItemToOrder) attempt(ctx context.Context, orderID domain.OrderID, sku domain.SKU, qty domain.Quantity, currency domain.Currency) (AddItemOutput, error) {
	order, err := u.deps.Orders.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return AddItemOutput{}, NotFoundError("Order", string(orderID))
		}
		return AddItemOutput{}, InfraError("load order", err)
	}

	price, err := u.deps.Pricing.GetCurrentPrice(ctx, sku, currency)
	if err != nil {
		return AddItemOutput{}, InfraError("pricing service unavailable", err)
	}
	if price == nil {
		return AddItemOutput{}, ValidationError("Unknown SKU", map[string]string{"sku": "Unknown SKU"})
	}

	if err := order.AddItem(sku, *price, qty, u.deps.Clock.Now()); err != nil {
		if errors.Is(err, domain.ErrCurrencyMismatch) {
			return AddItemOutput{}, ConflictError("currency mismatch", err)
		}
		return AddItemOutput{}, ValidationError(err.Error(), nil)
	}

	err = u.deps.Transactor.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := u.deps.Orders.Save(ctx, tx, order); err != nil {
			return err
		}
		return u.deps.Outbox.AppendEvents(ctx, tx, order.PullDomainEvents())
	})
	if err != nil {
		if errors.Is(err, ErrConcurrentUpdate) {
			return AddItemOutput{}, err
		}
		return AddItemOutput{}, InfraError("persist order", err)
	}

	return AddItemOutput{OrderID: string(order.ID()), Total: order.Total()}, nil
}

func (u *AddItemToOrder) validate(in AddItemInput) (domain.SKU, domain.Quantity, domain.Currency, *Error) {
	fields := map[string]string{}

	if strings.TrimSpace(in.OrderID) == "" {
		fields["orderId"] = "Order ID is required"
	}
	sku, err := domain.NewSKU(in.SKU)
	if err != nil {
		fields["sku"] = "Invalid SKU format"
	}
	qty, err := domain.NewQuantity(in.Quantity, u.opts.MaxQuantity)
	if err != nil {
		if in.Quantity > u.opts.MaxQuantity {
			fields["quantity"] = "Quantity must not exceed " + strconv.Itoa(u.opts.MaxQuantity)
		} else {
			fields["quantity"] = "Quantity must be a positive integer"
		}
	}
	currency, ok := u.supported(in.Currency)
	if !ok {
		fields["currency"] = "Unsupported currency"
	}

	if len(fields) > 0 {
		return domain.SKU{}, domain.Quantity{}, "", ValidationError("invalid add item request", fields)
	}
	return sku, qty, currency, nil
}

func (u *AddItemToOrder) supported(raw string) (domain.Currency, bool) {
	currency, err := domain.ParseCurrency(raw)
	if err != nil {
		return "", false
	}
	for _, c := range u.opts.SupportedCurrencies {
		if c == currency {
			return currency, true
		}
	}
	return "", false
}
