package app

import (
	"context"
	"errors"
	"strings"

	"order-outbox/orders/internal/domain"
)

type OrderItemView struct {
	SKU       string `json:"sku"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unitPrice"`
	Subtotal  string `json:"subtotal"`
	Currency  string `json:"currency"`
}

type OrderView struct {
	OrderID    string          `json:"orderId"`
	CustomerID string          `json:"customerId"`
	Items      []OrderItemView `json:"items"`
	Total      string          `json:"total"`
	Currency   string          `json:"currency"`
	Version    int             `json:"version"`
}

func NewOrderView(order *domain.Order) OrderView {
	total := order.Total()
	view := OrderView{
		OrderID:    string(order.ID()),
		CustomerID: string(order.CustomerID()),
		Items:      []OrderItemView{},
		Total:      total.StringFixed(),
		Currency:   string(total.Currency()),
		Version:    order.Version(),
	}
	for _, item := range order.Items() {
		view.Items = append(view.Items, OrderItemView{
			SKU:       item.SKU().String(),
			Quantity:  item.Quantity().Int(),
			UnitPrice: item.UnitPrice().StringFixed(),
			Subtotal:  item.Subtotal().StringFixed(),
			Currency:  string(item.Currency()),
		})
	}
	return view
}

type GetOrder struct {
	orders OrderRepository
}

func NewGetOrder(orders OrderRepository) *GetOrder {
	return &GetOrder{orders: orders}
}

func (q *GetOrder) Execute(ctx context.Context, orderID string) (OrderView, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return OrderView{}, ValidationError("invalid get order request", map[string]string{"orderId": "Order ID is required"})
	}
	order, err := q.orders.FindByID(ctx, domain.OrderID(orderID))
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return OrderView{}, NotFoundError("Order", orderID)
		}
		return OrderView{}, InfraError("load order", err)
	}
	return NewOrderView(order), nil
}
