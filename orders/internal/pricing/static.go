package pricing

import (
	"context"
	"fmt"

	"order-outbox/orders/internal/domain"
)

// Static prices SKUs from a fixed table, one amount per SKU, in whatever
// currency is requested. Intended for local runs without a pricing service.
type Static struct {
	prices map[string]string
}

func DefaultStaticPrices() map[string]string {
	return map[string]string{
		"SKU-1": "100.00",
		"SKU-2": "250.00",
	}
}

func NewStatic(prices map[string]string) (*Static, error) {
	owned := make(map[string]string, len(prices))
	for sku, amount := range prices {
		if !domain.ValidSKU(sku) {
			return nil, fmt.Errorf("static price for %q: %w", sku, domain.ErrInvalidSKU)
		}
		if _, err := domain.ParseMoney(amount, domain.DefaultCurrency); err != nil {
			return nil, fmt.Errorf("static price for %q: %w", sku, err)
		}
		owned[sku] = amount
	}
	return &Static{prices: owned}, nil
}

func (s *Static) GetCurrentPrice(ctx context.Context, sku domain.SKU, currency domain.Currency) (*domain.Money, error) {
	amount, ok := s.prices[sku.String()]
	if !ok {
		return nil, nil
	}
	price, err := domain.ParseMoney(amount, currency)
	if err != nil {
		return nil, err
	}
	return &price, nil
}
