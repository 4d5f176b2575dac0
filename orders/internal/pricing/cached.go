package pricing

import (
	"context"
	"time"

	"order-outbox/orders/internal/domain"
)

// Source is any price lookup; it matches the use case's pricing port.
type Source interface {
	GetCurrentPrice(ctx context.Context, sku domain.SKU, currency domain.Currency) (*domain.Money, error)
}

// Cache is the subset of cachex.Client the price cache needs.
type Cache interface {
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
}

type cachedPrice struct {
	Known  bool   `json:"known"`
	Amount string `json:"amount,omitempty"`
}

// Cached memoises lookups, including unknown SKUs, for ttl. Cache failures
// fall through to the source; source failures are never cached.
type Cached struct {
	next  Source
	cache Cache
	ttl   time.Duration
}

func NewCached(next Source, cache Cache, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cached{next: next, cache: cache, ttl: ttl}
}

func cacheKey(sku domain.SKU, currency domain.Currency) string {
	return "price:" + string(currency) + ":" + sku.String()
}

func (c *Cached) GetCurrentPrice(ctx context.Context, sku domain.SKU, currency domain.Currency) (*domain.Money, error) {
	key := cacheKey(sku, currency)

	var hit cachedPrice
	if ok, err := c.cache.GetJSON(ctx, key, &hit); err == nil && ok {
		if !hit.Known {
			return nil, nil
		}
		if price, err := domain.ParseMoney(hit.Amount, currency); err == nil {
			return &price, nil
		}
	}

	price, err := c.next.GetCurrentPrice(ctx, sku, currency)
	if err != nil {
		return nil, err
	}
	entry := cachedPrice{Known: price != nil}
	if price != nil {
		entry.Amount = price.StringFixed()
	}
	_ = c.cache.SetJSON(ctx, key, entry, c.ttl)
	return price, nil
}
