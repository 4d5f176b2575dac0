package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"order-outbox/orders/internal/domain"
	"order-outbox/shared/config"
	"order-outbox/shared/metricsx"
)

var ErrCircuitOpen = errors.New("pricing circuit open")

type priceResponse struct {
	SKU      string `json:"sku"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// HTTPClient calls the pricing service: GET {base}/prices/{sku}?currency=X.
// 404 means the SKU is unknown. Transport errors, timeouts and 5xx count
// against the circuit breaker and surface as errors.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	breaker *circuitBreaker
}

func NewHTTPClient(cfg config.Config) (*HTTPClient, error) {
	if strings.TrimSpace(cfg.PricingURL) == "" {
		return nil, errors.New("PRICING_SERVICE_URL is required")
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.PricingURL, "/"),
		http:    &http.Client{Timeout: cfg.PricingTimeout()},
		breaker: newCircuitBreaker(5, 30*time.Second),
	}, nil
}

func (c *HTTPClient) GetCurrentPrice(ctx context.Context, sku domain.SKU, currency domain.Currency) (*domain.Money, error) {
	if c == nil || c.http == nil {
		return nil, errors.New("pricing client not initialized")
	}
	if c.breaker.Open() {
		metricsx.IncPricing("circuit_open")
		return nil, ErrCircuitOpen
	}

	start := time.Now()
	price, err := c.fetch(ctx, sku, currency)
	metricsx.ObservePricingLatency(time.Since(start))
	switch {
	case err != nil:
		metricsx.IncPricing("error")
	case price == nil:
		metricsx.IncPricing("unknown")
	default:
		metricsx.IncPricing("ok")
	}
	return price, err
}

func (c *HTTPClient) fetch(ctx context.Context, sku domain.SKU, currency domain.Currency) (*domain.Money, error) {
	endpoint := c.baseURL + "/prices/" + url.PathEscape(sku.String()) + "?currency=" + url.QueryEscape(string(currency))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.breaker.Fail()
		return nil, fmt.Errorf("pricing request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		c.breaker.Success()
		return nil, nil
	case resp.StatusCode >= 500:
		c.breaker.Fail()
		return nil, fmt.Errorf("pricing service returned %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("pricing request rejected with %d", resp.StatusCode)
	}

	var body priceResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		c.breaker.Fail()
		return nil, fmt.Errorf("decode price: %w", err)
	}
	c.breaker.Success()

	got := currency
	if body.Currency != "" {
		if got, err = domain.ParseCurrency(body.Currency); err != nil {
			return nil, err
		}
	}
	if got != currency {
		return nil, fmt.Errorf("pricing service answered in %s, asked for %s", got, currency)
	}
	price, err := domain.ParseMoney(body.Amount, currency)
	if err != nil {
		return nil, err
	}
	return &price, nil
}
