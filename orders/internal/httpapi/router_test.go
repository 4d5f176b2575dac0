package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"order-outbox/orders/internal/app"
	"order-outbox/orders/internal/domain"
	"order-outbox/orders/internal/memory"
	"order-outbox/shared/httpx"
	"order-outbox/shared/logx"
)

type testServer struct {
	handler http.Handler
	store   *memory.Store
	pricing *memory.Pricing
}

func newTestServer(t *testing.T, mutate func(*Options)) *testServer {
	t.Helper()
	store := memory.NewStore()
	price, err := domain.ParseMoney("10.00", domain.EUR)
	require.NoError(t, err)
	pricing := memory.NewPricing().Set("abc-1", price)
	deps := app.Dependencies{
		Orders:     store,
		Outbox:     store,
		Transactor: store,
		Pricing:    pricing,
		Clock:      memory.NewClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)),
		Logger:     logx.Nop(),
	}
	orders := Orders{
		Create:  app.NewCreateOrder(deps),
		AddItem: app.NewAddItemToOrder(deps, app.Options{}),
		Get:     app.NewGetOrder(store),
		Logger:  logx.Nop(),
	}
	opts := Options{Service: "orders-api", Env: "test", Store: store, Logger: logx.Nop(), RequestTimeout: 5 * time.Second}
	if mutate != nil {
		mutate(&opts)
	}
	return &testServer{handler: NewRouter(orders, opts), store: store, pricing: pricing}
}

func (s *testServer) do(t *testing.T, method string, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) httpx.ErrorBody {
	t.Helper()
	var env httpx.ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env.Error
}

func TestCreateAddAndGetOrder(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/v1/orders", `{"orderId":"o-1","customerId":"c-1"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "/api/v1/orders/o-1", rec.Header().Get("Location"))
	assert.JSONEq(t, `{"orderId":"o-1"}`, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/v1/orders/o-1/items", `{"sku":"abc-1","quantity":2,"currency":"EUR"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"orderId":"o-1","total":{"amount":"20.00","currency":"EUR"}}`, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/v1/orders/o-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view app.OrderView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "o-1", view.OrderID)
	assert.Len(t, view.Items, 1)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	assert.Len(t, s.store.Pending(), 2)
}

func TestAddItemValidationErrorListsFields(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/v1/orders/o-1/items", `{"sku":"!","quantity":0,"currency":"GBP"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "INVALID_ARGUMENT", body.Code)

	details, ok := body.Details.(map[string]any)
	require.True(t, ok, "details: %#v", body.Details)
	fields, ok := details["fields"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, fields, "sku")
	assert.Contains(t, fields, "quantity")
	assert.Contains(t, fields, "currency")
	assert.Equal(t, 0, s.pricing.Calls())
}

func TestErrorKindsMapToStatus(t *testing.T) {
	s := newTestServer(t, nil)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/v1/orders", `{"orderId":"o-1","customerId":"c-1"}`).Code)

	rec := s.do(t, http.MethodPost, "/api/v1/orders/missing/items", `{"sku":"abc-1","quantity":1,"currency":"EUR"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decodeError(t, rec).Code)

	rec = s.do(t, http.MethodPost, "/api/v1/orders", `{"orderId":"o-1","customerId":"c-1"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	s.pricing.Fail(errors.New("pricing down"))
	rec = s.do(t, http.MethodPost, "/api/v1/orders/o-1/items", `{"sku":"abc-1","quantity":1,"currency":"EUR"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "UNAVAILABLE", body.Code)
	assert.NotContains(t, body.Message, "pricing down")
}

func TestMalformedBodyIsRejected(t *testing.T) {
	s := newTestServer(t, nil)

	for _, body := range []string{`{`, `{"customerId":"c-1","extra":1}`, `{"customerId":"c-1"}{}`} {
		rec := s.do(t, http.MethodPost, "/api/v1/orders", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, "INVALID_JSON", decodeError(t, rec).Code)
	}
}

func TestUnknownRouteIsJSON404(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decodeError(t, rec).Code)
}

type failingPinger struct{}

func (failingPinger) Ping(ctx context.Context) error { return errors.New("down") }

func TestProbes(t *testing.T) {
	s := newTestServer(t, nil)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/readyz", "").Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/metrics", "").Code)

	s = newTestServer(t, func(o *Options) { o.Store = failingPinger{} })
	assert.Equal(t, http.StatusServiceUnavailable, s.do(t, http.MethodGet, "/readyz", "").Code)

	s = newTestServer(t, func(o *Options) { o.Problems = []any{"ENV is required"} })
	assert.Equal(t, http.StatusServiceUnavailable, s.do(t, http.MethodGet, "/readyz", "").Code)
}

func TestStoreRequiredGuardsOrderRoutes(t *testing.T) {
	s := newTestServer(t, func(o *Options) { o.Store = nil })

	rec := s.do(t, http.MethodGet, "/api/v1/orders/o-1", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/healthz", "").Code)
}

func TestWriteRateLimit(t *testing.T) {
	s := newTestServer(t, func(o *Options) { o.Limiter = NewClientLimiter(1, 1, time.Minute) })

	first := s.do(t, http.MethodPost, "/api/v1/orders", `{"customerId":"c-1"}`)
	assert.Equal(t, http.StatusCreated, first.Code)
	second := s.do(t, http.MethodPost, "/api/v1/orders", `{"customerId":"c-1"}`)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "1", second.Header().Get("Retry-After"))

	// reads are not limited
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/v1/orders/x", "").Code)
}

func TestClientLimiterForgetsIdleClients(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	l := NewClientLimiter(1, 1, time.Minute)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"))

	now = now.Add(2 * time.Minute)
	assert.True(t, l.Allow("a"))
	assert.Nil(t, NewClientLimiter(0, 10, 0))
}

func TestClientLimiterSweepsOncePerTTL(t *testing.T) {
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	now := start
	l := NewClientLimiter(100, 100, time.Minute)
	l.now = func() time.Time { return now }

	l.Allow("a")
	now = start.Add(30 * time.Second)
	l.Allow("b")
	assert.Len(t, l.clients, 2)

	now = start.Add(61 * time.Second)
	l.Allow("b")
	assert.Len(t, l.clients, 1, "idle client a is swept")

	// b goes idle, but the next sweep is not due until a ttl after the last one.
	now = start.Add(100 * time.Second)
	l.Allow("c")
	assert.Len(t, l.clients, 2)
	assert.Equal(t, start.Add(61*time.Second), l.lastSweep)

	now = start.Add(125 * time.Second)
	l.Allow("c")
	assert.Len(t, l.clients, 1)
	assert.Contains(t, l.clients, "c")
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, func(o *Options) { o.CORSOrigins = []string{"https://shop.example"} })

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/orders", nil)
	req.Header.Set("Origin", "https://shop.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://shop.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
