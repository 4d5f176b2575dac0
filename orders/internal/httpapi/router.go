package httpapi

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"order-outbox/shared/httpx"
	"order-outbox/shared/logx"
	"order-outbox/shared/metricsx"
)

type statusResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Env     string `json:"env,omitempty"`
	Version string `json:"version,omitempty"`
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	Service        string
	Env            string
	Version        string
	RequestTimeout time.Duration
	// Problems are configuration problems that keep /readyz failing.
	Problems []any
	Store    Pinger
	Logger   logx.Logger
	// Limiter throttles writes per client; nil disables it.
	Limiter     *ClientLimiter
	CORSOrigins []string
}

func isProbe(r *http.Request) bool {
	return r.URL.Path == "/healthz" || r.URL.Path == "/readyz" || r.URL.Path == "/metrics"
}

// NewRouter wires the order routes, probes and metrics behind the standard
// middleware chain.
func NewRouter(orders Orders, opts Options) http.Handler {
	mux := http.NewServeMux()
	route := func(pattern string, name string, h http.HandlerFunc) {
		mux.Handle(pattern, otelhttp.WithRouteTag(name, metricsx.Instrument(name, h)))
	}

	route("POST /api/v1/orders", "/api/v1/orders", orders.createOrder)
	route("GET /api/v1/orders/{id}", "/api/v1/orders/{id}", orders.getOrder)
	route("POST /api/v1/orders/{id}/items", "/api/v1/orders/{id}/items", orders.addItem)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, statusResponse{Status: "ok", Service: opts.Service, Env: opts.Env, Version: opts.Version})
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if len(opts.Problems) > 0 {
			httpx.WriteError(w, r, http.StatusServiceUnavailable, "FAILED_PRECONDITION",
				"service not ready: invalid configuration", map[string]any{"problems": opts.Problems})
			return
		}
		if opts.Store == nil {
			httpx.WriteError(w, r, http.StatusServiceUnavailable, "FAILED_PRECONDITION",
				"service not ready: order store not configured", nil)
			return
		}
		if err := opts.Store.Ping(r.Context()); err != nil {
			httpx.WriteError(w, r, http.StatusServiceUnavailable, "FAILED_PRECONDITION",
				"service not ready: database unavailable", map[string]any{"problem": "db_ping_failed"})
			return
		}
		httpx.WriteJSON(w, http.StatusOK, statusResponse{Status: "ready", Service: opts.Service, Env: opts.Env, Version: opts.Version})
	})
	mux.Handle("GET /metrics", metricsx.Handler())

	notFound := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "route not found", nil)
	})

	var handler http.Handler = httpx.WrapServeMux(mux, notFound)
	handler = StoreRequired{Available: opts.Store != nil, Skip: isProbe}.Wrap(handler)
	handler = WriteRateLimit{Limiter: opts.Limiter}.Wrap(handler)
	handler = CORS{AllowedOrigins: opts.CORSOrigins, MaxAge: 10 * time.Minute}.Wrap(handler)
	handler = httpx.WithTimeout(opts.RequestTimeout, handler)
	handler = httpx.WithRecover(opts.Logger, handler)
	handler = httpx.WithRequestLog(opts.Logger, httpx.RequestLogOptions{Skip: isProbe}, handler)
	handler = httpx.WithRequestID(handler)
	return otelhttp.NewHandler(handler, opts.Service)
}
