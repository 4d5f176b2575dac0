package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"order-outbox/orders/internal/app"
	"order-outbox/orders/internal/domain"
	"order-outbox/orders/internal/httpapi"
	"order-outbox/orders/internal/locks"
	"order-outbox/orders/internal/memory"
	"order-outbox/orders/internal/pricing"
	"order-outbox/orders/internal/repos"
	"order-outbox/shared/cachex"
	"order-outbox/shared/config"
	"order-outbox/shared/dbx"
	"order-outbox/shared/logx"
	"order-outbox/shared/metricsx"
	"order-outbox/shared/observability"
)

type storage struct {
	orders     app.OrderRepository
	outbox     app.OutboxWriter
	transactor app.Transactor
	pinger     httpapi.Pinger
}

func main() {
	cfg, problems := config.Load("orders-api", 8080)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)
	metricsx.Register()

	shutdownTracer, err := observability.InitTracer(context.Background(), cfg, version)
	if err != nil {
		logger.Warn(context.Background(), "otel_init_failed", "tracing disabled",
			slog.String("error", err.Error()),
		)
	} else {
		defer func() { _ = shutdownTracer(context.Background()) }()
	}

	store, dbPool, storeProblems := openStorage(cfg, logger)
	problems = append(problems, storeProblems...)
	if dbPool != nil {
		defer dbPool.Close()
	}

	var cache *cachex.Client
	if cfg.RedisAddr != "" {
		if cache, err = cachex.New(cfg); err != nil {
			problems = append(problems, config.Problem{Field: "REDIS_ADDR", Message: "failed to init redis client"})
		} else {
			defer func() { _ = cache.Close() }()
		}
	}

	prices, err := newPricing(cfg, cache)
	if err != nil {
		logger.Error(context.Background(), "pricing_init_failed", "pricing init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	deps := app.Dependencies{
		Orders:     store.orders,
		Outbox:     store.outbox,
		Transactor: store.transactor,
		Pricing:    prices,
		Clock:      app.SystemClock{},
		Logger:     logger,
	}
	if cache != nil {
		deps.Locker = locks.NewRedisLocker(cache.Client(), time.Duration(cfg.OrderLockTTLSec)*time.Second, logger)
	}
	currencies, err := domain.ParseCurrencies(cfg.SupportedCurrency)
	if err != nil {
		problems = append(problems, config.Problem{Field: "SUPPORTED_CURRENCIES", Message: err.Error()})
	}
	opts := app.Options{
		MaxQuantity:         cfg.OrderMaxQuantity,
		SupportedCurrencies: currencies,
		ConflictRetries:     cfg.OrderRetries,
	}

	readyProblems := make([]any, 0, len(problems))
	for _, p := range problems {
		readyProblems = append(readyProblems, p)
	}
	if len(problems) > 0 {
		logger.Warn(context.Background(), "config_problems", "configuration problems detected",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.Any("problems", problems),
		)
	}

	handler := httpapi.NewRouter(httpapi.Orders{
		Create:  app.NewCreateOrder(deps),
		AddItem: app.NewAddItemToOrder(deps, opts),
		Get:     app.NewGetOrder(store.orders),
		Logger:  logger,
	}, httpapi.Options{
		Service:        cfg.ServiceName,
		Env:            cfg.Env,
		Version:        version,
		RequestTimeout: cfg.RequestTimeout,
		Problems:       readyProblems,
		Store:          store.pinger,
		Logger:         logger,
		Limiter:        httpapi.NewClientLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, 2*time.Minute),
		CORSOrigins:    cfg.CORSOrigins,
	})

	server := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(cfg.HTTPPort)),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info(gctx, "service_start", "starting service",
			slog.String("addr", server.Addr),
			slog.Int("http_port", cfg.HTTPPort),
			slog.String("log_level", cfg.LogLevel),
			slog.Int("request_timeout_ms", cfg.RequestTimeoutMS),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info(context.Background(), "shutdown_signal", "shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error(context.Background(), "server_failed", "server failed",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	logger.Info(context.Background(), "service_stop", "service stopped")
}

// openStorage connects to Postgres. Without DATABASE_URL a dev environment
// falls back to the in-memory store; any other environment reports a problem
// and serves 503 on order routes.
func openStorage(cfg config.Config, logger logx.Logger) (storage, *pgxpool.Pool, []config.Problem) {
	if cfg.DatabaseURL == "" {
		if cfg.Env == "dev" {
			logger.Warn(context.Background(), "memory_store", "DATABASE_URL not set, using in-memory store")
			mem := memory.NewStore()
			return storage{orders: mem, outbox: mem, transactor: mem, pinger: mem}, nil, nil
		}
		return storage{}, nil, []config.Problem{{Field: "DATABASE_URL", Message: "DATABASE_URL is required"}}
	}

	pool, err := dbx.NewPool(cfg)
	if err != nil {
		logger.Error(context.Background(), "db_init_failed", "database init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		return storage{}, nil, []config.Problem{{Field: "DATABASE_URL", Message: "failed to connect to database"}}
	}
	if strings.EqualFold(os.Getenv("APPLY_SCHEMA"), "true") {
		if err := repos.ApplySchema(context.Background(), pool); err != nil {
			logger.Error(context.Background(), "schema_apply_failed", "schema apply failed",
				slog.String("error", err.Error()),
			)
		}
	}
	transactor := repos.NewTransactor(pool)
	return storage{
		orders:     repos.NewOrdersRepo(pool),
		outbox:     repos.NewOutboxRepo(pool),
		transactor: transactor,
		pinger:     transactor,
	}, pool, nil
}

func newPricing(cfg config.Config, cache *cachex.Client) (app.PricingService, error) {
	var source pricing.Source
	if cfg.PricingURL == "" {
		static, err := pricing.NewStatic(pricing.DefaultStaticPrices())
		if err != nil {
			return nil, err
		}
		source = static
	} else {
		client, err := pricing.NewHTTPClient(cfg)
		if err != nil {
			return nil, err
		}
		source = client
	}
	if cache != nil && cfg.PricingCacheTTL > 0 {
		return pricing.NewCached(source, cache, time.Duration(cfg.PricingCacheTTL)*time.Second), nil
	}
	return source, nil
}
