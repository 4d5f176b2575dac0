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

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"order-outbox/orders/internal/outbox"
	"order-outbox/orders/internal/repos"
	"order-outbox/shared/config"
	"order-outbox/shared/dbx"
	"order-outbox/shared/httpx"
	"order-outbox/shared/logx"
	"order-outbox/shared/metricsx"
	"order-outbox/shared/mqx"
	"order-outbox/shared/observability"
)

type publisher interface {
	outbox.Publisher
	Close() error
}

func main() {
	cfg, problems := config.Load("outbox-relay", 8083)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)
	metricsx.Register()

	if cfg.DatabaseURL == "" {
		problems = append(problems, config.Problem{Field: "DATABASE_URL", Message: "DATABASE_URL is required"})
	}
	switch cfg.BrokerKind {
	case config.BrokerKafka:
		if len(cfg.KafkaBrokers) == 0 {
			problems = append(problems, config.Problem{Field: "KAFKA_BROKERS", Message: "KAFKA_BROKERS is required"})
		}
	case config.BrokerAMQP:
		if cfg.AMQPURL == "" {
			problems = append(problems, config.Problem{Field: "AMQP_URL", Message: "AMQP_URL is required"})
		}
	}
	if cfg.AsynqEnabled && cfg.AsynqRedisAddr == "" {
		problems = append(problems, config.Problem{Field: "ASYNQ_REDIS_ADDR", Message: "ASYNQ_REDIS_ADDR is required"})
	}
	if len(problems) > 0 {
		logger.Error(context.Background(), "config_invalid", "invalid config",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.Any("problems", problems),
		)
		os.Exit(1)
	}

	if shutdown, err := observability.InitTracer(context.Background(), cfg, version); err == nil {
		defer func() { _ = shutdown(context.Background()) }()
	}

	dbPool, err := dbx.NewPool(cfg)
	if err != nil {
		fatal(logger, "db_init_failed", "db init failed", err)
	}
	defer dbPool.Close()

	pub, err := newPublisher(cfg)
	if err != nil {
		fatal(logger, "broker_init_failed", "broker publisher init failed", err)
	}
	defer func() { _ = pub.Close() }()

	relay := outbox.NewRelay(repos.NewOutboxRepo(dbPool), pub, logger, outbox.Options{
		BatchSize:  cfg.OutboxBatchSize,
		Lease:      cfg.OutboxLease(),
		Interval:   cfg.OutboxScanInterval(),
		RoutingKey: cfg.OutboxRoutingKey,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serveProbes(gctx, cfg, version, logger) })

	logger.Info(ctx, "relay_start", "outbox relay started",
		slog.String("broker", cfg.BrokerKind),
		slog.Bool("asynq", cfg.AsynqEnabled),
		slog.Int("batch_size", cfg.OutboxBatchSize),
		slog.Int("interval_seconds", cfg.OutboxScanSec),
	)
	if cfg.AsynqEnabled {
		g.Go(func() error { return runScheduled(gctx, cfg, relay, logger) })
	} else {
		g.Go(func() error { return relay.Run(gctx) })
	}

	if err := g.Wait(); err != nil {
		fatal(logger, "relay_failed", "relay failed", err)
	}
	logger.Info(context.Background(), "relay_stop", "outbox relay stopped")
}

func newPublisher(cfg config.Config) (publisher, error) {
	if cfg.BrokerKind == config.BrokerAMQP {
		p, err := mqx.NewAMQPPublisher(cfg)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	p, err := mqx.NewProducer(cfg)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// runScheduled drives the relay from an asynq periodic task instead of a
// local ticker, so several relay replicas share one schedule.
func runScheduled(ctx context.Context, cfg config.Config, relay *outbox.Relay, logger logx.Logger) error {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.AsynqRedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.AsynqConcurrency,
		Queues:      map[string]int{cfg.AsynqQueue: 1},
	})
	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Location: time.UTC})
	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()

	mux := asynq.NewServeMux()
	if err := relay.RegisterAsynq(mux, scheduler, cfg.AsynqQueue); err != nil {
		return err
	}
	if err := scheduler.Start(); err != nil {
		return err
	}
	defer scheduler.Shutdown()
	if err := server.Start(mux); err != nil {
		return err
	}
	defer server.Shutdown()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			info, err := inspector.GetQueueInfo(cfg.AsynqQueue)
			if err != nil {
				logger.Debug(ctx, "queue_info_failed", "asynq queue info unavailable", slog.String("error", err.Error()))
				continue
			}
			metricsx.SetAsynqQueueDepth(cfg.AsynqQueue, info.Size)
		}
	}
}

func serveProbes(ctx context.Context, cfg config.Config, version string, logger logx.Logger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": cfg.ServiceName, "version": version})
	})
	mux.Handle("GET /metrics", metricsx.Handler())

	server := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(cfg.HTTPPort)),
		Handler:           httpx.WithRecover(logger, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func fatal(logger logx.Logger, event string, msg string, err error) {
	logger.Error(context.Background(), event, msg,
		slog.String("error_code", "FAILED_PRECONDITION"),
		slog.String("error", err.Error()),
	)
	os.Exit(1)
}
