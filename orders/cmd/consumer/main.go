package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"order-outbox/orders/internal/consumer"
	"order-outbox/orders/internal/repos"
	"order-outbox/shared/config"
	"order-outbox/shared/dbx"
	"order-outbox/shared/events"
	"order-outbox/shared/logx"
	"order-outbox/shared/metricsx"
	"order-outbox/shared/mqx"
	"order-outbox/shared/observability"
)

func main() {
	cfg, problems := config.Load("order-events-consumer", 8082)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)
	metricsx.Register()

	if cfg.DatabaseURL == "" {
		problems = append(problems, config.Problem{Field: "DATABASE_URL", Message: "DATABASE_URL is required"})
	}
	if cfg.KafkaGroupID == "" {
		problems = append(problems, config.Problem{Field: "KAFKA_CONSUMER_GROUP", Message: "KAFKA_CONSUMER_GROUP is required"})
	}
	if cfg.BrokerKind == config.BrokerKafka && len(cfg.KafkaBrokers) == 0 {
		problems = append(problems, config.Problem{Field: "KAFKA_BROKERS", Message: "KAFKA_BROKERS is required"})
	}
	if cfg.BrokerKind == config.BrokerAMQP && cfg.AMQPURL == "" {
		problems = append(problems, config.Problem{Field: "AMQP_URL", Message: "AMQP_URL is required"})
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
		logger.Error(context.Background(), "db_init_failed", "db init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer dbPool.Close()

	handler := consumer.New(repos.NewProcessedRepo(dbPool), consumer.LogOrderEvents(logger), logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Routing keys are event types unless the relay collapses them into one.
	keys := events.OrderEventTypes()
	if cfg.OutboxRoutingKey != "" {
		keys = []string{cfg.OutboxRoutingKey}
	}

	if cfg.BrokerKind == config.BrokerAMQP {
		err = consumeAMQP(ctx, cfg, keys, handler, logger)
	} else {
		err = consumeKafka(ctx, cfg, keys, handler, logger)
	}
	if err != nil {
		logger.Error(context.Background(), "consumer_failed", "consumer failed",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	logger.Info(context.Background(), "consumer_stop", "order events consumer stopped")
}

func consumeKafka(ctx context.Context, cfg config.Config, topics []string, handler *consumer.Handler, logger logx.Logger) error {
	reader, err := mqx.NewConsumer(cfg, topics, cfg.KafkaGroupID)
	if err != nil {
		return err
	}
	defer reader.Close()

	logger.Info(ctx, "consumer_start", "order events consumer started",
		slog.String("broker", config.BrokerKafka),
		slog.Any("topics", topics),
		slog.String("group", cfg.KafkaGroupID),
	)

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			logger.Error(ctx, "kafka_fetch_failed", "failed to fetch message",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
			time.Sleep(500 * time.Millisecond)
			continue
		}

		spanCtx, span := otel.Tracer("mqx").Start(ctx, "kafka.consume")
		span.SetAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
			attribute.String("messaging.message_id", mqx.HeaderValue(msg, events.HeaderEventID)),
		)
		err = handler.HandleWithRetry(spanCtx, msg.Value, consumer.RetryPolicy{
			Initial: 200 * time.Millisecond,
			Max:     10 * time.Second,
			OnRetry: func(attempt int, err error) {
				logger.Error(ctx, "event_handle_failed", "failed to handle event, retrying",
					slog.String("error_code", "INTERNAL_ERROR"),
					slog.String("topic", msg.Topic),
					slog.Int64("offset", msg.Offset),
					slog.Int("attempt", attempt),
					slog.String("error", err.Error()),
				)
			},
		})
		span.End()
		if err != nil && !errors.Is(err, consumer.ErrMalformed) {
			// Shutting down: leave the offset uncommitted so it is refetched.
			return nil
		}
		if err != nil {
			logger.Warn(ctx, "event_malformed", "dropping malformed event",
				slog.String("topic", msg.Topic),
				slog.Int64("offset", msg.Offset),
				slog.String("error", err.Error()),
			)
		}
		if err := reader.CommitMessages(ctx, msg); err != nil {
			logger.Error(ctx, "kafka_commit_failed", "failed to commit message",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
		}
		stats := reader.Stats()
		metricsx.SetKafkaLag(stats.Topic, cfg.KafkaGroupID, stats.Lag)
	}
}

func consumeAMQP(ctx context.Context, cfg config.Config, routingKeys []string, handler *consumer.Handler, logger logx.Logger) error {
	queue := cfg.KafkaGroupID
	c, err := mqx.NewAMQPConsumer(cfg, queue, routingKeys)
	if err != nil {
		return err
	}
	defer c.Close()

	deliveries, err := c.Deliveries(cfg.ServiceName)
	if err != nil {
		return err
	}
	logger.Info(ctx, "consumer_start", "order events consumer started",
		slog.String("broker", config.BrokerAMQP),
		slog.String("queue", queue),
		slog.Any("routing_keys", routingKeys),
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("amqp delivery channel closed")
			}
			handleDelivery(ctx, d, handler, logger)
		}
	}
}

func handleDelivery(ctx context.Context, d amqp.Delivery, handler *consumer.Handler, logger logx.Logger) {
	spanCtx, span := otel.Tracer("mqx").Start(ctx, "amqp.consume")
	span.SetAttributes(
		attribute.String("messaging.system", "rabbitmq"),
		attribute.String("messaging.rabbitmq.routing_key", d.RoutingKey),
		attribute.String("messaging.message_id", d.MessageId),
	)
	defer span.End()

	err := handler.Handle(spanCtx, d.Body)
	switch {
	case err == nil:
		_ = d.Ack(false)
	case errors.Is(err, consumer.ErrMalformed):
		logger.Warn(ctx, "event_malformed", "dropping malformed event",
			slog.String("routing_key", d.RoutingKey),
			slog.String("error", err.Error()),
		)
		_ = d.Ack(false)
	default:
		logger.Error(ctx, "event_handle_failed", "failed to handle event",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", err.Error()),
		)
		_ = d.Nack(false, true)
	}
}
