package mqx

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"order-outbox/shared/config"
	"order-outbox/shared/events"
)

var (
	ErrNacked     = errors.New("amqp: broker did not confirm message")
	ErrUnroutable = errors.New("amqp: message returned as unroutable")
)

// AMQPPublisher publishes persistent, mandatory messages to a topic exchange
// with publisher confirms enabled. Publish returns nil only after the broker
// acks and the message was routed to at least one queue. A closed channel is
// reopened on the next Publish.
type AMQPPublisher struct {
	mu       sync.Mutex
	url      string
	exchange string
	conn     *amqp.Connection
	channel  *amqp.Channel
	returns  chan amqp.Return
}

func dialAMQP(url string, attempts int) (*amqp.Connection, error) {
	var (
		conn *amqp.Connection
		err  error
	)
	for i := 0; i < attempts; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		time.Sleep(2 * time.Second)
	}
	return nil, fmt.Errorf("connect to rabbitmq: %w", err)
}

func declareExchange(ch *amqp.Channel, exchange string) error {
	return ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil)
}

func NewAMQPPublisher(cfg config.Config) (*AMQPPublisher, error) {
	if cfg.AMQPURL == "" {
		return nil, errors.New("AMQP_URL is required")
	}
	p := &AMQPPublisher{url: cfg.AMQPURL, exchange: cfg.AMQPExchange}
	if err := p.connect(5); err != nil {
		return nil, err
	}
	return p, nil
}

// connect opens the connection if needed and a fresh confirm-mode channel.
// Callers hold p.mu or own p exclusively.
func (p *AMQPPublisher) connect(attempts int) error {
	if p.conn == nil || p.conn.IsClosed() {
		conn, err := dialAMQP(p.url, attempts)
		if err != nil {
			return err
		}
		p.conn = conn
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	if err := declareExchange(ch, p.exchange); err != nil {
		_ = ch.Close()
		return fmt.Errorf("declare exchange %s: %w", p.exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return fmt.Errorf("enable confirms: %w", err)
	}
	p.channel = ch
	p.returns = ch.NotifyReturn(make(chan amqp.Return, 16))
	return nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, routingKey string, key []byte, payload []byte, headers map[string]string) error {
	if p == nil || p.url == "" {
		return errors.New("amqp publisher not initialized")
	}
	ctx, span := otel.Tracer("mqx").Start(ctx, "amqp.publish")
	span.SetAttributes(
		attribute.String("messaging.system", "rabbitmq"),
		attribute.String("messaging.destination", p.exchange),
		attribute.String("messaging.rabbitmq.routing_key", routingKey),
	)
	defer span.End()

	table := amqp.Table{}
	for k, v := range headers {
		table[k] = v
	}
	msg := amqp.Publishing{
		MessageId:     headers[events.HeaderEventID],
		Type:          headers[events.HeaderEventType],
		CorrelationId: string(key),
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Timestamp:     time.Now().UTC(),
		Headers:       table,
		Body:          payload,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel == nil || p.channel.IsClosed() {
		if err := p.connect(1); err != nil {
			span.RecordError(err)
			return fmt.Errorf("reconnect: %w", err)
		}
	}
	drainReturns(p.returns)

	confirm, err := p.channel.PublishWithDeferredConfirmWithContext(ctx, p.exchange, routingKey, true, false, msg)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if !acked {
		span.RecordError(ErrNacked)
		return ErrNacked
	}
	if returned(p.returns, msg.MessageId) {
		span.RecordError(ErrUnroutable)
		return fmt.Errorf("publish %s: %w", routingKey, ErrUnroutable)
	}
	return nil
}

// returned reports whether the broker bounced messageID. RabbitMQ sends
// basic.return before the confirm, so by the time the ack is seen any return
// for this message is already buffered.
func returned(returns <-chan amqp.Return, messageID string) bool {
	for {
		select {
		case r, ok := <-returns:
			if !ok {
				return false
			}
			if r.MessageId == messageID {
				return true
			}
		default:
			return false
		}
	}
}

func drainReturns(returns <-chan amqp.Return) {
	for {
		select {
		case _, ok := <-returns:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func (p *AMQPPublisher) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}

// AMQPConsumer reads a durable queue bound to the exchange with manual acks.
type AMQPConsumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
}

func NewAMQPConsumer(cfg config.Config, queue string, routingKeys []string) (*AMQPConsumer, error) {
	if cfg.AMQPURL == "" {
		return nil, errors.New("AMQP_URL is required")
	}
	if queue == "" {
		return nil, errors.New("queue name is required")
	}
	conn, err := dialAMQP(cfg.AMQPURL, 5)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := declareExchange(ch, cfg.AMQPExchange); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", cfg.AMQPExchange, err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	for _, rk := range routingKeys {
		if err := ch.QueueBind(queue, rk, cfg.AMQPExchange, false, nil); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("bind %s to %s: %w", queue, rk, err)
		}
	}
	if err := ch.Qos(16, 0, false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	return &AMQPConsumer{conn: conn, channel: ch, queue: queue}, nil
}

func (c *AMQPConsumer) Deliveries(consumerTag string) (<-chan amqp.Delivery, error) {
	return c.channel.Consume(c.queue, consumerTag, false, false, false, false, nil)
}

func (c *AMQPConsumer) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	_ = c.channel.Close()
	return c.conn.Close()
}
