package mqx

import (
	"context"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"order-outbox/shared/config"
	"order-outbox/shared/events"
)

func TestKafkaHeadersRoundTrip(t *testing.T) {
	msg := kafka.Message{Headers: kafkaHeaders(map[string]string{
		events.HeaderEventID:   "e-1",
		events.HeaderEventType: "order.created",
	})}

	assert.Equal(t, "e-1", HeaderValue(msg, events.HeaderEventID))
	assert.Equal(t, "order.created", HeaderValue(msg, events.HeaderEventType))
	assert.Equal(t, "", HeaderValue(msg, "missing"))
	assert.Nil(t, kafkaHeaders(nil))
}

func TestConstructorsValidateConfig(t *testing.T) {
	_, err := NewProducer(config.Config{})
	require.Error(t, err)

	_, err = NewConsumer(config.Config{KafkaBrokers: []string{"localhost:9092"}}, nil, "g")
	require.Error(t, err)
	_, err = NewConsumer(config.Config{KafkaBrokers: []string{"localhost:9092"}}, []string{"order.created"}, "")
	require.Error(t, err)

	_, err = NewAMQPPublisher(config.Config{})
	require.Error(t, err)
	_, err = NewAMQPConsumer(config.Config{AMQPURL: "amqp://localhost"}, "", nil)
	require.Error(t, err)
}

func TestNilPublishersFail(t *testing.T) {
	var p *Producer
	require.Error(t, p.Publish(context.Background(), "t", nil, nil, nil))
	require.NoError(t, p.Close())

	var a *AMQPPublisher
	require.Error(t, a.Publish(context.Background(), "rk", nil, nil, nil))
	require.NoError(t, a.Close())
}

func TestProducerUsesRetryFloor(t *testing.T) {
	p, err := NewProducer(config.Config{KafkaBrokers: []string{"localhost:9092"}, KafkaRetryMax: 0})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	assert.Equal(t, 1, p.writer.MaxAttempts)
	assert.Equal(t, kafka.RequireAll, p.writer.RequiredAcks)
}

func TestReturnedMatchesMessageID(t *testing.T) {
	returns := make(chan amqp.Return, 4)
	returns <- amqp.Return{MessageId: "e-0", ReplyText: "NO_ROUTE"}
	require.False(t, returned(returns, "e-1"))
	require.Empty(t, returns)

	returns <- amqp.Return{MessageId: "e-1", ReplyText: "NO_ROUTE"}
	require.True(t, returned(returns, "e-1"))

	close(returns)
	require.False(t, returned(returns, "e-2"))
}

func TestDrainReturnsEmptiesStaleReturns(t *testing.T) {
	returns := make(chan amqp.Return, 2)
	returns <- amqp.Return{MessageId: "old-1"}
	returns <- amqp.Return{MessageId: "old-2"}
	drainReturns(returns)
	require.Empty(t, returns)
	require.False(t, returned(returns, "old-1"))
}
