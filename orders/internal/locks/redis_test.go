package locks

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"order-outbox/orders/internal/domain"
	"order-outbox/shared/logx"
)

func TestLockDegradesWithoutRedis(t *testing.T) {
	l := NewRedisLocker(nil, 0, logx.Nop())

	unlock, err := l.Lock(context.Background(), domain.OrderID("o-1"))
	require.NoError(t, err)
	require.NotNil(t, unlock)
	unlock()
}

func TestLockDegradesWhenRedisUnreachable(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	l := NewRedisLocker(rdb, time.Second, logx.Nop())

	unlock, err := l.Lock(context.Background(), domain.OrderID("o-1"))
	require.NoError(t, err)
	unlock()
}

func TestLockKeyIsPerOrder(t *testing.T) {
	assert.Equal(t, "order-lock:o-1", lockKey(domain.OrderID("o-1")))
	assert.NotEqual(t, lockKey("o-1"), lockKey("o-2"))
}
