// Package locks serialises writers of one order across api replicas with a
// Redis lease. Versioned saves remain the source of correctness; the lock
// only cuts down on conflict retries.
package locks

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"order-outbox/orders/internal/domain"
	"order-outbox/shared/lockx"
	"order-outbox/shared/logx"
)

type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	logger logx.Logger
}

func NewRedisLocker(client *redis.Client, ttl time.Duration, logger logx.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &RedisLocker{client: client, ttl: ttl, logger: logger}
}

func lockKey(id domain.OrderID) string {
	return "order-lock:" + string(id)
}

// Lock waits for the order's lease. A Redis failure degrades to running
// unlocked; only ctx expiry is reported as an error.
func (l *RedisLocker) Lock(ctx context.Context, id domain.OrderID) (func(), error) {
	lock, err := lockx.AcquireWait(ctx, l.client, lockKey(id), l.ttl, 25*time.Millisecond)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		l.logger.Warn(ctx, "order_lock_unavailable", "running without order lock",
			slog.String("order_id", string(id)),
			slog.String("error", err.Error()),
		)
		return func() {}, nil
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := lockx.Release(ctx, l.client, lock); err != nil {
			l.logger.Warn(ctx, "order_lock_release_failed", "order lock release failed",
				slog.String("order_id", string(id)),
				slog.String("error", err.Error()),
			)
		}
	}, nil
}
