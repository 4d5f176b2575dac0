package cachex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"order-outbox/shared/config"
)

var ErrNoClient = errors.New("cachex: redis client not initialized")

// Client stores JSON values in Redis under a per-service key prefix. It backs
// the price cache and hands its connection to the per-order lock. Reads and
// writes time out after 250ms.
type Client struct {
	redis  *redis.Client
	prefix string
}

func New(cfg config.Config) (*Client, error) {
	if cfg.RedisAddr == "" {
		return nil, errors.New("REDIS_ADDR is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  time.Second,
		ReadTimeout:  250 * time.Millisecond,
		WriteTimeout: 250 * time.Millisecond,
	})
	return NewWithClient(rdb, cfg.ServiceName+":"), nil
}

// NewWithClient wraps an existing connection.
func NewWithClient(rdb *redis.Client, prefix string) *Client {
	return &Client{redis: rdb, prefix: prefix}
}

func (c *Client) key(k string) string { return c.prefix + k }

func (c *Client) ready() error {
	if c == nil || c.redis == nil {
		return ErrNoClient
	}
	return nil
}

// SetJSON stores value under key for ttl.
func (c *Client) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	if err := c.ready(); err != nil {
		return err
	}
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cachex: encode %s: %w", key, err)
	}
	return c.redis.Set(ctx, c.key(key), b, ttl).Err()
}

// GetJSON loads key into dest and reports whether it was present.
func (c *Client) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	if err := c.ready(); err != nil {
		return false, err
	}
	raw, err := c.redis.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("cachex: decode %s: %w", key, err)
	}
	return true, nil
}

func (c *Client) Client() *redis.Client {
	if c == nil {
		return nil
	}
	return c.redis
}

func (c *Client) Close() error {
	if c.ready() != nil {
		return nil
	}
	return c.redis.Close()
}
