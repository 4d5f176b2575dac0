package cachex

import (
	"context"
	"errors"
	"testing"
	"time"

	"order-outbox/shared/config"
)

func TestNewRequiresAddr(t *testing.T) {
	if _, err := New(config.Config{}); err == nil {
		t.Fatalf("expected error without REDIS_ADDR")
	}
}

func TestNilClientReportsErrors(t *testing.T) {
	var c *Client
	ctx := context.Background()
	if err := c.SetJSON(ctx, "k", 1, time.Second); !errors.Is(err, ErrNoClient) {
		t.Fatalf("SetJSON: err = %v", err)
	}
	if _, err := c.GetJSON(ctx, "k", new(int)); !errors.Is(err, ErrNoClient) {
		t.Fatalf("GetJSON: err = %v", err)
	}
	if c.Client() != nil {
		t.Fatalf("Client: expected nil")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestKeysArePrefixed(t *testing.T) {
	c := NewWithClient(nil, "orders-api:")
	if got := c.key("price:EUR:abc-1"); got != "orders-api:price:EUR:abc-1" {
		t.Fatalf("key = %q", got)
	}
}
