package observability

import (
	"context"
	"testing"

	"order-outbox/shared/config"
)

func TestInitTracerDisabledIsNoop(t *testing.T) {
	for _, cfg := range []config.Config{
		{ServiceName: "orders-api"},
		{ServiceName: "orders-api", OtelEnabled: true},
	} {
		shutdown, err := InitTracer(context.Background(), cfg, "test")
		if err != nil {
			t.Fatalf("init: %v", err)
		}
		if err := shutdown(context.Background()); err != nil {
			t.Fatalf("shutdown: %v", err)
		}
	}
}
