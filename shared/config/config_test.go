package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseCSV(t *testing.T) {
	got := parseCSV("a, b, ,c,,")
	if len(got) != 3 {
		t.Fatalf("expected 3 items, got %d", len(got))
	}
	if got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("unexpected values: %#v", got)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("ENV", "test")
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("OUTBOX_BATCH_SIZE", "25")
	t.Setenv("SUPPORTED_CURRENCIES", "usd, eur,gbp")
	t.Setenv("BROKER_KIND", "AMQP")

	cfg, problems := Load("orders-api", 8080)
	if len(problems) != 0 {
		t.Fatalf("unexpected problems: %#v", problems)
	}
	if cfg.OutboxBatchSize != 25 {
		t.Fatalf("expected batch size 25, got %d", cfg.OutboxBatchSize)
	}
	if len(cfg.SupportedCurrency) != 3 || cfg.SupportedCurrency[2] != "GBP" {
		t.Fatalf("unexpected currencies: %#v", cfg.SupportedCurrency)
	}
	if cfg.BrokerKind != BrokerAMQP {
		t.Fatalf("expected amqp broker, got %q", cfg.BrokerKind)
	}
}

func TestLoadReportsInvalidValues(t *testing.T) {
	t.Setenv("ENV", "test")
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("OUTBOX_BATCH_SIZE", "zero")
	t.Setenv("ORDER_MAX_QUANTITY", "-4")

	cfg, problems := Load("orders-api", 8080)
	fields := map[string]bool{}
	for _, p := range problems {
		fields[p.Field] = true
	}
	if !fields["OUTBOX_BATCH_SIZE"] || !fields["ORDER_MAX_QUANTITY"] {
		t.Fatalf("expected problems for both fields, got %#v", problems)
	}
	if cfg.OutboxBatchSize != 50 || cfg.OrderMaxQuantity != 1000 {
		t.Fatalf("expected defaults to be restored, got %d/%d", cfg.OutboxBatchSize, cfg.OrderMaxQuantity)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orders.yaml")
	data := `
ENV: staging
OUTBOX_ROUTING_KEY: order.events
KAFKA_BROKERS:
  - kafka-1:9092
  - kafka-2:9092
ASYNQ_ENABLED: true
OTEL_SAMPLE_RATIO: 0.25
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv("ENV", "")
	t.Setenv("CONFIG_PATH", path)

	cfg, problems := Load("orders-relay", 8081)
	if len(problems) != 0 {
		t.Fatalf("unexpected problems: %#v", problems)
	}
	if cfg.Env != "staging" || cfg.OutboxRoutingKey != "order.events" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if len(cfg.KafkaBrokers) != 2 || !cfg.AsynqEnabled || cfg.OtelSampleRatio != 0.25 {
		t.Fatalf("unexpected values: brokers=%v asynq=%v ratio=%v", cfg.KafkaBrokers, cfg.AsynqEnabled, cfg.OtelSampleRatio)
	}
}
