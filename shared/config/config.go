package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BrokerKafka = "kafka"
	BrokerAMQP  = "amqp"
)

type Problem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type Config struct {
	Env              string
	ServiceName      string
	HTTPPort         int
	LogLevel         string
	ConfigPath       string
	RequestTimeoutMS int
	RequestTimeout   time.Duration

	DatabaseURL      string
	DBMaxConns       int
	DBMinConns       int
	DBConnMaxIdleSec int
	DBConnMaxLifeSec int

	BrokerKind    string
	KafkaBrokers  []string
	KafkaClientID string
	KafkaGroupID  string
	KafkaRetryMax int
	KafkaWriteMS  int
	AMQPURL       string
	AMQPExchange  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AsynqEnabled     bool
	AsynqRedisAddr   string
	AsynqQueue       string
	AsynqConcurrency int

	OutboxScanSec     int
	OutboxBatchSize   int
	OutboxLeaseSec    int
	OutboxRoutingKey  string
	PricingURL        string
	PricingTimeoutMS  int
	PricingCacheTTL   int
	OrderMaxQuantity  int
	OrderRetries      int
	OrderLockTTLSec   int
	SupportedCurrency []string

	RateLimitRPS   int
	RateLimitBurst int
	CORSOrigins    []string

	OtelEnabled     bool
	OtelEndpoint    string
	OtelInsecure    bool
	OtelSampleRatio float64
}

func (c Config) OutboxScanInterval() time.Duration {
	return time.Duration(c.OutboxScanSec) * time.Second
}

func (c Config) OutboxLease() time.Duration {
	return time.Duration(c.OutboxLeaseSec) * time.Second
}

func (c Config) PricingTimeout() time.Duration {
	return time.Duration(c.PricingTimeoutMS) * time.Millisecond
}

func defaults(serviceName string, httpPort int) Config {
	return Config{
		ServiceName:       serviceName,
		HTTPPort:          httpPort,
		LogLevel:          "info",
		RequestTimeoutMS:  30000,
		DBMaxConns:        10,
		DBMinConns:        1,
		DBConnMaxIdleSec:  300,
		DBConnMaxLifeSec:  1800,
		BrokerKind:        BrokerKafka,
		KafkaRetryMax:     5,
		KafkaWriteMS:      5000,
		AMQPExchange:      "order.events",
		AsynqQueue:        "outbox",
		AsynqConcurrency:  4,
		OutboxScanSec:     1,
		OutboxBatchSize:   50,
		OutboxLeaseSec:    30,
		PricingTimeoutMS:  2000,
		PricingCacheTTL:   60,
		OrderMaxQuantity:  1000,
		OrderRetries:      3,
		OrderLockTTLSec:   10,
		SupportedCurrency: []string{"USD", "EUR"},
		RateLimitRPS:      20,
		RateLimitBurst:    40,
		OtelInsecure:      true,
		OtelSampleRatio:   1.0,
	}
}

// Load resolves configuration from defaults, an optional JSON or YAML file and
// the environment, in that order. Invalid values are reported as problems and
// replaced by their defaults; the caller decides whether problems are fatal.
func Load(serviceNameDefault string, httpPortDefault int) (Config, []Problem) {
	cfg := defaults(serviceNameDefault, httpPortDefault)
	cfg.Env = strings.TrimSpace(os.Getenv("ENV"))
	cfg.ConfigPath = strings.TrimSpace(os.Getenv("CONFIG_PATH"))

	problems := make([]Problem, 0, 4)
	envProvided := cfg.Env != ""

	if repoRoot, ok := findRepoRoot(); ok && cfg.Env != "" && cfg.ConfigPath == "" {
		cfg.ConfigPath = filepath.Join(repoRoot, "configs", cfg.Env+".json")
	}

	fileData, fileProblems, ok := loadConfigFile(cfg.ConfigPath, strings.TrimSpace(os.Getenv("CONFIG_PATH")) != "")
	problems = append(problems, fileProblems...)
	if ok {
		if fileEnv, ok := readStringKey(fileData, "ENV"); ok && strings.TrimSpace(fileEnv) != "" {
			envProvided = true
		}
		applyValues(&cfg, fileData, &problems)
	}

	applyValues(&cfg, environ(), &problems)

	if cfg.Env == "" {
		cfg.Env = "dev"
	}
	if !envProvided {
		problems = append(problems, Problem{Field: "ENV", Message: "ENV is required"})
	}
	validate(&cfg, httpPortDefault, &problems)
	cfg.RequestTimeout = time.Duration(cfg.RequestTimeoutMS) * time.Millisecond

	return cfg, problems
}

func validate(cfg *Config, httpPortDefault int, problems *[]Problem) {
	def := defaults(cfg.ServiceName, httpPortDefault)
	positive := []struct {
		field string
		value *int
		def   int
	}{
		{"REQUEST_TIMEOUT_MS", &cfg.RequestTimeoutMS, def.RequestTimeoutMS},
		{"DB_MAX_CONNS", &cfg.DBMaxConns, def.DBMaxConns},
		{"DB_CONN_MAX_IDLE_SECONDS", &cfg.DBConnMaxIdleSec, def.DBConnMaxIdleSec},
		{"DB_CONN_MAX_LIFETIME_SECONDS", &cfg.DBConnMaxLifeSec, def.DBConnMaxLifeSec},
		{"KAFKA_WRITE_TIMEOUT_MS", &cfg.KafkaWriteMS, def.KafkaWriteMS},
		{"ASYNQ_CONCURRENCY", &cfg.AsynqConcurrency, def.AsynqConcurrency},
		{"OUTBOX_SCAN_INTERVAL_SECONDS", &cfg.OutboxScanSec, def.OutboxScanSec},
		{"OUTBOX_BATCH_SIZE", &cfg.OutboxBatchSize, def.OutboxBatchSize},
		{"OUTBOX_CLAIM_LEASE_SECONDS", &cfg.OutboxLeaseSec, def.OutboxLeaseSec},
		{"PRICING_TIMEOUT_MS", &cfg.PricingTimeoutMS, def.PricingTimeoutMS},
		{"ORDER_MAX_QUANTITY", &cfg.OrderMaxQuantity, def.OrderMaxQuantity},
		{"ORDER_LOCK_TTL_SECONDS", &cfg.OrderLockTTLSec, def.OrderLockTTLSec},
	}
	for _, p := range positive {
		if *p.value <= 0 {
			*problems = append(*problems, Problem{Field: p.field, Message: p.field + " must be > 0"})
			*p.value = p.def
		}
	}

	nonNegative := []struct {
		field string
		value *int
		def   int
	}{
		{"DB_MIN_CONNS", &cfg.DBMinConns, def.DBMinConns},
		{"KAFKA_RETRY_MAX", &cfg.KafkaRetryMax, def.KafkaRetryMax},
		{"REDIS_DB", &cfg.RedisDB, def.RedisDB},
		{"PRICING_CACHE_TTL_SECONDS", &cfg.PricingCacheTTL, def.PricingCacheTTL},
		{"ORDER_CONFLICT_RETRIES", &cfg.OrderRetries, def.OrderRetries},
		{"RATE_LIMIT_RPS", &cfg.RateLimitRPS, def.RateLimitRPS},
		{"RATE_LIMIT_BURST", &cfg.RateLimitBurst, def.RateLimitBurst},
	}
	for _, p := range nonNegative {
		if *p.value < 0 {
			*problems = append(*problems, Problem{Field: p.field, Message: p.field + " must be >= 0"})
			*p.value = p.def
		}
	}

	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		*problems = append(*problems, Problem{Field: "HTTP_PORT", Message: "HTTP_PORT must be 1-65535"})
		cfg.HTTPPort = httpPortDefault
	}
	if cfg.DBMinConns > cfg.DBMaxConns {
		*problems = append(*problems, Problem{Field: "DB_MIN_CONNS", Message: "DB_MIN_CONNS must be <= DB_MAX_CONNS"})
		cfg.DBMinConns = cfg.DBMaxConns
	}
	switch cfg.BrokerKind {
	case BrokerKafka, BrokerAMQP:
	default:
		*problems = append(*problems, Problem{Field: "BROKER_KIND", Message: "BROKER_KIND must be kafka or amqp"})
		cfg.BrokerKind = BrokerKafka
	}
	if len(cfg.SupportedCurrency) == 0 {
		*problems = append(*problems, Problem{Field: "SUPPORTED_CURRENCIES", Message: "SUPPORTED_CURRENCIES must not be empty"})
		cfg.SupportedCurrency = def.SupportedCurrency
	}
	if cfg.OtelSampleRatio < 0 || cfg.OtelSampleRatio > 1 {
		*problems = append(*problems, Problem{Field: "OTEL_SAMPLE_RATIO", Message: "OTEL_SAMPLE_RATIO must be 0-1"})
		cfg.OtelSampleRatio = 1.0
	}
}

func findRepoRoot() (string, bool) {
	start, err := os.Getwd()
	if err != nil {
		return "", false
	}
	dir := start
	for i := 0; i < 8; i++ {
		candidate := filepath.Join(dir, "configs")
		if fi, err := os.Stat(candidate); err == nil && fi.IsDir() {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false
}

func loadConfigFile(path string, explicit bool) (map[string]any, []Problem, bool) {
	if strings.TrimSpace(path) == "" {
		return nil, nil, false
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if explicit && !errors.Is(err, os.ErrNotExist) {
			return nil, []Problem{{Field: "CONFIG_PATH", Message: fmt.Sprintf("failed to read config file: %v", err)}}, false
		}
		if explicit && errors.Is(err, os.ErrNotExist) {
			return nil, []Problem{{Field: "CONFIG_PATH", Message: "config file not found"}}, false
		}
		return nil, nil, false
	}

	raw, err := decodeConfig(path, b)
	if err != nil {
		return nil, []Problem{{Field: "CONFIG_PATH", Message: err.Error()}}, false
	}
	return raw, nil, true
}

func decodeConfig(path string, b []byte) (map[string]any, error) {
	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &raw); err != nil {
			return nil, fmt.Errorf("invalid yaml: %v", err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("invalid json: %v", err)
		}
	}
	return raw, nil
}

var envKeys = []string{
	"ENV", "SERVICE_NAME", "HTTP_PORT", "PORT", "LOG_LEVEL", "REQUEST_TIMEOUT_MS",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_CONN_MAX_IDLE_SECONDS", "DB_CONN_MAX_LIFETIME_SECONDS",
	"BROKER_KIND", "KAFKA_BROKERS", "KAFKA_CLIENT_ID", "KAFKA_CONSUMER_GROUP", "KAFKA_RETRY_MAX", "KAFKA_WRITE_TIMEOUT_MS",
	"AMQP_URL", "AMQP_EXCHANGE",
	"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB",
	"ASYNQ_ENABLED", "ASYNQ_REDIS_ADDR", "ASYNQ_QUEUE", "ASYNQ_CONCURRENCY",
	"OUTBOX_SCAN_INTERVAL_SECONDS", "OUTBOX_BATCH_SIZE", "OUTBOX_CLAIM_LEASE_SECONDS", "OUTBOX_ROUTING_KEY",
	"PRICING_SERVICE_URL", "PRICING_TIMEOUT_MS", "PRICING_CACHE_TTL_SECONDS",
	"ORDER_MAX_QUANTITY", "ORDER_CONFLICT_RETRIES", "ORDER_LOCK_TTL_SECONDS", "SUPPORTED_CURRENCIES",
	"OTEL_ENABLED", "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_INSECURE", "OTEL_SAMPLE_RATIO",
}

func environ() map[string]any {
	out := make(map[string]any, len(envKeys))
	for _, k := range envKeys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			out[k] = v
		}
	}
	// HTTP_PORT wins over the generic PORT.
	if v, ok := out["PORT"]; ok {
		if _, set := out["HTTP_PORT"]; !set {
			out["HTTP_PORT"] = v
		}
		delete(out, "PORT")
	}
	return out
}

func applyValues(cfg *Config, raw map[string]any, problems *[]Problem) {
	for k, v := range raw {
		key := strings.ToUpper(strings.TrimSpace(k))
		switch key {
		case "ENV":
			setString(&cfg.Env, v)
		case "SERVICE_NAME":
			setString(&cfg.ServiceName, v)
		case "HTTP_PORT":
			setInt(&cfg.HTTPPort, key, v, problems)
		case "LOG_LEVEL":
			setString(&cfg.LogLevel, v)
		case "REQUEST_TIMEOUT_MS":
			setInt(&cfg.RequestTimeoutMS, key, v, problems)
		case "DATABASE_URL":
			setString(&cfg.DatabaseURL, v)
		case "DB_MAX_CONNS":
			setInt(&cfg.DBMaxConns, key, v, problems)
		case "DB_MIN_CONNS":
			setInt(&cfg.DBMinConns, key, v, problems)
		case "DB_CONN_MAX_IDLE_SECONDS":
			setInt(&cfg.DBConnMaxIdleSec, key, v, problems)
		case "DB_CONN_MAX_LIFETIME_SECONDS":
			setInt(&cfg.DBConnMaxLifeSec, key, v, problems)
		case "BROKER_KIND":
			if setString(&cfg.BrokerKind, v) {
				cfg.BrokerKind = strings.ToLower(cfg.BrokerKind)
			}
		case "KAFKA_BROKERS":
			setList(&cfg.KafkaBrokers, v)
		case "KAFKA_CLIENT_ID":
			setString(&cfg.KafkaClientID, v)
		case "KAFKA_CONSUMER_GROUP":
			setString(&cfg.KafkaGroupID, v)
		case "KAFKA_RETRY_MAX":
			setInt(&cfg.KafkaRetryMax, key, v, problems)
		case "KAFKA_WRITE_TIMEOUT_MS":
			setInt(&cfg.KafkaWriteMS, key, v, problems)
		case "AMQP_URL":
			setString(&cfg.AMQPURL, v)
		case "AMQP_EXCHANGE":
			setString(&cfg.AMQPExchange, v)
		case "REDIS_ADDR":
			setString(&cfg.RedisAddr, v)
		case "REDIS_PASSWORD":
			if s, ok := v.(string); ok {
				cfg.RedisPassword = s
			}
		case "REDIS_DB":
			setInt(&cfg.RedisDB, key, v, problems)
		case "ASYNQ_ENABLED":
			setBool(&cfg.AsynqEnabled, key, v, problems)
		case "ASYNQ_REDIS_ADDR":
			setString(&cfg.AsynqRedisAddr, v)
		case "ASYNQ_QUEUE":
			setString(&cfg.AsynqQueue, v)
		case "ASYNQ_CONCURRENCY":
			setInt(&cfg.AsynqConcurrency, key, v, problems)
		case "OUTBOX_SCAN_INTERVAL_SECONDS":
			setInt(&cfg.OutboxScanSec, key, v, problems)
		case "OUTBOX_BATCH_SIZE":
			setInt(&cfg.OutboxBatchSize, key, v, problems)
		case "OUTBOX_CLAIM_LEASE_SECONDS":
			setInt(&cfg.OutboxLeaseSec, key, v, problems)
		case "OUTBOX_ROUTING_KEY":
			setString(&cfg.OutboxRoutingKey, v)
		case "PRICING_SERVICE_URL":
			setString(&cfg.PricingURL, v)
		case "PRICING_TIMEOUT_MS":
			setInt(&cfg.PricingTimeoutMS, key, v, problems)
		case "PRICING_CACHE_TTL_SECONDS":
			setInt(&cfg.PricingCacheTTL, key, v, problems)
		case "ORDER_MAX_QUANTITY":
			setInt(&cfg.OrderMaxQuantity, key, v, problems)
		case "ORDER_CONFLICT_RETRIES":
			setInt(&cfg.OrderRetries, key, v, problems)
		case "ORDER_LOCK_TTL_SECONDS":
			setInt(&cfg.OrderLockTTLSec, key, v, problems)
		case "SUPPORTED_CURRENCIES":
			if setList(&cfg.SupportedCurrency, v) {
				for i := range cfg.SupportedCurrency {
					cfg.SupportedCurrency[i] = strings.ToUpper(cfg.SupportedCurrency[i])
				}
			}
		case "RATE_LIMIT_RPS":
			setInt(&cfg.RateLimitRPS, key, v, problems)
		case "RATE_LIMIT_BURST":
			setInt(&cfg.RateLimitBurst, key, v, problems)
		case "CORS_ALLOWED_ORIGINS":
			setList(&cfg.CORSOrigins, v)
		case "OTEL_ENABLED":
			setBool(&cfg.OtelEnabled, key, v, problems)
		case "OTEL_EXPORTER_OTLP_ENDPOINT":
			setString(&cfg.OtelEndpoint, v)
		case "OTEL_EXPORTER_OTLP_INSECURE":
			setBool(&cfg.OtelInsecure, key, v, problems)
		case "OTEL_SAMPLE_RATIO":
			if f, ok := asFloat(v); ok {
				cfg.OtelSampleRatio = f
			} else {
				*problems = append(*problems, Problem{Field: key, Message: key + " must be a number"})
			}
		}
	}
}

func setString(dst *string, v any) bool {
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return false
	}
	*dst = strings.TrimSpace(s)
	return true
}

func setInt(dst *int, key string, v any, problems *[]Problem) {
	n, ok := asInt(v)
	if !ok {
		*problems = append(*problems, Problem{Field: key, Message: key + " must be an integer"})
		return
	}
	*dst = n
}

func setBool(dst *bool, key string, v any, problems *[]Problem) {
	switch t := v.(type) {
	case bool:
		*dst = t
		return
	case string:
		if b, ok := asBool(t); ok {
			*dst = b
			return
		}
	}
	*problems = append(*problems, Problem{Field: key, Message: key + " must be a boolean"})
}

func setList(dst *[]string, v any) bool {
	var out []string
	switch t := v.(type) {
	case string:
		out = parseCSV(t)
	case []any:
		out = parseAnyCSV(t)
	default:
		return false
	}
	if len(out) == 0 {
		return false
	}
	*dst = out
	return true
}

func readStringKey(raw map[string]any, key string) (string, bool) {
	for k, v := range raw {
		if strings.EqualFold(strings.TrimSpace(k), key) {
			s, ok := v.(string)
			return s, ok
		}
	}
	return "", false
}

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	case json.Number:
		i, err := t.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(t))
		return i, err == nil
	default:
		return 0, false
	}
}

func asBool(v string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "y":
		return true, true
	case "false", "0", "no", "n":
		return false, true
	default:
		return false, false
	}
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func parseCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseAnyCSV(raw []any) []string {
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			s = strings.TrimSpace(s)
			if s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
