package metricsx

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	addItemTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_add_item_total",
			Help: "AddItemToOrder executions by result.",
		},
		[]string{"result"},
	)
	outboxPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_published_total",
			Help: "Outbox records published to the broker.",
		},
		[]string{"routing_key"},
	)
	outboxPublishFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "outbox_publish_failures_total",
			Help: "Outbox publish attempts that failed and were left pending.",
		},
	)
	outboxBatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "outbox_relay_batch_size",
			Help:    "Number of records claimed per relay pass.",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250},
		},
	)
	kafkaConsumerLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kafka_consumer_lag",
			Help: "Kafka consumer lag by topic.",
		},
		[]string{"topic", "group"},
	)
	asynqQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "asynq_queue_depth",
			Help: "Asynq queue depth by queue.",
		},
		[]string{"queue"},
	)
	pricingRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricing_requests_total",
			Help: "Pricing lookups by result.",
		},
		[]string{"result"},
	)
	pricingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pricing_request_duration_seconds",
			Help:    "Pricing lookup latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
	consumerProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_events_consumed_total",
			Help: "Order events handled by the consumer, by result.",
		},
		[]string{"result"},
	)
)

var registerOnce sync.Once

// Register adds every collector to the default registry. Safe to call more
// than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpLatency,
			addItemTotal,
			outboxPublished, outboxPublishFailures, outboxBatchSize,
			kafkaConsumerLag, asynqQueueDepth,
			pricingRequests, pricingLatency,
			consumerProcessed,
		)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records request count and latency under a fixed route label.
func Instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(lrw, r)
		status := strconv.Itoa(lrw.statusCode)
		httpRequests.WithLabelValues(r.Method, route, status).Inc()
		httpLatency.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

func IncAddItem(result string) {
	addItemTotal.WithLabelValues(result).Inc()
}

func IncOutboxPublished(routingKey string) {
	outboxPublished.WithLabelValues(routingKey).Inc()
}

func IncOutboxPublishFailure() {
	outboxPublishFailures.Inc()
}

func ObserveOutboxBatch(n int) {
	outboxBatchSize.Observe(float64(n))
}

func SetKafkaLag(topic string, group string, lag int64) {
	kafkaConsumerLag.WithLabelValues(topic, group).Set(float64(lag))
}

func SetAsynqQueueDepth(queue string, depth int) {
	asynqQueueDepth.WithLabelValues(queue).Set(float64(depth))
}

func IncPricing(result string) {
	pricingRequests.WithLabelValues(result).Inc()
}

func ObservePricingLatency(d time.Duration) {
	pricingLatency.Observe(d.Seconds())
}

func IncConsumed(result string) {
	consumerProcessed.WithLabelValues(result).Inc()
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
