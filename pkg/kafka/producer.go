package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
)

// Option configures Producer.
type Option func(*settings)

type settings struct {
	brokers      []string
	requiredAcks int
	compression  string
	maxAttempts  int
	writeTimeout time.Duration
	batchSize    int
	batchTimeout time.Duration
}

// WithBrokers sets the broker addresses.
func WithBrokers(brokers []string) Option {
	return func(s *settings) {
		s.brokers = brokers
	}
}

// WithCompression sets the compression codec (gzip, snappy, lz4, zstd).
func WithCompression(compression string) Option {
	return func(s *settings) {
		s.compression = compression
	}
}

// WithRequiredAcks sets required acknowledgements (-1 = all replicas).
func WithRequiredAcks(acks int) Option {
	return func(s *settings) {
		s.requiredAcks = acks
	}
}

// WithMaxAttempts sets the writer's retry budget per batch.
func WithMaxAttempts(n int) Option {
	return func(s *settings) {
		s.maxAttempts = n
	}
}

// WithBatching sets batch size and linger time.
func WithBatching(size int, linger time.Duration) Option {
	return func(s *settings) {
		s.batchSize = size
		s.batchTimeout = linger
	}
}

// WithWriteTimeout sets the writer's per-batch write timeout.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *settings) {
		s.writeTimeout = d
	}
}

// Message is one keyed payload. Values that are not []byte or string
// are JSON-encoded on publish.
type Message struct {
	Key   []byte
	Value interface{}
}

// Producer publishes signal and log batches. Writes are synchronous
// and hash-balanced by key, so records for one symbol land on one
// partition in order.
type Producer struct {
	writer *kafka.Writer
	comp   string
}

// NewProducer creates a producer for the given brokers.
func NewProducer(opts ...Option) (*Producer, error) {
	s := &settings{
		requiredAcks: -1,
		compression:  "gzip",
		maxAttempts:  3,
		writeTimeout: 10 * time.Second,
		batchSize:    100,
		batchTimeout: time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	if len(s.brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(s.brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequiredAcks(s.requiredAcks),
		Compression:  parseCompression(s.compression),
		MaxAttempts:  s.maxAttempts,
		WriteTimeout: s.writeTimeout,
		BatchSize:    s.batchSize,
		BatchTimeout: s.batchTimeout,
	}

	registerMetrics()
	return &Producer{writer: writer, comp: s.compression}, nil
}

// Publish sends one message to the topic.
func (p *Producer) Publish(ctx context.Context, topic string, key []byte, value interface{}) error {
	v, err := encodeValue(value)
	if err != nil {
		return err
	}

	start := time.Now()
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   key,
		Value: v,
		Time:  start,
	})
	observe(topic, p.comp, int64(len(v)), 1, time.Since(start), err)
	return err
}

// PublishBatch sends the messages to the topic in one write.
func (p *Producer) PublishBatch(ctx context.Context, topic string, messages []Message) error {
	if len(messages) == 0 {
		return nil
	}

	start := time.Now()
	msgs := make([]kafka.Message, 0, len(messages))
	var totalBytes int64
	for _, m := range messages {
		v, err := encodeValue(m.Value)
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{
			Topic: topic,
			Key:   m.Key,
			Value: v,
			Time:  start,
		})
		totalBytes += int64(len(v))
	}

	err := p.writer.WriteMessages(ctx, msgs...)
	observe(topic, p.comp, totalBytes, len(messages), time.Since(start), err)
	return err
}

// Close closes the underlying writer.
func (p *Producer) Close() error {
	if p.writer != nil {
		return p.writer.Close()
	}
	return nil
}

func encodeValue(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		b, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("marshal value: %w", err)
		}
		return b, nil
	}
}

func parseCompression(s string) kafka.Compression {
	switch s {
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Gzip
	}
}

var (
	metricsOnce sync.Once
	msgsTotal   *prometheus.CounterVec
	errsTotal   *prometheus.CounterVec
	bytesTotal  *prometheus.CounterVec
	latencyHist *prometheus.HistogramVec
)

func registerMetrics() {
	metricsOnce.Do(func() {
		msgsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalrelay_kafka_producer_messages_total",
				Help: "Total messages published to Kafka",
			},
			[]string{"topic", "compression", "result"},
		)
		errsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalrelay_kafka_producer_errors_total",
				Help: "Total producer errors",
			},
			[]string{"topic"},
		)
		bytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalrelay_kafka_producer_bytes_total",
				Help: "Total payload bytes published",
			},
			[]string{"topic", "compression"},
		)
		latencyHist = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "signalrelay_kafka_producer_publish_seconds",
				Help:    "Publish latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"topic"},
		)
	})
}

func observe(topic, comp string, bytes int64, count int, dur time.Duration, err error) {
	if msgsTotal == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
		errsTotal.WithLabelValues(topic).Inc()
	}
	msgsTotal.WithLabelValues(topic, comp, result).Add(float64(count))
	bytesTotal.WithLabelValues(topic, comp).Add(float64(bytes))
	latencyHist.WithLabelValues(topic).Observe(dur.Seconds())
}
