package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"SignalRelay/internal/domain/models"
	"SignalRelay/internal/domain/repository"
	pkgkafka "SignalRelay/pkg/kafka"
)

// ClickHouseStorage implements Storage for ClickHouse.
type ClickHouseStorage struct {
	db    *sql.DB
	table string
}

// NewClickHouseStorage creates ClickHouse storage for merged signals.
func NewClickHouseStorage(db *sql.DB, table string) repository.Storage {
	return &ClickHouseStorage{db: db, table: table}
}

// Init ensures the signals table exists (idempotent).
func (s *ClickHouseStorage) Init(ctx context.Context) error {
	q := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		created_at DateTime64(3),
		signal_id String,
		symbol LowCardinality(String),
		direction LowCardinality(String),
		confidence Float64,
		entry_price Float64,
		stop_loss Float64,
		target_price Float64,
		rationale String,
		category LowCardinality(String)
	) ENGINE = ReplacingMergeTree
	ORDER BY (symbol, created_at, signal_id)`, s.table)
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("init signals table: %w", err)
	}
	return nil
}

func (s *ClickHouseStorage) Store(ctx context.Context, sig *models.Signal) error {
	q := fmt.Sprintf("INSERT INTO %s (created_at, signal_id, symbol, direction, confidence, entry_price, stop_loss, target_price, rationale, category) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)", s.table)
	_, err := s.db.ExecContext(ctx, q, signalArgs(sig)...)
	return err
}

func (s *ClickHouseStorage) StoreBatch(ctx context.Context, signals []*models.Signal) error {
	if len(signals) == 0 {
		return nil
	}
	// Multi-row VALUES to reduce round-trips.
	const chunkSize = 500
	for start := 0; start < len(signals); start += chunkSize {
		end := start + chunkSize
		if end > len(signals) {
			end = len(signals)
		}

		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*10)
		for _, sig := range signals[start:end] {
			if sig == nil || sig.Symbol == "" {
				continue
			}
			values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args, signalArgs(sig)...)
		}
		if len(values) == 0 {
			continue
		}
		q := fmt.Sprintf("INSERT INTO %s (created_at, signal_id, symbol, direction, confidence, entry_price, stop_loss, target_price, rationale, category) VALUES %s", s.table, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return err
		}
	}
	return nil
}

// Query returns archived signals for a symbol within a time range, newest first.
func (s *ClickHouseStorage) Query(ctx context.Context, symbol string, from, to time.Time, limit int) ([]*models.Signal, error) {
	q := fmt.Sprintf("SELECT created_at, signal_id, symbol, direction, confidence, entry_price, stop_loss, target_price, rationale, category FROM %s WHERE symbol = ? AND created_at >= ? AND created_at <= ? ORDER BY created_at DESC LIMIT ?", s.table)
	rows, err := s.db.QueryContext(ctx, q, symbol, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var signals []*models.Signal
	for rows.Next() {
		var sig models.Signal
		var direction string
		if err := rows.Scan(&sig.CreatedAt, &sig.ID, &sig.Symbol, &direction, &sig.Confidence, &sig.EntryPrice, &sig.StopLoss, &sig.Target, &sig.Rationale, &sig.Category); err != nil {
			return nil, err
		}
		sig.Direction = models.Direction(direction)
		signals = append(signals, &sig)
	}
	return signals, rows.Err()
}

func (s *ClickHouseStorage) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *ClickHouseStorage) Close() error {
	return nil // Managed by pkg
}

func signalArgs(sig *models.Signal) []interface{} {
	return []interface{}{
		sig.CreatedAt,
		sig.ID,
		sig.Symbol,
		string(sig.Direction),
		sig.Confidence,
		sig.EntryPrice,
		sig.StopLoss,
		sig.Target,
		sig.Rationale,
		sig.Category,
	}
}

// KafkaPublisher implements Publisher for Kafka.
type KafkaPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

// NewKafkaPublisher creates a Kafka publisher for merged signals.
func NewKafkaPublisher(producer *pkgkafka.Producer, topic string) repository.Publisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (p *KafkaPublisher) Publish(ctx context.Context, sig *models.Signal) error {
	return p.producer.Publish(ctx, p.topic, []byte(sig.Symbol), signalMessage(sig))
}

func (p *KafkaPublisher) PublishBatch(ctx context.Context, signals []*models.Signal) error {
	if len(signals) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(signals))
	for i, sig := range signals {
		msgs[i] = pkgkafka.Message{
			Key:   []byte(sig.Symbol),
			Value: signalMessage(sig),
		}
	}
	return p.producer.PublishBatch(ctx, p.topic, msgs)
}

func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

func signalMessage(sig *models.Signal) map[string]interface{} {
	return map[string]interface{}{
		"id":           sig.ID,
		"symbol":       sig.Symbol,
		"direction":    string(sig.Direction),
		"confidence":   sig.Confidence,
		"entry_price":  sig.EntryPrice,
		"stop_loss":    sig.StopLoss,
		"target_price": sig.Target,
		"category":     sig.Category,
		"created_at":   sig.CreatedAt.UnixMilli(),
	}
}
