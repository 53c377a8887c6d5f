package usecase

import (
	"context"
	"fmt"
	"time"

	"SignalRelay/internal/domain/models"
	drepo "SignalRelay/internal/domain/repository"
)

// Archive backend names.
const (
	BackendNone       = "none"
	BackendKafka      = "kafka"
	BackendClickHouse = "clickhouse"
)

// SignalArchiver routes merged signals to the configured archive
// backend. With the "none" backend it is a no-op, so the relay runs
// standalone without any broker or database.
type SignalArchiver struct {
	pub     drepo.Publisher
	store   drepo.Storage
	metrics drepo.Metrics
	backend string
}

// NewSignalArchiver creates a new SignalArchiver instance.
func NewSignalArchiver(pub drepo.Publisher, store drepo.Storage, metrics drepo.Metrics, backend string) *SignalArchiver {
	return &SignalArchiver{
		pub:     pub,
		store:   store,
		metrics: metrics,
		backend: backend,
	}
}

// Enabled reports whether signals are archived at all.
func (a *SignalArchiver) Enabled() bool {
	return a.backend != "" && a.backend != BackendNone
}

// Process archives a single signal to the configured backend.
func (a *SignalArchiver) Process(ctx context.Context, sig *models.Signal) error {
	if sig == nil {
		return fmt.Errorf("signal is nil")
	}
	if !a.Enabled() {
		return nil
	}

	start := time.Now()
	var err error

	switch a.backend {
	case BackendKafka:
		err = a.pub.Publish(ctx, sig)
	case BackendClickHouse:
		err = a.store.Store(ctx, sig)
	default:
		err = fmt.Errorf("unknown backend: %s", a.backend)
	}

	if err != nil {
		a.metrics.RecordError("archive")
		return fmt.Errorf("archive signal: %w", err)
	}

	a.metrics.RecordArchived(a.backend, sig.Symbol)
	a.metrics.RecordLatency("archive", time.Since(start).Seconds())
	return nil
}

// ProcessBatch archives multiple signals in one write.
func (a *SignalArchiver) ProcessBatch(ctx context.Context, signals []*models.Signal) error {
	if len(signals) == 0 || !a.Enabled() {
		return nil
	}

	start := time.Now()
	var err error

	switch a.backend {
	case BackendKafka:
		err = a.pub.PublishBatch(ctx, signals)
	case BackendClickHouse:
		err = a.store.StoreBatch(ctx, signals)
	default:
		err = fmt.Errorf("unknown backend: %s", a.backend)
	}

	if err != nil {
		a.metrics.RecordError("archive_batch")
		return fmt.Errorf("archive batch: %w", err)
	}

	for _, sig := range signals {
		a.metrics.RecordArchived(a.backend, sig.Symbol)
	}
	a.metrics.RecordLatency("archive_batch", time.Since(start).Seconds())
	return nil
}

// Close closes underlying resources if available.
func (a *SignalArchiver) Close() {
	if a.pub != nil {
		_ = a.pub.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}
