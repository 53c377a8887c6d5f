package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"SignalRelay/internal/domain/models"
	domrepo "SignalRelay/internal/domain/repository"
)

// Proc is the minimal downstream the pipeline forwards signals to.
type Proc interface {
	Process(ctx context.Context, s *models.Signal) error
}

// ArchivePipeline sits between the feed and the archiver. It validates
// signals and buffers them when the downstream is unavailable, flushing
// in the background with capped backoff so a broker outage never blocks
// the feed.
type ArchivePipeline struct {
	proc    Proc
	metrics domrepo.Metrics
	bufSize int
	bufCh   chan *models.Signal
	stopCh  chan struct{}
	started bool
	mu      sync.Mutex
}

type PipelineOption func(*ArchivePipeline)

// WithBufferSize sets the temporary buffer size when downstream is unavailable.
func WithBufferSize(n int) PipelineOption {
	return func(p *ArchivePipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// NewArchivePipeline creates a new pipeline.
func NewArchivePipeline(proc Proc, metrics domrepo.Metrics, opts ...PipelineOption) *ArchivePipeline {
	p := &ArchivePipeline{
		proc:    proc,
		metrics: metrics,
		bufSize: 1000,
		bufCh:   make(chan *models.Signal, 1000),
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.bufSize != cap(p.bufCh) {
		p.bufCh = make(chan *models.Signal, p.bufSize)
	}
	return p
}

// Start launches background flushing of buffered signals.
func (p *ArchivePipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go func() {
		backoff := 50 * time.Millisecond
		for {
			select {
			case <-p.stopCh:
				return
			case s := <-p.bufCh:
				if s == nil {
					continue
				}
				if err := p.proc.Process(ctx, s); err != nil {
					if backoff < 2*time.Second {
						backoff *= 2
					}
					p.metrics.RecordError("pipeline_flush")
					time.Sleep(backoff)
					// requeue if space; drop otherwise
					select {
					case p.bufCh <- s:
					default:
						p.metrics.RecordError("pipeline_buffer_drop")
					}
				} else {
					backoff = 50 * time.Millisecond
				}
			}
		}
	}()
}

// Stop stops the background flushing.
func (p *ArchivePipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()
	close(p.stopCh)
}

// Process validates and forwards one signal downstream, buffering on errors.
func (p *ArchivePipeline) Process(ctx context.Context, s *models.Signal) error {
	start := time.Now()
	if err := validateSignal(s); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}

	if err := p.proc.Process(ctx, s); err != nil {
		p.metrics.RecordError("pipeline_process")
		// buffer non-blocking
		select {
		case p.bufCh <- s:
			p.metrics.RecordLatency("pipeline_buffer_depth", float64(len(p.bufCh)))
		default:
			p.metrics.RecordError("pipeline_buffer_full")
		}
		return fmt.Errorf("pipeline downstream: %w", err)
	}
	p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
	return nil
}

func validateSignal(s *models.Signal) error {
	if s == nil {
		return fmt.Errorf("signal nil")
	}
	if s.Symbol == "" {
		return fmt.Errorf("symbol empty")
	}
	if s.CreatedAt.IsZero() {
		return fmt.Errorf("created_at missing")
	}
	if s.Confidence < 0 || s.Confidence > 100 {
		return fmt.Errorf("confidence out of range")
	}
	return nil
}
