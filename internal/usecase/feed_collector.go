package usecase

import (
	"context"
	"encoding/json"
	"time"

	"SignalRelay/internal/domain/models"
	drepo "SignalRelay/internal/domain/repository"
	"SignalRelay/internal/feed"
	mid "SignalRelay/internal/middleware"
	xhttp "SignalRelay/pkg/http"
	applogger "SignalRelay/pkg/logger"
)

// FeedCollector keeps the local signal view synchronized with the
// remote: it loads a snapshot whenever the realtime channel comes up,
// merges pushed signal_update events into the cache, routes price
// updates to the price book, and feeds every newly merged signal into
// the archive pipeline.
type FeedCollector struct {
	source        drepo.SignalSource
	stream        drepo.EventStream
	cache         *feed.Cache
	prices        *feed.PriceBook
	pipe          *mid.ArchivePipeline
	archiver      *SignalArchiver
	metrics       drepo.Metrics
	logger        *applogger.Logger
	snapshotLimit int
	priceSymbols  []string

	unsubs []func()
}

// NewFeedCollector creates a new FeedCollector instance.
func NewFeedCollector(
	source drepo.SignalSource,
	stream drepo.EventStream,
	cache *feed.Cache,
	prices *feed.PriceBook,
	pipe *mid.ArchivePipeline,
	archiver *SignalArchiver,
	metrics drepo.Metrics,
	logger *applogger.Logger,
	snapshotLimit int,
	priceSymbols []string,
) *FeedCollector {
	if snapshotLimit <= 0 {
		snapshotLimit = feed.DefaultCapacity
	}
	return &FeedCollector{
		source:        source,
		stream:        stream,
		cache:         cache,
		prices:        prices,
		pipe:          pipe,
		archiver:      archiver,
		metrics:       metrics,
		logger:        logger,
		snapshotLimit: snapshotLimit,
		priceSymbols:  priceSymbols,
	}
}

// Connected reports whether the realtime channel is up.
func (c *FeedCollector) Connected() bool {
	return c.stream.State() == models.StateConnected
}

// State returns the realtime channel state.
func (c *FeedCollector) State() models.ConnState {
	return c.stream.State()
}

// Start wires the event handlers and opens the realtime channel. The
// initial snapshot loads when the channel reports Connected, and again
// after every reconnect so nothing pushed during the outage is lost.
func (c *FeedCollector) Start(ctx context.Context) error {
	c.unsubs = append(c.unsubs,
		c.stream.Subscribe(models.EventSignalUpdate, func(data []byte) { c.onSignal(ctx, data) }),
		c.stream.Subscribe(models.EventPriceUpdate, c.onPrice),
		c.stream.SubscribeState(func(state models.ConnState) { c.onState(ctx, state) }),
	)

	if c.pipe != nil {
		c.pipe.Start(ctx)
	}
	return c.stream.Connect(ctx)
}

// Shutdown detaches handlers, stops the pipeline, and closes the channel.
func (c *FeedCollector) Shutdown(ctx context.Context) error {
	for _, unsub := range c.unsubs {
		unsub()
	}
	c.unsubs = nil
	if c.pipe != nil {
		c.pipe.Stop()
	}
	c.stream.Disconnect()
	return nil
}

func (c *FeedCollector) onState(ctx context.Context, state models.ConnState) {
	if c.logger != nil {
		c.logger.Info("realtime state", applogger.String("state", state.String()))
	}
	if state != models.StateConnected {
		return
	}

	// Snapshot and price scope must not block the channel's state
	// dispatch.
	go func() {
		if err := c.RefreshSnapshot(ctx); err != nil && c.logger != nil {
			c.logger.Warn("snapshot refresh failed", applogger.Error(err))
		}
		if len(c.priceSymbols) > 0 {
			if err := c.stream.ScopePrices(true, c.priceSymbols); err != nil && c.logger != nil {
				c.logger.Warn("price scope failed", applogger.Error(err))
			}
		}
	}()
}

// RefreshSnapshot fetches the latest signals and merges them into the
// cache. Signals new to the cache are archived as a batch.
func (c *FeedCollector) RefreshSnapshot(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	signals, err := c.source.FetchSignals(ctx, c.snapshotLimit)
	if err != nil {
		return err
	}

	added := c.cache.LoadSnapshot(signals)
	for _, sig := range added {
		c.metrics.RecordSignal("snapshot", sig.Symbol)
	}
	if len(added) > 0 && c.archiver != nil {
		if err := c.archiver.ProcessBatch(ctx, added); err != nil && c.logger != nil {
			c.logger.Warn("snapshot archive failed", applogger.Error(err))
		}
	}
	return nil
}

func (c *FeedCollector) onSignal(ctx context.Context, data []byte) {
	var payload models.SignalPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		c.metrics.RecordError("signal_decode")
		if c.logger != nil {
			c.logger.Warn("dropped undecodable signal", applogger.Error(err))
		}
		return
	}
	if err := xhttp.ValidateStruct(&payload); err != nil {
		c.metrics.RecordError("signal_shape")
		if c.logger != nil {
			c.logger.Warn("dropped malformed signal", applogger.Error(err))
		}
		return
	}

	sig := payload.ToSignal()
	if !c.cache.IngestPush(sig) {
		// Duplicate of an already-merged signal.
		return
	}
	c.metrics.RecordSignal("push", sig.Symbol)

	if c.pipe != nil {
		_ = c.pipe.Process(ctx, sig)
	} else if c.archiver != nil {
		_ = c.archiver.Process(ctx, sig)
	}
}

func (c *FeedCollector) onPrice(data []byte) {
	var payload models.PricePayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.Symbol == "" {
		c.metrics.RecordError("price_decode")
		return
	}
	c.prices.Apply(&payload)
}
