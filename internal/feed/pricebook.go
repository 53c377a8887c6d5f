package feed

import (
	"sync"
	"time"

	"SignalRelay/internal/domain/models"
	drepo "SignalRelay/internal/domain/repository"
	"SignalRelay/pkg/util"
)

// PriceBook keeps the latest observed price per symbol, fed by
// price_update events.
type PriceBook struct {
	metrics drepo.Metrics

	mu    sync.RWMutex
	ticks map[string]models.PriceTick
}

// NewPriceBook creates an empty price book. metrics may be nil.
func NewPriceBook(metrics drepo.Metrics) *PriceBook {
	return &PriceBook{
		metrics: metrics,
		ticks:   make(map[string]models.PriceTick),
	}
}

// Apply records one price update. Stale updates (older than the held
// tick for the same symbol) are ignored.
func (b *PriceBook) Apply(p *models.PricePayload) {
	if p == nil || p.Symbol == "" {
		return
	}
	tick := models.PriceTick{
		Symbol:    p.Symbol,
		Price:     p.Price,
		Timestamp: util.ParseTimeDefault(p.Timestamp, time.Now()),
	}

	b.mu.Lock()
	if prev, ok := b.ticks[tick.Symbol]; ok && prev.Timestamp.After(tick.Timestamp) {
		b.mu.Unlock()
		return
	}
	b.ticks[tick.Symbol] = tick
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.RecordLastPrice(tick.Symbol, tick.Price)
	}
}

// Last returns the latest tick for a symbol.
func (b *PriceBook) Last(symbol string) (models.PriceTick, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.ticks[symbol]
	return t, ok
}

// Snapshot returns a copy of every held tick.
func (b *PriceBook) Snapshot() []models.PriceTick {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]models.PriceTick, 0, len(b.ticks))
	for _, t := range b.ticks {
		out = append(out, t)
	}
	return out
}
