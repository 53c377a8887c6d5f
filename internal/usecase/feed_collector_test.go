package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalRelay/internal/domain/models"
	"SignalRelay/internal/feed"
)

type fakeStream struct {
	mu            sync.Mutex
	state         models.ConnState
	handlers      map[string][]func([]byte)
	stateHandlers []func(models.ConnState)
	scoped        [][]string
}

func newFakeStream() *fakeStream {
	return &fakeStream{handlers: make(map[string][]func([]byte))}
}

func (f *fakeStream) Connect(ctx context.Context) error {
	f.setState(models.StateConnected)
	return nil
}

func (f *fakeStream) Disconnect() { f.setState(models.StateDisconnected) }

func (f *fakeStream) State() models.ConnState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeStream) Subscribe(event string, handler func([]byte)) func() {
	f.mu.Lock()
	f.handlers[event] = append(f.handlers[event], handler)
	f.mu.Unlock()
	return func() {}
}

func (f *fakeStream) SubscribeState(handler func(models.ConnState)) func() {
	f.mu.Lock()
	f.stateHandlers = append(f.stateHandlers, handler)
	f.mu.Unlock()
	return func() {}
}

func (f *fakeStream) ScopePrices(subscribe bool, symbols []string) error {
	f.mu.Lock()
	f.scoped = append(f.scoped, symbols)
	f.mu.Unlock()
	return nil
}

func (f *fakeStream) setState(s models.ConnState) {
	f.mu.Lock()
	f.state = s
	hs := append([]func(models.ConnState){}, f.stateHandlers...)
	f.mu.Unlock()
	for _, h := range hs {
		h(s)
	}
}

func (f *fakeStream) emit(event string, data string) {
	f.mu.Lock()
	hs := append([]func([]byte){}, f.handlers[event]...)
	f.mu.Unlock()
	for _, h := range hs {
		h([]byte(data))
	}
}

func (f *fakeStream) scopeCalls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string{}, f.scoped...)
}

type fakeSource struct {
	mu      sync.Mutex
	signals []*models.Signal
	calls   int
}

func (f *fakeSource) FetchSignals(ctx context.Context, limit int) ([]*models.Signal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.signals, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	single []*models.Signal
	batch  []*models.Signal
}

func (f *fakePublisher) Publish(ctx context.Context, s *models.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.single = append(f.single, s)
	return nil
}

func (f *fakePublisher) PublishBatch(ctx context.Context, signals []*models.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batch = append(f.batch, signals...)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func (f *fakePublisher) published() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.single), len(f.batch)
}

type nopMetrics struct{}

func (nopMetrics) RecordSignal(string, string)      {}
func (nopMetrics) RecordArchived(string, string)    {}
func (nopMetrics) RecordError(string)               {}
func (nopMetrics) RecordLastPrice(string, float64)  {}
func (nopMetrics) RecordLatency(string, float64)    {}
func (nopMetrics) RecordConnState(models.ConnState) {}

func collectorFixture(t *testing.T, source *fakeSource, symbols []string) (*FeedCollector, *fakeStream, *feed.Cache, *feed.PriceBook, *fakePublisher) {
	t.Helper()
	stream := newFakeStream()
	cache := feed.NewCache(20)
	prices := feed.NewPriceBook(nil)
	pub := &fakePublisher{}
	archiver := NewSignalArchiver(pub, nil, nopMetrics{}, BackendKafka)
	c := NewFeedCollector(source, stream, cache, prices, nil, archiver, nopMetrics{}, nil, 20, symbols)
	return c, stream, cache, prices, pub
}

func TestCollectorLoadsSnapshotOnConnect(t *testing.T) {
	source := &fakeSource{signals: []*models.Signal{
		{ID: "a", Symbol: "AAPL", CreatedAt: time.Now().Add(-time.Minute)},
		{ID: "b", Symbol: "TSLA", CreatedAt: time.Now()},
	}}
	c, stream, cache, _, pub := collectorFixture(t, source, []string{"AAPL"})

	require.NoError(t, c.Start(context.Background()))
	defer c.Shutdown(context.Background())

	require.Eventually(t, func() bool { return cache.Len() == 2 },
		3*time.Second, 10*time.Millisecond)
	assert.True(t, c.Connected())

	// Snapshot additions are archived as a batch.
	require.Eventually(t, func() bool {
		_, batch := pub.published()
		return batch == 2
	}, 3*time.Second, 10*time.Millisecond)

	// The configured price scope is applied once connected.
	require.Eventually(t, func() bool { return len(stream.scopeCalls()) == 1 },
		3*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"AAPL"}, stream.scopeCalls()[0])
}

func TestCollectorMergesPushedSignal(t *testing.T) {
	c, stream, cache, _, pub := collectorFixture(t, &fakeSource{}, nil)
	require.NoError(t, c.Start(context.Background()))
	defer c.Shutdown(context.Background())

	push := `{"id":"p1","symbol":"NVDA","direction":"buy","confidence":90,"created_at":"2026-08-29T10:00:00Z"}`
	stream.emit(models.EventSignalUpdate, push)

	require.Equal(t, 1, cache.Len())
	single, _ := pub.published()
	assert.Equal(t, 1, single)

	// Duplicate push is dropped and not re-archived.
	stream.emit(models.EventSignalUpdate, push)
	assert.Equal(t, 1, cache.Len())
	single, _ = pub.published()
	assert.Equal(t, 1, single)
}

func TestCollectorDropsMalformedPush(t *testing.T) {
	c, stream, cache, _, pub := collectorFixture(t, &fakeSource{}, nil)
	require.NoError(t, c.Start(context.Background()))
	defer c.Shutdown(context.Background())

	stream.emit(models.EventSignalUpdate, `not json`)
	stream.emit(models.EventSignalUpdate, `{"symbol":"AAPL","direction":"upward","created_at":"2026-08-29T10:00:00Z"}`)
	stream.emit(models.EventSignalUpdate, `{"direction":"buy","created_at":"2026-08-29T10:00:00Z"}`)

	assert.Equal(t, 0, cache.Len())
	single, batch := pub.published()
	assert.Zero(t, single)
	assert.Zero(t, batch)
}

func TestCollectorRoutesPriceUpdates(t *testing.T) {
	c, stream, _, prices, _ := collectorFixture(t, &fakeSource{}, nil)
	require.NoError(t, c.Start(context.Background()))
	defer c.Shutdown(context.Background())

	stream.emit(models.EventPriceUpdate, `{"symbol":"AAPL","price":187.5}`)

	tick, ok := prices.Last("AAPL")
	require.True(t, ok)
	assert.Equal(t, 187.5, tick.Price)
}

func TestCollectorRefreshesOnReconnect(t *testing.T) {
	source := &fakeSource{}
	c, stream, _, _, _ := collectorFixture(t, source, nil)
	require.NoError(t, c.Start(context.Background()))
	defer c.Shutdown(context.Background())

	// Drop and recover: each Connected transition triggers a refresh.
	stream.setState(models.StateReconnecting)
	stream.setState(models.StateConnected)

	require.Eventually(t, func() bool {
		source.mu.Lock()
		defer source.mu.Unlock()
		return source.calls >= 2
	}, 3*time.Second, 10*time.Millisecond)
}
