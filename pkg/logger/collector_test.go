package logger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	mu      sync.Mutex
	batches [][]AggregatedLogEntry
	topics  []string
}

func (p *capturePublisher) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.batches = append(p.batches, payload.([]AggregatedLogEntry))
	return nil
}

func (p *capturePublisher) batchCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.batches)
}

func TestCollectorAggregatesDuplicates(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{
		TimeInterval: time.Hour, // flush only via Close
		Topic:        "relay.logs",
		Publisher:    pub,
	})

	for i := 0; i < 5; i++ {
		c.AddLog("error", "dial failed", map[string]interface{}{"attempt": i}, "internal/realtime/channel.go:1")
	}
	c.AddLog("warn", "slow flush", nil, "internal/middleware/archive_pipeline.go:1")
	c.Close()

	require.Eventually(t, func() bool { return pub.batchCount() == 1 },
		3*time.Second, 10*time.Millisecond)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.batches[0], 2)
	assert.Equal(t, "relay.logs", pub.topics[0])

	byMsg := map[string]AggregatedLogEntry{}
	for _, e := range pub.batches[0] {
		byMsg[e.Message] = e
	}
	assert.Equal(t, 5, byMsg["dial failed"].Count)
	// The first occurrence's fields are kept.
	assert.Equal(t, 0, byMsg["dial failed"].Fields["attempt"])
	assert.Equal(t, 1, byMsg["slow flush"].Count)
}

func TestCollectorFlushesAtThreshold(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{
		TimeInterval:   time.Hour,
		CountThreshold: 3,
		Topic:          "relay.logs",
		Publisher:      pub,
	})
	defer c.Close()

	c.AddLog("error", "a", nil, "x.go:1")
	c.AddLog("error", "b", nil, "x.go:2")
	assert.Equal(t, 0, pub.batchCount())

	c.AddLog("error", "c", nil, "x.go:3")
	require.Eventually(t, func() bool { return pub.batchCount() == 1 },
		3*time.Second, 10*time.Millisecond)
}
