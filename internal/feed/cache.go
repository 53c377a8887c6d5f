package feed

import (
	"sort"
	"sync"

	"SignalRelay/internal/domain/models"
)

// DefaultCapacity bounds the in-memory signal feed when no capacity is
// configured.
const DefaultCapacity = 20

// Cache is the bounded in-memory view of recent signals, newest first.
// Snapshot loads and pushed events merge into one de-duplicated set;
// when the set exceeds capacity the oldest entries are evicted.
// Subscribers receive a full copy of the view on every visible change.
type Cache struct {
	capacity int

	mu      sync.RWMutex
	byKey   map[string]*models.Signal
	ordered []*models.Signal // newest first by CreatedAt
	subs    map[int]func([]*models.Signal)
	nextSub int
}

// NewCache creates a signal cache holding at most capacity entries.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		capacity: capacity,
		byKey:    make(map[string]*models.Signal),
		subs:     make(map[int]func([]*models.Signal)),
	}
}

// LoadSnapshot merges a fetched snapshot into the cache. Entries already
// present are kept; new ones are inserted and the combined set is
// re-ranked by recency and trimmed to capacity. Returns the signals that
// were not present before and survived the trim.
func (c *Cache) LoadSnapshot(signals []*models.Signal) []*models.Signal {
	c.mu.Lock()

	added := make([]*models.Signal, 0, len(signals))
	for _, s := range signals {
		if s == nil {
			continue
		}
		key := s.Key()
		if _, ok := c.byKey[key]; ok {
			continue
		}
		c.byKey[key] = s
		added = append(added, s)
	}

	changed := len(added) > 0
	if changed {
		c.rebuildLocked()
	}

	// Report only the additions still visible after eviction.
	visible := added[:0]
	for _, s := range added {
		if _, ok := c.byKey[s.Key()]; ok {
			visible = append(visible, s)
		}
	}

	var view []*models.Signal
	var handlers []func([]*models.Signal)
	if changed {
		view, handlers = c.emitLocked()
	}
	c.mu.Unlock()

	c.notify(view, handlers)
	return visible
}

// IngestPush inserts one pushed signal. A duplicate of an existing entry
// is dropped; signals are immutable so the stored copy stands. Returns
// whether the visible set changed.
func (c *Cache) IngestPush(s *models.Signal) bool {
	if s == nil {
		return false
	}

	c.mu.Lock()
	key := s.Key()
	if _, ok := c.byKey[key]; ok {
		c.mu.Unlock()
		return false
	}
	c.byKey[key] = s
	c.rebuildLocked()
	// Older than everything held: evicted in the same merge, so the
	// visible set did not change and subscribers stay quiet.
	if _, stillThere := c.byKey[key]; !stillThere {
		c.mu.Unlock()
		return false
	}
	view, handlers := c.emitLocked()
	c.mu.Unlock()

	c.notify(view, handlers)
	return true
}

// Snapshot returns a copy of the current view, newest first.
func (c *Cache) Snapshot() []*models.Signal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.copyLocked()
}

// Get returns the cached signal for the given key, if present.
func (c *Cache) Get(key string) (*models.Signal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.byKey[key]
	return s, ok
}

// Len returns the number of cached signals.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ordered)
}

// Subscribe registers a view observer and returns its unsubscribe
// function. Observers get the full updated view after every change.
func (c *Cache) Subscribe(handler func([]*models.Signal)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = handler
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// rebuildLocked re-ranks the set newest first and evicts past capacity.
func (c *Cache) rebuildLocked() {
	ordered := make([]*models.Signal, 0, len(c.byKey))
	for _, s := range c.byKey {
		ordered = append(ordered, s)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].CreatedAt.After(ordered[j].CreatedAt)
		}
		return ordered[i].Key() < ordered[j].Key()
	})

	if len(ordered) > c.capacity {
		for _, s := range ordered[c.capacity:] {
			delete(c.byKey, s.Key())
		}
		ordered = ordered[:c.capacity]
	}
	c.ordered = ordered
}

// emitLocked captures the view copy and handler list for notification
// outside the lock.
func (c *Cache) emitLocked() ([]*models.Signal, []func([]*models.Signal)) {
	view := c.copyLocked()
	handlers := make([]func([]*models.Signal), 0, len(c.subs))
	for _, h := range c.subs {
		handlers = append(handlers, h)
	}
	return view, handlers
}

func (c *Cache) copyLocked() []*models.Signal {
	view := make([]*models.Signal, len(c.ordered))
	copy(view, c.ordered)
	return view
}

func (c *Cache) notify(view []*models.Signal, handlers []func([]*models.Signal)) {
	for _, h := range handlers {
		h(view)
	}
}
