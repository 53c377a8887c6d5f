package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"SignalRelay/internal/domain/models"
	drepo "SignalRelay/internal/domain/repository"
	applogger "SignalRelay/pkg/logger"

	"github.com/gorilla/websocket"
)

// Channel maintains a single long-lived websocket connection to the
// event stream and fans inbound events out to subscribers, recovering
// from transient disconnects with capped exponential backoff. At most
// one physical connection exists per Channel; state transitions are
// serialized.
type Channel struct {
	url          string
	dialer       *websocket.Dialer
	auth         drepo.Authenticator
	pingInterval time.Duration
	backoff      Backoff
	maxAttempts  int           // 0 = unlimited
	maxElapsed   time.Duration // 0 = unlimited
	logger       *applogger.Logger
	metrics      drepo.Metrics

	mu     sync.Mutex
	state  models.ConnState
	conn   *websocket.Conn
	gen    int
	cancel context.CancelFunc

	writeMu sync.Mutex

	subMu     sync.RWMutex
	subs      map[string]map[int]func([]byte)
	stateSubs map[int]func(models.ConnState)
	nextSub   int

	scopeMu      sync.Mutex
	priceSymbols map[string]struct{}
}

// Option configures Channel.
type Option func(*Channel)

// WithPingInterval sets the keepalive ping interval.
func WithPingInterval(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.pingInterval = d
		}
	}
}

// WithBackoff sets the reconnect backoff strategy.
func WithBackoff(b Backoff) Option {
	return func(c *Channel) { c.backoff = b }
}

// WithMaxAttempts caps consecutive reconnect attempts before Failed.
func WithMaxAttempts(n int) Option {
	return func(c *Channel) { c.maxAttempts = n }
}

// WithMaxElapsed caps the total outage duration before Failed.
func WithMaxElapsed(d time.Duration) Option {
	return func(c *Channel) { c.maxElapsed = d }
}

// WithAuth attaches session credentials to the websocket handshake.
func WithAuth(a drepo.Authenticator) Option {
	return func(c *Channel) { c.auth = a }
}

// WithLogger sets the logger.
func WithLogger(l *applogger.Logger) Option {
	return func(c *Channel) { c.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m drepo.Metrics) Option {
	return func(c *Channel) { c.metrics = m }
}

// NewChannel creates a realtime channel for the given websocket URL.
func NewChannel(url string, opts ...Option) *Channel {
	c := &Channel{
		url:          url,
		dialer:       websocket.DefaultDialer,
		pingInterval: 30 * time.Second,
		backoff:      DefaultBackoff(),
		state:        models.StateDisconnected,
		subs:         make(map[string]map[int]func([]byte)),
		stateSubs:    make(map[int]func(models.ConnState)),
		priceSymbols: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current connection state.
func (c *Channel) State() models.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect starts the connection loop. Idempotent: a no-op while the
// channel is already Connecting, Connected, or Reconnecting. From
// Failed or Disconnected it resets to Connecting.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case models.StateConnected, models.StateConnecting, models.StateReconnecting:
		c.mu.Unlock()
		return nil
	}
	// A Failed run leaves its context behind; release it before
	// starting the next one.
	if c.cancel != nil {
		c.cancel()
	}
	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.gen++
	gen := c.gen
	handlers := c.setStateLocked(models.StateConnecting)
	c.mu.Unlock()

	c.notifyState(handlers, models.StateConnecting)
	go c.run(runCtx, gen)
	return nil
}

// Disconnect transitions to Disconnected from any state, cancels any
// pending reconnect, and closes the connection. No reconnect attempts
// occur afterwards until Connect is called again.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	conn := c.conn
	c.conn = nil
	var handlers []func(models.ConnState)
	if c.state != models.StateDisconnected {
		handlers = c.setStateLocked(models.StateDisconnected)
	}
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	c.notifyState(handlers, models.StateDisconnected)
}

// Subscribe registers a handler for a named event and returns its
// unsubscribe function. Each handler is invoked exactly once per event,
// in transport order.
func (c *Channel) Subscribe(event string, handler func(data []byte)) func() {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	if c.subs[event] == nil {
		c.subs[event] = make(map[int]func([]byte))
	}
	c.subs[event][id] = handler
	c.subMu.Unlock()

	return func() {
		c.subMu.Lock()
		delete(c.subs[event], id)
		c.subMu.Unlock()
	}
}

// SubscribeState registers a connection-state observer and returns its
// unsubscribe function.
func (c *Channel) SubscribeState(handler func(models.ConnState)) func() {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.stateSubs[id] = handler
	c.subMu.Unlock()

	return func() {
		c.subMu.Lock()
		delete(c.stateSubs, id)
		c.subMu.Unlock()
	}
}

// ScopePrices emits subscribe_prices/unsubscribe_prices for the given
// symbols. The scope is remembered and re-applied after a reconnect.
func (c *Channel) ScopePrices(subscribe bool, symbols []string) error {
	c.scopeMu.Lock()
	for _, s := range symbols {
		if subscribe {
			c.priceSymbols[s] = struct{}{}
		} else {
			delete(c.priceSymbols, s)
		}
	}
	c.scopeMu.Unlock()

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		// Applied when the connection comes up.
		return nil
	}

	msgType := models.MsgSubscribePrices
	if !subscribe {
		msgType = models.MsgUnsubscribePrices
	}
	return c.writeJSON(conn, &models.PriceScopeMessage{Type: msgType, Symbols: symbols})
}

func (c *Channel) run(ctx context.Context, gen int) {
	attempt := 0
	outage := time.Now()

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := c.dial(ctx)
		if err != nil {
			attempt++
			if c.budgetExceeded(attempt, outage) {
				c.transition(gen, models.StateFailed)
				if c.logger != nil {
					c.logger.Error("realtime: reconnect budget exhausted", applogger.Error(err))
				}
				return
			}
			if !c.transition(gen, models.StateReconnecting) {
				return
			}
			if !c.sleep(ctx, c.backoff.Delay(attempt)) {
				return
			}
			continue
		}

		if !c.install(gen, conn) {
			_ = conn.Close()
			return
		}
		attempt = 0
		c.applyPriceScope(conn)

		c.readLoop(ctx, conn)
		_ = conn.Close()
		c.clearConn(conn)

		if ctx.Err() != nil {
			return
		}

		outage = time.Now()
		attempt = 1
		if !c.transition(gen, models.StateReconnecting) {
			return
		}
		if !c.sleep(ctx, c.backoff.Delay(attempt)) {
			return
		}
	}
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.auth != nil {
		req := &http.Request{Header: header}
		c.auth.AttachAuth(req)
	}
	conn, resp, err := c.dialer.DialContext(ctx, c.url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// install publishes the new connection and the Connected state. Returns
// false if the generation went stale (Disconnect raced the dial).
func (c *Channel) install(gen int, conn *websocket.Conn) bool {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return false
	}
	c.conn = conn
	handlers := c.setStateLocked(models.StateConnected)
	c.mu.Unlock()

	c.notifyState(handlers, models.StateConnected)
	return true
}

func (c *Channel) clearConn(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
}

// transition moves to the given state unless the generation went stale.
func (c *Channel) transition(gen int, state models.ConnState) bool {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return false
	}
	var handlers []func(models.ConnState)
	if c.state != state {
		handlers = c.setStateLocked(state)
	}
	c.mu.Unlock()

	c.notifyState(handlers, state)
	return true
}

// setStateLocked records the new state and returns the observers to
// notify. Callers must hold c.mu and invoke notifyState after unlock.
func (c *Channel) setStateLocked(state models.ConnState) []func(models.ConnState) {
	c.state = state
	if c.metrics != nil {
		c.metrics.RecordConnState(state)
	}

	c.subMu.RLock()
	handlers := make([]func(models.ConnState), 0, len(c.stateSubs))
	for _, h := range c.stateSubs {
		handlers = append(handlers, h)
	}
	c.subMu.RUnlock()
	return handlers
}

func (c *Channel) notifyState(handlers []func(models.ConnState), state models.ConnState) {
	for _, h := range handlers {
		h(state)
	}
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn) {
	pingStop := make(chan struct{})
	go c.pingLoop(conn, pingStop)
	defer close(pingStop)

	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && c.logger != nil {
				c.logger.Warn("realtime: read closed", applogger.Error(err))
			}
			return
		}
		c.dispatch(b)
	}
}

func (c *Channel) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
		}
	}
}

// dispatch parses one frame into the event envelope and hands the body
// to subscribers. Malformed frames are dropped and logged; they never
// reach handlers and never crash the channel.
func (c *Channel) dispatch(b []byte) {
	var env models.EventEnvelope
	if err := json.Unmarshal(b, &env); err != nil || env.Event == "" {
		if c.metrics != nil {
			c.metrics.RecordError("realtime_malformed")
		}
		if c.logger != nil {
			c.logger.Debug("realtime: dropped malformed frame", applogger.Int("bytes", len(b)))
		}
		return
	}

	c.subMu.RLock()
	handlers := make([]func([]byte), 0, len(c.subs[env.Event]))
	for _, h := range c.subs[env.Event] {
		handlers = append(handlers, h)
	}
	c.subMu.RUnlock()

	for _, h := range handlers {
		h(env.Data)
	}
}

func (c *Channel) applyPriceScope(conn *websocket.Conn) {
	c.scopeMu.Lock()
	symbols := make([]string, 0, len(c.priceSymbols))
	for s := range c.priceSymbols {
		symbols = append(symbols, s)
	}
	c.scopeMu.Unlock()

	if len(symbols) == 0 {
		return
	}
	if err := c.writeJSON(conn, &models.PriceScopeMessage{Type: models.MsgSubscribePrices, Symbols: symbols}); err != nil && c.logger != nil {
		c.logger.Warn("realtime: price scope failed", applogger.Error(err))
	}
}

func (c *Channel) writeJSON(conn *websocket.Conn, v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(v)
}

func (c *Channel) budgetExceeded(attempt int, outageStart time.Time) bool {
	if c.maxAttempts > 0 && attempt >= c.maxAttempts {
		return true
	}
	if c.maxElapsed > 0 && time.Since(outageStart) >= c.maxElapsed {
		return true
	}
	return false
}

func (c *Channel) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
