// Package detection maintains the persistent WebSocket connection to the
// detection service: frames go out as base64 text messages, detection
// batches come back as JSON arrays.
package detection

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	ws "github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/markerlens/tracker/pkg/core"
	"github.com/markerlens/tracker/pkg/streaming"
)

const (
	DefaultReconnectDelay = 2 * time.Second
	batchChSize           = 16
	writeWait             = 10 * time.Second
	maxMessageSize        = 1 << 20
)

// Config holds channel settings.
type Config struct {
	URL              string
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration
	Header           http.Header
}

// Stats counts channel activity.
type Stats struct {
	Dials               uint64 `json:"dials"`
	Drops               uint64 `json:"drops"`
	ReconnectsScheduled uint64 `json:"reconnectsScheduled"`
	FramesSent          uint64 `json:"framesSent"`
	FramesDropped       uint64 `json:"framesDropped"`
	Batches             uint64 `json:"batches"`
	Malformed           uint64 `json:"malformed"`
}

type counters struct {
	dials, drops, reconnects, sent, dropped, batches, malformed atomic.Uint64
}

// Channel is a self-healing connection to the detection service. Send never
// blocks; batches are delivered in transport order on Batches.
type Channel struct {
	cfg    Config
	dialer *ws.Dialer
	logger *slog.Logger

	mu       sync.Mutex
	state    core.ConnectionState
	conn     *ws.Conn
	gen      uint64
	connDone chan struct{}
	timer    *time.Timer
	started  bool
	closed   bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	sendCh   chan []byte
	batches  chan core.DetectionBatch
	closedCh chan struct{}
	seq      atomic.Uint64
	stats    counters

	onState      func(from, to core.ConnectionState)
	malformedLog rate.Sometimes
}

// Option customizes a Channel.
type Option func(*Channel)

// WithStateHook registers a callback for every state transition. It runs
// outside the channel lock and must not block.
func WithStateHook(fn func(from, to core.ConnectionState)) Option {
	return func(c *Channel) { c.onState = fn }
}

// WithDialer overrides the WebSocket dialer.
func WithDialer(d *ws.Dialer) Option {
	return func(c *Channel) { c.dialer = d }
}

// New creates a channel in the disconnected state.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Channel {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Channel{
		cfg:          cfg,
		dialer:       &ws.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: cfg.HandshakeTimeout},
		logger:       logger,
		state:        core.StateDisconnected,
		sendCh:       make(chan []byte, 1),
		batches:      make(chan core.DetectionBatch, batchChSize),
		closedCh:     make(chan struct{}),
		malformedLog: rate.Sometimes{First: 3, Interval: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start begins connecting. Subsequent calls are no-ops.
func (c *Channel) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started || c.closed {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		c.connect()
	}()
}

// connect performs one dial attempt. On failure a reconnect is scheduled.
func (c *Channel) connect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	from := c.setStateLocked(core.StateConnecting)
	ctx := c.ctx
	c.mu.Unlock()
	c.notify(from, core.StateConnecting)
	c.stats.dials.Add(1)

	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		c.setStateLocked(core.StateErrored)
		c.setStateLocked(core.StateDisconnected)
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		c.notify(core.StateConnecting, core.StateErrored)
		c.notify(core.StateErrored, core.StateDisconnected)
		c.logger.Warn("Detection service dial failed", "url", c.cfg.URL, "error", err, "retryIn", c.cfg.ReconnectDelay)
		return
	}

	conn.SetReadLimit(maxMessageSize)
	c.conn = conn
	c.gen++
	gen := c.gen
	done := make(chan struct{})
	c.connDone = done
	// a frame queued for a previous connection is stale by now
	select {
	case <-c.sendCh:
	default:
	}
	c.setStateLocked(core.StateOpen)
	c.wg.Add(2)
	c.mu.Unlock()

	c.notify(core.StateConnecting, core.StateOpen)
	c.logger.Info("Detection service connected", "url", c.cfg.URL)

	go c.writeLoop(conn, gen, done)
	go c.readLoop(conn, gen)
}

// handleDrop tears down connection gen and schedules one reconnect. Both
// loops call it when they fail; only the first call for a generation acts.
func (c *Channel) handleDrop(gen uint64, err error) {
	c.mu.Lock()
	if c.closed || gen != c.gen || c.conn == nil {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.conn = nil
	close(c.connDone)
	c.connDone = nil

	dropState := core.StateErrored
	if ws.IsCloseError(err, ws.CloseNormalClosure, ws.CloseGoingAway) {
		dropState = core.StateClosed
	}
	c.setStateLocked(dropState)
	c.setStateLocked(core.StateDisconnected)
	c.stats.drops.Add(1)
	c.scheduleReconnectLocked()
	c.mu.Unlock()

	_ = conn.Close()
	c.notify(core.StateOpen, dropState)
	c.notify(dropState, core.StateDisconnected)
	c.logger.Warn("Detection service connection lost", "error", err, "retryIn", c.cfg.ReconnectDelay)
}

// scheduleReconnectLocked arms the reconnect timer unless one is pending.
func (c *Channel) scheduleReconnectLocked() {
	if c.timer != nil || c.closed {
		return
	}
	c.stats.reconnects.Add(1)
	c.timer = time.AfterFunc(c.cfg.ReconnectDelay, func() {
		c.mu.Lock()
		c.timer = nil
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.wg.Add(1)
		c.mu.Unlock()

		defer c.wg.Done()
		c.connect()
	})
}

func (c *Channel) writeLoop(conn *ws.Conn, gen uint64, done chan struct{}) {
	defer c.wg.Done()
	for {
		select {
		case <-done:
			return
		case data := <-c.sendCh:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.stats.dropped.Add(1)
				c.handleDrop(gen, err)
				return
			}
			if err := conn.WriteMessage(ws.TextMessage, data); err != nil {
				c.stats.dropped.Add(1)
				c.handleDrop(gen, err)
				return
			}
			c.stats.sent.Add(1)
		}
	}
}

func (c *Channel) readLoop(conn *ws.Conn, gen uint64) {
	defer c.wg.Done()
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			c.handleDrop(gen, err)
			return
		}

		detections, err := streaming.DecodeBatch(message)
		if err != nil {
			n := c.stats.malformed.Add(1)
			c.malformedLog.Do(func() {
				c.logger.Warn("Dropping malformed detection payload", "error", err, "bytes", len(message), "total", n)
			})
			continue
		}

		batch := core.DetectionBatch{
			Seq:        c.seq.Add(1),
			ReceivedAt: time.Now(),
			Detections: detections,
		}
		select {
		case c.batches <- batch:
			c.stats.batches.Add(1)
		case <-c.closedCh:
			return
		}
	}
}

// Send queues an encoded frame for transmission. It returns false, dropping
// the frame, when the channel is not open. A frame still waiting in the
// outbound slot is replaced by the newer one.
func (c *Channel) Send(frame []byte) bool {
	if c.State() != core.StateOpen {
		c.stats.dropped.Add(1)
		return false
	}
	select {
	case c.sendCh <- frame:
		return true
	default:
	}
	select {
	case <-c.sendCh:
		c.stats.dropped.Add(1)
	default:
	}
	select {
	case c.sendCh <- frame:
		return true
	default:
		c.stats.dropped.Add(1)
		return false
	}
}

// Batches delivers detection batches in arrival order.
func (c *Channel) Batches() <-chan core.DetectionBatch {
	return c.batches
}

// State returns the current connection state.
func (c *Channel) State() core.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Reconnecting reports whether a reconnect attempt is pending or underway.
func (c *Channel) Reconnecting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.started && c.state != core.StateOpen
}

// Stats returns a snapshot of the counters.
func (c *Channel) Stats() Stats {
	return Stats{
		Dials:               c.stats.dials.Load(),
		Drops:               c.stats.drops.Load(),
		ReconnectsScheduled: c.stats.reconnects.Load(),
		FramesSent:          c.stats.sent.Load(),
		FramesDropped:       c.stats.dropped.Load(),
		Batches:             c.stats.batches.Load(),
		Malformed:           c.stats.malformed.Load(),
	}
}

// Close releases the connection, any pending reconnect timer and the
// read/write goroutines. Safe to call more than once.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.cancel != nil {
		c.cancel()
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	conn := c.conn
	c.conn = nil
	if c.connDone != nil {
		close(c.connDone)
		c.connDone = nil
	}
	close(c.closedCh)
	from := c.setStateLocked(core.StateClosed)
	c.mu.Unlock()

	var err error
	if conn != nil {
		_ = conn.WriteControl(
			ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		if cerr := conn.Close(); cerr != nil {
			err = fmt.Errorf("closing detection connection: %w", cerr)
		}
	}
	c.wg.Wait()
	if from != core.StateClosed {
		c.notify(from, core.StateClosed)
	}
	return err
}

func (c *Channel) setStateLocked(s core.ConnectionState) core.ConnectionState {
	from := c.state
	c.state = s
	return from
}

func (c *Channel) notify(from, to core.ConnectionState) {
	if c.onState != nil && from != to {
		c.onState(from, to)
	}
}
