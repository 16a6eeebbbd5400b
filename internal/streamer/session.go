// Package streamer runs a tracking session: it samples frames, ships them to
// the detection service, feeds the answers to the overlay tracker and pushes
// the resulting render instructions to a sink.
package streamer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/markerlens/tracker/internal/cache"
	"github.com/markerlens/tracker/internal/detection"
	"github.com/markerlens/tracker/internal/sampler"
	"github.com/markerlens/tracker/internal/tracker"
	"github.com/markerlens/tracker/pkg/core"
	"github.com/markerlens/tracker/pkg/streaming"
)

const (
	DefaultTickInterval = 16 * time.Millisecond
	playbackChSize      = 64
)

var ErrAlreadyRunning = errors.New("session already running")

// Catalog lists the marker assets available to a session.
type Catalog interface {
	List(ctx context.Context) ([]core.MarkerAsset, error)
}

// Channel is the transport to the detection service.
type Channel interface {
	Start(ctx context.Context)
	Send(frame []byte) bool
	Batches() <-chan core.DetectionBatch
	State() core.ConnectionState
	Reconnecting() bool
	Stats() detection.Stats
	Close() error
}

// Sink receives the full instruction set on every tick.
type Sink interface {
	Render(instructions []core.RenderInstruction) error
}

// CatalogPublisher is implemented by sinks that need the asset list before
// the first render.
type CatalogPublisher interface {
	PublishCatalog(entries []cache.AssetEntry)
}

// Journal records session history.
type Journal interface {
	StartSession(info core.SessionInfo) error
	RecordBatch(batch core.DetectionBatch) error
	RecordTransition(t core.Transition) error
}

// Config holds session settings.
type Config struct {
	TickInterval time.Duration
	DetectionURL string
	CatalogURL   string
}

// Option customizes a Session.
type Option func(*Session)

// WithSink sets the render sink. The default discards instructions.
func WithSink(s Sink) Option {
	return func(sess *Session) { sess.sink = s }
}

// WithJournal sets the session journal.
func WithJournal(j Journal) Option {
	return func(sess *Session) { sess.journal = j }
}

// WithTicks replaces the internal ticker with an external tick source.
func WithTicks(ticks <-chan time.Time) Option {
	return func(sess *Session) { sess.ticks = ticks }
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(sess *Session) { sess.logger = l }
}

// Session owns every resource of one tracking session. Tracker and sampler
// state is only touched from the Run goroutine.
type Session struct {
	id      string
	cfg     Config
	catalog Catalog
	channel Channel
	sampler *sampler.Sampler
	sink    Sink
	journal Journal
	logger  *slog.Logger

	assets  *cache.AssetIndex
	tracker *tracker.Tracker
	ticks   <-chan time.Time
	ticker  *time.Ticker

	playback chan core.PlaybackEvent
	stopCh   chan struct{}
	done     chan struct{}

	mu       sync.Mutex
	running  bool
	stopped  bool // Stop tore the session down before Run
	stopOnce sync.Once
	downOnce sync.Once

	startedAt  time.Time
	batches    uint64
	lastDebug  []core.DebugEntry
	live       atomic.Int64
	status     atomic.Pointer[Status]
	metrics    *metrics
	sinkErrLog rate.Sometimes
}

// New assembles a session. The channel and sampler are owned by the session
// from here on and released by its teardown.
func New(cfg Config, catalog Catalog, channel Channel, smp *sampler.Sampler, opts ...Option) (*Session, error) {
	if channel == nil {
		return nil, errors.New("detection channel is required")
	}
	if smp == nil {
		return nil, errors.New("sampler is required")
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}

	s := &Session{
		id:         uuid.NewString(),
		cfg:        cfg,
		catalog:    catalog,
		channel:    channel,
		sampler:    smp,
		sink:       nopSink{},
		journal:    nopJournal{},
		logger:     slog.Default(),
		assets:     cache.NewAssetIndex(nil),
		playback:   make(chan core.PlaybackEvent, playbackChSize),
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
		sinkErrLog: rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("session", s.id)
	s.tracker = tracker.New(s.assets, s.logger)

	m, err := newMetrics(&s.live)
	if err != nil {
		return nil, err
	}
	s.metrics = m

	s.publish()
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Run executes the session until ctx is cancelled or Stop is called. All
// resources are released before it returns.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	defer close(s.done)
	defer s.teardown()

	select {
	case <-s.stopCh:
		return nil
	default:
	}

	s.startedAt = time.Now()
	s.loadCatalog(ctx)

	info := core.SessionInfo{
		ID:           s.id,
		StartedAt:    s.startedAt,
		DetectionURL: s.cfg.DetectionURL,
		CatalogURL:   s.cfg.CatalogURL,
		Assets:       s.assets.Len(),
	}
	if err := s.journal.StartSession(info); err != nil {
		s.logger.Warn("Failed to journal session start", "error", err)
	}

	s.channel.Start(ctx)
	s.sampler.Start(ctx)

	ticks := s.ticks
	if ticks == nil {
		s.ticker = time.NewTicker(s.cfg.TickInterval)
		ticks = s.ticker.C
	}

	s.logger.Info("Session started",
		"assets", s.assets.Len(),
		"detectionUrl", s.cfg.DetectionURL,
		"interval", s.sampler.Interval())
	s.publish()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Session cancelled", "reason", context.Cause(ctx))
			return nil
		case <-s.stopCh:
			s.logger.Info("Session stopped")
			return nil
		case now := <-ticks:
			s.tick(ctx, now)
		case r := <-s.sampler.Results():
			s.forward(ctx, r)
		case batch := <-s.channel.Batches():
			s.apply(ctx, batch)
		case ev := <-s.playback:
			s.end(ctx, ev)
		}
	}
}

// Stop ends the session and waits for its teardown. Safe to call from any
// goroutine, more than once, and before Run.
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })

	s.mu.Lock()
	running, stopped := s.running, s.stopped
	if !running {
		s.stopped = true
	}
	s.mu.Unlock()

	if running || stopped {
		<-s.done
		return
	}
	s.teardown()
	close(s.done)
}

// Done is closed once Run has returned, or once Stop has torn down a session
// that never ran.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// PlaybackEnded reports that the clip bound to markerID stopped. It never
// blocks; false means the event was not accepted.
func (s *Session) PlaybackEnded(markerID string, reason core.PlaybackReason) bool {
	if markerID == "" {
		return false
	}
	select {
	case <-s.stopCh:
		return false
	default:
	}
	select {
	case s.playback <- core.PlaybackEvent{MarkerID: markerID, Reason: reason}:
		return true
	default:
		s.logger.Warn("Playback queue full, dropping event", "marker", markerID, "reason", reason)
		return false
	}
}

func (s *Session) loadCatalog(ctx context.Context) {
	if s.catalog == nil {
		s.logger.Warn("No marker catalog configured, overlays disabled")
		return
	}
	assets, err := s.catalog.List(ctx)
	if err != nil {
		s.logger.Warn("Failed to load marker catalog, continuing without overlays", "error", err)
		assets = nil
	}
	s.assets.Load(assets)
	if err == nil {
		s.logger.Info("Marker catalog loaded", "assets", s.assets.Len())
	}
	if p, ok := s.sink.(CatalogPublisher); ok {
		p.PublishCatalog(s.assets.Entries())
	}
}

func (s *Session) tick(ctx context.Context, now time.Time) {
	if s.channel.State() == core.StateOpen && s.sampler.Tick(now) {
		s.metrics.sampled.Add(ctx, 1)
	}
	if err := s.sink.Render(s.tracker.Render()); err != nil {
		s.sinkErrLog.Do(func() {
			s.logger.Warn("Render sink failed", "error", err)
		})
	}
}

func (s *Session) forward(ctx context.Context, r sampler.Result) {
	data := s.sampler.Complete(r)
	if data == nil {
		return
	}
	if s.channel.Send(streaming.EncodeFrame(data)) {
		s.metrics.sent.Add(ctx, 1)
	} else {
		s.metrics.dropped.Add(ctx, 1)
		s.logger.Debug("Frame dropped, channel not open", "seq", r.Seq)
	}
	s.publish()
}

func (s *Session) apply(ctx context.Context, batch core.DetectionBatch) {
	transitions := s.tracker.Apply(batch)
	s.batches++
	s.metrics.batches.Add(ctx, 1)

	if err := s.journal.RecordBatch(batch); err != nil {
		s.logger.Warn("Failed to journal detection batch", "seq", batch.Seq, "error", err)
	}
	for _, tr := range transitions {
		s.record(ctx, tr)
	}

	s.lastDebug = s.lastDebug[:0:0]
	for _, d := range batch.Detections {
		entry := core.DebugEntry{ID: d.MarkerID, Status: d.Status, Score: d.Score}
		if a, ok := s.assets.Get(d.MarkerID); ok {
			entry.Name = a.Asset.DisplayName
		}
		s.lastDebug = append(s.lastDebug, entry)
	}
	s.publish()
}

func (s *Session) end(ctx context.Context, ev core.PlaybackEvent) {
	tr, ok := s.tracker.End(ev.MarkerID, ev.Reason, time.Now())
	if !ok {
		s.logger.Debug("Playback event for marker without overlay", "marker", ev.MarkerID, "reason", ev.Reason)
		return
	}
	s.record(ctx, tr)
	s.publish()
}

func (s *Session) record(ctx context.Context, tr core.Transition) {
	s.metrics.transition(ctx, string(tr.To))
	s.logger.Debug("Overlay transition",
		"marker", tr.MarkerID,
		"from", tr.From,
		"to", tr.To,
		"reason", tr.Reason)
	if err := s.journal.RecordTransition(tr); err != nil {
		s.logger.Warn("Failed to journal transition", "marker", tr.MarkerID, "error", err)
	}
}

// teardown releases the ticker, the detection channel (connection and
// reconnect timer) and the encoder goroutine. It runs once.
func (s *Session) teardown() {
	s.downOnce.Do(func() {
		if s.ticker != nil {
			s.ticker.Stop()
		}
		if err := s.channel.Close(); err != nil {
			s.logger.Warn("Failed to close detection channel", "error", err)
		}
		s.sampler.Stop()
		s.metrics.close()
		s.publish()
		s.logger.Info("Session torn down", "batches", s.batches, "overlays", s.live.Load())
	})
}

type nopSink struct{}

func (nopSink) Render([]core.RenderInstruction) error { return nil }

type nopJournal struct{}

func (nopJournal) StartSession(core.SessionInfo) error    { return nil }
func (nopJournal) RecordBatch(core.DetectionBatch) error  { return nil }
func (nopJournal) RecordTransition(core.Transition) error { return nil }
