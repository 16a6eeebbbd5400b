// Package sampler turns a live capture source into a throttled stream of
// JPEG-encoded stills, with at most one encode in flight.
package sampler

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"log/slog"
	"sync"
	"time"

	"github.com/markerlens/tracker/internal/capture"
)

const (
	DefaultInterval = 150 * time.Millisecond
	DefaultQuality  = 70
)

// Encoder compresses a frame.
type Encoder interface {
	Encode(img image.Image) ([]byte, error)
}

// JPEGEncoder encodes frames as baseline JPEG.
type JPEGEncoder struct {
	Quality int
}

// Encode implements Encoder.
func (e JPEGEncoder) Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: e.Quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Result is the outcome of one encode.
type Result struct {
	Seq        uint64
	JPEG       []byte
	Err        error
	CapturedAt time.Time
	Elapsed    time.Duration
}

// Stats counts sampler decisions.
type Stats struct {
	Sampled         uint64 `json:"sampled"`
	Encoded         uint64 `json:"encoded"`
	EncodeErrors    uint64 `json:"encodeErrors"`
	SkippedNotReady uint64 `json:"skippedNotReady"`
	SkippedBusy     uint64 `json:"skippedBusy"`
	CaptureErrors   uint64 `json:"captureErrors"`
}

type job struct {
	seq uint64
	img image.Image
	at  time.Time
}

// Sampler gates ticks to the sampling interval and hands frames to a single
// encoder goroutine. Tick and Complete must be called from one goroutine.
type Sampler struct {
	source   capture.Source
	encoder  Encoder
	interval time.Duration
	logger   *slog.Logger

	last     time.Time
	inFlight bool
	seq      uint64
	stats    Stats

	jobs    chan job
	results chan Result

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New creates a sampler. A nil encoder means JPEG at DefaultQuality and a
// non-positive interval means DefaultInterval.
func New(source capture.Source, encoder Encoder, interval time.Duration, logger *slog.Logger) *Sampler {
	if encoder == nil {
		encoder = JPEGEncoder{Quality: DefaultQuality}
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{
		source:   source,
		encoder:  encoder,
		interval: interval,
		logger:   logger,
		jobs:     make(chan job, 1),
		results:  make(chan Result, 1),
	}
}

// Start launches the encoder goroutine.
func (s *Sampler) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		ctx, s.cancel = context.WithCancel(ctx)
		s.wg.Add(1)
		go s.encodeLoop(ctx)
	})
}

// Stop ends the encoder goroutine and waits for it. A pending result is
// discarded.
func (s *Sampler) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
	})
}

func (s *Sampler) encodeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.jobs:
			start := time.Now()
			data, err := s.encoder.Encode(j.img)
			r := Result{Seq: j.seq, JPEG: data, Err: err, CapturedAt: j.at, Elapsed: time.Since(start)}
			select {
			case s.results <- r:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Results delivers encode completions. Each one must be acknowledged with
// Complete before the next frame is sampled.
func (s *Sampler) Results() <-chan Result {
	return s.results
}

// Tick samples a frame when the interval has elapsed since the last sample,
// the source is ready and no encode is in flight. It reports whether a frame
// was handed to the encoder. Skipped ticks leave the interval gate untouched.
func (s *Sampler) Tick(now time.Time) bool {
	if !s.last.IsZero() && now.Sub(s.last) < s.interval {
		return false
	}
	if s.source == nil || !s.source.Ready() {
		s.stats.SkippedNotReady++
		return false
	}
	if s.inFlight {
		s.stats.SkippedBusy++
		return false
	}

	img, err := s.source.Frame()
	if err != nil {
		if errors.Is(err, capture.ErrNotReady) {
			s.stats.SkippedNotReady++
		} else {
			s.stats.CaptureErrors++
			s.logger.Warn("Frame capture failed", "error", err)
		}
		return false
	}

	s.seq++
	select {
	case s.jobs <- job{seq: s.seq, img: img, at: now}:
	default:
		// the slot is only occupied while inFlight is set
		s.stats.SkippedBusy++
		return false
	}
	s.inFlight = true
	s.last = now
	s.stats.Sampled++
	return true
}

// Complete acknowledges a result from Results and reopens the pipeline. It
// returns the encoded bytes, or nil when encoding failed.
func (s *Sampler) Complete(r Result) []byte {
	s.inFlight = false
	if r.Err != nil {
		s.stats.EncodeErrors++
		s.logger.Warn("Frame encode failed", "seq", r.Seq, "error", r.Err)
		return nil
	}
	s.stats.Encoded++
	return r.JPEG
}

// InFlight reports whether an encode is outstanding.
func (s *Sampler) InFlight() bool {
	return s.inFlight
}

// Interval returns the sampling interval.
func (s *Sampler) Interval() time.Duration {
	return s.interval
}

// Stats returns a copy of the counters.
func (s *Sampler) Stats() Stats {
	return s.stats
}
