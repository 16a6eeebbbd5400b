package sampler

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"sync/atomic"
	"testing"
	"time"

	"github.com/markerlens/tracker/internal/capture"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeSource struct {
	ready  atomic.Bool
	err    error
	frames atomic.Int32
}

func newFakeSource(ready bool) *fakeSource {
	s := &fakeSource{}
	s.ready.Store(ready)
	return s
}

func (s *fakeSource) Ready() bool { return s.ready.Load() }
func (s *fakeSource) Frame() (image.Image, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.frames.Add(1)
	return image.NewGray(image.Rect(0, 0, 8, 8)), nil
}
func (s *fakeSource) Size() (int, int) { return 8, 8 }
func (s *fakeSource) Close() error     { return nil }

type fakeEncoder struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
}

func (e *fakeEncoder) Encode(img image.Image) ([]byte, error) {
	e.calls.Add(1)
	if e.release != nil {
		<-e.release
	}
	if e.err != nil {
		return nil, e.err
	}
	return []byte{0xFF, 0xD8}, nil
}

func startSampler(t *testing.T, src capture.Source, enc Encoder) *Sampler {
	t.Helper()
	s := New(src, enc, 150*time.Millisecond, nil)
	s.Start(context.Background())
	t.Cleanup(s.Stop)
	return s
}

func await(t *testing.T, s *Sampler) Result {
	t.Helper()
	select {
	case r := <-s.Results():
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for encode result")
		return Result{}
	}
}

// Ticks every 10ms against a 150ms interval yield exactly one encode per
// 150ms window.
func TestTick_ThrottlesToInterval(t *testing.T) {
	enc := &fakeEncoder{}
	s := startSampler(t, newFakeSource(true), enc)

	var sampledAt []time.Duration
	for i := 0; i < 150; i++ {
		offset := time.Duration(i) * 10 * time.Millisecond
		if s.Tick(t0.Add(offset)) {
			sampledAt = append(sampledAt, offset)
			data := s.Complete(await(t, s))
			require.NotNil(t, data)
		}
	}

	require.Len(t, sampledAt, 10)
	for k, at := range sampledAt {
		assert.Equal(t, time.Duration(k)*150*time.Millisecond, at)
	}
	assert.Equal(t, int32(10), enc.calls.Load())
	assert.Equal(t, uint64(10), s.Stats().Sampled)
	assert.Equal(t, uint64(10), s.Stats().Encoded)
}

func TestTick_FirstTickIsDue(t *testing.T) {
	s := startSampler(t, newFakeSource(true), &fakeEncoder{})
	assert.True(t, s.Tick(t0))
}

func TestTick_SourceNotReadySkipsWithoutMovingGate(t *testing.T) {
	src := newFakeSource(false)
	s := startSampler(t, src, &fakeEncoder{})

	for i := 0; i < 20; i++ {
		assert.False(t, s.Tick(t0.Add(time.Duration(i)*10*time.Millisecond)))
	}
	assert.Equal(t, int32(0), src.frames.Load())
	assert.Positive(t, s.Stats().SkippedNotReady)

	src.ready.Store(true)
	assert.True(t, s.Tick(t0.Add(200*time.Millisecond)), "first ready tick samples immediately")
}

func TestTick_NilSource(t *testing.T) {
	s := New(nil, &fakeEncoder{}, 0, nil)
	assert.Equal(t, DefaultInterval, s.Interval())
	assert.False(t, s.Tick(t0))
}

func TestTick_OneEncodeInFlight(t *testing.T) {
	enc := &fakeEncoder{release: make(chan struct{})}
	s := startSampler(t, newFakeSource(true), enc)

	require.True(t, s.Tick(t0))
	assert.True(t, s.InFlight())

	// well past the interval but the encode has not completed
	for i := 1; i <= 50; i++ {
		assert.False(t, s.Tick(t0.Add(time.Duration(i)*50*time.Millisecond)))
	}
	assert.Equal(t, uint64(1), s.Stats().Sampled)
	assert.Positive(t, s.Stats().SkippedBusy)

	close(enc.release)
	r := await(t, s)
	assert.Equal(t, uint64(1), r.Seq)
	s.Complete(r)
	assert.False(t, s.InFlight())

	assert.True(t, s.Tick(t0.Add(3*time.Second)))
	s.Complete(await(t, s))
	assert.Equal(t, int32(2), enc.calls.Load())
}

func TestComplete_EncodeError(t *testing.T) {
	enc := &fakeEncoder{err: errors.New("boom")}
	s := startSampler(t, newFakeSource(true), enc)

	require.True(t, s.Tick(t0))
	data := s.Complete(await(t, s))

	assert.Nil(t, data)
	assert.Equal(t, uint64(1), s.Stats().EncodeErrors)
	assert.False(t, s.InFlight())
}

func TestTick_CaptureError(t *testing.T) {
	src := newFakeSource(true)
	src.err = errors.New("device lost")
	s := startSampler(t, src, &fakeEncoder{})

	assert.False(t, s.Tick(t0))
	assert.Equal(t, uint64(1), s.Stats().CaptureErrors)

	src.err = capture.ErrNotReady
	assert.False(t, s.Tick(t0.Add(time.Second)))
	assert.Equal(t, uint64(1), s.Stats().CaptureErrors)
}

func TestJPEGEncoder(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 32, 16))
	data, err := JPEGEncoder{Quality: DefaultQuality}.Encode(img)
	require.NoError(t, err)

	decoded, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 32, decoded.Bounds().Dx())
}

func TestStop_Idempotent(t *testing.T) {
	s := New(newFakeSource(true), &fakeEncoder{}, 0, nil)
	s.Start(context.Background())
	s.Stop()
	s.Stop()

	// never started
	New(nil, nil, 0, nil).Stop()
}
