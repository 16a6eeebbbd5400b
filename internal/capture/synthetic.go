package capture

import (
	"image"
	"image/color"
	"sync"
	"time"
)

// Synthetic generates frames locally: a gradient background with a block
// sweeping across it. It becomes ready once the warm-up has elapsed, which
// mimics a camera that needs a moment before producing frames.
type Synthetic struct {
	mu      sync.Mutex
	width   int
	height  int
	start   time.Time
	warmup  time.Duration
	now     func() time.Time
	frameNo int
	closed  bool
}

// NewSynthetic creates a synthetic source of the given size.
func NewSynthetic(width, height int, warmup time.Duration) *Synthetic {
	return newSynthetic(width, height, warmup, time.Now)
}

func newSynthetic(width, height int, warmup time.Duration, now func() time.Time) *Synthetic {
	if width <= 0 {
		width = 640
	}
	if height <= 0 {
		height = 480
	}
	return &Synthetic{width: width, height: height, start: now(), warmup: warmup, now: now}
}

// Ready implements Source.
func (s *Synthetic) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.now().Sub(s.start) >= s.warmup
}

// Frame implements Source.
func (s *Synthetic) Frame() (image.Image, error) {
	if !s.Ready() {
		return nil, ErrNotReady
	}

	s.mu.Lock()
	n := s.frameNo
	s.frameNo++
	s.mu.Unlock()

	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	for y := 0; y < s.height; y++ {
		shade := uint8(y * 255 / s.height)
		for x := 0; x < s.width; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x * 255 / s.width), G: shade, B: 96, A: 255})
		}
	}

	bw, bh := s.width/8, s.height/8
	bx := (n * 8) % (s.width - bw)
	by := s.height/2 - bh/2
	for y := by; y < by+bh; y++ {
		for x := bx; x < bx+bw; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 255, G: 255, B: 255, A: 255})
		}
	}
	return img, nil
}

// Size implements Source.
func (s *Synthetic) Size() (int, int) {
	return s.width, s.height
}

// Close implements Source.
func (s *Synthetic) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
