package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const maxPartSize = 16 << 20

var (
	errPartTooLarge = errors.New("mjpeg part too large")
	errShortPart    = errors.New("mjpeg part shorter than its Content-Length")
)

// MJPEG reads a multipart/x-mixed-replace JPEG stream over HTTP, as served by
// IP cameras and webcam bridges, and keeps the latest decoded frame.
type MJPEG struct {
	url        string
	client     *http.Client
	retryDelay time.Duration
	logger     *slog.Logger

	mu     sync.RWMutex
	latest image.Image
	frames uint64

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMJPEG creates a source for the given stream URL. Call Start to begin
// reading.
func NewMJPEG(url string, logger *slog.Logger) *MJPEG {
	if logger == nil {
		logger = slog.Default()
	}
	return &MJPEG{
		url:        url,
		client:     &http.Client{},
		retryDelay: 2 * time.Second,
		logger:     logger,
	}
}

// Start launches the reader goroutine. The stream is re-opened after a delay
// whenever it ends or fails, until ctx is cancelled or Close is called.
func (m *MJPEG) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.run(ctx)
}

func (m *MJPEG) run(ctx context.Context) {
	defer close(m.done)
	for {
		err := m.stream(ctx)
		if ctx.Err() != nil {
			return
		}
		m.logger.Warn("mjpeg: stream interrupted, retrying", "url", m.url, "error", err, "delay", m.retryDelay)

		select {
		case <-time.After(m.retryDelay):
		case <-ctx.Done():
			return
		}
	}
}

func (m *MJPEG) stream(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("stream request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream returned status %d", resp.StatusCode)
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return fmt.Errorf("invalid content type: %w", err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return fmt.Errorf("unexpected content type %q", mediaType)
	}
	boundary := strings.TrimPrefix(params["boundary"], "--")
	if boundary == "" {
		return errors.New("missing multipart boundary")
	}

	return m.readParts(multipart.NewReader(resp.Body, boundary))
}

func (m *MJPEG) readParts(r *multipart.Reader) error {
	for {
		part, err := r.NextPart()
		if err == io.EOF {
			return io.ErrUnexpectedEOF
		}
		if err != nil {
			return fmt.Errorf("failed to read part: %w", err)
		}

		img, err := decodePart(part)
		if err != nil {
			part.Close()
			m.logger.Debug("mjpeg: skipping undecodable part", "error", err)
			continue
		}

		m.mu.Lock()
		m.latest = img
		m.frames++
		m.mu.Unlock()

		// draining the part waits for the next boundary
		part.Close()
	}
}

// decodePart decodes one JPEG part. With a Content-Length header the part is
// read in full first, so the frame is available before the next boundary
// arrives.
func decodePart(part *multipart.Part) (image.Image, error) {
	cl := part.Header.Get("Content-Length")
	if cl == "" {
		return jpeg.Decode(part)
	}
	n, err := strconv.Atoi(strings.TrimSpace(cl))
	if err != nil || n < 0 {
		return jpeg.Decode(part)
	}
	if n > maxPartSize {
		return nil, fmt.Errorf("%w: %d bytes", errPartTooLarge, n)
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(part, buf); err != nil {
		return nil, fmt.Errorf("%w: %v", errShortPart, err)
	}
	return jpeg.Decode(bytes.NewReader(buf))
}

// Ready implements Source.
func (m *MJPEG) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest != nil
}

// Frame implements Source.
func (m *MJPEG) Frame() (image.Image, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.latest == nil {
		return nil, ErrNotReady
	}
	return m.latest, nil
}

// Size implements Source.
func (m *MJPEG) Size() (int, int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.latest == nil {
		return 0, 0
	}
	b := m.latest.Bounds()
	return b.Dx(), b.Dy()
}

// Frames returns the number of frames decoded so far.
func (m *MJPEG) Frames() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.frames
}

// Close stops the reader and waits for it to exit.
func (m *MJPEG) Close() error {
	if m.cancel != nil {
		m.cancel()
		<-m.done
		m.cancel = nil
	}
	return nil
}
