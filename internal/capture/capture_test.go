package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSynthetic_WarmupGatesReady(t *testing.T) {
	now := time.Unix(1000, 0)
	s := newSynthetic(64, 48, 500*time.Millisecond, func() time.Time { return now })

	assert.False(t, s.Ready())
	_, err := s.Frame()
	assert.ErrorIs(t, err, ErrNotReady)

	now = now.Add(500 * time.Millisecond)
	require.True(t, s.Ready())

	img, err := s.Frame()
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 64, 48), img.Bounds())

	w, h := s.Size()
	assert.Equal(t, 64, w)
	assert.Equal(t, 48, h)
}

func TestSynthetic_FramesDiffer(t *testing.T) {
	s := NewSynthetic(64, 48, 0)

	a, err := s.Frame()
	require.NoError(t, err)
	b, err := s.Frame()
	require.NoError(t, err)

	assert.NotEqual(t, a.(*image.RGBA).Pix, b.(*image.RGBA).Pix)
}

func TestSynthetic_Close(t *testing.T) {
	s := NewSynthetic(0, 0, 0)
	w, h := s.Size()
	assert.Equal(t, 640, w)
	assert.Equal(t, 480, h)

	require.NoError(t, s.Close())
	assert.False(t, s.Ready())
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0x80
	}
	img.SetRGBA(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 70}))
	return buf.Bytes()
}

func mjpegServer(t *testing.T, frames [][]byte, hold chan struct{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mw := multipart.NewWriter(w)
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mw.Boundary())
		w.WriteHeader(http.StatusOK)
		for _, f := range frames {
			part, err := mw.CreatePart(map[string][]string{
				"Content-Type":   {"image/jpeg"},
				"Content-Length": {fmt.Sprint(len(f))},
			})
			if err != nil {
				return
			}
			_, _ = part.Write(f)
			w.(http.Flusher).Flush()
		}
		select {
		case <-hold:
		case <-r.Context().Done():
		}
	}))
}

func TestMJPEG_ReadsLatestFrame(t *testing.T) {
	hold := make(chan struct{})
	server := mjpegServer(t, [][]byte{[]byte("garbage"), jpegBytes(t, 32, 24), jpegBytes(t, 40, 30)}, hold)
	defer server.Close()
	defer close(hold)

	src := NewMJPEG(server.URL, nil)
	assert.False(t, src.Ready())
	_, err := src.Frame()
	assert.ErrorIs(t, err, ErrNotReady)

	src.Start(context.Background())
	defer src.Close()

	require.Eventually(t, func() bool { return src.Frames() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, src.Ready())

	img, err := src.Frame()
	require.NoError(t, err)
	assert.Equal(t, 40, img.Bounds().Dx())

	w, h := src.Size()
	assert.Equal(t, 40, w)
	assert.Equal(t, 30, h)
}

func multipartBody(t *testing.T, headers map[string][]string, payload []byte) *multipart.Reader {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreatePart(headers)
	require.NoError(t, err)
	_, err = part.Write(payload)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return multipart.NewReader(&buf, mw.Boundary())
}

func TestDecodePart(t *testing.T) {
	frame := jpegBytes(t, 16, 8)

	tests := []struct {
		name    string
		length  string
		payload []byte
		width   int
		wantErr error
	}{
		{"with length", fmt.Sprint(len(frame)), frame, 16, nil},
		{"without length", "", frame, 16, nil},
		{"unparsable length", "lots", frame, 16, nil},
		{"length beyond body", fmt.Sprint(len(frame) + 10), frame, 0, errShortPart},
		{"oversized", fmt.Sprint(maxPartSize + 1), frame, 0, errPartTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string][]string{"Content-Type": {"image/jpeg"}}
			if tt.length != "" {
				headers["Content-Length"] = []string{tt.length}
			}
			part, err := multipartBody(t, headers, tt.payload).NextPart()
			require.NoError(t, err)

			img, err := decodePart(part)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.width, img.Bounds().Dx())
		})
	}
}

func TestMJPEG_PublishesFrameBeforeNextBoundary(t *testing.T) {
	hold := make(chan struct{})
	server := mjpegServer(t, [][]byte{jpegBytes(t, 24, 16)}, hold)
	defer server.Close()
	defer close(hold)

	src := NewMJPEG(server.URL, nil)
	src.Start(context.Background())
	defer src.Close()

	require.Eventually(t, src.Ready, 2*time.Second, 10*time.Millisecond)
	w, _ := src.Size()
	assert.Equal(t, 24, w)
	assert.Equal(t, uint64(1), src.Frames())
}

func TestMJPEG_RejectsNonMultipart(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(jpegBytes(t, 8, 8))
	}))
	defer server.Close()

	src := NewMJPEG(server.URL, nil)
	err := src.stream(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected content type")
}

func TestMJPEG_CloseStopsReader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	src := NewMJPEG(server.URL, nil)
	src.retryDelay = time.Hour
	src.Start(context.Background())

	done := make(chan struct{})
	go func() {
		_ = src.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
	assert.False(t, src.Ready())
}
