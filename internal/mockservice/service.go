// Package mockservice is a stand-in for the detection and catalog backends.
// /ws/detect answers every base64 JPEG frame with one detection array and
// /api/ads serves a static catalog.
package mockservice

import (
	"bytes"
	"encoding/json"
	"image/jpeg"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/markerlens/tracker/pkg/core"
	"github.com/markerlens/tracker/pkg/streaming"
)

const (
	writeWait      = 5 * time.Second
	maxMessageSize = 8 << 20
)

// Asset is one catalog record in the backend's native shape.
type Asset struct {
	ID       string `json:"_id"`
	VideoURL string `json:"videoUrl"`
	Name     string `json:"name"`
}

// Script returns the detections to report for the n-th frame (from 0) of a
// connection.
type Script func(n uint64) []core.Detection

// Config describes the mock backend.
type Config struct {
	Assets []Asset
	Script Script
	// Raw, when set, replaces the encoded reply for frame n. Returning nil
	// falls back to Script.
	Raw func(n uint64) []byte
}

// Service is an http.Handler serving the mock endpoints.
type Service struct {
	cfg      Config
	logger   *slog.Logger
	upgrader ws.Upgrader
	mux      *http.ServeMux

	mu    sync.Mutex
	conns map[*ws.Conn]struct{}

	frames    atomic.Uint64
	invalid   atomic.Uint64
	accepted  atomic.Uint64
	connected atomic.Int64
}

// New creates a mock service.
func New(cfg Config, logger *slog.Logger) *Service {
	if cfg.Script == nil {
		cfg.Script = func(uint64) []core.Detection { return nil }
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		cfg:    cfg,
		logger: logger,
		upgrader: ws.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		mux:   http.NewServeMux(),
		conns: make(map[*ws.Conn]struct{}),
	}
	s.mux.HandleFunc("/ws/detect", s.handleDetect)
	s.mux.HandleFunc("/api/ads", s.handleAds)
	s.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	return s
}

// ServeHTTP implements http.Handler.
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Frames returns how many valid frames were received across all connections.
func (s *Service) Frames() uint64 { return s.frames.Load() }

// Invalid returns how many frames failed base64 or JPEG decoding.
func (s *Service) Invalid() uint64 { return s.invalid.Load() }

// Accepted returns how many WebSocket connections were accepted.
func (s *Service) Accepted() uint64 { return s.accepted.Load() }

// Connected returns the number of open WebSocket connections.
func (s *Service) Connected() int { return int(s.connected.Load()) }

// DropConnections closes every open WebSocket without a close handshake,
// as a crashed backend would.
func (s *Service) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		_ = c.NetConn().Close()
	}
}

func (s *Service) handleAds(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	assets := s.cfg.Assets
	if assets == nil {
		assets = []Asset{}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(assets); err != nil {
		s.logger.Error("Failed to write catalog", "error", err)
	}
}

func (s *Service) handleDetect(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(maxMessageSize)

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
	s.accepted.Add(1)
	s.connected.Add(1)
	s.logger.Info("Detection client connected", "remote", r.RemoteAddr)

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		s.connected.Add(-1)
		conn.Close()
		s.logger.Info("Detection client disconnected", "remote", r.RemoteAddr)
	}()

	var n uint64
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		img, err := streaming.DecodeFrame(msg)
		if err == nil {
			_, err = jpeg.DecodeConfig(bytes.NewReader(img))
		}
		if err != nil {
			s.invalid.Add(1)
			s.logger.Warn("Invalid frame", "error", err)
			continue
		}
		s.frames.Add(1)

		reply, err := s.reply(n)
		n++
		if err != nil {
			s.logger.Error("Failed to encode detections", "error", err)
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(ws.TextMessage, reply); err != nil {
			return
		}
	}
}

func (s *Service) reply(n uint64) ([]byte, error) {
	if s.cfg.Raw != nil {
		if raw := s.cfg.Raw(n); raw != nil {
			return raw, nil
		}
	}
	return streaming.EncodeBatch(s.cfg.Script(n))
}
