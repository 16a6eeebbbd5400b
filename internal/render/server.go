package render

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/markerlens/tracker/internal/cache"
	"github.com/markerlens/tracker/internal/dispatcher"
	"github.com/markerlens/tracker/pkg/core"
	"github.com/markerlens/tracker/pkg/streaming"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingEvery      = (pongWait * 9) / 10
	maxMessageSize = 1 << 16
	outboxSize     = 256
)

// ErrOutboxFull is returned by Render when clients cannot keep up.
var ErrOutboxFull = errors.New("render outbox full")

// Dispatcher receives playback events reported by presentation clients.
type Dispatcher interface {
	Dispatch(e dispatcher.Event) (any, error)
}

// Server is a WebSocket endpoint for presentation clients. Each client gets
// the catalog and the latest frame on connect, then every changed frame.
// Clients report finished clips with playback messages.
type Server struct {
	upgrader   ws.Upgrader
	dispatcher Dispatcher
	statusFn   func() any
	logger     *slog.Logger

	mu      sync.Mutex
	clients map[*ws.Conn]*sync.Mutex

	filter  frameFilter
	outbox  chan []byte
	catalog atomic.Pointer[[]byte]
	latest  atomic.Pointer[[]byte]
	dropped atomic.Uint64

	httpServer *http.Server
	listener   net.Listener
	done       chan struct{}
	closeOnce  sync.Once
	wg         sync.WaitGroup
}

// NewServer creates a server and starts its broadcaster. d and statusFn may
// be nil.
func NewServer(d Dispatcher, statusFn func() any, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		upgrader: ws.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		dispatcher: d,
		statusFn:   statusFn,
		logger:     logger,
		clients:    make(map[*ws.Conn]*sync.Mutex),
		outbox:     make(chan []byte, outboxSize),
		done:       make(chan struct{}),
	}
	s.wg.Add(1)
	go s.broadcast()
	return s
}

// Handler returns the HTTP routes: /ws, /healthz and /status.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	return mux
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("render server listen on %s: %w", addr, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Render server stopped", "error", err)
		}
	}()
	s.logger.Info("Render server listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Render implements Sink. Unchanged frames without commands are skipped.
func (s *Server) Render(in []core.RenderInstruction) error {
	frame, changed, err := s.filter.next(in)
	if err != nil || !changed {
		return err
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal render frame: %w", err)
	}
	s.latest.Store(&data)
	return s.enqueue(data)
}

// PublishCatalog stores the catalog for new clients and sends it to
// connected ones.
func (s *Server) PublishCatalog(entries []cache.AssetEntry) {
	data, err := json.Marshal(catalogMessage(entries))
	if err != nil {
		s.logger.Error("Failed to marshal catalog", "error", err)
		return
	}
	s.catalog.Store(&data)
	_ = s.enqueue(data)
}

// Clients returns the number of connected presentation clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Dropped counts frames discarded because the outbox was full.
func (s *Server) Dropped() uint64 {
	return s.dropped.Load()
}

// Close stops the broadcaster and the HTTP server and disconnects every
// client. Safe to call more than once.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()

		if s.httpServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			err = s.httpServer.Shutdown(ctx)
		}

		s.mu.Lock()
		conns := make([]*ws.Conn, 0, len(s.clients))
		for c := range s.clients {
			conns = append(conns, c)
		}
		s.mu.Unlock()
		for _, c := range conns {
			s.removeClient(c)
		}
	})
	return err
}

func (s *Server) enqueue(data []byte) error {
	select {
	case <-s.done:
		return nil
	default:
	}
	select {
	case s.outbox <- data:
		return nil
	default:
		s.dropped.Add(1)
		return ErrOutboxFull
	}
}

func (s *Server) broadcast() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case payload := <-s.outbox:
			var stale []*ws.Conn
			s.mu.Lock()
			for conn, writeMu := range s.clients {
				if err := writeMessage(conn, writeMu, ws.TextMessage, payload); err != nil {
					stale = append(stale, conn)
				}
			}
			s.mu.Unlock()
			for _, conn := range stale {
				s.removeClient(conn)
			}
		}
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("Render client upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// the greeting holds the write lock so broadcasts queue behind it
	writeMu := &sync.Mutex{}
	writeMu.Lock()
	s.mu.Lock()
	s.clients[conn] = writeMu
	s.mu.Unlock()
	for _, p := range []*[]byte{s.catalog.Load(), s.latest.Load()} {
		if p == nil {
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteMessage(ws.TextMessage, *p)
	}
	writeMu.Unlock()
	s.logger.Info("Render client connected", "remote", r.RemoteAddr)

	go s.serveClient(conn, writeMu)
}

func (s *Server) serveClient(conn *ws.Conn, writeMu *sync.Mutex) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(pingEvery)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := writeMessage(conn, writeMu, ws.PingMessage, nil); err != nil {
					_ = conn.Close()
					return
				}
			}
		}
	}()
	defer close(done)
	defer s.removeClient(conn)

	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != ws.TextMessage {
			continue
		}
		s.handleClientMessage(payload)
	}
}

func (s *Server) handleClientMessage(payload []byte) {
	var msg streaming.PlaybackMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		s.logger.Debug("Ignoring unreadable client message", "error", err)
		return
	}
	if msg.Type != streaming.TypePlayback || msg.ID == "" {
		return
	}
	reason := core.PlaybackReason(msg.Event)
	if reason != core.PlaybackEnded && reason != core.PlaybackError {
		s.logger.Debug("Ignoring unknown playback event", "event", msg.Event, "marker", msg.ID)
		return
	}
	if s.dispatcher == nil {
		return
	}
	_, err := s.dispatcher.Dispatch(dispatcher.Event{
		Command: "playback:" + string(reason),
		Args:    []string{msg.ID},
		Source:  "render-ws",
	})
	if err != nil {
		s.logger.Warn("Playback event rejected", "marker", msg.ID, "event", msg.Event, "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	payload := map[string]any{
		"renderClients": s.Clients(),
		"framesDropped": s.Dropped(),
	}
	if s.statusFn != nil {
		payload["session"] = s.statusFn()
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) removeClient(conn *ws.Conn) {
	s.mu.Lock()
	_, ok := s.clients[conn]
	delete(s.clients, conn)
	s.mu.Unlock()
	if ok {
		_ = conn.Close()
	}
}

func writeMessage(conn *ws.Conn, writeMu *sync.Mutex, messageType int, payload []byte) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(messageType, payload)
}
