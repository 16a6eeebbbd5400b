package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/markerlens/tracker/internal/model"
	"github.com/markerlens/tracker/internal/streamer"
)

// StatusFileName is written to Dependencies.StatusDir on every tick.
const StatusFileName = "status.json"

// StatRecorder stores status snapshots, e.g. a journal backend.
type StatRecorder interface {
	RecordStat(s model.SessionStat) error
}

// StatWriter ships status snapshots, e.g. to InfluxDB.
type StatWriter interface {
	WriteStat(ctx context.Context, s model.SessionStat) error
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Status    func() streamer.Status
	Journal   StatRecorder
	Influx    StatWriter
	StatusDir string
	Interval  time.Duration
	Logger    *slog.Logger
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = time.Second
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{deps: deps}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Snapshot returns the current session status as indented JSON together
// with its row form.
func (s *Service) Snapshot(now time.Time) ([]byte, model.SessionStat) {
	st := s.deps.Status()

	out, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		out = []byte(fmt.Sprintf(`{"error": %q}`, err.Error()))
	}
	return out, StatFromStatus(st, now)
}

// StatFromStatus flattens a session status into a SessionStat row.
func StatFromStatus(st streamer.Status, now time.Time) model.SessionStat {
	return model.SessionStat{
		Time:          now,
		SessionID:     st.SessionID,
		Connection:    string(st.Connection),
		Overlays:      len(st.Overlays),
		FramesSampled: st.Sampler.Sampled,
		FramesSent:    st.Channel.FramesSent,
		FramesDropped: st.Channel.FramesDropped,
		Batches:       st.Batches,
		Malformed:     st.Channel.Malformed,
		Reconnects:    st.Channel.ReconnectsScheduled,
	}
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	if s.deps.Status == nil {
		s.mu.Unlock()
		return fmt.Errorf("monitor: no status source")
	}

	var statusFile *os.File
	if s.deps.StatusDir != "" {
		if err := os.MkdirAll(s.deps.StatusDir, 0o755); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("monitor: %w", err)
		}
		f, err := os.Create(filepath.Join(s.deps.StatusDir, StatusFileName))
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("monitor: error creating status file: %w", err)
		}
		statusFile = f
	}

	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stopChan, s.done
	s.mu.Unlock()

	go s.run(statusFile, stop, done)
	return nil
}

func (s *Service) run(statusFile *os.File, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer func() {
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
	}()
	if statusFile != nil {
		defer statusFile.Close()
	}

	logger := s.deps.Logger
	logger.Debug("Starting status monitor", "interval", s.deps.Interval)

	ticker := time.NewTicker(s.deps.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			s.tick(statusFile, now)
		}
	}
}

func (s *Service) tick(statusFile *os.File, now time.Time) {
	logger := s.deps.Logger
	raw, stat := s.Snapshot(now)
	if stat.SessionID == "" {
		return
	}

	if statusFile != nil {
		if err := statusFile.Truncate(0); err == nil {
			_, _ = statusFile.Seek(0, 0)
			_, _ = statusFile.Write(append(raw, '\n'))
		}
	}

	if s.deps.Journal != nil {
		if err := s.deps.Journal.RecordStat(stat); err != nil {
			logger.Error("Error recording session stat", "error", err)
		}
	}
	if s.deps.Influx != nil {
		if err := s.deps.Influx.WriteStat(context.Background(), stat); err != nil {
			logger.Error("Error writing session stat to InfluxDB", "error", err)
		}
	}
}

// Stop stops the status monitor and waits for it to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning || s.stopChan == nil {
		s.mu.Unlock()
		return
	}
	select {
	case <-s.stopChan:
	default:
		close(s.stopChan)
	}
	done := s.done
	s.mu.Unlock()
	<-done
}
