package memory

import (
	"sync"
	"time"

	"github.com/markerlens/tracker/internal/config"
	"github.com/markerlens/tracker/internal/model"
	"github.com/markerlens/tracker/pkg/core"
)

// MarkerRecord groups every phase change of one marker's overlay.
type MarkerRecord struct {
	MarkerID    string            `json:"markerId"`
	Transitions []core.Transition `json:"transitions"`
}

// Backend keeps the session journal in memory and exports it to JSON on Close.
type Backend struct {
	cfg     config.MemoryConfig
	session *core.SessionInfo
	endedAt time.Time

	batches []core.DetectionBatch
	markers map[string]*MarkerRecord
	order   []string
	stats   []model.SessionStat

	lastExportPath string
	closed         bool
	mu             sync.RWMutex
}

// New creates a new memory backend. An empty OutputDir disables the export.
func New(cfg config.MemoryConfig) *Backend {
	return &Backend{
		cfg:     cfg,
		markers: make(map[string]*MarkerRecord),
	}
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close exports the journal once.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	b.endedAt = time.Now()

	if b.session == nil || b.cfg.OutputDir == "" {
		return nil
	}
	return b.exportJSON()
}

// StartSession begins a new journal, discarding anything recorded before.
func (b *Backend) StartSession(info core.SessionInfo) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.session = &info
	b.batches = nil
	b.markers = make(map[string]*MarkerRecord)
	b.order = nil
	b.stats = nil
	return nil
}

// RecordBatch appends a detection batch.
func (b *Backend) RecordBatch(batch core.DetectionBatch) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.batches = append(b.batches, batch)
	return nil
}

// RecordTransition appends a phase change to its marker's record.
func (b *Backend) RecordTransition(t core.Transition) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	record, ok := b.markers[t.MarkerID]
	if !ok {
		record = &MarkerRecord{MarkerID: t.MarkerID}
		b.markers[t.MarkerID] = record
		b.order = append(b.order, t.MarkerID)
	}
	record.Transitions = append(record.Transitions, t)
	return nil
}

// RecordStat appends a status snapshot.
func (b *Backend) RecordStat(s model.SessionStat) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s.SessionID == "" && b.session != nil {
		s.SessionID = b.session.ID
	}
	b.stats = append(b.stats, s)
	return nil
}

// Session returns the current session, if any.
func (b *Backend) Session() (core.SessionInfo, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.session == nil {
		return core.SessionInfo{}, false
	}
	return *b.session, true
}

// Batches returns a copy of the recorded batches.
func (b *Backend) Batches() []core.DetectionBatch {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]core.DetectionBatch, len(b.batches))
	copy(out, b.batches)
	return out
}

// Marker looks up the transitions recorded for a marker.
func (b *Backend) Marker(id string) (MarkerRecord, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	record, ok := b.markers[id]
	if !ok {
		return MarkerRecord{}, false
	}
	out := MarkerRecord{MarkerID: record.MarkerID, Transitions: make([]core.Transition, len(record.Transitions))}
	copy(out.Transitions, record.Transitions)
	return out, true
}

// ExportedPath returns the path of the last export, empty before Close.
func (b *Backend) ExportedPath() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastExportPath
}
