// Package gormjournal implements journal.Backend on any GORM database with
// internal queues and a background writer goroutine.
package gormjournal

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/markerlens/tracker/internal/database"
	"github.com/markerlens/tracker/internal/model"
	"github.com/markerlens/tracker/internal/model/convert"
	"github.com/markerlens/tracker/internal/queue"
	"github.com/markerlens/tracker/pkg/core"

	"gorm.io/gorm"
)

// DefaultFlushInterval is used when Dependencies.FlushInterval is zero.
const DefaultFlushInterval = time.Second

// ErrNoSession is returned when records arrive before StartSession.
var ErrNoSession = errors.New("no session started")

// Dependencies holds all dependencies for the GORM journal backend.
type Dependencies struct {
	DB            *gorm.DB
	Manager       *database.Manager
	Logger        *slog.Logger
	FlushInterval time.Duration
	// QueueSize bounds each write queue; a full queue triggers an early flush.
	QueueSize int
}

// queues holds all the write queues for batch DB insertion.
type queues struct {
	Batches     *queue.Queue[model.DetectionBatch]
	Transitions *queue.Queue[model.OverlayTransition]
	Stats       *queue.Queue[model.SessionStat]
}

func newQueues(size int) *queues {
	return &queues{
		Batches:     queue.NewBounded[model.DetectionBatch](size),
		Transitions: queue.NewBounded[model.OverlayTransition](size),
		Stats:       queue.NewBounded[model.SessionStat](size),
	}
}

// Backend implements journal.Backend using GORM with queue-based batch writes.
type Backend struct {
	deps      Dependencies
	queues    *queues
	sessionID atomic.Pointer[string]

	flushCh   chan struct{}
	stopChan  chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	lastWrite atomic.Int64
}

// New creates a new GORM journal backend.
func New(deps Dependencies) *Backend {
	if deps.FlushInterval <= 0 {
		deps.FlushInterval = DefaultFlushInterval
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Backend{
		deps:    deps,
		queues:  newQueues(deps.QueueSize),
		flushCh: make(chan struct{}, 1),
	}
}

// DB returns the underlying database.
func (b *Backend) DB() *gorm.DB {
	return b.deps.DB
}

// Init runs schema migration and starts the DB writer goroutine.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		return fmt.Errorf("no database configured")
	}
	if b.deps.Manager != nil {
		if err := b.deps.Manager.Setup(b.deps.DB); err != nil {
			return fmt.Errorf("failed to setup DB: %w", err)
		}
	} else if err := b.deps.DB.AutoMigrate(model.DatabaseModels...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	b.stopChan = make(chan struct{})
	b.done = make(chan struct{})
	go b.writer()
	return nil
}

// Close stops the writer after a final flush and stamps the session end.
func (b *Backend) Close() error {
	var err error
	b.closeOnce.Do(func() {
		if b.stopChan == nil {
			return
		}
		close(b.stopChan)
		<-b.done

		id := b.session()
		if id == "" {
			return
		}
		err = b.deps.DB.Model(&model.Session{}).Where("id = ?", id).
			Update("ended_at", sql.NullTime{Time: time.Now(), Valid: true}).Error
		if err != nil {
			err = fmt.Errorf("failed to close session %s: %w", id, err)
		}
	})
	return err
}

// StartSession inserts the session row synchronously so later rows can
// reference it.
func (b *Backend) StartSession(info core.SessionInfo) error {
	row := convert.CoreToSession(info)
	if err := b.deps.DB.Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	id := info.ID
	b.sessionID.Store(&id)
	return nil
}

// RecordBatch converts and queues a detection batch.
func (b *Backend) RecordBatch(batch core.DetectionBatch) error {
	id := b.session()
	if id == "" {
		return ErrNoSession
	}
	row, err := convert.CoreToDetectionBatch(id, batch)
	if err != nil {
		return err
	}
	b.push(b.queues.Batches.Push(row), "batches")
	if b.queues.Batches.Full() {
		b.requestFlush()
	}
	return nil
}

// RecordTransition converts and queues an overlay transition.
func (b *Backend) RecordTransition(t core.Transition) error {
	id := b.session()
	if id == "" {
		return ErrNoSession
	}
	b.push(b.queues.Transitions.Push(convert.CoreToOverlayTransition(id, t)), "transitions")
	if b.queues.Transitions.Full() {
		b.requestFlush()
	}
	return nil
}

// RecordStat queues a periodic status snapshot. The session id is filled in
// when empty.
func (b *Backend) RecordStat(s model.SessionStat) error {
	if s.SessionID == "" {
		s.SessionID = b.session()
	}
	b.push(b.queues.Stats.Push(s), "stats")
	return nil
}

// LastWriteDuration returns how long the most recent flush took.
func (b *Backend) LastWriteDuration() time.Duration {
	return time.Duration(b.lastWrite.Load())
}

// Pending returns the number of queued rows not yet written.
func (b *Backend) Pending() int {
	return b.queues.Batches.Len() + b.queues.Transitions.Len() + b.queues.Stats.Len()
}

func (b *Backend) session() string {
	if p := b.sessionID.Load(); p != nil {
		return *p
	}
	return ""
}

func (b *Backend) push(dropped int, name string) {
	if dropped > 0 {
		b.deps.Logger.Warn("Journal queue full, dropped oldest rows", "queue", name, "dropped", dropped)
	}
}

func (b *Backend) requestFlush() {
	select {
	case b.flushCh <- struct{}{}:
	default:
	}
}

// writeQueue writes all items from a queue to the database in a transaction.
// Failed items go back to the front of the queue.
func writeQueue[T any](db *gorm.DB, q *queue.Queue[T], name string, log *slog.Logger) {
	if q.Empty() {
		return
	}

	items := q.GetAndEmpty()
	tx := db.Begin()
	if err := tx.Create(&items).Error; err != nil {
		log.Error("Error writing journal rows", "table", name, "count", len(items), "error", err)
		tx.Rollback()
		q.Requeue(items)
		return
	}
	if err := tx.Commit().Error; err != nil {
		log.Error("Error committing journal rows", "table", name, "error", err)
		q.Requeue(items)
	}
}

func (b *Backend) flush() {
	start := time.Now()
	db := b.deps.DB
	log := b.deps.Logger

	writeQueue(db, b.queues.Batches, "detection_batches", log)
	writeQueue(db, b.queues.Transitions, "overlay_transitions", log)
	writeQueue(db, b.queues.Stats, "session_stats", log)

	b.lastWrite.Store(int64(time.Since(start)))
}

// writer periodically drains queues into the DB.
func (b *Backend) writer() {
	defer close(b.done)
	ticker := time.NewTicker(b.deps.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			b.flush()
			return
		case <-ticker.C:
			b.flush()
		case <-b.flushCh:
			b.flush()
		}
	}
}
