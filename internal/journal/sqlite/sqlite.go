// Package sqlitejournal implements journal.Backend on an in-memory SQLite
// database with periodic disk dumps via VACUUM INTO.
// It wraps the GORM backend; the only SQLite-specific concerns are creating
// the in-memory DB and the dump loop.
package sqlitejournal

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/markerlens/tracker/internal/database"
	gormjournal "github.com/markerlens/tracker/internal/journal/gorm"
	"github.com/markerlens/tracker/pkg/core"

	"gorm.io/gorm"
)

// Config holds configuration for the SQLite journal backend.
type Config struct {
	OutputDir     string
	DumpInterval  time.Duration
	FlushInterval time.Duration
	QueueSize     int
}

// Backend wraps the GORM backend for SQLite-specific behavior.
type Backend struct {
	*gormjournal.Backend
	db       *gorm.DB
	cfg      Config
	manager  *database.Manager
	log      *slog.Logger
	dumpPath string

	stopChan chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// New creates a new SQLite journal backend.
func New(cfg Config, manager *database.Manager, log *slog.Logger) (*Backend, error) {
	db, err := manager.SQLite("")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory SQLite DB: %w", err)
	}

	gormBackend := gormjournal.New(gormjournal.Dependencies{
		DB:            db,
		Manager:       manager,
		Logger:        log,
		FlushInterval: cfg.FlushInterval,
		QueueSize:     cfg.QueueSize,
	})

	return &Backend{
		Backend:  gormBackend,
		db:       db,
		cfg:      cfg,
		manager:  manager,
		log:      log,
		stopChan: make(chan struct{}),
	}, nil
}

// StartSession records the session and names the dump file after it.
func (b *Backend) StartSession(info core.SessionInfo) error {
	if err := b.Backend.StartSession(info); err != nil {
		return err
	}
	if b.cfg.OutputDir == "" {
		return nil
	}
	if err := os.MkdirAll(b.cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	b.dumpPath = filepath.Join(b.cfg.OutputDir,
		fmt.Sprintf("session_%s_%s.db", info.StartedAt.Format("20060102_150405"), info.ID))

	if b.cfg.DumpInterval > 0 {
		b.wg.Add(1)
		go b.dumpLoop()
	}
	return nil
}

// Close stops the dump loop, flushes the GORM backend and writes a final
// dump.
func (b *Backend) Close() error {
	var err error
	b.once.Do(func() {
		close(b.stopChan)
		b.wg.Wait()

		err = b.Backend.Close()
		if b.dumpPath != "" {
			if dumpErr := b.manager.DumpMemoryDBToDisk(b.db, b.dumpPath); dumpErr != nil && err == nil {
				err = dumpErr
			}
		}
	})
	return err
}

// ExportedPath returns the dump file, empty before StartSession.
func (b *Backend) ExportedPath() string {
	return b.dumpPath
}

// dumpLoop periodically dumps the in-memory SQLite database to disk.
// VACUUM INTO creates a point-in-time snapshot, so no pause mechanism is needed.
func (b *Backend) dumpLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.cfg.DumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			start := time.Now()
			if err := b.manager.DumpMemoryDBToDisk(b.db, b.dumpPath); err != nil {
				b.log.Error("Error dumping journal to disk", "path", b.dumpPath, "error", err)
			} else {
				b.log.Debug("Dumped journal to disk", "path", b.dumpPath, "duration", time.Since(start))
			}
		}
	}
}
