// Package postgres implements journal.Backend on PostgreSQL through the
// GORM backend.
package postgres

import (
	"fmt"
	"log/slog"

	"github.com/markerlens/tracker/internal/config"
	"github.com/markerlens/tracker/internal/database"
	gormjournal "github.com/markerlens/tracker/internal/journal/gorm"
)

// Config holds configuration for the postgres journal backend.
type Config struct {
	DB      config.DBConfig
	Journal config.JournalConfig
}

// New connects to postgres and returns a GORM journal backend bound to it.
// The schema is migrated by Init.
func New(cfg Config, manager *database.Manager, log *slog.Logger) (*gormjournal.Backend, error) {
	db, err := manager.Postgres(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	return gormjournal.New(gormjournal.Dependencies{
		DB:            db,
		Manager:       manager,
		Logger:        log,
		FlushInterval: cfg.Journal.FlushInterval,
		QueueSize:     cfg.Journal.QueueSize,
	}), nil
}
