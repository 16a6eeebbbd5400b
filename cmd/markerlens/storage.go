package main

import (
	"fmt"

	"github.com/markerlens/tracker/internal/config"
	"github.com/markerlens/tracker/internal/database"
	"github.com/markerlens/tracker/internal/journal"
	"github.com/markerlens/tracker/internal/journal/memory"
	pgjournal "github.com/markerlens/tracker/internal/journal/postgres"
	sqlitejournal "github.com/markerlens/tracker/internal/journal/sqlite"
)

func initJournal() error {
	journalCfg := config.GetJournalConfig()

	backend, err := createJournal(journalCfg)
	if err != nil {
		Logger.Error("Failed to create journal backend", "error", err)
		return err
	}
	if err := backend.Init(); err != nil {
		Logger.Error("Failed to initialize journal backend", "error", err)
		return err
	}
	journalBackend = backend
	return nil
}

func createJournal(journalCfg config.JournalConfig) (journal.Backend, error) {
	switch journalCfg.Type {
	case "postgres":
		backend, err := pgjournal.New(pgjournal.Config{
			DB:      config.GetDBConfig(),
			Journal: journalCfg,
		}, database.NewManager(ZLogger), Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres journal: %w", err)
		}
		Logger.Info("Postgres journal backend initialized")
		return backend, nil

	case "sqlite":
		backend, err := sqlitejournal.New(sqlitejournal.Config{
			OutputDir:     journalCfg.SQLite.OutputDir,
			DumpInterval:  journalCfg.SQLite.DumpInterval,
			FlushInterval: journalCfg.FlushInterval,
			QueueSize:     journalCfg.QueueSize,
		}, database.NewManager(ZLogger), Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite journal: %w", err)
		}
		Logger.Info("SQLite journal backend initialized", "dir", journalCfg.SQLite.OutputDir)
		return backend, nil

	case "none":
		Logger.Info("Journal disabled")
		return journal.Nop{}, nil

	default:
		Logger.Info("Memory journal backend initialized", "dir", journalCfg.Memory.OutputDir)
		return memory.New(journalCfg.Memory), nil
	}
}

func closeJournal() {
	if journalBackend == nil {
		return
	}
	if err := journalBackend.Close(); err != nil {
		Logger.Error("Failed to close journal", "error", err)
		return
	}
	if e, ok := journalBackend.(journal.Exportable); ok && e.ExportedPath() != "" {
		Logger.Info("Session journal written", "path", e.ExportedPath())
	}
}
