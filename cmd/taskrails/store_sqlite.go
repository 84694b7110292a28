//go:build sqlite && !postgres

package main

import (
	"context"
	"fmt"

	"taskrails/internal/config"
	"taskrails/internal/observability"
	"taskrails/internal/storage"
	sqlitestore "taskrails/internal/storage/sqlite"
)

// openStore returns a SQLite-backed store when built with the 'sqlite' tag.
func openStore(_ context.Context, cfg config.StorageConfig, logger observability.Logger) (storage.Store, error) {
	switch cfg.Backend {
	case "memory":
		logger.Info("using in-memory store")
		return storage.NewMemoryStore(), nil
	case "sqlite":
		st, err := sqlitestore.New(cfg.SQLiteDSN)
		if err != nil {
			return nil, err
		}
		logger.Info("using sqlite store", "dsn", cfg.SQLiteDSN)
		return st, nil
	}
	return nil, fmt.Errorf("storage backend %q needs a binary built with -tags %s", cfg.Backend, cfg.Backend)
}

func migrationStatus(_ context.Context, cfg config.StorageConfig) (string, error) {
	if cfg.Backend != "sqlite" {
		return "", fmt.Errorf("migrations need the sqlite backend, got %q", cfg.Backend)
	}
	return sqlitestore.Status(cfg.SQLiteDSN)
}
