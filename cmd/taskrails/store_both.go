//go:build sqlite && postgres

package main

import (
	"context"
	"fmt"

	"taskrails/internal/config"
	"taskrails/internal/observability"
	"taskrails/internal/storage"
	pgstore "taskrails/internal/storage/postgres"
	sqlitestore "taskrails/internal/storage/sqlite"
)

// openStore honours the configured backend when both database drivers are
// compiled in.
func openStore(ctx context.Context, cfg config.StorageConfig, logger observability.Logger) (storage.Store, error) {
	switch cfg.Backend {
	case "postgres":
		st, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		logger.Info("using postgres store")
		return st, nil
	case "sqlite":
		st, err := sqlitestore.New(cfg.SQLiteDSN)
		if err != nil {
			return nil, err
		}
		logger.Info("using sqlite store", "dsn", cfg.SQLiteDSN)
		return st, nil
	case "memory":
		logger.Info("using in-memory store")
		return storage.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}

func migrationStatus(ctx context.Context, cfg config.StorageConfig) (string, error) {
	switch cfg.Backend {
	case "postgres":
		return pgstore.Status(ctx, cfg.DatabaseURL)
	case "sqlite":
		return sqlitestore.Status(cfg.SQLiteDSN)
	}
	return "", fmt.Errorf("migrations need a database backend, got %q", cfg.Backend)
}
