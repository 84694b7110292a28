//go:build postgres && !sqlite

package main

import (
	"context"
	"fmt"

	"taskrails/internal/config"
	"taskrails/internal/observability"
	"taskrails/internal/storage"
	pgstore "taskrails/internal/storage/postgres"
)

// openStore returns a PostgreSQL-backed store when built with the 'postgres' tag.
func openStore(ctx context.Context, cfg config.StorageConfig, logger observability.Logger) (storage.Store, error) {
	switch cfg.Backend {
	case "memory":
		logger.Info("using in-memory store")
		return storage.NewMemoryStore(), nil
	case "postgres":
		st, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		logger.Info("using postgres store")
		return st, nil
	}
	return nil, fmt.Errorf("storage backend %q needs a binary built with -tags %s", cfg.Backend, cfg.Backend)
}

func migrationStatus(ctx context.Context, cfg config.StorageConfig) (string, error) {
	if cfg.Backend != "postgres" {
		return "", fmt.Errorf("migrations need the postgres backend, got %q", cfg.Backend)
	}
	return pgstore.Status(ctx, cfg.DatabaseURL)
}
