//go:build !sqlite && !postgres

package main

import (
	"context"
	"fmt"

	"taskrails/internal/config"
	"taskrails/internal/observability"
	"taskrails/internal/storage"
)

// openStore returns the in-memory store when built without database tags.
func openStore(_ context.Context, cfg config.StorageConfig, logger observability.Logger) (storage.Store, error) {
	if cfg.Backend != "memory" {
		return nil, fmt.Errorf("storage backend %q needs a binary built with -tags %s", cfg.Backend, cfg.Backend)
	}
	logger.Info("using in-memory store")
	return storage.NewMemoryStore(), nil
}

func migrationStatus(_ context.Context, _ config.StorageConfig) (string, error) {
	return "migrations not available in this build", nil
}
