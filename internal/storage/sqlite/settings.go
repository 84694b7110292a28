//go:build sqlite

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"taskrails/internal/domain"
	"taskrails/internal/storage"
)

const modelDefaultsKey = "model_defaults"

// GetModelDefaults returns the saved selection, or a zero selection when none
// has been saved.
func (s *Store) GetModelDefaults(ctx context.Context) (domain.ModelSelection, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, modelDefaultsKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ModelSelection{}, nil
	}
	if err != nil {
		return domain.ModelSelection{}, storage.Wrap("get model defaults", err)
	}
	var sel domain.ModelSelection
	if err := json.Unmarshal([]byte(raw), &sel); err != nil {
		return domain.ModelSelection{}, storage.Wrap("get model defaults", err)
	}
	return sel, nil
}

func (s *Store) SaveModelDefaults(ctx context.Context, sel domain.ModelSelection) error {
	raw, err := json.Marshal(sel)
	if err != nil {
		return storage.Wrap("save model defaults", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		modelDefaultsKey, string(raw), formatTime(time.Now()))
	return storage.Wrap("save model defaults", err)
}
