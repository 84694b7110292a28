//go:build sqlite

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"taskrails/internal/domain"
	"taskrails/internal/storage"
)

// SaveProject upserts p and prunes everything beyond the newest
// storage.MaxSavedProjects entries in the same transaction.
func (s *Store) SaveProject(ctx context.Context, p domain.SavedProject) error {
	if strings.TrimSpace(p.ID) == "" {
		return storage.Wrap("save project", fmt.Errorf("project id required: %w", storage.ErrValidation))
	}
	cfg, err := json.Marshal(p.Config)
	if err != nil {
		return storage.Wrap("save project", err)
	}
	msgs := p.Messages
	if msgs == nil {
		msgs = []domain.Message{}
	}
	rawMsgs, err := json.Marshal(msgs)
	if err != nil {
		return storage.Wrap("save project", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.Wrap("save project", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO saved_projects (id, name, workspace_path, config, messages, saved_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, workspace_path=excluded.workspace_path, config=excluded.config,
			messages=excluded.messages, saved_at=excluded.saved_at`,
		p.ID, p.Name, p.WorkspacePath, string(cfg), string(rawMsgs), formatTime(p.SavedAt)); err != nil {
		return storage.Wrap("save project", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM saved_projects WHERE id NOT IN (
			SELECT id FROM saved_projects ORDER BY saved_at DESC, id ASC LIMIT ?
		)`, storage.MaxSavedProjects); err != nil {
		return storage.Wrap("save project", err)
	}
	return storage.Wrap("save project", tx.Commit())
}

func (s *Store) GetProject(ctx context.Context, id string) (domain.SavedProject, error) {
	var p domain.SavedProject
	var cfg, msgs, saved string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, workspace_path, config, messages, saved_at FROM saved_projects WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.WorkspacePath, &cfg, &msgs, &saved)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SavedProject{}, storage.Wrap("get project", fmt.Errorf("project %s: %w", id, storage.ErrNotFound))
	}
	if err != nil {
		return domain.SavedProject{}, storage.Wrap("get project", err)
	}
	if err := json.Unmarshal([]byte(cfg), &p.Config); err != nil {
		return domain.SavedProject{}, storage.Wrap("get project", fmt.Errorf("decode config: %w", err))
	}
	if err := json.Unmarshal([]byte(msgs), &p.Messages); err != nil {
		return domain.SavedProject{}, storage.Wrap("get project", fmt.Errorf("decode messages: %w", err))
	}
	p.SavedAt = parseTime(saved)
	return p, nil
}

func (s *Store) ListProjects(ctx context.Context) ([]domain.SavedProjectSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, workspace_path, saved_at FROM saved_projects ORDER BY saved_at DESC, id ASC`)
	if err != nil {
		return nil, storage.Wrap("list projects", err)
	}
	defer rows.Close()

	out := []domain.SavedProjectSummary{}
	for rows.Next() {
		var p domain.SavedProjectSummary
		var saved string
		if err := rows.Scan(&p.ID, &p.Name, &p.WorkspacePath, &saved); err != nil {
			return nil, storage.Wrap("list projects", err)
		}
		p.SavedAt = parseTime(saved)
		out = append(out, p)
	}
	return out, storage.Wrap("list projects", rows.Err())
}

func (s *Store) DeleteProject(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM saved_projects WHERE id = ?`, id)
	if err != nil {
		return storage.Wrap("delete project", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.Wrap("delete project", fmt.Errorf("project %s: %w", id, storage.ErrNotFound))
	}
	return nil
}
