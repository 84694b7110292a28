//go:build sqlite

// Package sqlite implements storage.Store on SQLite using the CGO-free
// modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // CGO-less SQLite driver

	"taskrails/internal/domain"
	"taskrails/internal/storage"
)

type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// New opens dsn and applies pending migrations.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// One connection keeps PRAGMAs and ":memory:" databases consistent.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000; PRAGMA foreign_keys=ON;`); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func (s *Store) PutSpec(ctx context.Context, rec domain.SpecRecord) error {
	if strings.TrimSpace(rec.ID) == "" {
		return storage.Wrap("put spec", fmt.Errorf("spec id required: %w", storage.ErrValidation))
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO specs (id, name, overview, tech_stack, data_structure, features, design, rules, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, overview=excluded.overview, tech_stack=excluded.tech_stack,
			data_structure=excluded.data_structure, features=excluded.features, design=excluded.design,
			rules=excluded.rules, updated_at=excluded.updated_at`,
		rec.ID, rec.Name, rec.Overview, rec.TechStack, rec.DataStructure, rec.Features, rec.Design, rec.Rules, formatTime(rec.UpdatedAt))
	return storage.Wrap("put spec", err)
}

func (s *Store) GetSpec(ctx context.Context, id string) (domain.SpecRecord, error) {
	var rec domain.SpecRecord
	var updated string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, overview, tech_stack, data_structure, features, design, rules, updated_at
		FROM specs WHERE id = ?`, id).
		Scan(&rec.ID, &rec.Name, &rec.Overview, &rec.TechStack, &rec.DataStructure, &rec.Features, &rec.Design, &rec.Rules, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SpecRecord{}, storage.Wrap("get spec", fmt.Errorf("spec %s: %w", id, storage.ErrNotFound))
	}
	if err != nil {
		return domain.SpecRecord{}, storage.Wrap("get spec", err)
	}
	rec.UpdatedAt = parseTime(updated)
	return rec, nil
}

func (s *Store) ListCollections(ctx context.Context) ([]domain.AgentCollection, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT project_id, project_name, agents, last_updated FROM agent_collections ORDER BY position ASC`)
	if err != nil {
		return nil, storage.Wrap("list roster", err)
	}
	defer rows.Close()

	out := []domain.AgentCollection{}
	for rows.Next() {
		var c domain.AgentCollection
		var agents, updated string
		if err := rows.Scan(&c.ProjectID, &c.ProjectName, &agents, &updated); err != nil {
			return nil, storage.Wrap("list roster", err)
		}
		if err := json.Unmarshal([]byte(agents), &c.Agents); err != nil {
			return nil, storage.Wrap("list roster", fmt.Errorf("decode agents for %s: %w", c.ProjectID, err))
		}
		c.LastUpdated = parseTime(updated)
		out = append(out, c)
	}
	return out, storage.Wrap("list roster", rows.Err())
}

// UpsertCollection keeps an existing collection's position; a new one gets a
// position ahead of every stored entry.
func (s *Store) UpsertCollection(ctx context.Context, c domain.AgentCollection) error {
	if strings.TrimSpace(c.ProjectID) == "" {
		return storage.Wrap("upsert roster", fmt.Errorf("project id required: %w", storage.ErrValidation))
	}
	agents, err := json.Marshal(nonNilAgents(c.Agents))
	if err != nil {
		return storage.Wrap("upsert roster", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.Wrap("upsert roster", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE agent_collections SET project_name = ?, agents = ?, last_updated = ? WHERE project_id = ?`,
		c.ProjectName, string(agents), formatTime(c.LastUpdated), c.ProjectID)
	if err != nil {
		return storage.Wrap("upsert roster", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO agent_collections (project_id, project_name, agents, position, last_updated)
			VALUES (?, ?, ?, (SELECT COALESCE(MIN(position), 0) - 1 FROM agent_collections), ?)`,
			c.ProjectID, c.ProjectName, string(agents), formatTime(c.LastUpdated)); err != nil {
			return storage.Wrap("upsert roster", err)
		}
	}
	return storage.Wrap("upsert roster", tx.Commit())
}

func nonNilAgents(a []domain.RosterAgent) []domain.RosterAgent {
	if a == nil {
		return []domain.RosterAgent{}
	}
	return a
}

func (s *Store) CreateTask(ctx context.Context, item domain.BacklogItem) error {
	if strings.TrimSpace(item.ID) == "" || strings.TrimSpace(item.Title) == "" {
		return storage.Wrap("create task", fmt.Errorf("task id and title required: %w", storage.ErrValidation))
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO backlog_tasks (id, title, description, phase, priority, status, tag, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title, description = excluded.description, phase = excluded.phase,
			priority = excluded.priority, status = excluded.status, tag = excluded.tag`,
		item.ID, item.Title, item.Description, item.Phase, item.Priority, string(item.Status), item.Tag, formatTime(item.CreatedAt))
	return storage.Wrap("create task", err)
}

func (s *Store) ListTasks(ctx context.Context) ([]domain.BacklogItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, phase, priority, status, tag, created_at
		FROM backlog_tasks ORDER BY seq ASC`)
	if err != nil {
		return nil, storage.Wrap("list tasks", err)
	}
	defer rows.Close()

	out := []domain.BacklogItem{}
	for rows.Next() {
		var it domain.BacklogItem
		var status, created string
		if err := rows.Scan(&it.ID, &it.Title, &it.Description, &it.Phase, &it.Priority, &status, &it.Tag, &created); err != nil {
			return nil, storage.Wrap("list tasks", err)
		}
		it.Status = domain.TaskStatus(status)
		it.CreatedAt = parseTime(created)
		out = append(out, it)
	}
	return out, storage.Wrap("list tasks", rows.Err())
}
