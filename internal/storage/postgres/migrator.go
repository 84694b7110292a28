//go:build postgres

package postgres

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	pgmigrations "taskrails/migrations/postgres"
)

var migFileRe = regexp.MustCompile(`^(\d+)_.+\.up\.sql$`)

// migrationLockKey is the pg_advisory_xact_lock key held while migrating so
// that replicas starting together apply each migration once.
const migrationLockKey = 0x7461736b

type migration struct {
	version int
	name    string
}

func pendingMigrations(ctx context.Context, pool *pgxpool.Pool) ([]migration, error) {
	entries, err := fs.ReadDir(pgmigrations.Files, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	applied := map[int]bool{}
	rows, err := pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[int])
	if err != nil {
		return nil, fmt.Errorf("scan applied migrations: %w", err)
	}
	for _, v := range versions {
		applied[v] = true
	}

	var out []migration
	for _, e := range entries {
		m := migFileRe.FindStringSubmatch(e.Name())
		if e.IsDir() || len(m) == 0 {
			continue
		}
		v := 0
		fmt.Sscanf(m[1], "%d", &v)
		if !applied[v] {
			out = append(out, migration{version: v, name: e.Name()})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version BIGINT PRIMARY KEY, name TEXT NOT NULL, applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW())`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_info (id INTEGER PRIMARY KEY CHECK(id=1), schema_version INTEGER NOT NULL, app_version TEXT NOT NULL, applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW())`); err != nil {
		return fmt.Errorf("create schema_info: %w", err)
	}

	pending, err := pendingMigrations(ctx, pool)
	if err != nil {
		return err
	}
	for _, m := range pending {
		if err := applyMigration(ctx, pool, m); err != nil {
			return err
		}
	}

	appVersion := os.Getenv("APP_VERSION")
	if appVersion == "" {
		appVersion = "dev"
	}
	_, err = pool.Exec(ctx, `
		INSERT INTO schema_info(id, schema_version, app_version, applied_at)
		VALUES(1, (SELECT COALESCE(MAX(version),0) FROM schema_migrations), $1, $2)
		ON CONFLICT(id) DO UPDATE SET schema_version=EXCLUDED.schema_version, app_version=EXCLUDED.app_version, applied_at=EXCLUDED.applied_at`,
		appVersion, time.Now().UTC())
	return err
}

func applyMigration(ctx context.Context, pool *pgxpool.Pool, m migration) error {
	raw, err := fs.ReadFile(pgmigrations.Files, m.name)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", m.name, err)
	}
	stmt := strings.TrimSpace(string(raw))
	if stmt == "" {
		return nil
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx for migration %s: %w", m.name, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockKey); err != nil {
		return fmt.Errorf("lock for migration %s: %w", m.name, err)
	}
	var done bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, m.version).Scan(&done); err != nil {
		return err
	}
	if done {
		return nil
	}
	if _, err := tx.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("migration %s failed: %w", m.name, err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations(version, name, applied_at) VALUES($1, $2, $3)`, m.version, m.name, time.Now().UTC()); err != nil {
		return fmt.Errorf("record migration %s: %w", m.name, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit migration %s: %w", m.name, err)
	}
	return nil
}

// Status returns a summary of the migration state for the given connection string.
func Status(ctx context.Context, connStr string) (string, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return "", err
	}
	defer pool.Close()

	var count, latest int
	if err := pool.QueryRow(ctx, `SELECT COUNT(1), COALESCE(MAX(version),0) FROM schema_migrations`).Scan(&count, &latest); err != nil {
		return "", fmt.Errorf("read schema_migrations: %w", err)
	}
	var schemaVersion int
	var appVersion string
	var appliedAt time.Time
	_ = pool.QueryRow(ctx, `SELECT schema_version, app_version, applied_at FROM schema_info WHERE id=1`).Scan(&schemaVersion, &appVersion, &appliedAt)

	return fmt.Sprintf("schema_version=%d applied=%d latest=%d app_version=%s applied_at=%s",
		schemaVersion, count, latest, appVersion, appliedAt.Format(time.RFC3339)), nil
}
