//go:build sqlite

package sqlite

import (
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"path"
	"slices"
	"strconv"
	"strings"
	"time"

	migfs "taskrails/migrations"
)

// migration is one embedded NNNN_name.sql file.
type migration struct {
	version int
	file    string
}

// embeddedMigrations returns the .sql files in fsys ordered by their numeric
// prefix. Files without a numeric prefix are ignored.
func embeddedMigrations(fsys fs.FS) ([]migration, error) {
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	out := make([]migration, 0, len(names))
	for _, name := range names {
		prefix, _, ok := strings.Cut(path.Base(name), "_")
		if !ok {
			continue
		}
		v, err := strconv.Atoi(prefix)
		if err != nil {
			continue
		}
		out = append(out, migration{version: v, file: name})
	}
	slices.SortFunc(out, func(a, b migration) int { return a.version - b.version })
	return out, nil
}

const migrationsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version     INTEGER PRIMARY KEY,
	name        TEXT NOT NULL,
	app_version TEXT NOT NULL,
	applied_at  TEXT NOT NULL
)`

// runMigrations applies every embedded migration newer than the database's
// user_version. Each file and its bookkeeping commit together.
func runMigrations(db *sql.DB) error {
	if _, err := db.Exec(migrationsTable); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	current, err := userVersion(db)
	if err != nil {
		return err
	}
	all, err := embeddedMigrations(migfs.Files)
	if err != nil {
		return err
	}

	appVersion := os.Getenv("APP_VERSION")
	if appVersion == "" {
		appVersion = "dev"
	}
	for _, m := range all {
		if m.version <= current {
			continue
		}
		body, err := fs.ReadFile(migfs.Files, m.file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", m.file, err)
		}
		if err := applyMigration(db, m, string(body), appVersion); err != nil {
			return err
		}
	}
	return nil
}

func applyMigration(db *sql.DB, m migration, body, appVersion string) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if strings.TrimSpace(body) != "" {
		if _, err := tx.Exec(body); err != nil {
			return fmt.Errorf("migration %s: %w", m.file, err)
		}
	}
	if _, err := tx.Exec(`INSERT INTO schema_migrations (version, name, app_version, applied_at) VALUES (?, ?, ?, ?)`,
		m.version, m.file, appVersion, formatTime(time.Now())); err != nil {
		return fmt.Errorf("record migration %s: %w", m.file, err)
	}
	// PRAGMA does not accept bound parameters.
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
		return fmt.Errorf("bump user_version to %d: %w", m.version, err)
	}
	return tx.Commit()
}

func userVersion(db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRow(`PRAGMA user_version`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read user_version: %w", err)
	}
	return v, nil
}

// Status reports the schema version of dsn and how many embedded migrations
// are applied and pending. It does not migrate.
func Status(dsn string) (string, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return "", err
	}
	defer db.Close()

	version, err := userVersion(db)
	if err != nil {
		return "", err
	}
	var applied int
	var lastApp sql.NullString
	if err := db.QueryRow(`SELECT COUNT(1), (SELECT app_version FROM schema_migrations ORDER BY version DESC LIMIT 1) FROM schema_migrations`).
		Scan(&applied, &lastApp); err != nil {
		return "", fmt.Errorf("read schema_migrations: %w", err)
	}
	all, err := embeddedMigrations(migfs.Files)
	if err != nil {
		return "", err
	}
	pending := 0
	for _, m := range all {
		if m.version > version {
			pending++
		}
	}
	return fmt.Sprintf("schema_version=%d applied=%d pending=%d app_version=%s", version, applied, pending, lastApp.String), nil
}
