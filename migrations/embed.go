// Package migrations embeds the SQLite schema migrations.
package migrations

import "embed"

// Files holds the numbered SQLite migrations (NNNN_name.sql).
//
//go:embed *.sql
var Files embed.FS
