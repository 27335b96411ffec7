// Package store is the persistence engine: a SQLite-backed table set with
// optimistic-concurrency commits. Modifier rows carry a version column;
// a commit that loses a race reports ErrConflict distinctly so the
// reconciler can reload and retry. The modifier table deliberately has no
// uniqueness constraint on (item, slug, value) — concurrent reconcilers
// may insert duplicates, which the next reconciliation collapses.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

var (
	// ErrConflict signals an optimistic-concurrency failure: a versioned
	// update matched zero rows because another writer got there first.
	ErrConflict = errors.New("optimistic concurrency conflict")
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
)

const schema = `
CREATE TABLE IF NOT EXISTS items (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	tag TEXT NOT NULL UNIQUE,
	name TEXT,
	category INTEGER NOT NULL DEFAULT 0,
	tier INTEGER NOT NULL DEFAULT 0,
	flags INTEGER NOT NULL DEFAULT 0,
	icon_url TEXT,
	minecraft_type TEXT,
	npc_sell_price REAL NOT NULL DEFAULT -1,
	npc_buy_price REAL NOT NULL DEFAULT -1,
	durability INTEGER NOT NULL DEFAULT 0,
	first_seen INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS modifiers (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	item_id INTEGER NOT NULL,
	slug TEXT NOT NULL,
	value TEXT NOT NULL,
	kind INTEGER NOT NULL DEFAULT 0,
	found_count INTEGER NOT NULL DEFAULT 0,
	version INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_modifiers_item_slug ON modifiers(item_id, slug);

CREATE TABLE IF NOT EXISTS descriptions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	item_id INTEGER NOT NULL,
	text TEXT NOT NULL,
	occurrences INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_descriptions_item ON descriptions(item_id);
`

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
	lg *zap.Logger
}

// Open opens (creating if needed) the database at path.
func Open(path string, lg *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// Single writer at the driver level keeps SQLITE_BUSY out of the
	// picture; concurrency control happens at the row-version level.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db, lg: lg}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// placeholders returns "?,?,..." with n slots.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// chunk splits ids into slices of at most n (SQLite caps bound variables
// per statement).
func chunk[T any](in []T, n int) [][]T {
	var out [][]T
	for len(in) > n {
		out = append(out, in[:n])
		in = in[n:]
	}
	if len(in) > 0 {
		out = append(out, in)
	}
	return out
}

const maxBind = 500

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func stringArgs(ss []string) []any {
	args := make([]any, len(ss))
	for i, s := range ss {
		args[i] = s
	}
	return args
}
