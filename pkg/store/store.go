// Package store persists the catalog, purchases, provenance records, reward
// distributions, settings and the audit log in SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS resources (
	id TEXT PRIMARY KEY,
	prompt TEXT NOT NULL,
	locator_url TEXT NOT NULL,
	local_path TEXT NOT NULL DEFAULT '',
	price TEXT NOT NULL DEFAULT '0.01',
	mime_type TEXT NOT NULL DEFAULT 'image/png',
	sold INTEGER NOT NULL DEFAULT 0,
	sold_at TEXT,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS purchases (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	resource_id TEXT NOT NULL,
	prompt TEXT NOT NULL DEFAULT '',
	price TEXT NOT NULL DEFAULT '0.01',
	bought_at TEXT NOT NULL,
	artifact_path TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS provenance (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	token_id TEXT NOT NULL,
	resource_id TEXT NOT NULL UNIQUE,
	owner TEXT NOT NULL,
	tx_hash TEXT NOT NULL DEFAULT '',
	metadata_uri TEXT NOT NULL DEFAULT '',
	minted_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS reward_distributions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	buyer TEXT NOT NULL,
	resource_id TEXT NOT NULL UNIQUE,
	amount TEXT NOT NULL,
	tx_hash TEXT,
	status TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	type TEXT NOT NULL,
	message TEXT NOT NULL,
	metadata TEXT,
	created_at TEXT NOT NULL
);
`

// Store is the SQLite-backed persistence layer shared by the seller and the
// buyer. Each process owns its own database file.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New wraps an open database. Call Migrate before first use.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Open opens (creating if needed) the SQLite database at path and migrates
// it. ":memory:" gives a private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// SQLite serializes writers; one connection also keeps :memory: alive.
	db.SetMaxOpenConns(1)

	s := New(db)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates missing tables.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t
	}
	return time.Time{}
}

func nullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}
