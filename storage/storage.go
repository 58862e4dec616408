// Package storage keeps theme preferences, the visitor log and reveal
// events in SQLite.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is how timestamps are stored. It sorts lexically.
const timeLayout = "2006-01-02 15:04:05"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS preferences (
		profile_id TEXT NOT NULL,
		key        TEXT NOT NULL,
		value      TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (profile_id, key)
	)`,
	`CREATE TABLE IF NOT EXISTS visitors (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		hashed_ip  TEXT NOT NULL,  -- salted hash, never the raw address
		user_agent TEXT,
		path       TEXT,
		timestamp  TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS visitors_timestamp ON visitors (timestamp)`,
	`CREATE TABLE IF NOT EXISTS reveals (
		profile_id  TEXT NOT NULL,
		block_id    TEXT NOT NULL,
		revealed_at TEXT NOT NULL,
		PRIMARY KEY (profile_id, block_id)
	)`,
}

// DB is the portfolio database.
type DB struct {
	sql *sql.DB
	now func() time.Time
}

// Open opens (and creates if needed) the database at path and applies the
// schema. ":memory:" gives a private in-memory database.
func Open(path string) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps :memory:
	// databases from splitting across the pool.
	sqlDB.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if _, err := sqlDB.Exec(stmt); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("applying schema: %w", err)
		}
	}

	return &DB{sql: sqlDB, now: time.Now}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.sql.Close()
}

// Ping checks that the database is reachable.
func (d *DB) Ping() error {
	return d.sql.Ping()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(timeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q: %w", s, err)
	}
	return t, nil
}
