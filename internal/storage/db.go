// Package storage persists confirmed messages to a local SQLite database
// so channel history survives restarts and is available before the broker
// connection comes up.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps the client's local SQLite database.
type DB struct {
	db   *sql.DB
	path string
}

// Open opens or creates the database in the given directory.
func Open(dataDir string) (*DB, error) {
	dbPath := filepath.Join(dataDir, "harbor.db")

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(`
		PRAGMA foreign_keys = ON;
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			channel_id  TEXT    NOT NULL,
			id          INTEGER NOT NULL,
			temp_id     INTEGER DEFAULT 0,
			sender_id   INTEGER NOT NULL,
			sender_name TEXT    DEFAULT '',
			type        TEXT    DEFAULT 'text',
			content     TEXT    DEFAULT '',
			created_at  INTEGER NOT NULL,
			edited      INTEGER DEFAULT 0,
			deleted     INTEGER DEFAULT 0,
			reactions   TEXT    DEFAULT '[]',
			attachments TEXT    DEFAULT '[]',
			PRIMARY KEY (channel_id, id)
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create messages table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_messages_channel_time
		ON messages(channel_id, created_at);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create messages index: %w", err)
	}

	return &DB{db: db, path: dbPath}, nil
}

// Path returns the database file path.
func (d *DB) Path() string { return d.path }

// Close closes the database.
func (d *DB) Close() error { return d.db.Close() }
