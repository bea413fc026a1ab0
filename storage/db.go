// Package storage keeps the history of delivered and undelivered text in
// sqlite.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

type DB struct {
	conn *sql.DB
}

// Open opens the database at path and initializes the schema. Use
// ":memory:" for a private in-memory database.
func Open(path string) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps an in-memory database alive and serializes writers.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS injection_attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		timestamp DATETIME NOT NULL,

		text TEXT NOT NULL,
		status TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		strategies TEXT NOT NULL DEFAULT '[]',

		target_id TEXT NOT NULL DEFAULT '',
		target_app TEXT NOT NULL DEFAULT '',
		target_title TEXT NOT NULL DEFAULT '',

		injection_ms INTEGER NOT NULL DEFAULT 0,
		confidence REAL NOT NULL DEFAULT 0,

		recoverable BOOLEAN NOT NULL,
		recovered BOOLEAN NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_attempts_timestamp ON injection_attempts(timestamp);
	CREATE INDEX IF NOT EXISTS idx_attempts_status ON injection_attempts(status);
	CREATE INDEX IF NOT EXISTS idx_attempts_pending ON injection_attempts(recoverable, recovered);
	`

	_, err := db.conn.Exec(schema)
	return err
}
