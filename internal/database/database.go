// Package database owns the durable SQLite state: resolved config
// snapshots for offline fallback and the module artifact ledger.
package database

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB wraps the shared connection.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the database at path and brings the schema up
// to date.
func Open(path string) (*DB, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("database: mkdir: %w", err)
		}
		dsn = "file:" + path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	}

	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("database: open: %w", err)
	}
	if path == ":memory:" {
		// Each connection to :memory: is its own database.
		conn.SetMaxOpenConns(1)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("database: ping: %w", err)
	}

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("database: dialect: %w", err)
	}
	if err := goose.Up(conn, "migrations"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("database: migrate: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Conn exposes the underlying handle for layers that need raw SQL.
func (d *DB) Conn() *sql.DB { return d.conn }

// Close closes the connection.
func (d *DB) Close() error { return d.conn.Close() }
