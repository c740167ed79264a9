package sqlite

import (
	"database/sql"
	_ "embed"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

const (
	defaultBusyTimeout  = 5 * time.Second
	defaultMaxOpenConns = 4
)

// DB wraps the SQLite ledger connection pool.
type DB struct {
	*sql.DB
	path string
}

type Config struct {
	Path         string
	BusyTimeout  time.Duration
	MaxOpenConns int
}

// Open creates the database file if needed, enables WAL and applies the
// embedded schema. Write transactions take the lock up front so a reader
// never upgrades into a deadlock with the result writer.
func Open(cfg Config) (*DB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}
	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = defaultMaxOpenConns
	}

	conn, err := sql.Open("sqlite3", dsn(cfg.Path, busy))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	conn.SetMaxOpenConns(maxOpen)
	conn.SetMaxIdleConns(maxOpen)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			return nil, fmt.Errorf("enable WAL mode: %v; close db: %w", err, closeErr)
		}
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			return nil, fmt.Errorf("apply schema: %v; close db: %w", err, closeErr)
		}
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &DB{DB: conn, path: cfg.Path}, nil
}

func dsn(path string, busy time.Duration) string {
	q := url.Values{}
	q.Set("_busy_timeout", strconv.FormatInt(busy.Milliseconds(), 10))
	q.Set("_txlock", "immediate")
	q.Set("_synchronous", "NORMAL")
	return "file:" + path + "?" + q.Encode()
}

func (db *DB) Path() string {
	return db.path
}

func (db *DB) Close() error {
	return db.DB.Close()
}
