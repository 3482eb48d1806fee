package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// MaxRetries is the number of times a poll job is retried before it is
// moved to the failed state.
const MaxRetries = 5

// StaleLockTimeout is how long a claimed poll job may sit in processing
// before another worker may reclaim it.
const StaleLockTimeout = 10 * time.Minute

// DB wraps the SQLite database connection
type DB struct {
	db *sql.DB
}

// Open opens a connection to the SQLite database at the specified path
// and ensures the schema exists.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with a single writer
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	d := &DB{db: conn}
	if err := d.Init(); err != nil {
		conn.Close()
		return nil, err
	}

	return d, nil
}

// Init initializes the database schema by creating all tables and indexes
func (d *DB) Init() error {
	_, err := d.db.Exec(Schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (d *DB) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

// Health checks if the database connection is healthy
func (d *DB) Health() error {
	return d.db.Ping()
}
