package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrInvalidRating     = errors.New("rating must be between 1 and 5")
	ErrInvalidTransition = errors.New("invalid queue status transition")
)

// RunDB stores run history and the generation queue in SQLite.
type RunDB struct {
	db  *sql.DB
	now func() time.Time
}

// NewRunDB creates a new database connection and initializes schema
func NewRunDB(dbPath string) (*RunDB, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	// _loc=auto parses DATETIME columns back into time.Time
	db, err := sql.Open("sqlite3", "file:"+dbPath+"?_loc=auto&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err != nil {
			db.Close()
		}
	}()

	if _, err = db.Exec("SELECT 1"); err != nil {
		return nil, fmt.Errorf("failed to initialize database (check permissions on %s): %w", dbPath, err)
	}

	// Multiple readers (API, query CLI) alongside the queue writer
	if _, err = db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err = db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}

	rdb := &RunDB{db: db, now: time.Now}
	if err = rdb.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	err = nil
	return rdb, nil
}

func (d *RunDB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		prompt TEXT NOT NULL,
		params TEXT NOT NULL,
		command TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		ended_at DATETIME NOT NULL,
		elapsed_ms INTEGER NOT NULL DEFAULT 0,
		image_name TEXT NOT NULL DEFAULT '',
		rating INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		output TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_runs_ended_at ON runs(ended_at);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);

	CREATE TABLE IF NOT EXISTS queue (
		id TEXT PRIMARY KEY,
		params TEXT NOT NULL,
		status TEXT NOT NULL,
		position INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		started_at DATETIME,
		ended_at DATETIME,
		elapsed_ms INTEGER NOT NULL DEFAULT 0,
		error_message TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_queue_status_position ON queue(status, position);

	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`

	_, err := d.db.Exec(schema)
	return err
}

// timestamp returns the current time in UTC so stored values sort lexically.
func (d *RunDB) timestamp() time.Time {
	return d.now().UTC()
}

func newID() string {
	return ulid.Make().String()
}

// Close closes the database connection
func (d *RunDB) Close() error {
	return d.db.Close()
}

// Ping reports whether the database is reachable; used by the health check.
func (d *RunDB) Ping() error {
	return d.db.Ping()
}

// Vacuum optimizes the database (run periodically)
func (d *RunDB) Vacuum() error {
	_, err := d.db.Exec("VACUUM")
	return err
}

// GetDatabaseStats returns database statistics
func (d *RunDB) GetDatabaseStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var runs, queued int64
	if err := d.db.QueryRow("SELECT COUNT(*) FROM runs").Scan(&runs); err != nil {
		return nil, err
	}
	if err := d.db.QueryRow("SELECT COUNT(*) FROM queue").Scan(&queued); err != nil {
		return nil, err
	}
	stats["total_runs"] = runs
	stats["queue_items"] = queued

	var pageCount, pageSize int64
	if err := d.db.QueryRow("PRAGMA page_count").Scan(&pageCount); err != nil {
		return nil, err
	}
	if err := d.db.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return nil, err
	}
	stats["database_size_bytes"] = pageCount * pageSize

	return stats, nil
}
