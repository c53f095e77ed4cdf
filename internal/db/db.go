package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite event log and provides logging methods
type DB struct {
	conn *sql.DB
	path string
}

// Open opens or creates the SQLite database at the specified path
func Open(path string) (*DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	db := &DB{
		conn: conn,
		path: path,
	}

	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	if db.conn != nil {
		// Checkpoint the WAL to ensure all data is written to the main database file
		db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return db.conn.Close()
	}
	return nil
}

// initSchema creates the database tables if they don't exist
func (db *DB) initSchema() error {
	schema := `
	-- Session lifecycle events
	CREATE TABLE IF NOT EXISTS session_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		remote_addr TEXT NOT NULL,
		event_type TEXT NOT NULL,
		details TEXT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Daemon lifecycle events
	CREATE TABLE IF NOT EXISTS daemon_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		details TEXT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Indexes for common queries
	CREATE INDEX IF NOT EXISTS idx_session_events_timestamp ON session_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_session_events_addr ON session_events(remote_addr);
	CREATE INDEX IF NOT EXISTS idx_daemon_events_timestamp ON daemon_events(timestamp);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// SessionEvent represents a session lifecycle event
type SessionEvent struct {
	ID         int64
	RemoteAddr string
	EventType  string
	Details    string
	Timestamp  time.Time
}

// LogSessionEvent logs a session lifecycle event to the database
func (db *DB) LogSessionEvent(remoteAddr, eventType, details string) error {
	// Retry briefly if the database is locked; event logging is best-effort
	// and must never wedge a worker.
	maxRetries := 3
	for i := 0; i < maxRetries; i++ {
		_, err := db.conn.Exec(
			`INSERT INTO session_events (remote_addr, event_type, details, timestamp)
			 VALUES (?, ?, ?, ?)`,
			remoteAddr, eventType, details, time.Now(),
		)
		if err == nil {
			return nil
		}
		if strings.Contains(err.Error(), "database is locked") || strings.Contains(err.Error(), "SQLITE_BUSY") {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		return err
	}
	return fmt.Errorf("failed to log session event after %d retries: database locked", maxRetries)
}

// DaemonEvent represents a daemon lifecycle event
type DaemonEvent struct {
	ID        int64
	EventType string
	Details   string
	Timestamp time.Time
}

// LogDaemonEvent logs a daemon lifecycle event to the database
func (db *DB) LogDaemonEvent(eventType, details string) error {
	_, err := db.conn.Exec(
		`INSERT INTO daemon_events (event_type, details, timestamp)
		 VALUES (?, ?, ?)`,
		eventType, details, time.Now(),
	)
	return err
}

// GetRecentSessionEvents retrieves recent session events
func (db *DB) GetRecentSessionEvents(limit int) ([]SessionEvent, error) {
	rows, err := db.conn.Query(
		`SELECT id, remote_addr, event_type, details, timestamp
		 FROM session_events
		 ORDER BY timestamp DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []SessionEvent
	for rows.Next() {
		var e SessionEvent
		if err := rows.Scan(&e.ID, &e.RemoteAddr, &e.EventType, &e.Details, &e.Timestamp); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetRecentDaemonEvents retrieves recent daemon events
func (db *DB) GetRecentDaemonEvents(limit int) ([]DaemonEvent, error) {
	rows, err := db.conn.Query(
		`SELECT id, event_type, details, timestamp
		 FROM daemon_events
		 ORDER BY timestamp DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []DaemonEvent
	for rows.Next() {
		var e DaemonEvent
		if err := rows.Scan(&e.ID, &e.EventType, &e.Details, &e.Timestamp); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
