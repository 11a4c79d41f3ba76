package telemetry

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/statcode-ai/toolguard/internal/logger"
)

// TimeoutRecord is one persisted timeout event.
type TimeoutRecord struct {
	ID              int64     `json:"id"`
	TaskID          string    `json:"task_id"`
	ToolName        string    `json:"tool_name"`
	TimeoutMs       int64     `json:"timeout_ms"`
	ExecutionTimeMs int64     `json:"execution_time_ms"`
	CapturedAt      time.Time `json:"captured_at"`
}

// SQLiteStore is a durable Sink backed by a local SQLite database. Capture
// never fails the caller; write errors are logged and dropped.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
	log    *logger.Logger
}

// NewSQLiteStore opens (or creates) the database and ensures the schema.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteStore{
		db:     db,
		dbPath: dbPath,
		log:    logger.Global().WithPrefix("telemetry"),
	}

	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tool_timeouts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL,
		tool_name TEXT NOT NULL,
		timeout_ms INTEGER NOT NULL,
		execution_time_ms INTEGER NOT NULL,
		captured_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_tool_timeouts_task ON tool_timeouts(task_id);
	CREATE INDEX IF NOT EXISTS idx_tool_timeouts_tool ON tool_timeouts(tool_name);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// CaptureToolTimeout implements Sink.
func (s *SQLiteStore) CaptureToolTimeout(taskID, toolName string, timeout, executionTime time.Duration) {
	_, err := s.db.Exec(
		`INSERT INTO tool_timeouts (task_id, tool_name, timeout_ms, execution_time_ms) VALUES (?, ?, ?, ?)`,
		taskID, toolName, timeout.Milliseconds(), executionTime.Milliseconds(),
	)
	if err != nil {
		s.log.Error("failed to persist timeout event for %s: %v", toolName, err)
	}
}

// Recent returns up to limit persisted timeout events, newest first.
func (s *SQLiteStore) Recent(limit int) ([]TimeoutRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(
		`SELECT id, task_id, tool_name, timeout_ms, execution_time_ms, captured_at
		 FROM tool_timeouts ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query timeout events: %w", err)
	}
	defer rows.Close()

	var records []TimeoutRecord
	for rows.Next() {
		var rec TimeoutRecord
		if err := rows.Scan(&rec.ID, &rec.TaskID, &rec.ToolName, &rec.TimeoutMs, &rec.ExecutionTimeMs, &rec.CapturedAt); err != nil {
			return nil, fmt.Errorf("failed to scan timeout event: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CountForTask returns the number of persisted timeouts for one task.
func (s *SQLiteStore) CountForTask(taskID string) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM tool_timeouts WHERE task_id = ?`, taskID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count timeout events: %w", err)
	}
	return count, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
