package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/lexcodex/testforge/framework"
)

// SQLiteAuditStore persists audit events in a SQLite database.
type SQLiteAuditStore struct {
	db *sql.DB
}

// NewSQLiteAuditStore opens or creates the database at dbPath.
func NewSQLiteAuditStore(dbPath string) (*SQLiteAuditStore, error) {
	if dbPath == "" {
		return nil, errors.New("audit database path required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	store := &SQLiteAuditStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteAuditStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS audit_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		type TEXT NOT NULL,
		iteration INTEGER,
		success BOOLEAN,
		failure_count INTEGER,
		recorded_at TIMESTAMP NOT NULL,
		payload TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_session ON audit_events(session_id, id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close releases the underlying database handle.
func (s *SQLiteAuditStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record implements framework.AuditSink.
func (s *SQLiteAuditStore) Record(ctx context.Context, event framework.AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	var iteration, failures sql.NullInt64
	var success sql.NullBool
	if event.Iteration != nil {
		iteration = sql.NullInt64{Int64: int64(event.Iteration.Index), Valid: true}
		failures = sql.NullInt64{Int64: int64(len(event.Iteration.Failures)), Valid: true}
	}
	if event.Result != nil {
		iteration = sql.NullInt64{Int64: int64(event.Result.Iterations), Valid: true}
		success = sql.NullBool{Bool: event.Result.Success, Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `
	INSERT INTO audit_events (session_id, type, iteration, success, failure_count, recorded_at, payload)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.SessionID, string(event.Type), iteration, success, failures, event.Timestamp, string(payload))
	if err != nil {
		return fmt.Errorf("record audit event: %w", err)
	}
	return nil
}

// Query returns events matching filter in insertion order.
func (s *SQLiteAuditStore) Query(ctx context.Context, filter framework.AuditQuery) ([]framework.AuditEvent, error) {
	var where []string
	var args []interface{}
	if filter.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, filter.SessionID)
	}
	if filter.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(filter.Type))
	}
	query := "SELECT payload FROM audit_events"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []framework.AuditEvent
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var event framework.AuditEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			return nil, err
		}
		// Time bounds are applied on the decoded value.
		if filter.Matches(event) {
			events = append(events, event)
		}
	}
	return events, rows.Err()
}

// Sessions lists recorded session ids, most recent first.
func (s *SQLiteAuditStore) Sessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT session_id FROM audit_events GROUP BY session_id ORDER BY MAX(id) DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
