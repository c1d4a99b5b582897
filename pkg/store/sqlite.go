// Package store is the durable SQLite layer: raw chat messages, user
// last-seen records, persisted profile documents and analysis run history.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/chatmem/persona/pkg/memory"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// User is a known chat participant.
type User struct {
	ID       string
	Username string
	LastSeen time.Time
}

// AnalysisRun is one completed (or failed) nightly analysis.
type AnalysisRun struct {
	ID          string
	StartedAt   time.Time
	CompletedAt time.Time
	Users       int
	NewFacts    int
	Error       string
}

// SQLiteStore is the canonical persistent storage.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates/opens the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Single-process service. Use one shared connection to avoid writer
	// lock contention with SQLite under concurrent goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA temp_store=MEMORY;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL DEFAULT '',
			last_seen_ms INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			username TEXT NOT NULL DEFAULT '',
			text TEXT NOT NULL,
			message_id TEXT NOT NULL DEFAULT '',
			timestamp_ms INTEGER NOT NULL,
			day TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS messages_user_day_idx ON messages(user_id, day, timestamp_ms);`,
		`CREATE INDEX IF NOT EXISTS messages_day_idx ON messages(day, timestamp_ms);`,
		`CREATE TABLE IF NOT EXISTS graphs (
			user_id TEXT PRIMARY KEY,
			username TEXT NOT NULL DEFAULT '',
			document TEXT NOT NULL,
			updated_at_ms INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS analysis_runs (
			id TEXT PRIMARY KEY,
			started_at_ms INTEGER NOT NULL,
			completed_at_ms INTEGER NOT NULL DEFAULT 0,
			users_analyzed INTEGER NOT NULL DEFAULT 0,
			new_facts INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS analysis_runs_started_idx ON analysis_runs(started_at_ms DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init sqlite schema failed on %q: %w", trimSQL(stmt), err)
		}
	}
	return nil
}

func trimSQL(sql string) string {
	line := strings.TrimSpace(sql)
	if len(line) > 96 {
		return line[:96] + "..."
	}
	return line
}

func dayKey(t time.Time) string { return t.Format("2006-01-02") }

// SaveMessage appends one chat turn to the durable log.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg memory.Message) error {
	if strings.TrimSpace(msg.UserID) == "" {
		return fmt.Errorf("save message: empty user_id")
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO messages(id, user_id, username, text, message_id, timestamp_ms, day)
VALUES(?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), msg.UserID, msg.Username, msg.Text, msg.MessageID,
		msg.Timestamp.UnixMilli(), dayKey(msg.Timestamp))
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

// UpsertUser records the participant and bumps their last-seen time.
func (s *SQLiteStore) UpsertUser(ctx context.Context, userID, username string, lastSeen time.Time) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO users(id, username, last_seen_ms)
VALUES(?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	username = CASE WHEN excluded.username <> '' THEN excluded.username ELSE users.username END,
	last_seen_ms = MAX(users.last_seen_ms, excluded.last_seen_ms)`,
		userID, username, lastSeen.UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// ListUsers returns every known participant, most recently seen first.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, username, last_seen_ms FROM users ORDER BY last_seen_ms DESC`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var u User
		var seenMS int64
		if err := rows.Scan(&u.ID, &u.Username, &seenMS); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		u.LastSeen = time.UnixMilli(seenMS)
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return out, nil
}

// MessagesOn returns all messages logged on the given local day,
// oldest first.
func (s *SQLiteStore) MessagesOn(ctx context.Context, day time.Time) ([]memory.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT user_id, username, text, message_id, timestamp_ms
FROM messages
WHERE day = ?
ORDER BY timestamp_ms ASC`, dayKey(day))
	if err != nil {
		return nil, fmt.Errorf("messages on day: %w", err)
	}
	return scanMessages(rows)
}

// RecentMessages returns the latest limit messages across all users,
// oldest first. Used to warm the in-process tiers on start.
func (s *SQLiteStore) RecentMessages(ctx context.Context, limit int) ([]memory.Message, error) {
	if limit <= 0 {
		limit = 1
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT user_id, username, text, message_id, timestamp_ms
FROM messages
ORDER BY timestamp_ms DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	out, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func scanMessages(rows *sql.Rows) ([]memory.Message, error) {
	defer rows.Close()
	var out []memory.Message
	for rows.Next() {
		var msg memory.Message
		var tsMS int64
		if err := rows.Scan(&msg.UserID, &msg.Username, &msg.Text, &msg.MessageID, &tsMS); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Timestamp = time.UnixMilli(tsMS)
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

// DeleteMessagesBefore drops durable messages older than the cutoff and
// returns the number removed.
func (s *SQLiteStore) DeleteMessagesBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE timestamp_ms < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("delete old messages: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete old messages rows: %w", err)
	}
	return int(n), nil
}

// LoadGraphDocument fetches the persisted profile document for a user.
// Returns ErrNotFound when the user has no stored profile yet.
func (s *SQLiteStore) LoadGraphDocument(ctx context.Context, userID string) (username string, document []byte, err error) {
	row := s.db.QueryRowContext(ctx, `
SELECT username, document FROM graphs WHERE user_id = ?`, userID)
	var doc string
	if err := row.Scan(&username, &doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil, ErrNotFound
		}
		return "", nil, fmt.Errorf("load graph: %w", err)
	}
	return username, []byte(doc), nil
}

// SaveGraphDocument writes the full profile document for a user,
// replacing any previous version.
func (s *SQLiteStore) SaveGraphDocument(ctx context.Context, userID, username string, document []byte) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("save graph: empty user_id")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO graphs(user_id, username, document, updated_at_ms)
VALUES(?, ?, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET
	username = excluded.username,
	document = excluded.document,
	updated_at_ms = excluded.updated_at_ms`,
		userID, username, string(document), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save graph: %w", err)
	}
	return nil
}

// ListGraphUserIDs returns the ids of every user with a stored profile.
func (s *SQLiteStore) ListGraphUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM graphs ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list graph users: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan graph user: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate graph users: %w", err)
	}
	return out, nil
}

// RecordAnalysisRun appends one analysis run to the history.
func (s *SQLiteStore) RecordAnalysisRun(ctx context.Context, run AnalysisRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	var completed int64
	if !run.CompletedAt.IsZero() {
		completed = run.CompletedAt.UnixMilli()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO analysis_runs(id, started_at_ms, completed_at_ms, users_analyzed, new_facts, error)
VALUES(?, ?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt.UnixMilli(), completed, run.Users, run.NewFacts, run.Error)
	if err != nil {
		return fmt.Errorf("record analysis run: %w", err)
	}
	return nil
}

// LastAnalysisRun returns the most recently started run.
// Returns ErrNotFound when no analysis has run yet.
func (s *SQLiteStore) LastAnalysisRun(ctx context.Context) (AnalysisRun, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, started_at_ms, completed_at_ms, users_analyzed, new_facts, error
FROM analysis_runs
ORDER BY started_at_ms DESC
LIMIT 1`)
	var run AnalysisRun
	var startedMS, completedMS int64
	if err := row.Scan(&run.ID, &startedMS, &completedMS, &run.Users, &run.NewFacts, &run.Error); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AnalysisRun{}, ErrNotFound
		}
		return AnalysisRun{}, fmt.Errorf("last analysis run: %w", err)
	}
	run.StartedAt = time.UnixMilli(startedMS)
	if completedMS > 0 {
		run.CompletedAt = time.UnixMilli(completedMS)
	}
	return run, nil
}
