// Package analytics persists chat transcripts, per-request analytics events
// and per-act query counts to SQLite. Writes go through a [Recorder], which
// logs and counts failures instead of returning them so analytics can never
// fail a chat request.
package analytics

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Role identifies the author of a chat message.
type Role string

const (
	// RoleUser is a question sent by the client.
	RoleUser Role = "user"
	// RoleAssistant is an answer produced by Bowen.
	RoleAssistant Role = "assistant"
)

// SourceRef is the compact citation stored with an assistant message.
type SourceRef struct {
	Act     string `json:"act"`
	Section string `json:"section"`
}

// Event is one row of the analytics table.
type Event struct {
	Type           string
	SessionID      string
	Query          string
	DetectedAct    string
	SourcesCount   int
	ResponseTimeMS int64
}

// Message is a persisted chat message.
type Message struct {
	SessionID string
	Role      Role
	Content   string
	Sources   []SourceRef
	CreatedAt time.Time
}

// TopicStat is one row of the topic_stats table.
type TopicStat struct {
	ActName     string
	QueryCount  int
	LastQueried time.Time
}

// Sink is the write side of the analytics store.
// Implementations must be safe for concurrent use.
type Sink interface {
	// LogMessage persists one chat message; sources may be nil.
	LogMessage(ctx context.Context, sessionID string, role Role, content string, sources []SourceRef) error
	// LogEvent persists one analytics event.
	LogEvent(ctx context.Context, ev Event) error
	// UpsertTopic increments the query count for an act.
	UpsertTopic(ctx context.Context, actName string) error
}

// SQLiteStore is a Sink backed by a local SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("analytics: create %s: %w", filepath.Dir(path), err)
		}
	}
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("analytics: open %s: %w", path, err)
	}
	// A single connection avoids SQLITE_BUSY under concurrent writes and keeps
	// ":memory:" databases alive across calls.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS chat_messages (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id  TEXT    NOT NULL,
    role        TEXT    NOT NULL CHECK(role IN ('user','assistant')),
    content     TEXT    NOT NULL,
    sources     TEXT,             -- JSON array of {act, section}
    created_at  INTEGER NOT NULL  -- Unix timestamp (seconds)
);
CREATE INDEX IF NOT EXISTS idx_chat_messages_session
    ON chat_messages (session_id, created_at);

CREATE TABLE IF NOT EXISTS analytics (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    event_type       TEXT    NOT NULL,
    session_id       TEXT,
    query            TEXT,
    detected_act     TEXT,
    sources_count    INTEGER,
    response_time_ms INTEGER,
    created_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_analytics_type_created
    ON analytics (event_type, created_at);

CREATE TABLE IF NOT EXISTS topic_stats (
    act_name     TEXT    PRIMARY KEY,
    query_count  INTEGER NOT NULL DEFAULT 0,
    last_queried INTEGER NOT NULL
);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("analytics: migrate: %w", err)
	}
	return nil
}

// LogMessage persists one chat message.
func (s *SQLiteStore) LogMessage(ctx context.Context, sessionID string, role Role, content string, sources []SourceRef) error {
	var src sql.NullString
	if sources != nil {
		b, err := json.Marshal(sources)
		if err != nil {
			return fmt.Errorf("analytics: encode sources: %w", err)
		}
		src = sql.NullString{String: string(b), Valid: true}
	}
	const q = `INSERT INTO chat_messages (session_id, role, content, sources, created_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, sessionID, string(role), content, src, s.now().Unix()); err != nil {
		return fmt.Errorf("analytics: log message: %w", err)
	}
	return nil
}

// LogEvent persists one analytics event. An empty DetectedAct is stored as
// NULL.
func (s *SQLiteStore) LogEvent(ctx context.Context, ev Event) error {
	act := sql.NullString{String: ev.DetectedAct, Valid: ev.DetectedAct != ""}
	const q = `INSERT INTO analytics
    (event_type, session_id, query, detected_act, sources_count, response_time_ms, created_at)
    VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, ev.Type, ev.SessionID, ev.Query, act,
		ev.SourcesCount, ev.ResponseTimeMS, s.now().Unix()); err != nil {
		return fmt.Errorf("analytics: log event: %w", err)
	}
	return nil
}

// UpsertTopic increments the query count for actName, creating the row on
// first use.
func (s *SQLiteStore) UpsertTopic(ctx context.Context, actName string) error {
	const q = `
INSERT INTO topic_stats (act_name, query_count, last_queried) VALUES (?, 1, ?)
ON CONFLICT(act_name) DO UPDATE SET
    query_count  = query_count + 1,
    last_queried = excluded.last_queried`
	if _, err := s.db.ExecContext(ctx, q, actName, s.now().Unix()); err != nil {
		return fmt.Errorf("analytics: upsert topic: %w", err)
	}
	return nil
}

// SessionMessages returns a session's messages oldest-first.
func (s *SQLiteStore) SessionMessages(ctx context.Context, sessionID string) ([]Message, error) {
	const q = `
SELECT role, content, sources, created_at
FROM   chat_messages
WHERE  session_id = ?
ORDER  BY created_at ASC, id ASC`
	rows, err := s.db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("analytics: session messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var (
			m    Message
			role string
			src  sql.NullString
			ts   int64
		)
		if err := rows.Scan(&role, &m.Content, &src, &ts); err != nil {
			return nil, fmt.Errorf("analytics: session messages scan: %w", err)
		}
		if src.Valid {
			if err := json.Unmarshal([]byte(src.String), &m.Sources); err != nil {
				return nil, fmt.Errorf("analytics: decode sources: %w", err)
			}
		}
		m.SessionID = sessionID
		m.Role = Role(role)
		m.CreatedAt = time.Unix(ts, 0)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("analytics: session messages rows: %w", err)
	}
	return msgs, nil
}

// TopTopics returns up to n acts by descending query count, ties by name.
func (s *SQLiteStore) TopTopics(ctx context.Context, n int) ([]TopicStat, error) {
	const q = `
SELECT act_name, query_count, last_queried
FROM   topic_stats
ORDER  BY query_count DESC, act_name ASC
LIMIT  ?`
	rows, err := s.db.QueryContext(ctx, q, n)
	if err != nil {
		return nil, fmt.Errorf("analytics: top topics: %w", err)
	}
	defer rows.Close()

	var out []TopicStat
	for rows.Next() {
		var (
			t  TopicStat
			ts int64
		)
		if err := rows.Scan(&t.ActName, &t.QueryCount, &ts); err != nil {
			return nil, fmt.Errorf("analytics: top topics scan: %w", err)
		}
		t.LastQueried = time.Unix(ts, 0)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("analytics: top topics rows: %w", err)
	}
	return out, nil
}

// EventCount returns the number of analytics events of the given type.
func (s *SQLiteStore) EventCount(ctx context.Context, eventType string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM analytics WHERE event_type = ?`, eventType).Scan(&n); err != nil {
		return 0, fmt.Errorf("analytics: event count: %w", err)
	}
	return n, nil
}

// Ping checks the database connection. It satisfies the readiness Pinger
// contract together with Name.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("analytics: ping: %w", err)
	}
	return nil
}

// Name returns the dependency label used in readiness responses.
func (s *SQLiteStore) Name() string { return "analytics" }

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("analytics: close: %w", err)
	}
	return nil
}
