// Package journal records reply outcomes to a local SQLite database so a
// restarted agent and the offline reporter can see what happened while the
// process was gone.
package journal

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Event kinds.
const (
	KindSent    = "sent"
	KindBlocked = "blocked"
	KindSkipped = "skipped"
)

// Journal is an append-only outcome log.
type Journal struct {
	db   *sql.DB
	path string
}

// Event is one recorded outcome.
type Event struct {
	ID      int64
	Kind    string
	Channel string
	Reason  string
	Content string
	At      time.Time
}

// Summary holds per-kind and per-reason totals over a time range.
type Summary struct {
	Sent          int
	Blocked       int
	Skipped       int
	SentByChannel map[string]int
	ByReason      map[string]int
}

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	kind    TEXT NOT NULL,
	channel TEXT NOT NULL DEFAULT '',
	reason  TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL DEFAULT '',
	at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_at ON events(at);
CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);
`

// Open opens (creating if needed) the journal database at path.
func Open(path string) (*Journal, error) {
	// WAL mode so the reporter can read while the agent writes
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping journal db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init journal schema: %w", err)
	}
	return &Journal{db: db, path: path}, nil
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Path returns the database file path.
func (j *Journal) Path() string {
	return j.path
}

// RecordSent logs a dispatched reply.
func (j *Journal) RecordSent(channel, content string) error {
	return j.record(KindSent, channel, "", content)
}

// RecordBlocked logs an admission refusal.
func (j *Journal) RecordBlocked(channel, reason, content string) error {
	return j.record(KindBlocked, channel, reason, content)
}

// RecordSkipped logs a message that never reached admission.
func (j *Journal) RecordSkipped(channel, reason string) error {
	return j.record(KindSkipped, channel, reason, "")
}

func (j *Journal) record(kind, channel, reason, content string) error {
	at := time.Now().UTC().Format(time.RFC3339)
	_, err := j.db.Exec(
		`INSERT INTO events (kind, channel, reason, content, at) VALUES (?, ?, ?, ?, ?)`,
		kind, channel, reason, content, at,
	)
	if err != nil {
		return fmt.Errorf("record %s event: %w", kind, err)
	}
	slog.Debug("journal event", "kind", kind, "channel", channel, "reason", reason)
	return nil
}

// RecentSent returns the content of the last n sent replies, newest first.
// Used to rebuild duplicate-suppression windows after a restart.
func (j *Journal) RecentSent(n int) ([]string, error) {
	rows, err := j.db.Query(
		`SELECT content FROM events WHERE kind = ? ORDER BY id DESC LIMIT ?`,
		KindSent, n,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent sent: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, fmt.Errorf("scan recent sent: %w", err)
		}
		out = append(out, content)
	}
	return out, rows.Err()
}

// Events returns events since the given time, oldest first.
func (j *Journal) Events(since time.Time) ([]Event, error) {
	rows, err := j.db.Query(
		`SELECT id, kind, channel, reason, content, at FROM events WHERE at >= ? ORDER BY id ASC`,
		since.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var at string
		if err := rows.Scan(&e.ID, &e.Kind, &e.Channel, &e.Reason, &e.Content, &at); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.At, _ = time.Parse(time.RFC3339, at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Summarize aggregates events since the given time.
func (j *Journal) Summarize(since time.Time) (*Summary, error) {
	events, err := j.Events(since)
	if err != nil {
		return nil, err
	}

	s := &Summary{
		SentByChannel: make(map[string]int),
		ByReason:      make(map[string]int),
	}
	for _, e := range events {
		switch e.Kind {
		case KindSent:
			s.Sent++
			s.SentByChannel[e.Channel]++
		case KindBlocked:
			s.Blocked++
			s.ByReason[e.Reason]++
		case KindSkipped:
			s.Skipped++
			s.ByReason[e.Reason]++
		}
	}
	return s, nil
}
