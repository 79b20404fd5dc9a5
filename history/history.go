// Package history persists availability transitions to SQLite. Rows are
// write-once: the daemon only ever appends, and nothing in the schema
// supports mutation or deletion.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/restockd/restockd/stock"
)

// Entry is one transition observation.
type Entry struct {
	ID         string               `json:"id"`
	At         time.Time            `json:"at"`
	URL        string               `json:"url"`
	Title      string               `json:"title,omitempty"`
	PrevStatus stock.Status         `json:"prev_status"`
	NewStatus  stock.Status         `json:"new_status"`
	Price      string               `json:"price,omitempty"`
	Kind       stock.TransitionKind `json:"kind"`
}

// Log is the append-only transition history.
type Log struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS transitions (
	id          TEXT PRIMARY KEY,
	at          INTEGER NOT NULL,
	url         TEXT NOT NULL,
	title       TEXT NOT NULL DEFAULT '',
	prev_status TEXT NOT NULL,
	new_status  TEXT NOT NULL,
	price       TEXT NOT NULL DEFAULT '',
	kind        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transitions_at ON transitions(at);
CREATE INDEX IF NOT EXISTS idx_transitions_url ON transitions(url);
`

// Open creates (or opens) the history database at path, creating parent
// directories and the schema as needed.
func Open(path string) (*Log, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("history: create dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("history: open: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: schema: %w", err)
	}
	return &Log{db: db}, nil
}

// Append writes one entry. The id and timestamp are assigned here when
// the caller leaves them zero.
func (l *Log) Append(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.Must(uuid.NewV7()).String()
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO transitions (id, at, url, title, prev_status, new_status, price, kind)
		VALUES (?,?,?,?,?,?,?,?)`,
		e.ID, e.At.Unix(), e.URL, e.Title, string(e.PrevStatus), string(e.NewStatus), e.Price, string(e.Kind))
	if err != nil {
		return fmt.Errorf("history: append: %w", err)
	}
	return nil
}

// Recent returns up to n entries, newest first.
func (l *Log) Recent(ctx context.Context, n int) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, at, url, title, prev_status, new_status, price, kind
		FROM transitions ORDER BY at DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var at int64
		var prev, cur, kind string
		if err := rows.Scan(&e.ID, &at, &e.URL, &e.Title, &prev, &cur, &e.Price, &kind); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		e.At = time.Unix(at, 0).UTC()
		e.PrevStatus = stock.Status(prev)
		e.NewStatus = stock.Status(cur)
		e.Kind = stock.TransitionKind(kind)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the underlying database.
func (l *Log) Close() error { return l.db.Close() }
