// SPDX-License-Identifier: MIT

// Package journal stores operator-visible sync events (starts, pauses,
// resyncs, mode changes) in a local sqlite database so an operator can
// reconstruct what the controller did overnight.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go driver
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	at        INTEGER NOT NULL,
	kind      TEXT    NOT NULL,
	detail    TEXT    NOT NULL,
	slots     INTEGER NOT NULL,
	max_drift INTEGER
);
CREATE INDEX IF NOT EXISTS events_at ON events(at);
`

// Event is one journal row.
type Event struct {
	ID       int64     `json:"id"`
	At       time.Time `json:"at"`
	Kind     string    `json:"kind"`
	Detail   string    `json:"detail"`
	Slots    int       `json:"slots"`
	MaxDrift *int64    `json:"maxDrift,omitempty"`
}

// Event kinds.
const (
	KindPreload = "preload"
	KindStart   = "start"
	KindPause   = "pause"
	KindResync  = "resync"
	KindMode    = "mode"
	KindConfig  = "config"
	KindClock   = "clock"
)

// Journal is a sqlite-backed event log. All methods are safe for concurrent
// use; database/sql serializes the single write connection.
type Journal struct {
	db *sql.DB
}

// Open creates or opens the journal database. WAL mode and a busy timeout
// are set through the DSN so they apply to every pooled connection.
func Open(path string) (*Journal, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: open failed: %w", err)
	}
	// One writer keeps sqlite happy; reads share it.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: ping failed: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: create schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Record appends one event. Journal failures must never fail the operation
// that produced the event, so callers log and continue on error.
func (j *Journal) Record(ctx context.Context, e Event) error {
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO events (at, kind, detail, slots, max_drift) VALUES (?, ?, ?, ?, ?)`,
		at.UnixMilli(), e.Kind, e.Detail, e.Slots, e.MaxDrift)
	if err != nil {
		return fmt.Errorf("journal: insert: %w", err)
	}
	return nil
}

// Recent returns the newest events, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, at, kind, detail, slots, max_drift FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []Event
	for rows.Next() {
		var (
			e  Event
			at int64
			md sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &at, &e.Kind, &e.Detail, &e.Slots, &md); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		e.At = time.UnixMilli(at)
		if md.Valid {
			v := md.Int64
			e.MaxDrift = &v
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}
