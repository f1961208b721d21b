// Package history persists streamed captions and battery telemetry to
// SQLite (WAL mode) for after-the-fact review. It is optional: the
// session runs fine without a store, the CLI only opens one when the
// config names a path.
package history

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Store wraps one SQLite file. Writer concurrency is capped at one
// connection; WAL keeps readers unblocked.
type Store struct {
	db              *sql.DB
	insertCaption   *sql.Stmt
	insertTelemetry *sql.Stmt
}

// Caption is one logical message that went out to the peripheral.
type Caption struct {
	ID   int64     `json:"id"`
	At   time.Time `json:"at"`
	Text string    `json:"text"`
}

// Telemetry is one battery report received from the peripheral.
type Telemetry struct {
	At      time.Time `json:"at"`
	Battery int       `json:"battery"`
}

// Open opens (or creates) the SQLite file at path, applies the schema,
// and prepares the insert statements.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: ping: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{ddlCaptions, ddlTelemetry} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("history: migrate: %w", err)
		}
	}

	insertCaption, err := db.Prepare(`INSERT INTO captions (ts, text) VALUES (?, ?)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("history: prepare: %w", err)
	}
	insertTelemetry, err := db.Prepare(`INSERT INTO telemetry (ts, battery) VALUES (?, ?)`)
	if err != nil {
		insertCaption.Close()
		db.Close()
		return nil, fmt.Errorf("history: prepare: %w", err)
	}

	return &Store{
		db:              db,
		insertCaption:   insertCaption,
		insertTelemetry: insertTelemetry,
	}, nil
}

const ddlCaptions = `
CREATE TABLE IF NOT EXISTS captions (
    id   INTEGER PRIMARY KEY AUTOINCREMENT,
    ts   INTEGER NOT NULL, -- Unix milliseconds
    text TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_captions_ts ON captions (ts DESC);
`

const ddlTelemetry = `
CREATE TABLE IF NOT EXISTS telemetry (
    id      INTEGER PRIMARY KEY AUTOINCREMENT,
    ts      INTEGER NOT NULL, -- Unix milliseconds
    battery INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_telemetry_ts ON telemetry (ts DESC);
`

func (s *Store) RecordCaption(text string) error {
	if _, err := s.insertCaption.Exec(time.Now().UnixMilli(), text); err != nil {
		return fmt.Errorf("history: record caption: %w", err)
	}
	return nil
}

func (s *Store) RecordTelemetry(battery int) error {
	if _, err := s.insertTelemetry.Exec(time.Now().UnixMilli(), battery); err != nil {
		return fmt.Errorf("history: record telemetry: %w", err)
	}
	return nil
}

// RecentCaptions returns up to n captions, newest first.
func (s *Store) RecentCaptions(n int) ([]Caption, error) {
	rows, err := s.db.Query(`SELECT id, ts, text FROM captions ORDER BY ts DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("history: recent captions: %w", err)
	}
	defer rows.Close()

	var out []Caption
	for rows.Next() {
		var c Caption
		var ts int64
		if err := rows.Scan(&c.ID, &ts, &c.Text); err != nil {
			return nil, fmt.Errorf("history: scan caption: %w", err)
		}
		c.At = time.UnixMilli(ts)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: recent captions: %w", err)
	}
	return out, nil
}

// LastTelemetry returns the most recent battery report; ok is false
// when none has been recorded yet.
func (s *Store) LastTelemetry() (Telemetry, bool, error) {
	var ts int64
	var t Telemetry
	err := s.db.QueryRow(`SELECT ts, battery FROM telemetry ORDER BY ts DESC, id DESC LIMIT 1`).Scan(&ts, &t.Battery)
	if errors.Is(err, sql.ErrNoRows) {
		return Telemetry{}, false, nil
	}
	if err != nil {
		return Telemetry{}, false, fmt.Errorf("history: last telemetry: %w", err)
	}
	t.At = time.UnixMilli(ts)
	return t, true, nil
}

func (s *Store) Close() error {
	s.insertCaption.Close()
	s.insertTelemetry.Close()
	return s.db.Close()
}
