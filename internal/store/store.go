// Package store is the Local Note Store: the device's durable copy of every
// note plus the bookkeeping the sync client needs (queue journal, dead
// letters, pull baseline, open conflicts). It is backed by SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a note (or conflict) does not exist locally.
var ErrNotFound = errors.New("not found")

// Timestamps are stored as fixed-width UTC text so that string comparison
// orders them and equality is exact to the nanosecond.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS notes (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL DEFAULT '',
	sync_version INTEGER NOT NULL DEFAULT 0,
	is_dirty INTEGER NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	deleted_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_notes_dirty ON notes(is_dirty);
CREATE INDEX IF NOT EXISTS idx_notes_updated_at ON notes(updated_at);

CREATE TABLE IF NOT EXISTS tags (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	color TEXT NOT NULL DEFAULT '#6366f1'
);

CREATE TABLE IF NOT EXISTS note_tags (
	note_id TEXT NOT NULL REFERENCES notes(id) ON DELETE CASCADE,
	tag_id TEXT NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
	PRIMARY KEY (note_id, tag_id)
);

CREATE INDEX IF NOT EXISTS idx_note_tags_tag ON note_tags(tag_id);

CREATE TABLE IF NOT EXISTS sync_meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_queue (
	note_id TEXT PRIMARY KEY,
	op_id TEXT NOT NULL UNIQUE,
	op TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_dead_letters (
	note_id TEXT PRIMARY KEY,
	edit_stamp TEXT NOT NULL,
	reason TEXT NOT NULL,
	dropped_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_conflicts (
	note_id TEXT PRIMARY KEY,
	remote_title TEXT NOT NULL,
	remote_content TEXT NOT NULL,
	remote_version INTEGER NOT NULL,
	remote_created_at TEXT NOT NULL,
	remote_updated_at TEXT NOT NULL,
	remote_deleted_at TEXT,
	detected_at TEXT NOT NULL
);
`

// Store is safe for concurrent use; every multi-statement operation runs in
// an immediate transaction so it is atomic per note.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=on&_journal_mode=WAL&_txlock=immediate", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Stats summarizes local sync state.
type Stats struct {
	Notes       int
	Dirty       int
	Queued      int
	DeadLetters int
	Conflicts   int
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM notes WHERE deleted_at IS NULL),
			(SELECT COUNT(*) FROM notes WHERE is_dirty = 1),
			(SELECT COUNT(*) FROM sync_queue),
			(SELECT COUNT(*) FROM sync_dead_letters),
			(SELECT COUNT(*) FROM sync_conflicts)`,
	).Scan(&st.Notes, &st.Dirty, &st.Queued, &st.DeadLetters, &st.Conflicts)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to read stats: %w", err)
	}
	return st, nil
}

// withTx runs fn in a transaction, committing on success.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// stamp returns the current time, strictly after prev. Two edits of the same
// note never share an updated_at, which MarkSynced relies on.
func (s *Store) stamp(prev time.Time) time.Time {
	now := s.now().UTC().Round(0)
	if !now.After(prev) {
		now = prev.Add(time.Nanosecond)
	}
	return now
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
