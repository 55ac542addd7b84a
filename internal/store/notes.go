package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jun/securenotes/internal/model"
)

// SearchLimit caps the number of search results.
const SearchLimit = 50

const noteColumns = `id, title, content, sync_version, is_dirty, created_at, updated_at, deleted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNote(row rowScanner) (*model.Note, error) {
	var (
		n                    model.Note
		dirty                int
		createdAt, updatedAt string
		deletedAt            sql.NullString
	)
	if err := row.Scan(&n.ID, &n.Title, &n.Content, &n.SyncVersion, &dirty, &createdAt, &updatedAt, &deletedAt); err != nil {
		return nil, err
	}

	var err error
	if n.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("note %s: bad created_at: %w", n.ID, err)
	}
	if n.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("note %s: bad updated_at: %w", n.ID, err)
	}
	if n.DeletedAt, err = parseNullTime(deletedAt); err != nil {
		return nil, fmt.Errorf("note %s: bad deleted_at: %w", n.ID, err)
	}
	n.IsDirty = dirty == 1
	return &n, nil
}

func getNote(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}, id string) (*model.Note, error) {
	n, err := scanNote(q.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM notes WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get note: %w", err)
	}
	return n, nil
}

// CreateNote inserts a new dirty note at version 0 with a client-generated ID.
func (s *Store) CreateNote(ctx context.Context, title, content string) (*model.Note, error) {
	now := s.stamp(time.Time{})
	n := &model.Note{
		ID:        uuid.NewString(),
		Title:     title,
		Content:   content,
		IsDirty:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notes (id, title, content, sync_version, is_dirty, created_at, updated_at) VALUES (?, ?, ?, 0, 1, ?, ?)`,
		n.ID, n.Title, n.Content, formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("failed to create note: %w", err)
	}
	return n, nil
}

// UpdateNote changes the title and/or content (nil leaves a field as is),
// marks the note dirty and bumps updated_at. The sync version is untouched.
func (s *Store) UpdateNote(ctx context.Context, id string, title, content *string) (*model.Note, error) {
	var n *model.Note
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		n, err = getNote(ctx, tx, id)
		if err != nil {
			return err
		}
		if n.IsDeleted() {
			return ErrNotFound
		}

		if title != nil {
			n.Title = *title
		}
		if content != nil {
			n.Content = *content
		}
		n.IsDirty = true
		n.UpdatedAt = s.stamp(n.UpdatedAt)

		_, err = tx.ExecContext(ctx,
			`UPDATE notes SET title = ?, content = ?, is_dirty = 1, updated_at = ? WHERE id = ?`,
			n.Title, n.Content, formatTime(n.UpdatedAt), id)
		if err != nil {
			return fmt.Errorf("failed to update note: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return n, nil
}

// DeleteNote tombstones a note. The row is kept so the deletion can sync.
// Deleting an already deleted note is a no-op.
func (s *Store) DeleteNote(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		n, err := getNote(ctx, tx, id)
		if err != nil {
			return err
		}
		if n.IsDeleted() {
			return nil
		}

		stamp := s.stamp(n.UpdatedAt)
		_, err = tx.ExecContext(ctx,
			`UPDATE notes SET deleted_at = ?, updated_at = ?, is_dirty = 1 WHERE id = ?`,
			formatTime(stamp), formatTime(stamp), id)
		if err != nil {
			return fmt.Errorf("failed to delete note: %w", err)
		}
		return nil
	})
}

// GetNote returns a note by ID, tombstoned or not.
func (s *Store) GetNote(ctx context.Context, id string) (*model.Note, error) {
	return getNote(ctx, s.db, id)
}

// ListNotes returns live notes, most recently updated first.
func (s *Store) ListNotes(ctx context.Context) ([]model.Note, error) {
	return s.queryNotes(ctx,
		`SELECT `+noteColumns+` FROM notes WHERE deleted_at IS NULL ORDER BY updated_at DESC`)
}

// SearchNotes matches q as a substring of title or content of live notes.
func (s *Store) SearchNotes(ctx context.Context, q string) ([]model.Note, error) {
	pattern := "%" + escapeLike(q) + "%"
	return s.queryNotes(ctx,
		`SELECT `+noteColumns+` FROM notes
		 WHERE deleted_at IS NULL AND (title LIKE ? ESCAPE '\' OR content LIKE ? ESCAPE '\')
		 ORDER BY updated_at DESC LIMIT ?`,
		pattern, pattern, SearchLimit)
}

// GetDirtyNotes returns every note with unacknowledged local edits,
// tombstones included.
func (s *Store) GetDirtyNotes(ctx context.Context) ([]model.Note, error) {
	return s.queryNotes(ctx,
		`SELECT `+noteColumns+` FROM notes WHERE is_dirty = 1 ORDER BY updated_at ASC`)
}

// MarkSynced records a server acknowledgement. The local version becomes
// max(local, version). The dirty flag is cleared only if the note still
// carries the edit that was pushed (updated_at == editStamp); cleared
// reports whether that happened.
func (s *Store) MarkSynced(ctx context.Context, id string, version int64, editStamp time.Time) (cleared bool, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE notes SET sync_version = MAX(sync_version, ?), is_dirty = 0 WHERE id = ? AND updated_at = ?`,
			version, id, formatTime(editStamp))
		if err != nil {
			return fmt.Errorf("failed to mark synced: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			cleared = true
			return nil
		}

		res, err = tx.ExecContext(ctx,
			`UPDATE notes SET sync_version = MAX(sync_version, ?) WHERE id = ?`, version, id)
		if err != nil {
			return fmt.Errorf("failed to mark synced: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
	return cleared, err
}

// UpsertResult reports what UpsertFromCloud did.
type UpsertResult int

const (
	UpsertInserted UpsertResult = iota
	UpsertUpdated
	UpsertSkippedDirty
	UpsertStale
)

func (r UpsertResult) String() string {
	switch r {
	case UpsertInserted:
		return "inserted"
	case UpsertUpdated:
		return "updated"
	case UpsertSkippedDirty:
		return "skipped-dirty"
	case UpsertStale:
		return "stale"
	}
	return "unknown"
}

// UpsertFromCloud applies a remote note: inserted if absent, overwritten only
// if the local copy is clean and strictly older. The check and the write
// happen in one transaction, so a concurrent local edit is never clobbered.
func (s *Store) UpsertFromCloud(ctx context.Context, remote model.Note) (UpsertResult, error) {
	var result UpsertResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var (
			dirty   int
			version int64
		)
		err := tx.QueryRowContext(ctx, `SELECT is_dirty, sync_version FROM notes WHERE id = ?`, remote.ID).Scan(&dirty, &version)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			_, err = tx.ExecContext(ctx,
				`INSERT INTO notes (`+noteColumns+`) VALUES (?, ?, ?, ?, 0, ?, ?, ?)`,
				remote.ID, remote.Title, remote.Content, remote.SyncVersion,
				formatTime(remote.CreatedAt), formatTime(remote.UpdatedAt), formatNullTime(remote.DeletedAt))
			if err != nil {
				return fmt.Errorf("failed to insert note: %w", err)
			}
			result = UpsertInserted
			return nil
		case err != nil:
			return fmt.Errorf("failed to read note: %w", err)
		case dirty == 1:
			result = UpsertSkippedDirty
			return nil
		case remote.SyncVersion <= version:
			result = UpsertStale
			return nil
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE notes SET title = ?, content = ?, sync_version = ?, updated_at = ?, deleted_at = ?
			 WHERE id = ? AND is_dirty = 0 AND sync_version < ?`,
			remote.Title, remote.Content, remote.SyncVersion, formatTime(remote.UpdatedAt),
			formatNullTime(remote.DeletedAt), remote.ID, remote.SyncVersion)
		if err != nil {
			return fmt.Errorf("failed to overwrite note: %w", err)
		}
		result = UpsertUpdated
		return nil
	})
	return result, err
}

func (s *Store) queryNotes(ctx context.Context, query string, args ...any) ([]model.Note, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query notes: %w", err)
	}
	defer rows.Close()

	var notes []model.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		notes = append(notes, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query notes: %w", err)
	}
	return notes, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
