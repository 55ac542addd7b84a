package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jun/securenotes/internal/model"
)

// Conflict is a push the server refused because another device wrote first.
// Remote is the server's record at that moment, already decrypted.
type Conflict struct {
	NoteID     string
	Remote     model.Note
	DetectedAt time.Time
}

// RecordConflict stores (or replaces) the open conflict for a note.
func (s *Store) RecordConflict(ctx context.Context, c Conflict) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO sync_conflicts
		 (note_id, remote_title, remote_content, remote_version, remote_created_at, remote_updated_at, remote_deleted_at, detected_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.NoteID, c.Remote.Title, c.Remote.Content, c.Remote.SyncVersion,
		formatTime(c.Remote.CreatedAt), formatTime(c.Remote.UpdatedAt), formatNullTime(c.Remote.DeletedAt),
		formatTime(c.DetectedAt))
	if err != nil {
		return fmt.Errorf("failed to record conflict: %w", err)
	}
	return nil
}

func (s *Store) ListConflicts(ctx context.Context) ([]Conflict, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+conflictColumns+` FROM sync_conflicts ORDER BY detected_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicts: %w", err)
	}
	defer rows.Close()

	var out []Conflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// ConflictNoteIDs returns the set of notes with an open conflict. Those
// notes are held back from pushing until resolved.
func (s *Store) ConflictNoteIDs(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT note_id FROM sync_conflicts`)
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicts: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan conflict: %w", err)
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

// ResolveConflict closes a conflict.
//
// keepLocal adopts the server's version as the note's base and leaves it
// dirty, so the next push overwrites the server copy. Otherwise the server
// copy replaces the local one and the note becomes clean.
func (s *Store) ResolveConflict(ctx context.Context, noteID string, keepLocal bool) (*model.Note, error) {
	var note *model.Note
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		c, err := scanConflict(tx.QueryRowContext(ctx,
			`SELECT `+conflictColumns+` FROM sync_conflicts WHERE note_id = ?`, noteID))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		var res sql.Result
		if keepLocal {
			res, err = tx.ExecContext(ctx,
				`UPDATE notes SET sync_version = MAX(sync_version, ?), is_dirty = 1 WHERE id = ?`,
				c.Remote.SyncVersion, noteID)
		} else {
			res, err = tx.ExecContext(ctx,
				`UPDATE notes SET title = ?, content = ?, updated_at = ?, deleted_at = ?,
				 sync_version = MAX(sync_version, ?), is_dirty = 0 WHERE id = ?`,
				c.Remote.Title, c.Remote.Content, formatTime(c.Remote.UpdatedAt),
				formatNullTime(c.Remote.DeletedAt), c.Remote.SyncVersion, noteID)
		}
		if err != nil {
			return fmt.Errorf("failed to apply resolution: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM sync_conflicts WHERE note_id = ?`, noteID); err != nil {
			return fmt.Errorf("failed to close conflict: %w", err)
		}

		note, err = getNote(ctx, tx, noteID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return note, nil
}

const conflictColumns = `note_id, remote_title, remote_content, remote_version, remote_created_at, remote_updated_at, remote_deleted_at, detected_at`

func scanConflict(row rowScanner) (*Conflict, error) {
	var (
		c                              Conflict
		createdAt, updatedAt, detected string
		deletedAt                      sql.NullString
	)
	err := row.Scan(&c.NoteID, &c.Remote.Title, &c.Remote.Content, &c.Remote.SyncVersion,
		&createdAt, &updatedAt, &deletedAt, &detected)
	if err != nil {
		return nil, err
	}
	c.Remote.ID = c.NoteID
	if c.Remote.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("conflict %s: %w", c.NoteID, err)
	}
	if c.Remote.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("conflict %s: %w", c.NoteID, err)
	}
	if c.Remote.DeletedAt, err = parseNullTime(deletedAt); err != nil {
		return nil, fmt.Errorf("conflict %s: %w", c.NoteID, err)
	}
	if c.DetectedAt, err = parseTime(detected); err != nil {
		return nil, fmt.Errorf("conflict %s: %w", c.NoteID, err)
	}
	return &c, nil
}
