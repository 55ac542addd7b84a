package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/jun/securenotes/internal/model"
)

// DefaultTagColor is used when a tag is created without a color.
const DefaultTagColor = "#6366f1"

// ErrTagExists is returned when creating a tag whose name is taken.
var ErrTagExists = errors.New("tag already exists")

// ListTags returns every tag by name. Tags are local organization only:
// tagging a note does not make it dirty, so no push follows a tag change.
func (s *Store) ListTags(ctx context.Context) ([]model.Tag, error) {
	return s.queryTags(ctx, `SELECT id, name, color FROM tags ORDER BY name`)
}

// CreateTag adds a tag. Names are unique and trimmed; an empty color
// means DefaultTagColor.
func (s *Store) CreateTag(ctx context.Context, name, color string) (*model.Tag, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("tag name is required")
	}
	if color == "" {
		color = DefaultTagColor
	}

	t := model.Tag{ID: uuid.New().String(), Name: name, Color: color}
	_, err := s.db.ExecContext(ctx, `INSERT INTO tags (id, name, color) VALUES (?, ?, ?)`, t.ID, t.Name, t.Color)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return nil, fmt.Errorf("%q: %w", name, ErrTagExists)
		}
		return nil, fmt.Errorf("failed to create tag: %w", err)
	}
	return &t, nil
}

// TagByName looks a tag up by its exact name.
func (s *Store) TagByName(ctx context.Context, name string) (*model.Tag, error) {
	var t model.Tag
	err := s.db.QueryRowContext(ctx, `SELECT id, name, color FROM tags WHERE name = ?`, strings.TrimSpace(name)).
		Scan(&t.ID, &t.Name, &t.Color)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tag: %w", err)
	}
	return &t, nil
}

// DeleteTag removes a tag and detaches it from every note.
func (s *Store) DeleteTag(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tags WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete tag: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddTagToNote attaches a tag to a live note. Adding it twice is a no-op.
func (s *Store) AddTagToNote(ctx context.Context, noteID, tagID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		n, err := getNote(ctx, tx, noteID)
		if err != nil {
			return err
		}
		if n.IsDeleted() {
			return ErrNotFound
		}

		var exists int
		err = tx.QueryRowContext(ctx, `SELECT 1 FROM tags WHERE id = ?`, tagID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to get tag: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO note_tags (note_id, tag_id) VALUES (?, ?)`, noteID, tagID); err != nil {
			return fmt.Errorf("failed to tag note: %w", err)
		}
		return nil
	})
}

func (s *Store) RemoveTagFromNote(ctx context.Context, noteID, tagID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM note_tags WHERE note_id = ? AND tag_id = ?`, noteID, tagID); err != nil {
		return fmt.Errorf("failed to untag note: %w", err)
	}
	return nil
}

// TagsForNote returns the note's tags by name.
func (s *Store) TagsForNote(ctx context.Context, noteID string) ([]model.Tag, error) {
	return s.queryTags(ctx,
		`SELECT tags.id, tags.name, tags.color FROM tags
		 JOIN note_tags ON tags.id = note_tags.tag_id
		 WHERE note_tags.note_id = ?
		 ORDER BY tags.name`, noteID)
}

// NotesWithTag returns live notes carrying the tag, most recently updated first.
func (s *Store) NotesWithTag(ctx context.Context, tagID string) ([]model.Note, error) {
	return s.queryNotes(ctx,
		`SELECT `+noteColumns+` FROM notes
		 WHERE deleted_at IS NULL AND id IN (SELECT note_id FROM note_tags WHERE tag_id = ?)
		 ORDER BY updated_at DESC`, tagID)
}

func (s *Store) queryTags(ctx context.Context, query string, args ...any) ([]model.Tag, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	defer rows.Close()

	tags := []model.Tag{}
	for rows.Next() {
		var t model.Tag
		if err := rows.Scan(&t.ID, &t.Name, &t.Color); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}
