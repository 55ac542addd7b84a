package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jun/securenotes/internal/queue"
)

// Store persists the sync queue.
var _ queue.Journal = (*Store)(nil)

func (s *Store) SaveOp(ctx context.Context, op queue.Op) error {
	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("failed to encode op: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sync_queue (note_id, op_id, op) VALUES (?, ?, ?)
		 ON CONFLICT(note_id) DO UPDATE SET op_id = excluded.op_id, op = excluded.op`,
		op.NoteID, op.ID, string(data))
	if err != nil {
		return fmt.Errorf("failed to save op: %w", err)
	}
	return nil
}

func (s *Store) DeleteOp(ctx context.Context, opID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE op_id = ?`, opID); err != nil {
		return fmt.Errorf("failed to delete op: %w", err)
	}
	return nil
}

func (s *Store) LoadOps(ctx context.Context) ([]queue.Op, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT op FROM sync_queue`)
	if err != nil {
		return nil, fmt.Errorf("failed to load ops: %w", err)
	}
	defer rows.Close()

	var ops []queue.Op
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan op: %w", err)
		}
		var op queue.Op
		if err := json.Unmarshal([]byte(data), &op); err != nil {
			return nil, fmt.Errorf("failed to decode op: %w", err)
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

func (s *Store) SaveDeadLetter(ctx context.Context, dl queue.DeadLetter) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO sync_dead_letters (note_id, edit_stamp, reason, dropped_at) VALUES (?, ?, ?, ?)`,
		dl.NoteID, formatTime(dl.EditStamp), dl.Reason, formatTime(dl.DroppedAt))
	if err != nil {
		return fmt.Errorf("failed to save dead letter: %w", err)
	}
	return nil
}

func (s *Store) LoadDeadLetters(ctx context.Context) ([]queue.DeadLetter, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT note_id, edit_stamp, reason, dropped_at FROM sync_dead_letters ORDER BY dropped_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to load dead letters: %w", err)
	}
	defer rows.Close()

	var out []queue.DeadLetter
	for rows.Next() {
		var (
			dl                queue.DeadLetter
			stamp, droppedAt string
		)
		if err := rows.Scan(&dl.NoteID, &stamp, &dl.Reason, &droppedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dead letter: %w", err)
		}
		if dl.EditStamp, err = parseTime(stamp); err != nil {
			return nil, fmt.Errorf("dead letter %s: %w", dl.NoteID, err)
		}
		if dl.DroppedAt, err = parseTime(droppedAt); err != nil {
			return nil, fmt.Errorf("dead letter %s: %w", dl.NoteID, err)
		}
		out = append(out, dl)
	}
	return out, rows.Err()
}
