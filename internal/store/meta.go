package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

const lastPulledKey = "last_pulled_seq"

// GetMeta reads a metadata value. ok is false when the key is unset.
func (s *Store) GetMeta(ctx context.Context, key string) (value string, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT value FROM sync_meta WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read meta %q: %w", key, err)
	}
	return value, true, nil
}

func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("failed to write meta %q: %w", key, err)
	}
	return nil
}

func (s *Store) DeleteMeta(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sync_meta WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete meta %q: %w", key, err)
	}
	return nil
}

// LastPulledVersion returns the pull baseline, 0 before the first pull.
func (s *Store) LastPulledVersion(ctx context.Context) (int64, error) {
	v, ok, err := s.GetMeta(ctx, lastPulledKey)
	if err != nil || !ok {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt pull baseline %q: %w", v, err)
	}
	return n, nil
}

// SetLastPulledVersion moves the baseline forward. It never moves it back;
// advanced reports whether the stored value changed.
func (s *Store) SetLastPulledVersion(ctx context.Context, version int64) (advanced bool, err error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value
		 WHERE CAST(sync_meta.value AS INTEGER) < CAST(excluded.value AS INTEGER)`,
		lastPulledKey, strconv.FormatInt(version, 10))
	if err != nil {
		return false, fmt.Errorf("failed to write pull baseline: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}
