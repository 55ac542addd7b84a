package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDebounce coalesces bursts of database writes into one trigger.
const DefaultWatchDebounce = 500 * time.Millisecond

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `{`, `\{`)

// DBWatcher calls a trigger when the Local Note Store's database file (or
// its WAL/journal) is written, so edits made by another process are pushed
// without waiting for the next tick.
type DBWatcher struct {
	watcher  *fsnotify.Watcher
	pattern  string
	debounce time.Duration
	logger   *slog.Logger
}

// NewDBWatcher watches the directory holding dbPath. The watch is
// registered before it returns, so writes after this call are seen.
func NewDBWatcher(dbPath string, debounce time.Duration, logger *slog.Logger) (*DBWatcher, error) {
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}

	abs, err := filepath.Abs(dbPath)
	if err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	return &DBWatcher{
		watcher:  w,
		pattern:  dbFilesPattern(filepath.Base(abs)),
		debounce: debounce,
		logger:   logger,
	}, nil
}

// dbFilesPattern matches the database file and SQLite's WAL and rollback
// journal next to it.
func dbFilesPattern(base string) string {
	b := globEscaper.Replace(base)
	return "{" + b + "," + b + "-wal," + b + "-journal}"
}

// Matches reports whether a changed file belongs to the watched database.
func (w *DBWatcher) Matches(name string) bool {
	ok, err := doublestar.Match(w.pattern, filepath.Base(name))
	return err == nil && ok
}

// Run calls trigger once per burst of matching writes until ctx is done.
// It closes the underlying watcher on return.
func (w *DBWatcher) Run(ctx context.Context, trigger func()) error {
	defer w.watcher.Close()

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if !w.Matches(event.Name) {
				continue
			}
			timer.Reset(w.debounce)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.ErrorContext(ctx, "fsnotify error", "err", err)

		case <-timer.C:
			w.logger.DebugContext(ctx, "database changed, triggering sync")
			trigger()
		}
	}
}
