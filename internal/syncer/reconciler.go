package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jun/securenotes/internal/model"
	"github.com/jun/securenotes/internal/store"
)

// Decision is what the reconciler does with one pulled note.
type Decision int

const (
	// DecisionInsert: no local copy; take the remote note as is.
	DecisionInsert Decision = iota
	// DecisionSkipDirty: the local copy has unpushed edits; ignore the remote.
	DecisionSkipDirty
	// DecisionOverwrite: the local copy is clean and older; replace it.
	DecisionOverwrite
	// DecisionNoop: the local copy is clean and already at least as new.
	DecisionNoop
)

func (d Decision) String() string {
	switch d {
	case DecisionInsert:
		return "insert"
	case DecisionSkipDirty:
		return "skip-dirty"
	case DecisionOverwrite:
		return "overwrite"
	case DecisionNoop:
		return "noop"
	}
	return "unknown"
}

// Resolve decides how remote applies to local (nil when there is no local
// copy). A dirty local note always wins, whatever the remote version.
func Resolve(local *model.Note, remote model.Note) Decision {
	switch {
	case local == nil:
		return DecisionInsert
	case local.IsDirty:
		return DecisionSkipDirty
	case remote.SyncVersion > local.SyncVersion:
		return DecisionOverwrite
	default:
		return DecisionNoop
	}
}

// NoteUpserter is the part of the Local Note Store the reconciler writes through.
type NoteUpserter interface {
	GetNote(ctx context.Context, id string) (*model.Note, error)
	UpsertFromCloud(ctx context.Context, note model.Note) (store.UpsertResult, error)
}

// ReconcileReport counts what happened to each pulled note.
type ReconcileReport struct {
	Inserted     int
	Updated      int
	SkippedDirty int
	Stale        int
}

func (r ReconcileReport) Total() int {
	return r.Inserted + r.Updated + r.SkippedDirty + r.Stale
}

// Reconciler merges pulled notes into the Local Note Store.
type Reconciler struct {
	store  NoteUpserter
	logger *slog.Logger
}

func NewReconciler(s NoteUpserter, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{store: s, logger: logger}
}

// Apply reconciles notes one by one. The store re-checks the decision in
// the same transaction as the write, so its result is what gets counted.
// It stops at the first local-store error.
func (r *Reconciler) Apply(ctx context.Context, notes []model.Note) (ReconcileReport, error) {
	var report ReconcileReport
	for _, remote := range notes {
		local, err := r.store.GetNote(ctx, remote.ID)
		if errors.Is(err, store.ErrNotFound) {
			local, err = nil, nil
		}
		if err != nil {
			return report, fmt.Errorf("reconcile %s: %w", remote.ID, err)
		}

		decision := Resolve(local, remote)
		switch decision {
		case DecisionSkipDirty:
			r.logger.DebugContext(ctx, "keeping dirty local note", "note", remote.ID,
				"local_version", local.SyncVersion, "remote_version", remote.SyncVersion)
			report.SkippedDirty++
			continue
		case DecisionNoop:
			report.Stale++
			continue
		}

		res, err := r.store.UpsertFromCloud(ctx, remote)
		if err != nil {
			return report, fmt.Errorf("reconcile %s: %w", remote.ID, err)
		}
		switch res {
		case store.UpsertInserted:
			report.Inserted++
		case store.UpsertUpdated:
			report.Updated++
		case store.UpsertSkippedDirty:
			r.logger.DebugContext(ctx, "local edit won the race", "note", remote.ID)
			report.SkippedDirty++
		case store.UpsertStale:
			report.Stale++
		}
	}
	return report, nil
}
