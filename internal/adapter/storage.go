package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jun/securenotes/internal/model"
)

// NoteStore is the authoritative per-user note table behind the sync endpoint.
// Implementations assign sync versions; clients never do.
type NoteStore interface {
	// PushNote applies a client write under the version rule and returns the
	// stored record afterwards. conflict is true when the client was behind
	// and its edit was not applied.
	PushNote(ctx context.Context, userID string, req model.PushRequest) (note *model.ServerNote, conflict bool, err error)

	// PullNotes returns the user's notes whose change sequence is strictly
	// greater than since, ascending, and the highest sequence returned
	// (since itself when nothing changed).
	PullNotes(ctx context.Context, userID string, since int64) ([]model.ServerNote, int64, error)

	// ListNotes returns every note of the user, most recently updated first.
	ListNotes(ctx context.Context, userID string) ([]model.ServerNote, error)
}

// PushOutcome describes how a push was resolved against the stored record.
type PushOutcome int

const (
	// OutcomeCreated means the note did not exist and was stored at version 1.
	OutcomeCreated PushOutcome = iota
	// OutcomeAccepted means the client was not behind; version advanced by one.
	OutcomeAccepted
	// OutcomeReplayed means the request repeats the write that produced the
	// stored record (a retry after a lost response); nothing changes.
	OutcomeReplayed
	// OutcomeConflict means the client was behind; the stored record is kept.
	OutcomeConflict
)

func (o PushOutcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeAccepted:
		return "accepted"
	case OutcomeReplayed:
		return "replayed"
	case OutcomeConflict:
		return "conflict"
	}
	return "unknown"
}

// Writes reports whether the outcome requires persisting a new record.
func (o PushOutcome) Writes() bool {
	return o == OutcomeCreated || o == OutcomeAccepted
}

// MaxCiphertextSize bounds each encrypted field of a pushed note.
const MaxCiphertextSize = 1 << 20

// ValidatePush rejects payloads no store should accept.
func ValidatePush(req model.PushRequest) error {
	if req.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidNote)
	}
	if _, err := uuid.Parse(req.ID); err != nil {
		return fmt.Errorf("%w: id %q is not a UUID", ErrInvalidNote, req.ID)
	}
	if len(req.EncryptedTitle) > MaxCiphertextSize || len(req.EncryptedContent) > MaxCiphertextSize {
		return fmt.Errorf("%w: content too large (max %d bytes)", ErrInvalidNote, MaxCiphertextSize)
	}
	if req.SyncVersion < 0 {
		return fmt.Errorf("%w: negative syncVersion", ErrInvalidNote)
	}
	return nil
}

// ResolvePush decides how req applies to existing (nil when the note is new)
// and returns the record the store should hold afterwards. seq is the change
// sequence to stamp on a write; it is ignored for non-writing outcomes.
func ResolvePush(existing *model.ServerNote, userID string, req model.PushRequest, seq int64, now time.Time) (model.ServerNote, PushOutcome) {
	if existing == nil {
		return model.ServerNote{
			ID:               req.ID,
			UserID:           userID,
			EncryptedTitle:   req.EncryptedTitle,
			EncryptedContent: req.EncryptedContent,
			YjsState:         req.YjsState,
			SyncVersion:      1,
			ChangeSeq:        seq,
			CreatedAt:        now,
			UpdatedAt:        now,
			DeletedAt:        req.DeletedAt,
			LastOpID:         req.OpID,
		}, OutcomeCreated
	}

	if req.OpID != "" && req.OpID == existing.LastOpID {
		return *existing, OutcomeReplayed
	}

	if req.SyncVersion < existing.SyncVersion {
		return *existing, OutcomeConflict
	}

	next := *existing
	next.EncryptedTitle = req.EncryptedTitle
	next.EncryptedContent = req.EncryptedContent
	next.YjsState = req.YjsState
	next.SyncVersion = existing.SyncVersion + 1
	next.ChangeSeq = seq
	next.UpdatedAt = now
	next.DeletedAt = req.DeletedAt
	next.LastOpID = req.OpID
	return next, OutcomeAccepted
}
