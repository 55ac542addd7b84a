// Package queue holds note writes that have not yet been confirmed by the
// sync server. It keeps at most one pending operation per note; a newer
// edit replaces the queued one in place.
package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jun/securenotes/internal/model"
)

const (
	DefaultMaxRetries = 5
	DefaultBackoffMin = 1 * time.Second
	DefaultBackoffMax = 60 * time.Second
)

// OpType is the kind of mutation an operation carries.
type OpType string

const (
	OpCreate OpType = "create"
	OpUpdate OpType = "update"
	OpDelete OpType = "delete"
)

// Op is a queued intent to push one note. Payload is sealed at enqueue time
// so every retry sends identical bytes under the same op ID.
type Op struct {
	ID            string            `json:"id"`
	Type          OpType            `json:"type"`
	NoteID        string            `json:"noteId"`
	Payload       model.PushRequest `json:"payload"`
	EditStamp     time.Time         `json:"editStamp"`
	Retries       int               `json:"retries"`
	EnqueuedAt    time.Time         `json:"enqueuedAt"`
	NextAttemptAt time.Time         `json:"nextAttemptAt"`
}

// DeadLetter records an edit the queue gave up on.
type DeadLetter struct {
	NoteID    string
	EditStamp time.Time
	Reason    string
	DroppedAt time.Time
}

// Journal persists queue state across restarts. SaveOp replaces whatever
// operation is stored for the same note.
type Journal interface {
	SaveOp(ctx context.Context, op Op) error
	DeleteOp(ctx context.Context, opID string) error
	LoadOps(ctx context.Context) ([]Op, error)
	SaveDeadLetter(ctx context.Context, dl DeadLetter) error
	LoadDeadLetters(ctx context.Context) ([]DeadLetter, error)
}

type Options struct {
	MaxRetries int
	BackoffMin time.Duration
	BackoffMax time.Duration
	Journal    Journal
	Now        func() time.Time
}

// Queue is safe for concurrent use.
type Queue struct {
	opts Options

	mu     sync.Mutex
	byNote map[string]*Op
	dead   map[string]DeadLetter
}

// New creates a queue and restores any journaled operations.
func New(ctx context.Context, opts Options) (*Queue, error) {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.BackoffMin <= 0 {
		opts.BackoffMin = DefaultBackoffMin
	}
	if opts.BackoffMax < opts.BackoffMin {
		opts.BackoffMax = max(DefaultBackoffMax, opts.BackoffMin)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	q := &Queue{
		opts:   opts,
		byNote: make(map[string]*Op),
		dead:   make(map[string]DeadLetter),
	}
	if opts.Journal == nil {
		return q, nil
	}

	ops, err := opts.Journal.LoadOps(ctx)
	if err != nil {
		return nil, fmt.Errorf("load queued ops: %w", err)
	}
	for i := range ops {
		op := ops[i]
		q.byNote[op.NoteID] = &op
	}

	dls, err := opts.Journal.LoadDeadLetters(ctx)
	if err != nil {
		return nil, fmt.Errorf("load dead letters: %w", err)
	}
	for _, dl := range dls {
		q.dead[dl.NoteID] = dl
	}
	return q, nil
}

// Enqueue adds op with a fresh ID and zero retries. If the note already has
// a pending operation it is replaced. The returned Op is what was stored.
func (q *Queue) Enqueue(ctx context.Context, op Op) (Op, error) {
	now := q.opts.Now()
	op.ID = uuid.NewString()
	op.Payload.OpID = op.ID
	op.Retries = 0
	op.EnqueuedAt = now
	op.NextAttemptAt = now

	q.mu.Lock()
	defer q.mu.Unlock()

	if prev, ok := q.byNote[op.NoteID]; ok && prev.Type == OpCreate && op.Type == OpUpdate {
		// The server has not seen the note yet.
		op.Type = OpCreate
	}

	if q.opts.Journal != nil {
		if err := q.opts.Journal.SaveOp(ctx, op); err != nil {
			return Op{}, fmt.Errorf("journal op: %w", err)
		}
	}

	q.byNote[op.NoteID] = &op
	return op, nil
}

// Drain returns a snapshot of every operation whose backoff has elapsed,
// oldest first. Nothing is removed.
func (q *Queue) Drain(now time.Time) []Op {
	q.mu.Lock()
	defer q.mu.Unlock()

	ready := make([]Op, 0, len(q.byNote))
	for _, op := range q.byNote {
		if !op.NextAttemptAt.After(now) {
			ready = append(ready, *op)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		return ready[i].EnqueuedAt.Before(ready[j].EnqueuedAt)
	})
	return ready
}

// Pending returns the queued operation for a note, if any.
func (q *Queue) Pending(noteID string) (Op, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	op, ok := q.byNote[noteID]
	if !ok {
		return Op{}, false
	}
	return *op, true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.byNote)
}

// Ack removes a delivered operation. Acking an op that has since been
// replaced by a newer edit is a no-op, so the newer edit stays queued.
func (q *Queue) Ack(ctx context.Context, opID string) error {
	return q.remove(ctx, opID)
}

// Discard removes an operation without retrying it.
func (q *Queue) Discard(ctx context.Context, opID string) error {
	return q.remove(ctx, opID)
}

// Drop removes an operation that can never succeed and records its edit as
// a dead letter.
func (q *Queue) Drop(ctx context.Context, opID string, reason error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	op := q.findLocked(opID)
	if op == nil {
		return nil
	}
	return q.dropLocked(ctx, op, reason)
}

// Fail records a failed delivery attempt and schedules the next one with
// exponential backoff. Once the retry ceiling is reached the operation is
// dropped and dropped is true.
func (q *Queue) Fail(ctx context.Context, opID string, reason error) (dropped bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	op := q.findLocked(opID)
	if op == nil {
		return false, nil
	}

	next := *op
	next.Retries++
	if next.Retries >= q.opts.MaxRetries {
		return true, q.dropLocked(ctx, op, fmt.Errorf("gave up after %d attempts: %w", next.Retries, reason))
	}
	next.NextAttemptAt = q.opts.Now().Add(q.backoff(next.Retries))

	if q.opts.Journal != nil {
		if err := q.opts.Journal.SaveOp(ctx, next); err != nil {
			return false, fmt.Errorf("journal retry: %w", err)
		}
	}
	*op = next
	return false, nil
}

// Dropped reports whether this exact edit of the note was given up on.
// A later edit (different stamp) is eligible again.
func (q *Queue) Dropped(noteID string, editStamp time.Time) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	dl, ok := q.dead[noteID]
	return ok && dl.EditStamp.Equal(editStamp)
}

// backoff returns BackoffMin doubled per earlier failure, capped at BackoffMax.
func (q *Queue) backoff(retries int) time.Duration {
	d := q.opts.BackoffMin
	for i := 1; i < retries; i++ {
		d *= 2
		if d >= q.opts.BackoffMax {
			return q.opts.BackoffMax
		}
	}
	return d
}

func (q *Queue) findLocked(opID string) *Op {
	for _, op := range q.byNote {
		if op.ID == opID {
			return op
		}
	}
	return nil
}

func (q *Queue) remove(ctx context.Context, opID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	op := q.findLocked(opID)
	if op == nil {
		return nil
	}
	if q.opts.Journal != nil {
		if err := q.opts.Journal.DeleteOp(ctx, opID); err != nil {
			return fmt.Errorf("remove queued op: %w", err)
		}
	}
	delete(q.byNote, op.NoteID)
	return nil
}

func (q *Queue) dropLocked(ctx context.Context, op *Op, reason error) error {
	dl := DeadLetter{
		NoteID:    op.NoteID,
		EditStamp: op.EditStamp,
		DroppedAt: q.opts.Now(),
	}
	if reason != nil {
		dl.Reason = reason.Error()
	}

	if q.opts.Journal != nil {
		if err := q.opts.Journal.SaveDeadLetter(ctx, dl); err != nil {
			return fmt.Errorf("journal dead letter: %w", err)
		}
		if err := q.opts.Journal.DeleteOp(ctx, op.ID); err != nil {
			return fmt.Errorf("remove dropped op: %w", err)
		}
	}
	delete(q.byNote, op.NoteID)
	q.dead[op.NoteID] = dl
	return nil
}
