// Package syncer drives offline-first synchronization between the Local
// Note Store and the sync server: pull-then-push cycles, reconciliation of
// pulled notes, and delivery of queued local edits.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jun/securenotes/internal/crypto"
	"github.com/jun/securenotes/internal/model"
	"github.com/jun/securenotes/internal/queue"
	"github.com/jun/securenotes/internal/store"
)

// DefaultPushConcurrency bounds in-flight push requests per cycle.
const DefaultPushConcurrency = 4

// LocalStore is the Local Note Store surface the client needs.
type LocalStore interface {
	NoteUpserter
	GetDirtyNotes(ctx context.Context) ([]model.Note, error)
	MarkSynced(ctx context.Context, id string, version int64, editStamp time.Time) (bool, error)
	LastPulledVersion(ctx context.Context) (int64, error)
	SetLastPulledVersion(ctx context.Context, version int64) (bool, error)
	RecordConflict(ctx context.Context, c store.Conflict) error
	ConflictNoteIDs(ctx context.Context) (map[string]bool, error)
	ResolveConflict(ctx context.Context, noteID string, keepLocal bool) (*model.Note, error)
}

// Outcome is what happened to one queued operation during a push.
type Outcome string

const (
	OutcomeSynced   Outcome = "synced"   // accepted (or replay acknowledged)
	OutcomeConflict Outcome = "conflict" // server kept its newer record
	OutcomeRetrying Outcome = "retrying" // transient failure, backoff scheduled
	OutcomeDropped  Outcome = "dropped"  // given up: retry ceiling or rejected payload
	OutcomeFailed   Outcome = "failed"   // local store error, op left queued
	OutcomeSkipped  Outcome = "skipped"  // not sent because the cycle was aborted
	OutcomeAborted  Outcome = "aborted"  // auth failure that aborted the cycle
)

type NoteResult struct {
	NoteID  string
	OpID    string
	Outcome Outcome
	Version int64 // server version, for synced and conflict
	Err     error
}

type PushResult struct {
	Results []NoteResult
}

// Count returns how many operations ended with outcome o.
func (r *PushResult) Count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

type PullResult struct {
	Report        ReconcileReport
	LatestVersion int64
	Advanced      bool // baseline moved forward
}

// SyncResult describes one cycle. Skipped is set when another cycle was
// already running and this call did nothing.
type SyncResult struct {
	Skipped bool
	Pull    *PullResult
	PullErr error
	Push    *PushResult
}

type Options struct {
	PushConcurrency int
	Logger          *slog.Logger
	Now             func() time.Time
}

// Client is the Sync Client. It is safe for concurrent use; at most one
// cycle runs at a time.
type Client struct {
	store      LocalStore
	remote     Remote
	queue      *queue.Queue
	enc        crypto.Encryptor
	reconciler *Reconciler

	logger      *slog.Logger
	now         func() time.Time
	concurrency int

	running atomic.Bool
	status  *statusHub
	trigger chan struct{}
}

func NewClient(s LocalStore, remote Remote, q *queue.Queue, enc crypto.Encryptor, opts Options) *Client {
	if opts.PushConcurrency <= 0 {
		opts.PushConcurrency = DefaultPushConcurrency
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Client{
		store:       s,
		remote:      remote,
		queue:       q,
		enc:         enc,
		reconciler:  NewReconciler(s, opts.Logger),
		logger:      opts.Logger,
		now:         opts.Now,
		concurrency: opts.PushConcurrency,
		status:      newStatusHub(),
		trigger:     make(chan struct{}, 1),
	}
}

// Status returns the current status snapshot.
func (c *Client) Status() Status {
	return c.status.snapshot()
}

// Subscribe returns a channel of status transitions and a func that
// unsubscribes and closes it.
func (c *Client) Subscribe() (<-chan Status, func()) {
	return c.status.subscribe()
}

// Sync runs one pull-then-push cycle. If a cycle is already running it
// returns immediately with Skipped set.
//
// A pull failure other than auth is logged and the push still runs; the
// pull error is returned after the push. An auth failure anywhere aborts
// the cycle.
func (c *Client) Sync(ctx context.Context) (*SyncResult, error) {
	if !c.running.CompareAndSwap(false, true) {
		return &SyncResult{Skipped: true}, nil
	}
	defer c.running.Store(false)

	c.status.begin()
	res, err := c.cycle(ctx)
	c.status.finish(err, c.now())
	return res, err
}

func (c *Client) cycle(ctx context.Context) (*SyncResult, error) {
	res := &SyncResult{}

	since, err := c.store.LastPulledVersion(ctx)
	if err != nil {
		return res, err
	}

	res.Pull, res.PullErr = c.Pull(ctx, since)
	if res.PullErr != nil {
		if IsAuth(res.PullErr) {
			return res, res.PullErr
		}
		c.logger.WarnContext(ctx, "pull failed, pushing anyway", "since", since, "err", res.PullErr)
	}

	res.Push, err = c.Push(ctx)
	if err != nil {
		return res, err
	}
	if res.PullErr != nil {
		return res, fmt.Errorf("pull: %w", res.PullErr)
	}
	return res, nil
}

// Pull fetches notes changed after since and reconciles them. The baseline
// advances only when every note was applied and latestVersion is strictly
// greater than the stored one. Notes that cannot be decrypted are logged and
// reported in a *DecryptError; the others are still applied, but the
// baseline is held so the failed ones are fetched again next cycle.
func (c *Client) Pull(ctx context.Context, since int64) (*PullResult, error) {
	resp, err := c.remote.Pull(ctx, since)
	if err != nil {
		return nil, err
	}

	notes, undecryptable := c.openAll(ctx, resp.Notes)
	report, err := c.reconciler.Apply(ctx, notes)
	if err != nil {
		return nil, err
	}
	res := &PullResult{Report: report, LatestVersion: resp.LatestVersion}
	if undecryptable != nil {
		return res, undecryptable
	}
	if res.Advanced, err = c.store.SetLastPulledVersion(ctx, resp.LatestVersion); err != nil {
		return nil, err
	}
	c.logger.DebugContext(ctx, "pulled", "since", since, "latest", resp.LatestVersion,
		"inserted", report.Inserted, "updated", report.Updated, "skipped_dirty", report.SkippedDirty)
	return res, nil
}

// Push queues every dirty note that is not already queued, dead-lettered or
// in conflict, then sends all ready operations concurrently. Each outcome
// is independent, except that an auth failure stops operations not yet sent
// and returns the *AuthError.
func (c *Client) Push(ctx context.Context) (*PushResult, error) {
	if err := c.enqueueDirty(ctx); err != nil {
		return nil, err
	}

	ops := c.queue.Drain(c.now())
	res := &PushResult{Results: make([]NoteResult, len(ops))}
	if len(ops) == 0 {
		return res, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, op := range ops {
		g.Go(func() error {
			var err error
			res.Results[i], err = c.pushOne(gctx, op)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		c.logger.ErrorContext(ctx, "push aborted", "err", err)
		return res, err
	}
	return res, nil
}

func (c *Client) enqueueDirty(ctx context.Context) error {
	dirty, err := c.store.GetDirtyNotes(ctx)
	if err != nil {
		return err
	}
	conflicts, err := c.store.ConflictNoteIDs(ctx)
	if err != nil {
		return err
	}

	for _, n := range dirty {
		if conflicts[n.ID] || c.queue.Dropped(n.ID, n.UpdatedAt) {
			continue
		}
		if op, ok := c.queue.Pending(n.ID); ok && op.EditStamp.Equal(n.UpdatedAt) && op.Payload.SyncVersion == n.SyncVersion {
			continue
		}

		payload, err := c.seal(ctx, n)
		if err != nil {
			c.logger.ErrorContext(ctx, "cannot encrypt note, not queued", "note", n.ID, "err", err)
			continue
		}

		opType := queue.OpUpdate
		switch {
		case n.IsDeleted():
			opType = queue.OpDelete
		case n.SyncVersion == 0:
			opType = queue.OpCreate
		}

		if _, err := c.queue.Enqueue(ctx, queue.Op{
			Type:      opType,
			NoteID:    n.ID,
			Payload:   payload,
			EditStamp: n.UpdatedAt,
		}); err != nil {
			return err
		}
	}
	return nil
}

// pushOne delivers one operation. The only error it returns is an
// *AuthError, which cancels ctx for the remaining operations. Local writes
// after the request ignore that cancellation so a delivered edit is always
// recorded.
func (c *Client) pushOne(ctx context.Context, op queue.Op) (NoteResult, error) {
	res := NoteResult{NoteID: op.NoteID, OpID: op.ID}
	if ctx.Err() != nil {
		res.Outcome = OutcomeSkipped
		return res, nil
	}

	resp, err := c.remote.Push(ctx, op.Payload)
	local := context.WithoutCancel(ctx)
	if err != nil {
		var se *ServerError
		switch {
		case IsAuth(err):
			res.Outcome, res.Err = OutcomeAborted, err
			return res, err
		case ctx.Err() != nil:
			res.Outcome = OutcomeSkipped
			return res, nil
		case errors.As(err, &se) && se.Permanent():
			c.logger.ErrorContext(ctx, "server rejected note, dropping edit", "note", op.NoteID, "status", se.StatusCode, "err", err)
			res.Outcome, res.Err = OutcomeDropped, err
			if derr := c.queue.Drop(local, op.ID, err); derr != nil {
				res.Outcome, res.Err = OutcomeFailed, derr
			}
			return res, nil
		}
		return c.retryLater(local, op, err), nil
	}

	res.Version = resp.Note.SyncVersion
	if resp.Conflict {
		return c.recordConflict(local, op, resp.Note, res), nil
	}

	if _, err := c.store.MarkSynced(local, op.NoteID, resp.Note.SyncVersion, op.EditStamp); err != nil {
		// The server has the edit; resending the same op is acknowledged
		// as a replay without a second increment.
		return c.retryLater(local, op, err), nil
	}
	if err := c.queue.Ack(local, op.ID); err != nil {
		c.logger.WarnContext(ctx, "failed to remove delivered op", "note", op.NoteID, "err", err)
	}
	res.Outcome = OutcomeSynced
	return res, nil
}

func (c *Client) recordConflict(ctx context.Context, op queue.Op, remote model.ServerNote, res NoteResult) NoteResult {
	opened, err := c.open(ctx, remote)
	if err != nil {
		return c.retryLater(ctx, op, fmt.Errorf("open conflicting note: %w", err))
	}

	err = c.store.RecordConflict(ctx, store.Conflict{NoteID: op.NoteID, Remote: opened, DetectedAt: c.now()})
	if err != nil {
		res.Outcome, res.Err = OutcomeFailed, err
		return res
	}
	if err := c.queue.Discard(ctx, op.ID); err != nil {
		c.logger.WarnContext(ctx, "failed to discard conflicting op", "note", op.NoteID, "err", err)
	}

	c.logger.WarnContext(ctx, "push conflict, note held until resolved", "note", op.NoteID,
		"local_version", op.Payload.SyncVersion, "server_version", remote.SyncVersion)
	res.Outcome = OutcomeConflict
	return res
}

func (c *Client) retryLater(ctx context.Context, op queue.Op, cause error) NoteResult {
	res := NoteResult{NoteID: op.NoteID, OpID: op.ID, Err: cause}

	dropped, err := c.queue.Fail(ctx, op.ID, cause)
	switch {
	case err != nil:
		res.Outcome, res.Err = OutcomeFailed, err
		c.logger.ErrorContext(ctx, "failed to reschedule op", "note", op.NoteID, "err", err)
	case dropped:
		res.Outcome = OutcomeDropped
		c.logger.ErrorContext(ctx, "giving up on edit", "note", op.NoteID, "attempts", op.Retries+1, "err", cause)
	default:
		res.Outcome = OutcomeRetrying
		c.logger.WarnContext(ctx, "push failed, will retry", "note", op.NoteID, "attempt", op.Retries+1, "err", cause)
	}
	return res
}

// Hydrate loads every note from the server, used right after login. The
// pull baseline moves to the newest change seen so the next pull is
// incremental.
func (c *Client) Hydrate(ctx context.Context) (ReconcileReport, error) {
	if !c.running.CompareAndSwap(false, true) {
		return ReconcileReport{}, ErrBusy
	}
	defer c.running.Store(false)

	serverNotes, err := c.remote.Notes(ctx)
	if err != nil {
		return ReconcileReport{}, err
	}

	var latest int64
	for _, sn := range serverNotes {
		latest = max(latest, sn.ChangeSeq)
	}

	notes, undecryptable := c.openAll(ctx, serverNotes)
	report, err := c.reconciler.Apply(ctx, notes)
	if err != nil {
		return report, err
	}
	if undecryptable != nil {
		return report, undecryptable
	}
	if _, err := c.store.SetLastPulledVersion(ctx, latest); err != nil {
		return report, err
	}
	return report, nil
}

// ResolveConflict closes an open conflict (see store.ResolveConflict) and,
// when the local copy is kept, schedules a cycle to push it.
func (c *Client) ResolveConflict(ctx context.Context, noteID string, keepLocal bool) (*model.Note, error) {
	n, err := c.store.ResolveConflict(ctx, noteID, keepLocal)
	if err != nil {
		return nil, err
	}
	if keepLocal {
		c.Trigger()
	}
	return n, nil
}

// Trigger asks a running Run loop for a cycle as soon as possible. Calls
// made while a request is already pending are coalesced.
func (c *Client) Trigger() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// Run syncs immediately, then every interval and on Trigger, until ctx is
// done. Cycle errors are logged, not returned; an auth failure keeps the
// loop alive so a later login resumes syncing.
func (c *Client) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		c.runCycle(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-c.trigger:
		}
	}
}

func (c *Client) runCycle(ctx context.Context) {
	res, err := c.Sync(ctx)
	switch {
	case IsAuth(err):
		c.logger.ErrorContext(ctx, "sync stopped: login required", "err", err)
	case err != nil:
		c.logger.ErrorContext(ctx, "sync failed", "err", err)
	case res.Skipped:
		c.logger.DebugContext(ctx, "sync already running")
	default:
		c.logger.InfoContext(ctx, "sync complete",
			"pulled", res.Pull.Report.Total(),
			"pushed", res.Push.Count(OutcomeSynced),
			"conflicts", res.Push.Count(OutcomeConflict),
			"retrying", res.Push.Count(OutcomeRetrying))
	}
}

func (c *Client) seal(ctx context.Context, n model.Note) (model.PushRequest, error) {
	title, err := c.enc.Encrypt(ctx, n.Title)
	if err != nil {
		return model.PushRequest{}, err
	}
	content, err := c.enc.Encrypt(ctx, n.Content)
	if err != nil {
		return model.PushRequest{}, err
	}
	return model.PushRequest{
		ID:               n.ID,
		EncryptedTitle:   title,
		EncryptedContent: content,
		SyncVersion:      n.SyncVersion,
		DeletedAt:        n.DeletedAt,
	}, nil
}

// openAll decrypts what it can. Failures are logged by note id and
// collected; the returned *DecryptError is nil when every note opened.
func (c *Client) openAll(ctx context.Context, serverNotes []model.ServerNote) ([]model.Note, *DecryptError) {
	notes := make([]model.Note, 0, len(serverNotes))
	var failed *DecryptError
	for _, sn := range serverNotes {
		n, err := c.open(ctx, sn)
		if err != nil {
			c.logger.ErrorContext(ctx, "cannot decrypt pulled note", "note", sn.ID, "version", sn.SyncVersion, "err", err)
			if failed == nil {
				failed = &DecryptError{Err: err}
			}
			failed.NoteIDs = append(failed.NoteIDs, sn.ID)
			continue
		}
		notes = append(notes, n)
	}
	return notes, failed
}

func (c *Client) open(ctx context.Context, sn model.ServerNote) (model.Note, error) {
	title, err := c.enc.Decrypt(ctx, sn.EncryptedTitle)
	if err != nil {
		return model.Note{}, err
	}
	content, err := c.enc.Decrypt(ctx, sn.EncryptedContent)
	if err != nil {
		return model.Note{}, err
	}
	return model.Note{
		ID:          sn.ID,
		Title:       title,
		Content:     content,
		SyncVersion: sn.SyncVersion,
		CreatedAt:   sn.CreatedAt,
		UpdatedAt:   sn.UpdatedAt,
		DeletedAt:   sn.DeletedAt,
	}, nil
}
