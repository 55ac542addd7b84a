package syncer

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jun/securenotes/internal/adapter/memory"
	"github.com/jun/securenotes/internal/crypto"
	"github.com/jun/securenotes/internal/model"
	"github.com/jun/securenotes/internal/queue"
)

func TestPush_EditAfterSyncKeepsVersion(t *testing.T) {
	ctx := context.Background()
	d := newDevice(t, nil)

	a, err := d.store.CreateNote(ctx, "A", "first")
	require.NoError(t, err)

	res, err := d.client.Push(ctx)
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, OutcomeSynced, res.Results[0].Outcome)
	assert.EqualValues(t, 1, res.Results[0].Version)

	got, err := d.store.GetNote(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, got.IsDirty)
	assert.EqualValues(t, 1, got.SyncVersion)

	_, err = d.store.UpdateNote(ctx, a.ID, nil, strptr("second"))
	require.NoError(t, err)
	got, err = d.store.GetNote(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.IsDirty)
	assert.EqualValues(t, 1, got.SyncVersion)

	// The server still has A at version 1; the pull must not touch the edit.
	pull, err := d.client.Pull(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, pull.Report.Inserted+pull.Report.Updated)
	got, err = d.store.GetNote(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "second", got.Content)
	assert.True(t, got.IsDirty)

	res, err = d.client.Push(ctx)
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, OutcomeSynced, res.Results[0].Outcome)
	assert.EqualValues(t, 2, res.Results[0].Version)

	got, err = d.store.GetNote(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, got.IsDirty)
	assert.EqualValues(t, 2, got.SyncVersion)
}

func TestSync_DirtyNoteSurvivesRemoteTombstone(t *testing.T) {
	ctx := context.Background()
	server := memory.NewNoteStore()
	x := newDevice(t, server)
	y := newDevice(t, server)

	b, err := x.store.CreateNote(ctx, "B", "from x")
	require.NoError(t, err)
	_, err = x.client.Sync(ctx)
	require.NoError(t, err)

	res, err := y.client.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pull.Report.Inserted)
	onY, err := y.store.GetNote(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, onY.IsDirty)
	assert.EqualValues(t, 1, onY.SyncVersion)

	_, err = y.store.UpdateNote(ctx, b.ID, nil, strptr("edited on y"))
	require.NoError(t, err)

	require.NoError(t, x.store.DeleteNote(ctx, b.ID))
	res, err = x.client.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Push.Count(OutcomeSynced))
	stored, err := server.GetNote(ctx, testUser, b.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stored.SyncVersion)
	assert.NotNil(t, stored.DeletedAt)

	since, err := y.store.LastPulledVersion(ctx)
	require.NoError(t, err)
	pull, err := y.client.Pull(ctx, since)
	require.NoError(t, err)
	assert.Equal(t, 1, pull.Report.SkippedDirty)

	onY, err = y.store.GetNote(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, onY.IsDeleted())
	assert.Equal(t, "edited on y", onY.Content)
	assert.True(t, onY.IsDirty)

	// Y's push is behind the tombstone: conflict, held until resolved.
	push, err := y.client.Push(ctx)
	require.NoError(t, err)
	require.Len(t, push.Results, 1)
	assert.Equal(t, OutcomeConflict, push.Results[0].Outcome)
	assert.Zero(t, y.queue.Len())

	conflicts, err := y.store.ListConflicts(ctx)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.NotNil(t, conflicts[0].Remote.DeletedAt)

	// Still in conflict: nothing is pushed.
	before := y.remote.pushCount()
	_, err = y.client.Push(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, y.remote.pushCount())

	resolved, err := y.client.ResolveConflict(ctx, b.ID, true)
	require.NoError(t, err)
	assert.EqualValues(t, 2, resolved.SyncVersion)
	assert.True(t, resolved.IsDirty)

	push, err = y.client.Push(ctx)
	require.NoError(t, err)
	require.Len(t, push.Results, 1)
	assert.Equal(t, OutcomeSynced, push.Results[0].Outcome)
	assert.EqualValues(t, 3, push.Results[0].Version)

	stored, err = server.GetNote(ctx, testUser, b.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.DeletedAt, "keeping the local edit revives the note")
	assert.Equal(t, "mock:edited on y", stored.EncryptedContent)
}

func TestResolveConflict_KeepRemote(t *testing.T) {
	ctx := context.Background()
	server := memory.NewNoteStore()
	x := newDevice(t, server)
	y := newDevice(t, server)

	n, err := x.store.CreateNote(ctx, "shared", "v1")
	require.NoError(t, err)
	_, err = x.client.Sync(ctx)
	require.NoError(t, err)
	_, err = y.client.Sync(ctx)
	require.NoError(t, err)

	_, err = x.store.UpdateNote(ctx, n.ID, nil, strptr("x wins"))
	require.NoError(t, err)
	_, err = y.store.UpdateNote(ctx, n.ID, nil, strptr("y loses"))
	require.NoError(t, err)
	_, err = x.client.Sync(ctx)
	require.NoError(t, err)

	res, err := y.client.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pull.Report.SkippedDirty)
	assert.Equal(t, 1, res.Push.Count(OutcomeConflict))

	got, err := y.client.ResolveConflict(ctx, n.ID, false)
	require.NoError(t, err)
	assert.Equal(t, "x wins", got.Content)
	assert.False(t, got.IsDirty)
	assert.EqualValues(t, 2, got.SyncVersion)

	conflicts, err := y.store.ListConflicts(ctx)
	require.NoError(t, err)
	assert.Empty(t, conflicts)
}

func TestPush_EditDuringFlightStaysDirty(t *testing.T) {
	ctx := context.Background()
	d := newDevice(t, nil)

	n, err := d.store.CreateNote(ctx, "t", "before")
	require.NoError(t, err)

	var once atomic.Bool
	d.remote.set(func(f *fakeRemote) {
		f.pushErr = func(model.PushRequest) error {
			if once.CompareAndSwap(false, true) {
				_, err := d.store.UpdateNote(ctx, n.ID, nil, strptr("during"))
				assert.NoError(t, err)
			}
			return nil
		}
	})

	res, err := d.client.Push(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSynced, res.Results[0].Outcome)

	got, err := d.store.GetNote(ctx, n.ID)
	require.NoError(t, err)
	assert.True(t, got.IsDirty, "edit made during the push must stay dirty")
	assert.EqualValues(t, 1, got.SyncVersion)
	assert.Equal(t, "during", got.Content)

	res, err = d.client.Push(ctx)
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, OutcomeSynced, res.Results[0].Outcome)
	assert.EqualValues(t, 2, res.Results[0].Version)

	got, err = d.store.GetNote(ctx, n.ID)
	require.NoError(t, err)
	assert.False(t, got.IsDirty)
}

func TestPush_LostResponseIsReplayed(t *testing.T) {
	ctx := context.Background()
	server := memory.NewNoteStore()
	d := newDevice(t, server)

	n, err := d.store.CreateNote(ctx, "t", "c")
	require.NoError(t, err)

	d.remote.set(func(f *fakeRemote) { f.loseResponse = true })
	res, err := d.client.Push(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRetrying, res.Results[0].Outcome)

	stored, err := server.GetNote(ctx, testUser, n.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stored.SyncVersion)

	// Backoff not elapsed: nothing sent.
	before := d.remote.pushCount()
	_, err = d.client.Push(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, d.remote.pushCount())

	d.remote.set(func(f *fakeRemote) { f.loseResponse = false })
	d.clock.Advance(queue.DefaultBackoffMin)
	res, err = d.client.Push(ctx)
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, OutcomeSynced, res.Results[0].Outcome)
	assert.EqualValues(t, 1, res.Results[0].Version, "a replay must not bump the version")

	stored, err = server.GetNote(ctx, testUser, n.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stored.SyncVersion)

	got, err := d.store.GetNote(ctx, n.ID)
	require.NoError(t, err)
	assert.False(t, got.IsDirty)
	assert.EqualValues(t, 1, got.SyncVersion)
}

func TestPush_GivesUpAfterMaxRetries(t *testing.T) {
	ctx := context.Background()
	d := newDevice(t, nil)

	n, err := d.store.CreateNote(ctx, "t", "c")
	require.NoError(t, err)
	d.remote.set(func(f *fakeRemote) {
		f.pushErr = func(model.PushRequest) error {
			return &NetworkError{Err: errors.New("connection refused")}
		}
	})

	var outcomes []Outcome
	for range queue.DefaultMaxRetries {
		res, err := d.client.Push(ctx)
		require.NoError(t, err)
		require.Len(t, res.Results, 1)
		outcomes = append(outcomes, res.Results[0].Outcome)
		d.clock.Advance(queue.DefaultBackoffMax)
	}
	assert.Equal(t, []Outcome{OutcomeRetrying, OutcomeRetrying, OutcomeRetrying, OutcomeRetrying, OutcomeDropped}, outcomes)
	assert.Zero(t, d.queue.Len())

	got, err := d.store.GetNote(ctx, n.ID)
	require.NoError(t, err)
	assert.True(t, d.queue.Dropped(n.ID, got.UpdatedAt))
	assert.True(t, got.IsDirty, "the local edit is kept")

	before := d.remote.pushCount()
	_, err = d.client.Push(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, d.remote.pushCount(), "a dropped edit is not requeued")

	d.remote.set(func(f *fakeRemote) { f.pushErr = nil })
	_, err = d.store.UpdateNote(ctx, n.ID, nil, strptr("again"))
	require.NoError(t, err)
	res, err := d.client.Push(ctx)
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, OutcomeSynced, res.Results[0].Outcome)
}

func TestPush_PermanentRejectionIsDropped(t *testing.T) {
	ctx := context.Background()
	d := newDevice(t, nil)

	n, err := d.store.CreateNote(ctx, "t", "huge")
	require.NoError(t, err)
	d.remote.set(func(f *fakeRemote) {
		f.pushErr = func(model.PushRequest) error {
			return &ServerError{StatusCode: http.StatusRequestEntityTooLarge}
		}
	})

	res, err := d.client.Push(ctx)
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, OutcomeDropped, res.Results[0].Outcome)
	assert.Zero(t, d.queue.Len())
	assert.True(t, d.queue.Dropped(n.ID, n.UpdatedAt))
	assert.Equal(t, 1, d.remote.pushCount())
}

func TestPush_ServerErrorIsRetried(t *testing.T) {
	ctx := context.Background()
	d := newDevice(t, nil)

	_, err := d.store.CreateNote(ctx, "t", "c")
	require.NoError(t, err)
	d.remote.set(func(f *fakeRemote) {
		f.pushErr = func(model.PushRequest) error {
			return &ServerError{StatusCode: http.StatusServiceUnavailable}
		}
	})

	res, err := d.client.Push(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRetrying, res.Results[0].Outcome)
	assert.Equal(t, 1, d.queue.Len())
}

func TestPush_AuthFailureAbortsAndKeepsQueue(t *testing.T) {
	ctx := context.Background()
	d := newDevice(t, nil)

	for _, title := range []string{"a", "b", "c"} {
		_, err := d.store.CreateNote(ctx, title, "")
		require.NoError(t, err)
	}
	d.remote.set(func(f *fakeRemote) {
		f.pushErr = func(model.PushRequest) error {
			return &AuthError{Err: errors.New("token expired")}
		}
	})

	res, err := d.client.Push(ctx)
	require.Error(t, err)
	assert.True(t, IsAuth(err))
	assert.GreaterOrEqual(t, res.Count(OutcomeAborted), 1)
	assert.Equal(t, 3, res.Count(OutcomeAborted)+res.Count(OutcomeSkipped))

	assert.Equal(t, 3, d.queue.Len())
	for _, op := range d.queue.Drain(d.clock.Now()) {
		assert.Zero(t, op.Retries, "auth failures do not count as attempts")
	}
}

func TestEnqueueDirty_OpTypes(t *testing.T) {
	ctx := context.Background()
	d := newDevice(t, nil)

	n, err := d.store.CreateNote(ctx, "t", "c")
	require.NoError(t, err)
	require.NoError(t, d.client.enqueueDirty(ctx))
	op, ok := d.queue.Pending(n.ID)
	require.True(t, ok)
	assert.Equal(t, queue.OpCreate, op.Type)
	assert.Equal(t, op.ID, op.Payload.OpID)
	assert.Equal(t, "mock:c", op.Payload.EncryptedContent)

	// Not yet pushed: an edit keeps it a create, with a fresh op.
	_, err = d.store.UpdateNote(ctx, n.ID, nil, strptr("c2"))
	require.NoError(t, err)
	require.NoError(t, d.client.enqueueDirty(ctx))
	op2, _ := d.queue.Pending(n.ID)
	assert.Equal(t, queue.OpCreate, op2.Type)
	assert.NotEqual(t, op.ID, op2.ID)
	assert.Equal(t, "mock:c2", op2.Payload.EncryptedContent)
	assert.Equal(t, 1, d.queue.Len())

	// Unchanged note: the queued op is left alone.
	require.NoError(t, d.client.enqueueDirty(ctx))
	op3, _ := d.queue.Pending(n.ID)
	assert.Equal(t, op2.ID, op3.ID)

	_, err = d.client.Push(ctx)
	require.NoError(t, err)

	_, err = d.store.UpdateNote(ctx, n.ID, nil, strptr("c3"))
	require.NoError(t, err)
	require.NoError(t, d.client.enqueueDirty(ctx))
	op, _ = d.queue.Pending(n.ID)
	assert.Equal(t, queue.OpUpdate, op.Type)
	assert.EqualValues(t, 1, op.Payload.SyncVersion)

	require.NoError(t, d.store.DeleteNote(ctx, n.ID))
	require.NoError(t, d.client.enqueueDirty(ctx))
	op, _ = d.queue.Pending(n.ID)
	assert.Equal(t, queue.OpDelete, op.Type)
	assert.NotNil(t, op.Payload.DeletedAt)
}

func TestSync_SkipsWhenAlreadyRunning(t *testing.T) {
	ctx := context.Background()
	d := newDevice(t, nil)
	_, err := d.store.CreateNote(ctx, "t", "c")
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	d.remote.set(func(f *fakeRemote) {
		f.pushErr = func(model.PushRequest) error {
			close(entered)
			<-release
			return nil
		}
	})

	done := make(chan error, 1)
	go func() {
		_, err := d.client.Sync(ctx)
		done <- err
	}()
	<-entered

	res, err := d.client.Sync(ctx)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, StateSyncing, d.client.Status().State)

	_, err = d.client.Hydrate(ctx)
	assert.ErrorIs(t, err, ErrBusy)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateIdle, d.client.Status().State)
}

func collect(t *testing.T, ch <-chan Status, n int) []State {
	t.Helper()
	var states []State
	for range n {
		select {
		case st := <-ch:
			states = append(states, st.State)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %v", states)
		}
	}
	return states
}

func TestSync_StatusTransitions(t *testing.T) {
	ctx := context.Background()
	d := newDevice(t, nil)

	first, cancelFirst := d.client.Subscribe()
	defer cancelFirst()
	second, cancelSecond := d.client.Subscribe()
	defer cancelSecond()

	_, err := d.client.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, []State{StateSyncing, StateSuccess, StateIdle}, collect(t, first, 3))
	assert.Equal(t, []State{StateSyncing, StateSuccess, StateIdle}, collect(t, second, 3))

	st := d.client.Status()
	assert.Equal(t, StateIdle, st.State)
	assert.Equal(t, StateSuccess, st.LastResult)
	assert.Equal(t, d.clock.Now(), st.LastSyncAt)

	d.remote.set(func(f *fakeRemote) { f.pullErr = &NetworkError{Err: errors.New("offline")} })
	_, err = d.client.Sync(ctx)
	require.Error(t, err)
	assert.Equal(t, []State{StateSyncing, StateError, StateIdle}, collect(t, first, 3))

	st = d.client.Status()
	assert.Equal(t, StateError, st.LastResult)
	assert.Error(t, st.LastError)
}

func TestSubscribe_CancelClosesChannel(t *testing.T) {
	d := newDevice(t, nil)
	ch, cancel := d.client.Subscribe()
	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok)

	_, err := d.client.Sync(context.Background())
	require.NoError(t, err)
}

func TestSubscribe_SlowSubscriberDoesNotBlock(t *testing.T) {
	d := newDevice(t, nil)
	ch, cancel := d.client.Subscribe()
	defer cancel()

	for range 10 {
		_, err := d.client.Sync(context.Background())
		require.NoError(t, err)
	}
	assert.Len(t, ch, subscriberBuffer)
}

func TestSync_PullFailureStillPushes(t *testing.T) {
	ctx := context.Background()
	server := memory.NewNoteStore()
	d := newDevice(t, server)

	n, err := d.store.CreateNote(ctx, "offline", "edit")
	require.NoError(t, err)
	d.remote.set(func(f *fakeRemote) { f.pullErr = &ServerError{StatusCode: http.StatusBadGateway} })

	res, err := d.client.Sync(ctx)
	require.Error(t, err)
	assert.Error(t, res.PullErr)
	require.NotNil(t, res.Push)
	assert.Equal(t, 1, res.Push.Count(OutcomeSynced))

	_, err = server.GetNote(ctx, testUser, n.ID)
	require.NoError(t, err)
}

func TestSync_AuthFailureOnPullAborts(t *testing.T) {
	ctx := context.Background()
	d := newDevice(t, nil)

	_, err := d.store.CreateNote(ctx, "t", "c")
	require.NoError(t, err)
	d.remote.set(func(f *fakeRemote) { f.pullErr = &AuthError{Err: ErrNoCredential} })

	res, err := d.client.Sync(ctx)
	require.Error(t, err)
	assert.True(t, IsAuth(err))
	assert.ErrorIs(t, err, ErrNoCredential)
	assert.Nil(t, res.Push)
	assert.Zero(t, d.remote.pushCount())
}

func TestPull_AdvancesBaselineOnlyForward(t *testing.T) {
	ctx := context.Background()
	server := memory.NewNoteStore()
	x := newDevice(t, server)
	y := newDevice(t, server)

	for _, title := range []string{"a", "b"} {
		_, err := x.store.CreateNote(ctx, title, "")
		require.NoError(t, err)
	}
	_, err := x.client.Sync(ctx)
	require.NoError(t, err)

	res, err := y.client.Pull(ctx, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 2, res.LatestVersion)
	assert.True(t, res.Advanced)

	res, err = y.client.Pull(ctx, 2)
	require.NoError(t, err)
	assert.False(t, res.Advanced)

	// Re-pulling from an older cursor never moves the baseline back.
	res, err = y.client.Pull(ctx, 1)
	require.NoError(t, err)
	assert.False(t, res.Advanced)
	baseline, err := y.store.LastPulledVersion(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, baseline)
}

func TestPull_UndecryptableNoteIsReportedAndHoldsBaseline(t *testing.T) {
	ctx := context.Background()
	server := memory.NewNoteStore()
	shared, err := crypto.NewPassphraseEncryptor("shared passphrase", crypto.AccountSalt(testUser))
	require.NoError(t, err)
	x := newDevice(t, server)
	x.client.enc = shared

	readable, err := x.store.CreateNote(ctx, "readable", "")
	require.NoError(t, err)
	_, err = x.client.Sync(ctx)
	require.NoError(t, err)

	// A device with a different key writes a note nobody else can open.
	z := newDevice(t, server)
	other, err := crypto.NewPassphraseEncryptor("another passphrase", crypto.AccountSalt(testUser))
	require.NoError(t, err)
	z.client.enc = other
	foreign, err := z.store.CreateNote(ctx, "foreign", "")
	require.NoError(t, err)
	_, err = z.client.Push(ctx)
	require.NoError(t, err)

	y := newDevice(t, server)
	y.client.enc = shared
	res, err := y.client.Pull(ctx, 0)
	require.Error(t, err)
	var de *DecryptError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, []string{foreign.ID}, de.NoteIDs)
	assert.Contains(t, err.Error(), foreign.ID)
	require.NotNil(t, res)
	assert.Equal(t, 1, res.Report.Inserted)
	assert.False(t, res.Advanced)

	baseline, err := y.store.LastPulledVersion(ctx)
	require.NoError(t, err)
	assert.Zero(t, baseline, "the foreign note is fetched again next time")
	n, err := y.store.GetNote(ctx, readable.ID)
	require.NoError(t, err)
	assert.Equal(t, "readable", n.Title)

	// The next cycle still pushes local edits.
	_, err = y.store.CreateNote(ctx, "from y", "")
	require.NoError(t, err)
	sres, err := y.client.Sync(ctx)
	require.Error(t, err)
	assert.ErrorAs(t, err, &de)
	assert.Equal(t, 1, sres.Push.Count(OutcomeSynced))
}

func TestHydrate(t *testing.T) {
	ctx := context.Background()
	server := memory.NewNoteStore()
	x := newDevice(t, server)

	for _, title := range []string{"a", "b", "c"} {
		_, err := x.store.CreateNote(ctx, title, "")
		require.NoError(t, err)
	}
	_, err := x.client.Sync(ctx)
	require.NoError(t, err)

	y := newDevice(t, server)
	report, err := y.client.Hydrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Inserted)

	baseline, err := y.store.LastPulledVersion(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, baseline)

	res, err := y.client.Sync(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Pull.Report.Total())
	assert.Empty(t, res.Push.Results)
}

func TestRun_SyncsOnTrigger(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	server := memory.NewNoteStore()
	d := newDevice(t, server)

	ch, unsubscribe := d.client.Subscribe()
	defer unsubscribe()

	done := make(chan error, 1)
	go func() { done <- d.client.Run(ctx, time.Hour) }()

	// Initial cycle.
	collect(t, ch, 3)

	n, err := d.store.CreateNote(ctx, "later", "")
	require.NoError(t, err)
	d.client.Trigger()
	assert.Equal(t, []State{StateSyncing, StateSuccess, StateIdle}, collect(t, ch, 3))

	_, err = server.GetNote(ctx, testUser, n.ID)
	require.NoError(t, err)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
