package syncer_test

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jun/securenotes/internal/adapter/memory"
	"github.com/jun/securenotes/internal/app"
	"github.com/jun/securenotes/internal/auth"
	"github.com/jun/securenotes/internal/crypto"
	"github.com/jun/securenotes/internal/model"
	"github.com/jun/securenotes/internal/queue"
	"github.com/jun/securenotes/internal/store"
	"github.com/jun/securenotes/internal/syncer"
)

type endToEnd struct {
	url    string
	server *memory.NoteStore
}

func startServer(t *testing.T) *endToEnd {
	t.Helper()
	const secret = "e2e-secret"
	notes := memory.NewNoteStore()
	a := app.New(app.Config{DevMode: true, JWTSecret: secret}, notes, auth.NewAuthService(nil, "", secret))
	srv := httptest.NewServer(a.HTTPHandler())
	t.Cleanup(srv.Close)
	return &endToEnd{url: srv.URL, server: notes}
}

type e2eDevice struct {
	store  *store.Store
	remote *syncer.HTTPRemote
	client *syncer.Client
	userID string
}

// login authenticates like the CLI does: the token and account are kept in
// the local store and the note key is derived from the account id.
func (e *endToEnd) login(t *testing.T, creds model.Credentials, register bool) *e2eDevice {
	t.Helper()
	ctx := context.Background()

	s, err := store.Open(filepath.Join(t.TempDir(), "notes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	remote := syncer.NewHTTPRemote(e.url, syncer.NewStoredTokenSource(s), 5*time.Second)
	session, err := remote.Authenticate(ctx, creds, register)
	require.NoError(t, err)
	require.NoError(t, s.SetMeta(ctx, syncer.TokenKey, session.Token))

	enc, err := crypto.NewPassphraseEncryptor("correct horse battery staple", crypto.AccountSalt(session.UserID))
	require.NoError(t, err)
	q, err := queue.New(ctx, queue.Options{Journal: s})
	require.NoError(t, err)

	return &e2eDevice{
		store:  s,
		remote: remote,
		client: syncer.NewClient(s, remote, q, enc, syncer.Options{}),
		userID: session.UserID,
	}
}

func TestEndToEnd_TwoDevices(t *testing.T) {
	ctx := context.Background()
	e := startServer(t)
	creds := model.Credentials{Email: "ada@example.com", Password: "analytical-engine"}

	laptop := e.login(t, creds, true)
	n, err := laptop.store.CreateNote(ctx, "Groceries", "milk, eggs")
	require.NoError(t, err)

	res, err := laptop.client.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Push.Count(syncer.OutcomeSynced))

	stored, err := e.server.GetNote(ctx, laptop.userID, n.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stored.SyncVersion)
	assert.NotContains(t, stored.EncryptedContent, "milk", "server only sees ciphertext")

	phone := e.login(t, creds, false)
	assert.Equal(t, laptop.userID, phone.userID)
	report, err := phone.client.Hydrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Inserted)

	got, err := phone.store.GetNote(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, "milk, eggs", got.Content)
	assert.False(t, got.IsDirty)

	_, err = phone.store.UpdateNote(ctx, n.ID, nil, strptr("milk, eggs, bread"))
	require.NoError(t, err)
	_, err = phone.client.Sync(ctx)
	require.NoError(t, err)

	res, err = laptop.client.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pull.Report.Updated)
	got, err = laptop.store.GetNote(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, "milk, eggs, bread", got.Content)
	assert.EqualValues(t, 2, got.SyncVersion)

	// Concurrent edits: the phone pushes first, the laptop conflicts.
	_, err = phone.store.UpdateNote(ctx, n.ID, nil, strptr("phone"))
	require.NoError(t, err)
	_, err = laptop.store.UpdateNote(ctx, n.ID, nil, strptr("laptop"))
	require.NoError(t, err)
	_, err = phone.client.Sync(ctx)
	require.NoError(t, err)

	res, err = laptop.client.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Push.Count(syncer.OutcomeConflict))

	conflicts, err := laptop.store.ListConflicts(ctx)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "phone", conflicts[0].Remote.Content)

	_, err = laptop.client.ResolveConflict(ctx, n.ID, true)
	require.NoError(t, err)
	_, err = laptop.client.Sync(ctx)
	require.NoError(t, err)

	_, err = phone.client.Sync(ctx)
	require.NoError(t, err)
	got, err = phone.store.GetNote(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, "laptop", got.Content)
	assert.EqualValues(t, 4, got.SyncVersion)

	// Deletion propagates as a tombstone.
	require.NoError(t, laptop.store.DeleteNote(ctx, n.ID))
	_, err = laptop.client.Sync(ctx)
	require.NoError(t, err)
	_, err = phone.client.Sync(ctx)
	require.NoError(t, err)
	live, err := phone.store.ListNotes(ctx)
	require.NoError(t, err)
	assert.Empty(t, live)
}

func TestEndToEnd_LoggedOutAbortsCycle(t *testing.T) {
	ctx := context.Background()
	e := startServer(t)
	d := e.login(t, model.Credentials{Email: "bob@example.com", Password: "hunter2hunter2"}, true)

	_, err := d.store.CreateNote(ctx, "draft", "")
	require.NoError(t, err)
	require.NoError(t, d.store.DeleteMeta(ctx, syncer.TokenKey))

	_, err = d.client.Sync(ctx)
	require.Error(t, err)
	assert.True(t, syncer.IsAuth(err))
	assert.Equal(t, syncer.StateError, d.client.Status().LastResult)

	stats, err := d.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Dirty)
}

func TestEndToEnd_BadTokenIsAuthError(t *testing.T) {
	ctx := context.Background()
	e := startServer(t)
	d := e.login(t, model.Credentials{Email: "eve@example.com", Password: "correct-password"}, true)
	require.NoError(t, d.store.SetMeta(ctx, syncer.TokenKey, strings.Repeat("x", 20)))

	_, err := d.client.Sync(ctx)
	assert.True(t, syncer.IsAuth(err))
}

func strptr(s string) *string { return &s }
