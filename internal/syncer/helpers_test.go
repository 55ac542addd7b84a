package syncer

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jun/securenotes/internal/adapter/memory"
	"github.com/jun/securenotes/internal/crypto"
	"github.com/jun/securenotes/internal/model"
	"github.com/jun/securenotes/internal/queue"
	"github.com/jun/securenotes/internal/store"
)

const testUser = "user-1"

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeRemote runs the real server-side version rules in memory.
type fakeRemote struct {
	mu     sync.Mutex
	server *memory.NoteStore

	// pushErr, when set, fails a push before it reaches the server.
	pushErr func(req model.PushRequest) error
	// loseResponse applies the push but reports a network error.
	loseResponse bool
	pullErr      error
	pushes       []model.PushRequest
}

func newFakeRemote(server *memory.NoteStore) *fakeRemote {
	if server == nil {
		server = memory.NewNoteStore()
	}
	return &fakeRemote{server: server}
}

func (f *fakeRemote) Push(ctx context.Context, req model.PushRequest) (*model.PushResponse, error) {
	f.mu.Lock()
	f.pushes = append(f.pushes, req)
	pushErr, lose := f.pushErr, f.loseResponse
	f.mu.Unlock()

	if pushErr != nil {
		if err := pushErr(req); err != nil {
			return nil, err
		}
	}
	n, conflict, err := f.server.PushNote(ctx, testUser, req)
	if err != nil {
		return nil, &ServerError{StatusCode: 400, Body: err.Error()}
	}
	if lose {
		return nil, &NetworkError{Err: context.DeadlineExceeded}
	}
	return &model.PushResponse{Success: true, Note: *n, Conflict: conflict}, nil
}

func (f *fakeRemote) Pull(ctx context.Context, since int64) (*model.PullResponse, error) {
	f.mu.Lock()
	pullErr := f.pullErr
	f.mu.Unlock()
	if pullErr != nil {
		return nil, pullErr
	}
	notes, latest, err := f.server.PullNotes(ctx, testUser, since)
	if err != nil {
		return nil, err
	}
	return &model.PullResponse{Notes: notes, LatestVersion: latest}, nil
}

func (f *fakeRemote) Notes(ctx context.Context) ([]model.ServerNote, error) {
	return f.server.ListNotes(ctx, testUser)
}

func (f *fakeRemote) pushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushes)
}

func (f *fakeRemote) set(fn func(f *fakeRemote)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "notes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// device is one client installation: its own database, queue and client.
type device struct {
	store  *store.Store
	queue  *queue.Queue
	client *Client
	remote *fakeRemote
	clock  *testClock
}

func newDevice(t *testing.T, server *memory.NoteStore) *device {
	t.Helper()
	s := openStore(t)
	clock := newTestClock()
	q, err := queue.New(context.Background(), queue.Options{Journal: s, Now: clock.Now})
	require.NoError(t, err)
	remote := newFakeRemote(server)
	c := NewClient(s, remote, q, crypto.NewMockEncryptor(), Options{Now: clock.Now})
	return &device{store: s, queue: q, client: c, remote: remote, clock: clock}
}

func strptr(s string) *string { return &s }
