package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jun/securenotes/internal/adapter"
	"github.com/jun/securenotes/internal/model"
)

// NoteStore implements adapter.NoteStore with process-local maps.
// It backs tests and DEV_MODE servers; nothing survives a restart.
type NoteStore struct {
	mu    sync.Mutex
	notes map[string]map[string]*model.ServerNote // userID -> noteID -> note
	seq   map[string]int64                        // userID -> last change sequence

	now func() time.Time
}

// NewNoteStore returns an empty in-memory store.
func NewNoteStore() *NoteStore {
	return &NoteStore{
		notes: make(map[string]map[string]*model.ServerNote),
		seq:   make(map[string]int64),
		now:   time.Now,
	}
}

func (m *NoteStore) PushNote(ctx context.Context, userID string, req model.PushRequest) (*model.ServerNote, bool, error) {
	if err := adapter.ValidatePush(req); err != nil {
		return nil, false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	userNotes, ok := m.notes[userID]
	if !ok {
		userNotes = make(map[string]*model.ServerNote)
		m.notes[userID] = userNotes
	}

	existing := userNotes[req.ID]
	next, outcome := adapter.ResolvePush(existing, userID, req, m.seq[userID]+1, m.now().UTC())
	if outcome.Writes() {
		m.seq[userID] = next.ChangeSeq
		stored := next
		userNotes[req.ID] = &stored
	}

	out := next
	return &out, outcome == adapter.OutcomeConflict, nil
}

func (m *NoteStore) PullNotes(ctx context.Context, userID string, since int64) ([]model.ServerNote, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	notes := make([]model.ServerNote, 0)
	latest := since
	for _, n := range m.notes[userID] {
		if n.ChangeSeq <= since {
			continue
		}
		notes = append(notes, *n)
		if n.ChangeSeq > latest {
			latest = n.ChangeSeq
		}
	}

	sort.Slice(notes, func(i, j int) bool {
		return notes[i].ChangeSeq < notes[j].ChangeSeq
	})
	return notes, latest, nil
}

func (m *NoteStore) ListNotes(ctx context.Context, userID string) ([]model.ServerNote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	notes := make([]model.ServerNote, 0, len(m.notes[userID]))
	for _, n := range m.notes[userID] {
		notes = append(notes, *n)
	}

	sort.Slice(notes, func(i, j int) bool {
		return notes[i].UpdatedAt.After(notes[j].UpdatedAt)
	})
	return notes, nil
}

// GetNote returns a copy of a stored note.
func (m *NoteStore) GetNote(ctx context.Context, userID, noteID string) (*model.ServerNote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.notes[userID][noteID]
	if !ok {
		return nil, adapter.ErrNotFound
	}
	out := *n
	return &out, nil
}
