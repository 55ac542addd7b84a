package syncer

import (
	"sync"
	"time"
)

// State is the sync status machine: idle → syncing → success|error → idle.
type State string

const (
	StateIdle    State = "idle"
	StateSyncing State = "syncing"
	StateSuccess State = "success"
	StateError   State = "error"
)

// Status is a snapshot of the client's sync state.
type Status struct {
	State      State
	LastSyncAt time.Time // end of the last completed cycle
	LastResult State     // success or error, empty before the first cycle
	LastError  error
}

// subscriberBuffer is how many transitions a slow subscriber may lag behind
// before the oldest are discarded.
const subscriberBuffer = 8

type statusHub struct {
	mu      sync.Mutex
	current Status
	subs    map[int]chan Status
	nextID  int
}

func newStatusHub() *statusHub {
	return &statusHub{
		current: Status{State: StateIdle},
		subs:    make(map[int]chan Status),
	}
}

func (h *statusHub) snapshot() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

func (h *statusHub) begin() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.current.State = StateSyncing
	h.publishLocked()
}

// finish publishes the terminal state, then returns to idle.
func (h *statusHub) finish(err error, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.current.LastSyncAt = at
	h.current.LastError = err
	h.current.LastResult = StateSuccess
	if err != nil {
		h.current.LastResult = StateError
	}
	h.current.State = h.current.LastResult
	h.publishLocked()

	h.current.State = StateIdle
	h.publishLocked()
}

func (h *statusHub) subscribe() (<-chan Status, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan Status, subscriberBuffer)
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			close(ch)
		})
	}
}

// publishLocked never blocks the sync cycle: a full subscriber loses its
// oldest pending transition.
func (h *statusHub) publishLocked() {
	st := h.current
	for _, ch := range h.subs {
		select {
		case ch <- st:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- st:
		default:
		}
	}
}
