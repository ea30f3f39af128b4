package session

import (
	"sync"
	"time"

	"github.com/amoylab/botgate/internal/provider"

	"github.com/google/uuid"
)

// Record is one user's provider handle and its derived state. The handle is
// owned by the record and dropped once disposed.
type Record struct {
	UserID     string
	InstanceID string
	CreatedAt  time.Time

	mu        sync.RWMutex
	handle    provider.Handle
	state     State
	updatedAt time.Time
	lastError string

	qmu      sync.Mutex
	pending  []provider.Event
	signal   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// Snapshot is a point-in-time copy of a Record
type Snapshot struct {
	UserID     string    `json:"userId"`
	InstanceID string    `json:"instanceId"`
	State      State     `json:"state"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	Error      string    `json:"error,omitempty"`
}

func newRecord(userID string, h provider.Handle, queueSize int) *Record {
	now := time.Now()
	return &Record{
		UserID:     userID,
		InstanceID: uuid.NewString(),
		CreatedAt:  now,
		handle:     h,
		state:      StateUninitialized,
		updatedAt:  now,
		pending:    make([]provider.Event, 0, queueSize),
		signal:     make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

// State returns the current state
func (r *Record) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Handle returns the provider handle, or nil once it has been disposed
func (r *Record) Handle() provider.Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handle
}

// Snapshot returns a copy safe to hand out
func (r *Record) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Snapshot{
		UserID:     r.UserID,
		InstanceID: r.InstanceID,
		State:      r.state,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.updatedAt,
		Error:      r.lastError,
	}
}

// setState stores s and returns the previous state
func (r *Record) setState(s State, reason string) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.state
	r.state = s
	r.updatedAt = time.Now()
	if reason != "" {
		r.lastError = reason
	}
	return prev
}

// takeHandle detaches the handle so it is disposed exactly once
func (r *Record) takeHandle() provider.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.handle
	r.handle = nil
	return h
}

// push queues ev for the event loop without blocking. It reports false once
// the record has been stopped.
func (r *Record) push(ev provider.Event) bool {
	if r.stopped() {
		return false
	}
	r.qmu.Lock()
	r.pending = append(r.pending, ev)
	r.qmu.Unlock()

	select {
	case r.signal <- struct{}{}:
	default:
	}
	return true
}

// drain returns the queued events in arrival order and empties the queue
func (r *Record) drain() []provider.Event {
	r.qmu.Lock()
	defer r.qmu.Unlock()
	out := r.pending
	r.pending = nil
	return out
}

// stop ends the record's event loop. Events arriving afterwards are dropped.
func (r *Record) stop() {
	r.stopOnce.Do(func() { close(r.done) })
}

func (r *Record) stopped() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}
