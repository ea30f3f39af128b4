package session

import (
	"errors"
	"sort"
	"sync"
)

var (
	// ErrSessionNotFound is returned when no session exists for a user
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidUserID is returned for empty or oversized user ids
	ErrInvalidUserID = errors.New("invalid user id")
)

// Registry maps user ids to their current session record
type Registry interface {
	// Get returns the record for userID or ErrSessionNotFound
	Get(userID string) (*Record, error)

	// Put stores rec for userID, replacing any prior entry
	Put(userID string, rec *Record)

	// Remove deletes the entry for userID if present
	Remove(userID string)

	// List returns every record ordered by user id
	List() []*Record
}

// MemoryRegistry implements Registry in process memory
type MemoryRegistry struct {
	mu      sync.RWMutex
	records map[string]*Record
}

var _ Registry = (*MemoryRegistry)(nil)

// NewMemoryRegistry creates an empty registry
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		records: make(map[string]*Record),
	}
}

// Get implements Registry.Get
func (r *MemoryRegistry) Get(userID string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[userID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return rec, nil
}

// Put implements Registry.Put
func (r *MemoryRegistry) Put(userID string, rec *Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[userID] = rec
}

// Remove implements Registry.Remove
func (r *MemoryRegistry) Remove(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, userID)
}

// List implements Registry.List
func (r *MemoryRegistry) List() []*Record {
	r.mu.RLock()
	records := make([]*Record, 0, len(r.records))
	for _, rec := range r.records {
		records = append(records, rec)
	}
	r.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		return records[i].UserID < records[j].UserID
	})
	return records
}
