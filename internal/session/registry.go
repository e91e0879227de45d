package session

import (
	"errors"
	"sync"
)

// ErrFull is returned by Add when the registry is at capacity. Admission is
// rejected, never queued.
var ErrFull = errors.New("session registry full")

// Registry is a bounded concurrent set of live sessions. The listener adds,
// delivery loops remove on failure, shutdown bulk-removes; iteration is
// snapshot-based so it is safe while mutation happens elsewhere.
type Registry struct {
	mu       sync.Mutex
	max      int
	nextID   uint64
	sessions map[uint64]*Session
}

// NewRegistry creates a registry admitting at most max sessions.
func NewRegistry(max int) *Registry {
	return &Registry{
		max:      max,
		sessions: make(map[uint64]*Session),
	}
}

// Add registers s and assigns its ID. Fails with ErrFull at capacity.
func (r *Registry) Add(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sessions) >= r.max {
		return ErrFull
	}
	r.nextID++
	s.id = r.nextID
	r.sessions[s.id] = s
	return nil
}

// Remove deregisters the session with the given ID and reports whether it was
// present. Removing an already-removed session is a no-op.
func (r *Registry) Remove(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	return true
}

// Len returns the current session count.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Full reports whether the registry is at capacity.
func (r *Registry) Full() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions) >= r.max
}

// Snapshot returns a copy of the current session set for safe iteration.
func (r *Registry) Snapshot() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Clear removes every session and returns the removed set so the caller can
// close them.
func (r *Registry) Clear() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		out = append(out, s)
		delete(r.sessions, id)
	}
	return out
}
