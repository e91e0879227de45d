// Package frame implements the single-slot latest-frame store shared between
// the capture source and the per-session delivery loops.
//
// The slot keeps exactly one frame. A write overwrites the previous frame and
// bumps a monotonically increasing generation counter; there is no queue and
// no history. Each consumer remembers the generation it last delivered and
// asks for anything newer, so any number of independent consumers can read
// the slot without hiding frames from each other.
package frame

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrNoFrame is returned by Next when the wait timed out before a newer
	// frame arrived. It is the liveness-check mechanism, not a failure.
	ErrNoFrame = errors.New("no new frame")

	// ErrClosed is returned once the slot has been shut down.
	ErrClosed = errors.New("frame slot closed")
)

// Slot is a single-slot, overwrite-on-write frame buffer.
//
// One producer writes; any number of consumers read. A reader never observes
// a half-written frame: the payload is copied in and out under the mutex.
type Slot struct {
	mu     sync.Mutex
	buf    []byte
	gen    uint64
	notify chan struct{} // closed and replaced on every write
	closed bool
	size   int
}

// NewSlot creates a slot for frames of exactly size bytes.
func NewSlot(size int) *Slot {
	return &Slot{
		buf:    make([]byte, size),
		notify: make(chan struct{}),
		size:   size,
	}
}

// Size returns the fixed frame size in bytes.
func (s *Slot) Size() int {
	return s.size
}

// Write replaces the stored frame and wakes every waiting consumer. It never
// blocks beyond the constant-time copy. Writing while nobody is waiting just
// replaces the previous frame.
func (s *Slot) Write(data []byte) error {
	if len(data) != s.size {
		return fmt.Errorf("frame size %d, want %d", len(data), s.size)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	copy(s.buf, data)
	s.gen++
	close(s.notify)
	s.notify = make(chan struct{})
	return nil
}

// Generation returns the generation of the currently stored frame. Zero means
// nothing has been written yet.
func (s *Slot) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// Latest copies out the current frame without waiting. ok is false when
// nothing has been written yet or the slot is closed.
func (s *Slot) Latest() (data []byte, gen uint64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.gen == 0 {
		return nil, 0, false
	}
	out := make([]byte, s.size)
	copy(out, s.buf)
	return out, s.gen, true
}

// Next blocks until a frame newer than lastGen is available, then copies it
// out. It returns ErrNoFrame when timeout elapses first, and ErrClosed once
// the slot has been closed. A slow consumer skips intermediate frames: it
// always gets the latest one, never an older or duplicate generation.
func (s *Slot) Next(lastGen uint64, timeout time.Duration) ([]byte, uint64, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, lastGen, ErrClosed
		}
		if s.gen > lastGen {
			out := make([]byte, s.size)
			copy(out, s.buf)
			gen := s.gen
			s.mu.Unlock()
			return out, gen, nil
		}
		wake := s.notify
		s.mu.Unlock()

		select {
		case <-wake:
		case <-timer.C:
			return nil, lastGen, ErrNoFrame
		}
	}
}

// Close shuts the slot down and wakes every waiting consumer. Subsequent
// writes and reads fail with ErrClosed. Idempotent.
func (s *Slot) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.notify)
}
