// Package checkpoint keeps serialized simulation states for the frames that
// may still be rolled back to.
//
// The store is owned by a single session and is not safe for concurrent use.
package checkpoint

import (
	"fmt"

	"github.com/yndnr/rollmesh-go/internal/core/domain"
)

// Store holds checkpoints keyed by frame with a fixed capacity.
type Store struct {
	entries  map[domain.Frame]domain.Checkpoint
	capacity int
	oldest   domain.Frame
	newest   domain.Frame
}

// New creates a store that holds at most capacity checkpoints.
// A session sizes it as prediction window + 2.
func New(capacity int) *Store {
	if capacity < 1 {
		capacity = 1
	}
	return &Store{
		entries:  make(map[domain.Frame]domain.Checkpoint, capacity),
		capacity: capacity,
		oldest:   domain.NullFrame,
		newest:   domain.NullFrame,
	}
}

// Save stores the state and input set for a frame, replacing any existing
// checkpoint for the same frame. Both are copied.
func (s *Store) Save(frame domain.Frame, state []byte, inputs domain.InputSet) error {
	if frame < 0 {
		return domain.ErrInvalidInput.WithDetails(fmt.Sprintf("checkpoint frame %d", frame))
	}
	if _, ok := s.entries[frame]; !ok && len(s.entries) >= s.capacity {
		return domain.ErrCheckpointCapacity.WithDetails(
			fmt.Sprintf("frame %d, holding %d..%d (capacity %d)", frame, s.oldest, s.newest, s.capacity))
	}

	st := make([]byte, len(state))
	copy(st, state)
	s.entries[frame] = domain.Checkpoint{
		Frame:  frame,
		State:  st,
		Inputs: inputs.Clone(),
	}

	if s.oldest.IsNull() || frame < s.oldest {
		s.oldest = frame
	}
	if frame > s.newest {
		s.newest = frame
	}
	return nil
}

// Load returns copies of the state and input set saved for a frame.
func (s *Store) Load(frame domain.Frame) ([]byte, domain.InputSet, error) {
	cp, ok := s.entries[frame]
	if !ok {
		return nil, domain.InputSet{}, domain.ErrCheckpointMissing.WithDetails(fmt.Sprintf("frame %d", frame))
	}
	st := make([]byte, len(cp.State))
	copy(st, cp.State)
	return st, cp.Inputs.Clone(), nil
}

// Inputs returns the input set saved with a frame without copying the state.
func (s *Store) Inputs(frame domain.Frame) (domain.InputSet, bool) {
	cp, ok := s.entries[frame]
	if !ok {
		return domain.InputSet{}, false
	}
	return cp.Inputs.Clone(), true
}

// EvictBefore removes every checkpoint strictly below frame and returns how
// many were removed.
func (s *Store) EvictBefore(frame domain.Frame) int {
	if s.oldest.IsNull() || frame <= s.oldest {
		return 0
	}

	removed := 0
	for f := range s.entries {
		if f < frame {
			delete(s.entries, f)
			removed++
		}
	}
	s.recomputeBounds()
	return removed
}

// Has reports whether a checkpoint exists for frame.
func (s *Store) Has(frame domain.Frame) bool {
	_, ok := s.entries[frame]
	return ok
}

// Len returns the number of stored checkpoints.
func (s *Store) Len() int {
	return len(s.entries)
}

// Capacity returns the maximum number of checkpoints.
func (s *Store) Capacity() int {
	return s.capacity
}

// Oldest returns the lowest stored frame, or NullFrame when empty.
func (s *Store) Oldest() domain.Frame {
	return s.oldest
}

// Newest returns the highest stored frame, or NullFrame when empty.
func (s *Store) Newest() domain.Frame {
	return s.newest
}

// Reset drops every checkpoint.
func (s *Store) Reset() {
	clear(s.entries)
	s.oldest = domain.NullFrame
	s.newest = domain.NullFrame
}

func (s *Store) recomputeBounds() {
	s.oldest = domain.NullFrame
	s.newest = domain.NullFrame
	for f := range s.entries {
		if s.oldest.IsNull() || f < s.oldest {
			s.oldest = f
		}
		if f > s.newest {
			s.newest = f
		}
	}
}
