package domain

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
)

// Frame identifies a discrete simulation step.
//
// Frame 0 is the initial state; advancing from frame N to N+1 consumes the
// input set for frame N+1.
type Frame int32

// NullFrame marks the absence of a frame.
const NullFrame Frame = -1

// IsNull reports whether f is NullFrame.
func (f Frame) IsNull() bool {
	return f == NullFrame
}

// PeerID identifies a session participant.
type PeerID string

// Input is one peer's encoded input for one frame.
// All inputs in a session have the same length.
type Input []byte

// NeutralInput returns the no-op input of the given size.
func NeutralInput(size int) Input {
	return make(Input, size)
}

// Clone returns a copy of the input.
func (in Input) Clone() Input {
	if in == nil {
		return nil
	}
	out := make(Input, len(in))
	copy(out, in)
	return out
}

// Equal reports whether two inputs carry the same bytes.
func (in Input) Equal(other Input) bool {
	return bytes.Equal(in, other)
}

// String renders the input as hex.
func (in Input) String() string {
	return hex.EncodeToString(in)
}

// InputStatus tags whether an input is known or guessed.
type InputStatus uint8

const (
	// InputConfirmed inputs were produced locally or received from their peer.
	InputConfirmed InputStatus = iota + 1
	// InputPredicted inputs were synthesized while the real input is missing.
	InputPredicted
)

// String implements fmt.Stringer.
func (s InputStatus) String() string {
	switch s {
	case InputConfirmed:
		return "confirmed"
	case InputPredicted:
		return "predicted"
	default:
		return "unknown"
	}
}

// PlayerInput is one entry of an input set.
type PlayerInput struct {
	Peer   PeerID
	Status InputStatus
	Bits   Input
}

// Confirmed reports whether the entry is authoritative.
func (p PlayerInput) Confirmed() bool {
	return p.Status == InputConfirmed
}

// InputSet holds exactly one input per roster peer for a single frame,
// ordered by peer handle.
type InputSet struct {
	Frame  Frame
	Inputs []PlayerInput
}

// Get returns the entry for a peer.
func (s InputSet) Get(peer PeerID) (PlayerInput, bool) {
	for _, in := range s.Inputs {
		if in.Peer == peer {
			return in, true
		}
	}
	return PlayerInput{}, false
}

// Handle returns the entry at a handle. The zero value is returned for an
// out-of-range handle.
func (s InputSet) Handle(handle int) PlayerInput {
	if handle < 0 || handle >= len(s.Inputs) {
		return PlayerInput{}
	}
	return s.Inputs[handle]
}

// AllConfirmed reports whether no entry is predicted.
func (s InputSet) AllConfirmed() bool {
	for _, in := range s.Inputs {
		if !in.Confirmed() {
			return false
		}
	}
	return true
}

// SameBits reports whether two sets carry identical input values for the
// same peers, ignoring the confirmed/predicted tags.
func (s InputSet) SameBits(other InputSet) bool {
	if len(s.Inputs) != len(other.Inputs) {
		return false
	}
	for i := range s.Inputs {
		if s.Inputs[i].Peer != other.Inputs[i].Peer || !s.Inputs[i].Bits.Equal(other.Inputs[i].Bits) {
			return false
		}
	}
	return true
}

// Equal reports whether two sets are identical, tags included.
func (s InputSet) Equal(other InputSet) bool {
	if s.Frame != other.Frame || !s.SameBits(other) {
		return false
	}
	for i := range s.Inputs {
		if s.Inputs[i].Status != other.Inputs[i].Status {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (s InputSet) Clone() InputSet {
	out := InputSet{Frame: s.Frame}
	if s.Inputs != nil {
		out.Inputs = make([]PlayerInput, len(s.Inputs))
		for i, in := range s.Inputs {
			out.Inputs[i] = PlayerInput{Peer: in.Peer, Status: in.Status, Bits: in.Bits.Clone()}
		}
	}
	return out
}

// String implements fmt.Stringer.
func (s InputSet) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "frame=%d", s.Frame)
	for _, in := range s.Inputs {
		fmt.Fprintf(&b, " %s:%s", in.Peer, in.Bits)
		if in.Status == InputPredicted {
			b.WriteByte('?')
		}
	}
	return b.String()
}
