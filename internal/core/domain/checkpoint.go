package domain

import (
	"encoding/hex"
	"fmt"
)

// Checkpoint is a serialized simulation state tied to the frame it
// represents and the input set that produced it.
type Checkpoint struct {
	Frame  Frame
	State  []byte
	Inputs InputSet
}

// DigestSize is the length of a state digest in bytes.
const DigestSize = 16

// Digest is a fingerprint of serialized simulation state.
type Digest [DigestSize]byte

// String renders the digest as hex.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// MarshalText implements encoding.TextMarshaler.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// ChecksumRecord is a state digest produced by a peer for a frame.
type ChecksumRecord struct {
	Frame  Frame
	Digest Digest
	Peer   PeerID
}

// Desync reports that a peer's state digest disagrees with ours.
type Desync struct {
	Frame  Frame
	Peer   PeerID
	Local  Digest
	Remote Digest
}

// String implements fmt.Stringer.
func (d Desync) String() string {
	return fmt.Sprintf("desync at frame %d with %s (local %s, remote %s)", d.Frame, d.Peer, d.Local, d.Remote)
}
