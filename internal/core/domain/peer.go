package domain

import (
	"sort"
	"time"
)

// PeerStatus is the connection state of a session participant.
type PeerStatus uint8

const (
	// PeerConnecting peers have not finished the sync handshake.
	PeerConnecting PeerStatus = iota + 1
	// PeerSynchronized peers exchange input normally.
	PeerSynchronized
	// PeerDisconnected peers timed out or left; their input is frozen.
	PeerDisconnected
)

// String implements fmt.Stringer.
func (s PeerStatus) String() string {
	switch s {
	case PeerConnecting:
		return "connecting"
	case PeerSynchronized:
		return "synchronized"
	case PeerDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// PeerRecord is the session's view of one participant.
type PeerRecord struct {
	ID     PeerID
	Handle int
	Local  bool
	Status PeerStatus

	// RTT is the smoothed round-trip estimate (zero until measured).
	RTT time.Duration

	// LastConfirmed is the newest frame through which every input of this
	// peer is known.
	LastConfirmed Frame

	// JoinFrame is the first frame that consumes this peer's real input.
	// Earlier frames use neutral input.
	JoinFrame Frame

	// LastRecv is the arrival time of the newest packet from this peer.
	LastRecv time.Time

	// SyncRoundtrips counts completed handshake round-trips.
	SyncRoundtrips int
}

// Active reports whether the peer still limits the confirmed frontier.
func (p PeerRecord) Active() bool {
	return p.Status != PeerDisconnected
}

// SortPeerIDs sorts IDs in handle order. Every participant sorts the same
// set the same way, so handles agree across the session.
func SortPeerIDs(ids []PeerID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

// PeerEventKind classifies roster changes surfaced to the host.
type PeerEventKind uint8

const (
	PeerEventJoined PeerEventKind = iota + 1
	PeerEventSynchronized
	PeerEventDisconnected
	PeerEventLeft
)

// String implements fmt.Stringer.
func (k PeerEventKind) String() string {
	switch k {
	case PeerEventJoined:
		return "joined"
	case PeerEventSynchronized:
		return "synchronized"
	case PeerEventDisconnected:
		return "disconnected"
	case PeerEventLeft:
		return "left"
	default:
		return "unknown"
	}
}

// PeerEvent reports a roster change.
type PeerEvent struct {
	Kind  PeerEventKind
	Peer  PeerID
	Frame Frame
}
