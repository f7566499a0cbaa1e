// Package transport defines the peer channel a session exchanges packets
// over, plus helpers shared by its implementations.
package transport

import (
	"sync"

	"github.com/yndnr/rollmesh-go/internal/core/domain"
)

// Packet is a datagram received from a peer.
type Packet struct {
	From domain.PeerID
	Data []byte
}

// Channel is an unreliable, unordered datagram link to the other session
// participants.
type Channel interface {
	// LocalID returns the local peer's ID.
	LocalID() domain.PeerID

	// Send delivers data to a peer on a best-effort basis. A nil error does
	// not mean the packet arrived.
	Send(to domain.PeerID, data []byte) error

	// Receive drains the packets that arrived since the previous call.
	// It never blocks.
	Receive() []Packet

	// Peers returns the currently reachable peers.
	Peers() []domain.PeerID
}

// MembershipEvent reports a peer appearing on or leaving the channel.
type MembershipEvent struct {
	Peer   domain.PeerID
	Joined bool
}

// MembershipSource is implemented by channels that learn about peers on
// their own, such as gossip membership.
type MembershipSource interface {
	// MembershipEvents drains the events since the previous call.
	MembershipEvents() []MembershipEvent
}

// DefaultInboxSize bounds an Inbox when no size is given.
const DefaultInboxSize = 4096

// Inbox is a bounded queue filled by receive goroutines and drained by the
// session once per frame. Packets beyond the bound are dropped.
type Inbox struct {
	mu      sync.Mutex
	packets []Packet
	events  []MembershipEvent
	max     int
	dropped uint64
}

// NewInbox creates an inbox holding at most max packets.
func NewInbox(max int) *Inbox {
	if max <= 0 {
		max = DefaultInboxSize
	}
	return &Inbox{max: max}
}

// Push queues a packet, reporting false when the inbox is full.
func (in *Inbox) Push(p Packet) bool {
	in.mu.Lock()
	defer in.mu.Unlock()

	if len(in.packets) >= in.max {
		in.dropped++
		return false
	}
	in.packets = append(in.packets, p)
	return true
}

// Drain returns and clears the queued packets.
func (in *Inbox) Drain() []Packet {
	in.mu.Lock()
	defer in.mu.Unlock()

	out := in.packets
	in.packets = nil
	return out
}

// PushEvent queues a membership event.
func (in *Inbox) PushEvent(ev MembershipEvent) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.events = append(in.events, ev)
}

// DrainEvents returns and clears the queued membership events.
func (in *Inbox) DrainEvents() []MembershipEvent {
	in.mu.Lock()
	defer in.mu.Unlock()

	out := in.events
	in.events = nil
	return out
}

// Dropped returns how many packets were refused because the inbox was full.
func (in *Inbox) Dropped() uint64 {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.dropped
}
