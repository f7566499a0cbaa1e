// Package memnet is an in-process peer network with a virtual clock.
//
// Packets are delivered when the network is ticked, after a configurable
// latency plus seeded jitter, and may be dropped or duplicated. The same
// seed always produces the same delivery schedule, which makes session tests
// reproducible.
package memnet

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"github.com/yndnr/rollmesh-go/internal/core/domain"
	"github.com/yndnr/rollmesh-go/internal/transport"
)

// Config describes link behaviour. Latency and Jitter are in ticks.
type Config struct {
	Latency   int
	Jitter    int
	Loss      float64
	Duplicate float64
	Seed      int64
}

// Verdict is a filter's decision about one packet.
type Verdict struct {
	Drop  bool
	Delay int
}

// Filter inspects each packet at send time. It runs before loss and
// duplication are applied.
type Filter func(from, to domain.PeerID, data []byte) Verdict

// Stats counts packets on the network.
type Stats struct {
	Sent       uint64
	Delivered  uint64
	Dropped    uint64
	Duplicated uint64
}

type delivery struct {
	at  int64
	seq uint64
	to  domain.PeerID
	pkt transport.Packet
}

// Network connects endpoints in the same process.
type Network struct {
	mu sync.Mutex

	cfg Config
	rng *rand.Rand

	now       int64
	seq       uint64
	endpoints map[domain.PeerID]*Endpoint
	inflight  []delivery
	down      map[[2]domain.PeerID]bool
	filter    Filter
	stats     Stats
}

// New creates an empty network.
func New(cfg Config) *Network {
	return &Network{
		cfg:       cfg,
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		endpoints: make(map[domain.PeerID]*Endpoint),
		down:      make(map[[2]domain.PeerID]bool),
	}
}

// Endpoint attaches a peer to the network, or returns the existing endpoint.
func (n *Network) Endpoint(id domain.PeerID) *Endpoint {
	n.mu.Lock()
	defer n.mu.Unlock()

	if ep, ok := n.endpoints[id]; ok {
		return ep
	}
	ep := &Endpoint{id: id, net: n, inbox: transport.NewInbox(0)}
	for other, oep := range n.endpoints {
		oep.inbox.PushEvent(transport.MembershipEvent{Peer: id, Joined: true})
		ep.inbox.PushEvent(transport.MembershipEvent{Peer: other, Joined: true})
	}
	n.endpoints[id] = ep
	return ep
}

// Remove detaches a peer. In-flight packets to it are lost.
func (n *Network) Remove(id domain.PeerID) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.endpoints[id]; !ok {
		return
	}
	delete(n.endpoints, id)
	for _, ep := range n.endpoints {
		ep.inbox.PushEvent(transport.MembershipEvent{Peer: id})
	}
}

// SetFilter installs a packet filter; nil removes it.
func (n *Network) SetFilter(f Filter) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.filter = f
}

// SetLinkDown cuts or restores traffic between two peers in both directions.
func (n *Network) SetLinkDown(a, b domain.PeerID, down bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.down[linkKey(a, b)] = down
}

// Now returns the virtual time in ticks.
func (n *Network) Now() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.now
}

// Tick advances virtual time by one and delivers every packet that is due.
func (n *Network) Tick() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.now++
	sort.Slice(n.inflight, func(i, j int) bool {
		if n.inflight[i].at != n.inflight[j].at {
			return n.inflight[i].at < n.inflight[j].at
		}
		return n.inflight[i].seq < n.inflight[j].seq
	})

	kept := n.inflight[:0]
	for _, d := range n.inflight {
		if d.at > n.now {
			kept = append(kept, d)
			continue
		}
		ep, ok := n.endpoints[d.to]
		if !ok || !ep.inbox.Push(d.pkt) {
			n.stats.Dropped++
			continue
		}
		n.stats.Delivered++
	}
	n.inflight = kept
}

// Pending returns the number of packets in flight.
func (n *Network) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.inflight)
}

// Stats returns packet counters.
func (n *Network) Stats() Stats {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stats
}

func (n *Network) send(from, to domain.PeerID, data []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.endpoints[from]; !ok {
		return fmt.Errorf("memnet: endpoint %s detached", from)
	}
	n.stats.Sent++
	if _, ok := n.endpoints[to]; !ok || n.down[linkKey(from, to)] {
		n.stats.Dropped++
		return nil
	}

	extra := 0
	if n.filter != nil {
		v := n.filter(from, to, data)
		if v.Drop {
			n.stats.Dropped++
			return nil
		}
		extra = v.Delay
	}
	if n.cfg.Loss > 0 && n.rng.Float64() < n.cfg.Loss {
		n.stats.Dropped++
		return nil
	}

	copies := 1
	if n.cfg.Duplicate > 0 && n.rng.Float64() < n.cfg.Duplicate {
		copies = 2
		n.stats.Duplicated++
	}
	for i := 0; i < copies; i++ {
		delay := n.cfg.Latency + extra
		if n.cfg.Jitter > 0 {
			delay += n.rng.Intn(n.cfg.Jitter + 1)
		}
		n.seq++
		n.inflight = append(n.inflight, delivery{
			at:  n.now + int64(delay) + 1,
			seq: n.seq,
			to:  to,
			pkt: transport.Packet{From: from, Data: append([]byte(nil), data...)},
		})
	}
	return nil
}

func (n *Network) peers(self domain.PeerID) []domain.PeerID {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]domain.PeerID, 0, len(n.endpoints))
	for id := range n.endpoints {
		if id != self {
			out = append(out, id)
		}
	}
	domain.SortPeerIDs(out)
	return out
}

func linkKey(a, b domain.PeerID) [2]domain.PeerID {
	if b < a {
		a, b = b, a
	}
	return [2]domain.PeerID{a, b}
}

// Endpoint is one peer's view of the network. It implements
// transport.Channel and transport.MembershipSource.
type Endpoint struct {
	id    domain.PeerID
	net   *Network
	inbox *transport.Inbox
}

var (
	_ transport.Channel          = (*Endpoint)(nil)
	_ transport.MembershipSource = (*Endpoint)(nil)
)

// LocalID implements transport.Channel.
func (e *Endpoint) LocalID() domain.PeerID { return e.id }

// Send implements transport.Channel.
func (e *Endpoint) Send(to domain.PeerID, data []byte) error {
	return e.net.send(e.id, to, data)
}

// Receive implements transport.Channel.
func (e *Endpoint) Receive() []transport.Packet { return e.inbox.Drain() }

// Peers implements transport.Channel.
func (e *Endpoint) Peers() []domain.PeerID { return e.net.peers(e.id) }

// MembershipEvents implements transport.MembershipSource.
func (e *Endpoint) MembershipEvents() []transport.MembershipEvent {
	return e.inbox.DrainEvents()
}
