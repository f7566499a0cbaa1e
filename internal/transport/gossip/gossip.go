// Package gossip implements the peer channel on hashicorp/memberlist.
// Membership doubles as peer discovery; packets travel as memberlist user
// messages, best-effort UDP when they fit the datagram budget and the
// reliable stream otherwise.
package gossip

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/hashicorp/memberlist"

	"github.com/yndnr/rollmesh-go/internal/core/domain"
	"github.com/yndnr/rollmesh-go/internal/telemetry/logger"
	"github.com/yndnr/rollmesh-go/internal/transport"
	"github.com/yndnr/rollmesh-go/pkg/cmap"
)

// DefaultDatagramBudget is the largest frame sent as a single UDP packet.
const DefaultDatagramBudget = 1200

// MaxIDLength bounds peer IDs so the frame header fits in one byte.
const MaxIDLength = 255

// ErrUnknownPeer is returned by Send for a peer outside the room.
var ErrUnknownPeer = errors.New("gossip: unknown peer")

// Config configures a gossip node.
type Config struct {
	// ID is the local peer ID and memberlist node name.
	ID domain.PeerID

	// Room isolates sessions sharing one gossip pool. Peers in a different
	// room are ignored.
	Room string

	BindAddr      string
	BindPort      int
	AdvertiseAddr string
	AdvertisePort int

	// Seeds are host:port addresses joined at start.
	Seeds []string

	// Profile selects the memberlist timing preset: "lan" (default),
	// "wan" or "local".
	Profile string

	DatagramBudget int
	InboxSize      int

	Logger logger.Logger
}

// Node is a transport.Channel and transport.MembershipSource backed by a
// memberlist pool.
type Node struct {
	cfg   Config
	ml    *memberlist.Memberlist
	inbox *transport.Inbox
	peers *cmap.Map[domain.PeerID, *memberlist.Node]
	log   logger.Logger
}

var (
	_ transport.Channel          = (*Node)(nil)
	_ transport.MembershipSource = (*Node)(nil)
)

// New starts a node and joins the seeds.
func New(cfg Config) (*Node, error) {
	if cfg.ID == "" {
		return nil, domain.ErrInvalidConfig.WithDetails("gossip: id is required")
	}
	if len(cfg.ID) > MaxIDLength {
		return nil, domain.ErrInvalidConfig.WithDetails("gossip: id too long")
	}
	if cfg.DatagramBudget <= 0 {
		cfg.DatagramBudget = DefaultDatagramBudget
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}

	var mlConfig *memberlist.Config
	switch cfg.Profile {
	case "", "lan":
		mlConfig = memberlist.DefaultLANConfig()
	case "wan":
		mlConfig = memberlist.DefaultWANConfig()
	case "local":
		mlConfig = memberlist.DefaultLocalConfig()
	default:
		return nil, domain.ErrInvalidConfig.WithDetails("gossip: unknown profile " + cfg.Profile)
	}
	mlConfig.Name = string(cfg.ID)
	if cfg.BindAddr != "" {
		mlConfig.BindAddr = cfg.BindAddr
	}
	mlConfig.BindPort = cfg.BindPort
	mlConfig.AdvertiseAddr = cfg.AdvertiseAddr
	mlConfig.AdvertisePort = cfg.AdvertisePort

	n := &Node{
		cfg:   cfg,
		inbox: transport.NewInbox(cfg.InboxSize),
		peers: cmap.New[domain.PeerID, *memberlist.Node](),
		log:   cfg.Logger.With("component", "gossip", "peer_id", string(cfg.ID)),
	}

	mlConfig.Delegate = &delegate{node: n}
	mlConfig.Events = &eventDelegate{node: n}
	mlConfig.LogOutput = &logWriter{log: n.log}

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("gossip: create memberlist: %w", err)
	}
	n.ml = ml

	if len(cfg.Seeds) > 0 {
		joined, err := ml.Join(cfg.Seeds)
		if err != nil {
			_ = ml.Shutdown()
			return nil, fmt.Errorf("gossip: join seeds: %w", err)
		}
		n.log.Info("joined gossip pool", "seeds", cfg.Seeds, "joined_count", joined, "room", cfg.Room)
	} else {
		n.log.Info("started gossip pool", "room", cfg.Room)
	}
	return n, nil
}

// Addr returns the advertised host:port of the local node.
func (n *Node) Addr() string {
	local := n.ml.LocalNode()
	return net.JoinHostPort(local.Addr.String(), strconv.Itoa(int(local.Port)))
}

// Join contacts more seeds after start.
func (n *Node) Join(seeds []string) (int, error) {
	return n.ml.Join(seeds)
}

// LocalID implements transport.Channel.
func (n *Node) LocalID() domain.PeerID {
	return n.cfg.ID
}

// Send implements transport.Channel.
func (n *Node) Send(to domain.PeerID, data []byte) error {
	node, ok := n.peers.Get(to)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, to)
	}
	frame := encodeFrame(n.cfg.ID, data)
	if len(frame) <= n.cfg.DatagramBudget {
		return n.ml.SendBestEffort(node, frame)
	}
	return n.ml.SendReliable(node, frame)
}

// Receive implements transport.Channel.
func (n *Node) Receive() []transport.Packet {
	return n.inbox.Drain()
}

// Peers implements transport.Channel.
func (n *Node) Peers() []domain.PeerID {
	ids := n.peers.Keys()
	domain.SortPeerIDs(ids)
	return ids
}

// MembershipEvents implements transport.MembershipSource.
func (n *Node) MembershipEvents() []transport.MembershipEvent {
	return n.inbox.DrainEvents()
}

// Dropped reports packets refused because the inbox was full.
func (n *Node) Dropped() uint64 {
	return n.inbox.Dropped()
}

// Leave announces departure and shuts the node down.
func (n *Node) Leave(timeout time.Duration) error {
	if err := n.ml.Leave(timeout); err != nil {
		n.log.Warn("gossip leave failed", "error", err)
	}
	return n.Shutdown()
}

// Shutdown stops the node without announcing departure.
func (n *Node) Shutdown() error {
	if err := n.ml.Shutdown(); err != nil {
		return fmt.Errorf("gossip: shutdown: %w", err)
	}
	n.log.Info("gossip node stopped")
	return nil
}

func (n *Node) sameRoom(node *memberlist.Node) bool {
	return node.Name != string(n.cfg.ID) && string(node.Meta) == n.cfg.Room
}

// encodeFrame prefixes the payload with the sender ID:
// u8 id length | id | payload.
func encodeFrame(from domain.PeerID, data []byte) []byte {
	frame := make([]byte, 0, 1+len(from)+len(data))
	frame = append(frame, byte(len(from)))
	frame = append(frame, from...)
	return append(frame, data...)
}

func decodeFrame(frame []byte) (domain.PeerID, []byte, bool) {
	if len(frame) < 1 {
		return "", nil, false
	}
	idLen := int(frame[0])
	if idLen == 0 || len(frame) < 1+idLen {
		return "", nil, false
	}
	return domain.PeerID(frame[1 : 1+idLen]), frame[1+idLen:], true
}

type delegate struct {
	node *Node
}

func (d *delegate) NodeMeta(limit int) []byte {
	room := []byte(d.node.cfg.Room)
	if len(room) > limit {
		return room[:limit]
	}
	return room
}

// NotifyMsg copies the buffer; memberlist reuses it after return.
func (d *delegate) NotifyMsg(buf []byte) {
	from, data, ok := decodeFrame(buf)
	if !ok {
		return
	}
	if !d.node.peers.Has(from) {
		return
	}
	d.node.inbox.Push(transport.Packet{From: from, Data: append([]byte(nil), data...)})
}

func (d *delegate) GetBroadcasts(overhead, limit int) [][]byte { return nil }

func (d *delegate) LocalState(join bool) []byte { return nil }

func (d *delegate) MergeRemoteState(buf []byte, join bool) {}

type eventDelegate struct {
	node *Node
}

func (e *eventDelegate) NotifyJoin(node *memberlist.Node) {
	if !e.node.sameRoom(node) {
		return
	}
	id := domain.PeerID(node.Name)
	e.node.peers.Set(id, node)
	e.node.inbox.PushEvent(transport.MembershipEvent{Peer: id, Joined: true})
	e.node.log.Info("peer joined", "peer", node.Name, "addr", node.Address())
}

func (e *eventDelegate) NotifyLeave(node *memberlist.Node) {
	id := domain.PeerID(node.Name)
	if _, ok := e.node.peers.Pop(id); !ok {
		return
	}
	e.node.inbox.PushEvent(transport.MembershipEvent{Peer: id})
	e.node.log.Info("peer left", "peer", node.Name)
}

func (e *eventDelegate) NotifyUpdate(node *memberlist.Node) {
	if e.node.sameRoom(node) {
		e.node.peers.Set(domain.PeerID(node.Name), node)
	}
}

// logWriter routes memberlist's log output to the application logger.
type logWriter struct {
	log logger.Logger
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.log.Debug(string(trimNewline(p)))
	return len(p), nil
}

func trimNewline(p []byte) []byte {
	for len(p) > 0 && (p[len(p)-1] == '\n' || p[len(p)-1] == '\r') {
		p = p[:len(p)-1]
	}
	return p
}
