// Package lobby runs the pre-session handshake: peers announce a display
// name, a ready flag and an optional saved game until everyone is ready.
//
// The lobby shares the peer channel with the session that follows it. When
// every known peer and the local peer are ready, Poll returns a Start with
// the roster in handle order and the save all peers will resume from.
package lobby

import (
	"sort"
	"time"
	"unicode/utf8"

	"github.com/yndnr/rollmesh-go/internal/core/domain"
	"github.com/yndnr/rollmesh-go/internal/protocol"
	"github.com/yndnr/rollmesh-go/internal/telemetry/logger"
	"github.com/yndnr/rollmesh-go/internal/telemetry/metric"
	"github.com/yndnr/rollmesh-go/internal/transport"
)

const (
	// MaxNameLength caps display names, in characters.
	MaxNameLength = 20

	// DefaultName is used until the host sets one.
	DefaultName = "New User"

	// DefaultResendInterval spaces periodic re-broadcasts.
	DefaultResendInterval = time.Second
)

// Config configures a lobby.
type Config struct {
	Name           string
	ResendInterval time.Duration

	// MinPeers is the number of remote peers required before starting.
	MinPeers int

	Logger  logger.Logger
	Metrics *metric.Registry
	Now     func() time.Time
}

// Member is a remote peer as seen from the lobby.
type Member struct {
	ID    domain.PeerID
	Name  string
	Ready bool
	Save  *protocol.SaveOffer

	// Seen is false until the peer's first lobby message arrives.
	Seen bool
}

// Start describes the session every peer agreed to start.
type Start struct {
	// Roster holds every participant in handle order.
	Roster []domain.PeerID

	// LocalHandle is the local peer's index in Roster.
	LocalHandle int

	// Save is the saved game to resume, or nil for a new game.
	Save *protocol.SaveOffer

	// SaveOwner is the peer that offered Save.
	SaveOwner domain.PeerID

	// Names maps each participant to its display name.
	Names map[domain.PeerID]string

	// Final is the local lobby state at start. Hand it to the session so
	// peers still in the lobby keep seeing the local peer as ready.
	Final *protocol.LobbyState
}

// Lobby tracks lobby state over a peer channel.
// It is driven by the host loop and is not safe for concurrent use.
type Lobby struct {
	ch      transport.Channel
	cfg     Config
	log     logger.Logger
	metrics *metric.Registry

	local    protocol.LobbyState
	members  map[domain.PeerID]*Member
	dirty    bool
	lastSent time.Time
}

// New creates a lobby over ch.
func New(ch transport.Channel, cfg Config) *Lobby {
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.ResendInterval <= 0 {
		cfg.ResendInterval = DefaultResendInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metric.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Lobby{
		ch:      ch,
		cfg:     cfg,
		log:     cfg.Logger.With("component", "lobby", "peer_id", string(ch.LocalID())),
		metrics: cfg.Metrics,
		local:   protocol.LobbyState{Name: TruncateName(cfg.Name)},
		members: make(map[domain.PeerID]*Member),
		dirty:   true,
	}
}

// TruncateName cuts a name to MaxNameLength characters.
func TruncateName(name string) string {
	if utf8.RuneCountInString(name) <= MaxNameLength {
		return name
	}
	runes := []rune(name)
	return string(runes[:MaxNameLength])
}

// SetName changes the local display name.
func (l *Lobby) SetName(name string) {
	name = TruncateName(name)
	if name != l.local.Name {
		l.local.Name = name
		l.dirty = true
	}
}

// SetReady changes the local ready flag.
func (l *Lobby) SetReady(ready bool) {
	if ready != l.local.Ready {
		l.local.Ready = ready
		l.dirty = true
	}
}

// SetSave offers a saved game, or withdraws the offer when save is nil.
func (l *Lobby) SetSave(save *protocol.SaveOffer) {
	l.local.Save = save
	l.dirty = true
}

// Local returns the local lobby state.
func (l *Lobby) Local() protocol.LobbyState {
	return l.local
}

// Members returns the remote peers sorted by ID.
func (l *Lobby) Members() []Member {
	out := make([]Member, 0, len(l.members))
	for _, m := range l.members {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Poll drains the channel, re-broadcasts the local state when it changed
// or the resend interval passed, and reports whether everyone is ready.
func (l *Lobby) Poll() (*Start, bool) {
	now := l.cfg.Now()

	l.syncMembers()
	for _, pkt := range l.ch.Receive() {
		l.receive(pkt)
	}

	if l.dirty || now.Sub(l.lastSent) >= l.cfg.ResendInterval {
		l.broadcast()
		l.lastSent = now
		l.dirty = false
	}

	if !l.allReady() {
		return nil, false
	}
	return l.start(), true
}

// syncMembers adds peers the channel can reach and drops those it lost.
func (l *Lobby) syncMembers() {
	reachable := make(map[domain.PeerID]bool)
	for _, id := range l.ch.Peers() {
		if id == l.ch.LocalID() {
			continue
		}
		reachable[id] = true
		if _, ok := l.members[id]; !ok {
			l.members[id] = &Member{ID: id}
			l.dirty = true
			l.log.Info("peer entered lobby", "peer", string(id))
		}
	}
	for id := range l.members {
		if !reachable[id] {
			delete(l.members, id)
			l.log.Info("peer left lobby", "peer", string(id))
		}
	}
}

func (l *Lobby) receive(pkt transport.Packet) {
	msg, err := protocol.Decode(pkt.Data)
	if err != nil {
		l.metrics.RecordPacketDropped("malformed")
		return
	}
	if msg.Kind != protocol.KindLobby {
		// Session traffic from a peer that already started.
		l.metrics.RecordPacketDropped("not_lobby")
		return
	}
	m, ok := l.members[pkt.From]
	if !ok {
		m = &Member{ID: pkt.From}
		l.members[pkt.From] = m
		l.dirty = true
	}
	l.metrics.RecordPacketReceived(msg.Kind.String())

	m.Seen = true
	m.Name = TruncateName(msg.Lobby.Name)
	if m.Ready != msg.Lobby.Ready {
		l.log.Debug("peer ready changed", "peer", string(m.ID), "ready", msg.Lobby.Ready)
	}
	m.Ready = msg.Lobby.Ready
	m.Save = msg.Lobby.Save
}

func (l *Lobby) broadcast() {
	data, err := protocol.Encode(protocol.Message{Kind: protocol.KindLobby, Lobby: &l.local})
	if err != nil {
		l.log.Warn("encode lobby state failed", "error", err)
		return
	}
	for _, m := range l.Members() {
		if err := l.ch.Send(m.ID, data); err != nil {
			l.metrics.RecordPacketDropped("send_failed")
			continue
		}
		l.metrics.RecordPacketSent(protocol.KindLobby.String())
	}
}

func (l *Lobby) allReady() bool {
	if !l.local.Ready || len(l.members) < l.cfg.MinPeers {
		return false
	}
	for _, m := range l.members {
		if !m.Seen || !m.Ready {
			return false
		}
	}
	return true
}

func (l *Lobby) start() *Start {
	self := l.ch.LocalID()
	st := &Start{
		Names: map[domain.PeerID]string{self: l.local.Name},
	}
	st.Roster = append(st.Roster, self)
	for id, m := range l.members {
		st.Roster = append(st.Roster, id)
		st.Names[id] = m.Name
	}
	domain.SortPeerIDs(st.Roster)
	for i, id := range st.Roster {
		if id == self {
			st.LocalHandle = i
		}
	}

	offers := map[domain.PeerID]*protocol.SaveOffer{self: l.local.Save}
	for id, m := range l.members {
		offers[id] = m.Save
	}
	st.SaveOwner, st.Save = BestSave(offers)

	final := l.local
	st.Final = &final

	l.log.Info("all peers ready",
		"players", len(st.Roster),
		"local_handle", st.LocalHandle,
		"resume", st.Save != nil)
	return st
}

// BestSave picks the newest offer; equal timestamps go to the larger peer
// ID. Every peer evaluates the same offers to the same result.
func BestSave(offers map[domain.PeerID]*protocol.SaveOffer) (domain.PeerID, *protocol.SaveOffer) {
	var (
		owner domain.PeerID
		best  *protocol.SaveOffer
	)
	for id, offer := range offers {
		if offer == nil {
			continue
		}
		switch {
		case best == nil,
			offer.CreatedAt > best.CreatedAt,
			offer.CreatedAt == best.CreatedAt && id > owner:
			owner, best = id, offer
		}
	}
	return owner, best
}
