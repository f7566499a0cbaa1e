package session

import (
	"math/rand/v2"
	"time"

	"github.com/yndnr/rollmesh-go/internal/core/domain"
	"github.com/yndnr/rollmesh-go/internal/protocol"
)

// Drop reasons reported to metrics.
const (
	dropMalformed    = "malformed"
	dropUnknownPeer  = "unknown_peer"
	dropDisconnected = "disconnected"
	dropUnexpected   = "unexpected_kind"
	dropSendFailed   = "send_failed"
)

// ============================================================================
// Inbound
// ============================================================================

func (s *Session) drainInbound(now time.Time) {
	for _, pkt := range s.deps.Channel.Receive() {
		msg, err := protocol.Decode(pkt.Data)
		if err != nil {
			s.deps.Metrics.RecordPacketDropped(dropMalformed)
			s.log.Debug("dropping malformed packet", "from", string(pkt.From), "error", err)
			continue
		}

		p, ok := s.peers[pkt.From]
		if !ok || p.rec.Local {
			s.deps.Metrics.RecordPacketDropped(dropUnknownPeer)
			continue
		}
		if p.rec.Status == domain.PeerDisconnected {
			s.deps.Metrics.RecordPacketDropped(dropDisconnected)
			continue
		}

		s.deps.Metrics.RecordPacketReceived(msg.Kind.String())
		p.rec.LastRecv = now
		s.handle(p, msg, now)
	}
}

func (s *Session) handle(p *peerState, msg protocol.Message, now time.Time) {
	switch msg.Kind {
	case protocol.KindSyncRequest:
		s.send(p.rec.ID, protocol.Message{Kind: protocol.KindSyncReply, Nonce: msg.Nonce})

	case protocol.KindSyncReply:
		s.handleSyncReply(p, msg)

	case protocol.KindInput:
		for i, in := range msg.Inputs {
			s.sync.AddRemote(p.rec.ID, msg.Frame+domain.Frame(i), in)
		}
		if !msg.Ack.IsNull() {
			s.sync.Ack(p.rec.ID, msg.Ack)
		}

	case protocol.KindChecksum:
		s.detector.AddRemote(domain.ChecksumRecord{
			Frame:  msg.Frame,
			Digest: msg.Digest,
			Peer:   p.rec.ID,
		})

	case protocol.KindPing:
		s.send(p.rec.ID, protocol.Message{Kind: protocol.KindPong, Timestamp: msg.Timestamp})

	case protocol.KindPong:
		s.updateRTT(p, now.Sub(time.Unix(0, msg.Timestamp)))

	case protocol.KindLobby:
		if s.deps.LobbyEcho == nil {
			s.deps.Metrics.RecordPacketDropped(dropUnexpected)
			return
		}
		s.send(p.rec.ID, protocol.Message{Kind: protocol.KindLobby, Lobby: s.deps.LobbyEcho})

	default:
		s.deps.Metrics.RecordPacketDropped(dropUnexpected)
	}
}

func (s *Session) handleSyncReply(p *peerState, msg protocol.Message) {
	if p.rec.Status != domain.PeerConnecting || msg.Nonce != p.nonce {
		return
	}
	p.rec.SyncRoundtrips++
	p.nonce = rand.Uint32()
	if p.rec.SyncRoundtrips < s.cfg.SyncRoundtrips {
		return
	}
	p.rec.Status = domain.PeerSynchronized
	s.emit(domain.PeerEventSynchronized, p.rec.ID)
	s.log.Info("peer synchronized", "peer", string(p.rec.ID), "roundtrips", p.rec.SyncRoundtrips)
}

// ============================================================================
// Outbound
// ============================================================================

// sendOutbound sends handshakes, the unacked input run with our ack, and
// periodic pings. Input goes out every tick so losses heal on their own.
func (s *Session) sendOutbound(now time.Time) {
	for _, p := range s.sortedRemotes() {
		if p.rec.Status == domain.PeerDisconnected {
			continue
		}
		id := p.rec.ID

		if p.rec.Status == domain.PeerConnecting {
			s.send(id, protocol.Message{Kind: protocol.KindSyncRequest, Nonce: p.nonce})
		}

		start, run := s.sync.Pending(id)
		s.send(id, protocol.NewInput(start, run, s.sync.LastConfirmed(id)))

		if p.lastPing.IsZero() || now.Sub(p.lastPing) >= s.cfg.PingInterval {
			p.lastPing = now
			s.send(id, protocol.Message{Kind: protocol.KindPing, Timestamp: now.UnixNano()})
		}
	}
}

func (s *Session) broadcastChecksum(rec domain.ChecksumRecord) {
	msg := protocol.NewChecksum(rec)
	for _, p := range s.sortedRemotes() {
		if p.rec.Status == domain.PeerDisconnected {
			continue
		}
		s.send(p.rec.ID, msg)
	}
}

func (s *Session) send(to domain.PeerID, msg protocol.Message) {
	data, err := protocol.Encode(msg)
	if err != nil {
		s.log.Warn("encode message failed", "kind", msg.Kind.String(), "error", err)
		return
	}
	if err := s.deps.Channel.Send(to, data); err != nil {
		s.deps.Metrics.RecordPacketDropped(dropSendFailed)
		s.log.Debug("send failed", "to", string(to), "kind", msg.Kind.String(), "error", err)
		return
	}
	s.deps.Metrics.RecordPacketSent(msg.Kind.String())
}
