package session

import (
	"math/rand/v2"
	"sort"
	"time"

	"github.com/yndnr/rollmesh-go/internal/core/domain"
	"github.com/yndnr/rollmesh-go/internal/transport"
)

// peerState is the session-private bookkeeping around a PeerRecord.
type peerState struct {
	rec domain.PeerRecord

	// nonce is the outstanding SyncRequest nonce.
	nonce uint32

	lastPing time.Time
}

// ============================================================================
// Roster
// ============================================================================

// Join adds a remote peer whose real input starts at the next frame. Earlier
// frames use neutral input for it. A peer that was disconnected or left is
// re-initialized; joining an active peer fails with ErrPeerExists.
func (s *Session) Join(peer domain.PeerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.join(peer, s.frame+1)
}

// JoinAt is Join with an explicit join frame, for hosts that agree on it
// out of band. The frame must be in the future.
func (s *Session) JoinAt(peer domain.PeerID, joinFrame domain.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if joinFrame <= s.frame {
		return domain.ErrInvalidInput.WithDetails("join frame must be after the current frame")
	}
	return s.join(peer, joinFrame)
}

func (s *Session) join(peer domain.PeerID, joinFrame domain.Frame) error {
	if s.aborted != nil {
		return s.aborted
	}
	if peer == "" {
		return domain.ErrInvalidInput.WithDetails("empty peer id")
	}
	if err := s.sync.AddPeer(peer, joinFrame); err != nil {
		return err
	}

	status := domain.PeerConnecting
	if s.cfg.SyncRoundtrips == 0 {
		status = domain.PeerSynchronized
	}
	s.peers[peer] = &peerState{
		rec: domain.PeerRecord{
			ID:            peer,
			Status:        status,
			JoinFrame:     joinFrame,
			LastConfirmed: joinFrame - 1,
			LastRecv:      s.deps.Now(),
		},
		nonce: rand.Uint32(),
	}
	s.refreshHandles()

	s.emit(domain.PeerEventJoined, peer)
	if status == domain.PeerSynchronized {
		s.emit(domain.PeerEventSynchronized, peer)
	}
	s.log.Info("peer joined", "peer", string(peer), "join_frame", int(joinFrame))
	return nil
}

// Leave removes a remote peer from the frontier. Its roster slot stays so
// input sets keep their shape; its input repeats the last confirmed value.
func (s *Session) Leave(peer domain.PeerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.aborted != nil {
		return s.aborted
	}
	p, ok := s.peers[peer]
	if !ok || p.rec.Local {
		return domain.ErrUnknownPeer.WithDetails(string(peer))
	}
	if p.rec.Status == domain.PeerDisconnected {
		return nil
	}
	s.disconnect(p, domain.PeerEventLeft)
	return nil
}

// Peers returns the roster in handle order.
func (s *Session) Peers() []domain.PeerRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.PeerRecord, 0, len(s.peers))
	for _, p := range s.peers {
		rec := p.rec
		rec.LastConfirmed = s.sync.LastConfirmed(rec.ID)
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

func (s *Session) refreshHandles() {
	for _, p := range s.peers {
		if h, ok := s.sync.Handle(p.rec.ID); ok {
			p.rec.Handle = h
		}
	}
}

func (s *Session) disconnect(p *peerState, kind domain.PeerEventKind) {
	p.rec.Status = domain.PeerDisconnected
	p.rec.LastConfirmed = s.sync.LastConfirmed(p.rec.ID)
	if err := s.sync.Freeze(p.rec.ID); err != nil {
		s.log.Warn("freeze peer failed", "peer", string(p.rec.ID), "error", err)
	}
	s.detector.Forget(p.rec.ID)
	s.deps.Metrics.DeletePeer(string(p.rec.ID))
	s.emit(kind, p.rec.ID)
	s.log.Info("peer removed",
		"peer", string(p.rec.ID),
		"reason", kind.String(),
		"last_confirmed", int(p.rec.LastConfirmed))
}

func (s *Session) emit(kind domain.PeerEventKind, peer domain.PeerID) {
	s.events = append(s.events, domain.PeerEvent{Kind: kind, Peer: peer, Frame: s.frame})
	s.deps.Metrics.RecordPeerEvent(kind.String())
}

// ============================================================================
// Liveness
// ============================================================================

// processMembership applies leave notifications from channels that track
// membership themselves. Joins stay under host control.
func (s *Session) processMembership() {
	src, ok := s.deps.Channel.(transport.MembershipSource)
	if !ok {
		return
	}
	for _, ev := range src.MembershipEvents() {
		p, known := s.peers[ev.Peer]
		if !known || p.rec.Local {
			continue
		}
		if ev.Joined {
			s.log.Debug("channel reports peer", "peer", string(ev.Peer))
			continue
		}
		if p.rec.Status != domain.PeerDisconnected {
			s.disconnect(p, domain.PeerEventDisconnected)
		}
	}
}

func (s *Session) checkTimeouts(now time.Time) {
	if s.cfg.DisconnectTimeout == 0 {
		return
	}
	for _, p := range s.sortedRemotes() {
		if p.rec.Status == domain.PeerDisconnected {
			continue
		}
		if elapsed(now, p.rec.LastRecv) >= s.cfg.DisconnectTimeout {
			s.disconnect(p, domain.PeerEventDisconnected)
		}
	}
}

// sortedRemotes returns remote peers in handle order so side effects happen
// in the same order on every run.
func (s *Session) sortedRemotes() []*peerState {
	out := make([]*peerState, 0, len(s.peers))
	for _, p := range s.peers {
		if !p.rec.Local {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].rec.ID < out[j].rec.ID })
	return out
}

func (s *Session) updateRTT(p *peerState, sample time.Duration) {
	if sample < 0 {
		return
	}
	if p.rec.RTT == 0 {
		p.rec.RTT = sample
	} else {
		p.rec.RTT = (7*p.rec.RTT + sample) / 8
	}
	s.deps.Metrics.SetPeerRTT(string(p.rec.ID), p.rec.RTT.Seconds())
}
