// Package inputsync collects local input, accepts remote input and predicts
// whatever has not arrived yet.
//
// Every peer has a fixed handle given by the sorted order of peer IDs, so all
// participants build input sets with the same layout. Remote input may arrive
// in any order and any number of times; the first arrival for a (peer, frame)
// wins. Predictions handed out through InputSet are recorded so a later
// confirmation with a different value can be reported as a correction.
package inputsync

import (
	"fmt"
	"sort"

	"github.com/yndnr/rollmesh-go/internal/core/domain"
)

// Config configures a Synchronizer.
type Config struct {
	// Local is the ID of the local peer.
	Local domain.PeerID

	// InputSize is the fixed length of every input in bytes.
	InputSize int

	// Window is the prediction window in frames. Remote input further than
	// Window+1 frames ahead of the local frame is discarded.
	Window int

	// MaxRun caps how many inputs Pending returns for one peer.
	// Zero means 2*Window+2.
	MaxRun int
}

// Synchronizer owns the input history of every peer in a session.
// It is not safe for concurrent use.
type Synchronizer struct {
	cfg Config

	queues map[domain.PeerID]*queue
	roster []domain.PeerID

	// outbox holds local inputs not yet acknowledged by every active peer.
	outbox map[domain.Frame]domain.Input

	current   domain.Frame
	discarded domain.Frame
}

// New creates a synchronizer containing only the local peer, which joins at
// frame 1.
func New(cfg Config) (*Synchronizer, error) {
	if cfg.Local == "" {
		return nil, domain.ErrInvalidConfig.WithDetails("local peer id is empty")
	}
	if cfg.InputSize <= 0 {
		return nil, domain.ErrInvalidConfig.WithDetails("input size must be positive")
	}
	if cfg.Window <= 0 {
		return nil, domain.ErrInvalidConfig.WithDetails("prediction window must be positive")
	}
	if cfg.MaxRun <= 0 {
		cfg.MaxRun = 2*cfg.Window + 2
	}

	s := &Synchronizer{
		cfg:       cfg,
		queues:    make(map[domain.PeerID]*queue),
		outbox:    make(map[domain.Frame]domain.Input),
		discarded: domain.NullFrame,
	}
	s.queues[cfg.Local] = newQueue(cfg.Local, true, 1)
	s.roster = []domain.PeerID{cfg.Local}
	return s, nil
}

// AddPeer adds a remote peer whose real input starts at joinFrame. Earlier
// frames use neutral confirmed input. A frozen peer may be re-added: frames
// before the new joinFrame keep the input it had while frozen, so replays
// see the same history. Re-adding an active peer fails with ErrPeerExists.
func (s *Synchronizer) AddPeer(peer domain.PeerID, joinFrame domain.Frame) error {
	if peer == s.cfg.Local {
		return domain.ErrPeerExists.WithDetails(string(peer))
	}
	if joinFrame < 1 {
		joinFrame = 1
	}
	if q, ok := s.queues[peer]; ok && !q.frozen {
		return domain.ErrPeerExists.WithDetails(string(peer))
	}

	prev, existed := s.queues[peer]
	q := newQueue(peer, false, joinFrame)
	if existed {
		q.prior = prev
	}
	s.queues[peer] = q
	if !existed {
		s.roster = append(s.roster, peer)
		domain.SortPeerIDs(s.roster)
	}
	return nil
}

// Freeze stops accepting input from a peer. Its future frames repeat its
// last confirmed input and it no longer limits the confirmed frontier.
func (s *Synchronizer) Freeze(peer domain.PeerID) error {
	q, err := s.remote(peer)
	if err != nil {
		return err
	}
	q.frozen = true
	clear(q.predictions)
	q.firstIncorrect = domain.NullFrame
	s.pruneOutbox()
	return nil
}

// Frozen reports whether a peer is frozen.
func (s *Synchronizer) Frozen(peer domain.PeerID) bool {
	q, ok := s.queues[peer]
	return ok && q.frozen
}

// Roster returns the peer IDs in handle order.
func (s *Synchronizer) Roster() []domain.PeerID {
	out := make([]domain.PeerID, len(s.roster))
	copy(out, s.roster)
	return out
}

// Handle returns the index of a peer in every input set.
func (s *Synchronizer) Handle(peer domain.PeerID) (int, bool) {
	i := sort.Search(len(s.roster), func(i int) bool { return s.roster[i] >= peer })
	if i < len(s.roster) && s.roster[i] == peer {
		return i, true
	}
	return -1, false
}

// CurrentFrame returns the newest frame with local input.
func (s *Synchronizer) CurrentFrame() domain.Frame {
	return s.current
}

// AddLocal confirms the local input for frame and queues it for sending.
// Frames must be added in order without gaps.
func (s *Synchronizer) AddLocal(frame domain.Frame, in domain.Input) error {
	if len(in) != s.cfg.InputSize {
		return domain.ErrInvalidInput.WithDetails(fmt.Sprintf("input size %d, want %d", len(in), s.cfg.InputSize))
	}
	q := s.queues[s.cfg.Local]
	if frame != q.lastConfirmed+1 {
		return domain.ErrInvalidInput.WithDetails(fmt.Sprintf("local frame %d, want %d", frame, q.lastConfirmed+1))
	}
	q.confirm(frame, in)
	s.outbox[frame] = in.Clone()
	s.current = frame
	return nil
}

// AddRemote records a remote peer's input for frame. It reports false when
// the input was discarded: unknown or frozen peer, wrong size, a duplicate,
// or a frame outside the retained window.
func (s *Synchronizer) AddRemote(peer domain.PeerID, frame domain.Frame, in domain.Input) bool {
	q, ok := s.queues[peer]
	if !ok || q.local || q.frozen {
		return false
	}
	if len(in) != s.cfg.InputSize {
		return false
	}
	if frame < q.joinFrame || frame <= s.discarded {
		return false
	}
	if frame > s.current+domain.Frame(s.cfg.Window)+1 {
		return false
	}
	return q.confirm(frame, in)
}

// InputSet returns the input set for frame. Missing remote input is
// predicted and the prediction is recorded.
func (s *Synchronizer) InputSet(frame domain.Frame) domain.InputSet {
	set := domain.InputSet{
		Frame:  frame,
		Inputs: make([]domain.PlayerInput, 0, len(s.roster)),
	}
	for _, peer := range s.roster {
		bits, status := s.queues[peer].get(frame, s.cfg.InputSize)
		set.Inputs = append(set.Inputs, domain.PlayerInput{
			Peer:   peer,
			Status: status,
			Bits:   bits,
		})
	}
	return set
}

// Correction returns the confirmed input for (peer, frame) when it
// supersedes a prediction with a different value.
func (s *Synchronizer) Correction(peer domain.PeerID, frame domain.Frame) (domain.Input, bool) {
	q, ok := s.queues[peer]
	if !ok {
		return nil, false
	}
	return q.correction(frame)
}

// FirstIncorrectFrame returns the earliest frame with a contradicted
// prediction, or NullFrame.
func (s *Synchronizer) FirstIncorrectFrame() domain.Frame {
	first := domain.NullFrame
	for _, q := range s.queues {
		if q.firstIncorrect.IsNull() {
			continue
		}
		if first.IsNull() || q.firstIncorrect < first {
			first = q.firstIncorrect
		}
	}
	return first
}

// ResetPredictions forgets the predictions recorded at or after from.
// Call it before resimulating from that frame.
func (s *Synchronizer) ResetPredictions(from domain.Frame) {
	for _, q := range s.queues {
		q.resetPredictions(from)
	}
}

// LastConfirmed returns the newest frame through which all of a peer's
// input is known, or NullFrame for an unknown peer.
func (s *Synchronizer) LastConfirmed(peer domain.PeerID) domain.Frame {
	q, ok := s.queues[peer]
	if !ok {
		return domain.NullFrame
	}
	return q.lastConfirmed
}

// ConfirmedFrontier returns the minimum LastConfirmed over the local peer and
// every remote peer that is not frozen.
func (s *Synchronizer) ConfirmedFrontier() domain.Frame {
	frontier := s.queues[s.cfg.Local].lastConfirmed
	for _, q := range s.queues {
		if q.frozen {
			continue
		}
		if q.lastConfirmed < frontier {
			frontier = q.lastConfirmed
		}
	}
	if frontier < 0 {
		return 0
	}
	return frontier
}

// Pending returns the local inputs a peer has not acknowledged, starting at
// the returned frame.
func (s *Synchronizer) Pending(peer domain.PeerID) (domain.Frame, []domain.Input) {
	q, ok := s.queues[peer]
	if !ok || q.local || q.frozen {
		return domain.NullFrame, nil
	}
	start := q.acked + 1
	var run []domain.Input
	for f := start; f <= s.current && len(run) < s.cfg.MaxRun; f++ {
		in, ok := s.outbox[f]
		if !ok {
			break
		}
		run = append(run, in)
	}
	if len(run) == 0 {
		return domain.NullFrame, nil
	}
	return start, run
}

// Ack records that peer holds every local input through frame.
func (s *Synchronizer) Ack(peer domain.PeerID, frame domain.Frame) {
	q, ok := s.queues[peer]
	if !ok || q.local || q.frozen {
		return
	}
	if frame > s.current {
		frame = s.current
	}
	if frame <= q.acked {
		return
	}
	q.acked = frame
	s.pruneOutbox()
}

// Acked returns the newest local frame a peer has acknowledged.
func (s *Synchronizer) Acked(peer domain.PeerID) domain.Frame {
	q, ok := s.queues[peer]
	if !ok {
		return domain.NullFrame
	}
	return q.acked
}

// Discard drops input history below before. Remote input for those frames
// is refused afterwards.
func (s *Synchronizer) Discard(before domain.Frame) {
	if before-1 <= s.discarded {
		return
	}
	s.discarded = before - 1
	for _, q := range s.queues {
		q.discard(before)
	}
}

func (s *Synchronizer) remote(peer domain.PeerID) (*queue, error) {
	q, ok := s.queues[peer]
	if !ok {
		return nil, domain.ErrUnknownPeer.WithDetails(string(peer))
	}
	if q.local {
		return nil, domain.ErrInvalidInput.WithDetails("operation not valid for the local peer")
	}
	return q, nil
}

func (s *Synchronizer) pruneOutbox() {
	floor := s.current
	for _, q := range s.queues {
		if q.local || q.frozen {
			continue
		}
		if q.acked < floor {
			floor = q.acked
		}
	}
	for f := range s.outbox {
		if f <= floor {
			delete(s.outbox, f)
		}
	}
}
