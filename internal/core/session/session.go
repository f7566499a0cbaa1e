// Package session runs the rollback frame loop for one local peer.
//
// A Session is driven by the host once per tick through AdvanceFrame. Each
// call drains the peer channel, replays mispredicted frames, advances one
// frame with the local input unless the prediction window is exhausted,
// sends pending input, and then checksums and evicts newly confirmed frames.
// Nothing blocks on the network: a session that cannot advance reports
// Stalled and the host retries on the next tick.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/yndnr/rollmesh-go/internal/core/checkpoint"
	"github.com/yndnr/rollmesh-go/internal/core/desync"
	"github.com/yndnr/rollmesh-go/internal/core/domain"
	"github.com/yndnr/rollmesh-go/internal/core/inputsync"
	"github.com/yndnr/rollmesh-go/internal/core/rollback"
	"github.com/yndnr/rollmesh-go/internal/telemetry/logger"
	"github.com/yndnr/rollmesh-go/internal/telemetry/metric"
)

// Session owns the roster, the checkpoint store and the frame loop.
//
// Methods are meant to be called from the host's tick goroutine.
// MetricsSnapshot may be called concurrently.
type Session struct {
	mu sync.Mutex

	cfg  Config
	deps Deps
	log  logger.Logger

	local    domain.PeerID
	matchID  domain.MatchID
	sync     *inputsync.Synchronizer
	store    *checkpoint.Store
	engine   *rollback.Engine
	detector *desync.Detector

	peers map[domain.PeerID]*peerState

	frame     domain.Frame
	frontier  domain.Frame
	journaled domain.Frame

	desyncs []domain.Desync
	events  []domain.PeerEvent

	// aborted is set once a fatal condition stopped the session.
	aborted error
}

// New creates a session at frame 0 containing only the local peer.
// The simulation's current state is checkpointed as frame 0.
func New(cfg Config, deps Deps) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := deps.setDefaults(); err != nil {
		return nil, err
	}

	local := deps.Channel.LocalID()
	if cfg.MatchID == "" {
		id, err := domain.GenerateMatchID()
		if err != nil {
			return nil, err
		}
		cfg.MatchID = id
	}

	inputs, err := inputsync.New(cfg.syncConfig(local))
	if err != nil {
		return nil, err
	}
	store := checkpoint.New(cfg.PredictionWindow + 2)

	s := &Session{
		cfg:     cfg,
		deps:    deps,
		log:     deps.Logger.With("match_id", string(cfg.MatchID), "peer_id", string(local)),
		local:   local,
		matchID: cfg.MatchID,
		sync:    inputs,
		store:   store,
		engine:  rollback.New(deps.Simulation, inputs, store, cfg.PredictionWindow),
		detector: desync.New(desync.Config{
			Local:    local,
			Interval: cfg.ChecksumInterval,
			History:  cfg.ChecksumHistory,
		}),
		peers: make(map[domain.PeerID]*peerState),
	}
	if err := s.engine.SaveInitial(); err != nil {
		return nil, err
	}

	s.peers[local] = &peerState{rec: domain.PeerRecord{
		ID:       local,
		Local:    true,
		Status:   domain.PeerSynchronized,
		LastRecv: deps.Now(),
	}}
	s.refreshHandles()

	s.log.Info("session created",
		"prediction_window", cfg.PredictionWindow,
		"checksum_interval", cfg.ChecksumInterval,
		"desync_policy", string(cfg.DesyncPolicy))
	return s, nil
}

// MatchID returns the session's match ID.
func (s *Session) MatchID() domain.MatchID {
	return s.matchID
}

// LocalID returns the local peer ID.
func (s *Session) LocalID() domain.PeerID {
	return s.local
}

// Frame returns the current local frame.
func (s *Session) Frame() domain.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame
}

// ConfirmedFrontier returns the newest frame whose input is confirmed for
// every active peer.
func (s *Session) ConfirmedFrontier() domain.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frontier
}

// Err returns the fatal error that aborted the session, or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aborted
}

// DesyncEvents drains the desyncs detected since the previous call.
func (s *Session) DesyncEvents() []domain.Desync {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.desyncs
	s.desyncs = nil
	return out
}

// PeerEvents drains the roster changes since the previous call.
func (s *Session) PeerEvents() []domain.PeerEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.events
	s.events = nil
	return out
}

// ConfirmedCheckpoint returns the state at the confirmed frontier. Hosts
// save it when a match ends.
func (s *Session) ConfirmedCheckpoint() (domain.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, inputs, err := s.store.Load(s.frontier)
	if err != nil {
		return domain.Checkpoint{}, err
	}
	return domain.Checkpoint{Frame: s.frontier, State: state, Inputs: inputs}, nil
}

// AdvanceFrame runs one synchronization step with the local input for the
// next frame. Network anomalies never surface as errors; a returned error
// is either ErrInvalidInput or a fatal ErrSessionAborted.
func (s *Session) AdvanceFrame(local domain.Input) (domain.FrameResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.aborted != nil {
		return domain.FrameResult{}, s.aborted
	}
	if len(local) != s.cfg.InputSize {
		return domain.FrameResult{}, domain.ErrInvalidInput.WithDetails(
			fmt.Sprintf("input size %d, want %d", len(local), s.cfg.InputSize))
	}

	now := s.deps.Now()

	// 1. Drain the channel.
	s.processMembership()
	s.drainInbound(now)
	s.checkTimeouts(now)

	// 2. Replay mispredicted frames.
	resimulated, err := s.correct()
	if err != nil {
		return domain.FrameResult{}, s.abort(err)
	}
	if err := s.settle(); err != nil {
		return domain.FrameResult{}, s.abort(err)
	}

	// 3. Advance unless stalled.
	result := domain.FrameResult{Resimulated: resimulated}
	if reason := s.stallReason(); reason != domain.StallNone {
		result.Status = domain.FrameStalled
		result.Reason = reason
		s.deps.Metrics.RecordStall(reason.String())
	} else {
		if err := s.advance(local); err != nil {
			return domain.FrameResult{}, s.abort(err)
		}
		result.Status = domain.FrameAdvanced
	}

	// 4. Send input, handshakes and probes.
	s.sendOutbound(now)

	// 5. Frontier, checksums, eviction.
	if err := s.settle(); err != nil {
		return domain.FrameResult{}, s.abort(err)
	}
	if err := s.collectDesyncs(); err != nil {
		return domain.FrameResult{}, s.abort(err)
	}

	result.Frame = s.frame
	result.ConfirmedThrough = s.frontier
	return result, nil
}

// correct rolls back to the earliest contradicted prediction, if any.
func (s *Session) correct() (int, error) {
	first := s.sync.FirstIncorrectFrame()
	if first.IsNull() || first > s.frame {
		return 0, nil
	}

	s.sync.ResetPredictions(first)
	n, err := s.engine.Rollback(first, s.frame)
	if err != nil {
		return 0, err
	}
	s.deps.Metrics.RecordRollback(n)
	s.log.Debug("rolled back", "from", int(first), "to", int(s.frame), "frames", n)
	return n, nil
}

func (s *Session) stallReason() domain.StallReason {
	for _, p := range s.peers {
		if !p.rec.Local && p.rec.Status == domain.PeerConnecting {
			return domain.StallSynchronizing
		}
	}
	if int(s.frame-s.frontier) >= s.cfg.PredictionWindow {
		return domain.StallPredictionWindow
	}
	return domain.StallNone
}

func (s *Session) advance(local domain.Input) error {
	next := s.frame + 1
	if err := s.sync.AddLocal(next, local); err != nil {
		return err
	}
	if err := s.engine.Advance(next, s.sync.InputSet(next)); err != nil {
		return err
	}
	s.frame = next
	s.deps.Metrics.RecordFrame()
	return nil
}

// settle moves the confirmed frontier, checksums frames that just became
// confirmed, journals them and then evicts what can no longer be rolled
// back to. Checksumming happens before eviction so the state is still there.
func (s *Session) settle() error {
	frontier := s.sync.ConfirmedFrontier()
	if frontier > s.frame {
		frontier = s.frame
	}
	if frontier < s.frontier {
		frontier = s.frontier
	}
	s.frontier = frontier

	for _, f := range s.detector.Due(frontier) {
		state, _, err := s.store.Load(f)
		if err != nil {
			return err
		}
		rec := s.detector.Record(f, state)
		s.broadcastChecksum(rec)
		if s.deps.Journal != nil {
			err := s.deps.Journal.RecordChecksum(rec)
			if err != nil {
				s.log.Warn("journal checksum failed", "frame", int(f), "error", err)
			}
		}
	}

	s.journalConfirmed()

	s.store.EvictBefore(frontier)
	s.sync.Discard(frontier)
	return nil
}

func (s *Session) journalConfirmed() {
	if s.deps.Journal == nil {
		s.journaled = s.frontier
		return
	}
	for f := s.journaled + 1; f <= s.frontier; f++ {
		inputs, ok := s.store.Inputs(f)
		if !ok {
			continue
		}
		err := s.deps.Journal.RecordInputs(inputs)
		s.deps.Metrics.RecordJournal(err)
		if err != nil {
			s.log.Warn("journal inputs failed", "frame", int(f), "error", err)
		}
	}
	s.journaled = s.frontier
}

func (s *Session) collectDesyncs() error {
	found := s.detector.Events()
	if len(found) == 0 {
		return nil
	}
	for _, d := range found {
		s.deps.Metrics.RecordDesync()
		s.log.Warn("desync detected",
			"frame", int(d.Frame),
			"peer", string(d.Peer),
			"local_digest", d.Local.String(),
			"remote_digest", d.Remote.String())
	}
	s.desyncs = append(s.desyncs, found...)
	if s.cfg.DesyncPolicy == DesyncAbort {
		return domain.ErrDesyncDetected.WithDetails(found[0].String())
	}
	return nil
}

func (s *Session) abort(cause error) error {
	s.aborted = domain.ErrSessionAborted.WithCause(cause)
	s.deps.Metrics.RecordAbort()
	s.log.Error("session aborted", "frame", int(s.frame), "error", cause)
	return s.aborted
}

// MetricsSnapshot implements metric.SnapshotSource.
func (s *Session) MetricsSnapshot() metric.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	byStatus := make(map[string]int)
	for _, p := range s.peers {
		byStatus[p.rec.Status.String()]++
	}
	return metric.Snapshot{
		Frame:             int64(s.frame),
		ConfirmedFrontier: int64(s.frontier),
		Checkpoints:       s.store.Len(),
		PeersByStatus:     byStatus,
	}
}

var _ metric.SnapshotSource = (*Session)(nil)

// elapsed returns now - t, clamped at zero.
func elapsed(now, t time.Time) time.Duration {
	if d := now.Sub(t); d > 0 {
		return d
	}
	return 0
}
