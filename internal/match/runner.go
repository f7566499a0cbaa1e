// Package match drives one match for a peer: the lobby handshake, the
// rollback session with the arena simulation, and the save and journal
// written when it ends.
package match

import (
	"context"
	"errors"
	"time"

	"github.com/yndnr/rollmesh-go/internal/core/domain"
	"github.com/yndnr/rollmesh-go/internal/core/session"
	"github.com/yndnr/rollmesh-go/internal/lobby"
	"github.com/yndnr/rollmesh-go/internal/sim/arena"
	"github.com/yndnr/rollmesh-go/internal/storage/journal"
	"github.com/yndnr/rollmesh-go/internal/storage/savegame"
	"github.com/yndnr/rollmesh-go/internal/telemetry/logger"
	"github.com/yndnr/rollmesh-go/internal/telemetry/metric"
	"github.com/yndnr/rollmesh-go/internal/transport"
)

// DefaultTickInterval is one frame at 60 Hz.
const DefaultTickInterval = time.Second / 60

// InputFunc produces the local input for a frame.
type InputFunc func(handle int, frame domain.Frame) domain.Input

// Idle presses nothing.
func Idle(int, domain.Frame) domain.Input {
	return domain.Input{0}
}

// Config configures a Runner.
type Config struct {
	// Channel is required and shared by the lobby and the session.
	Channel transport.Channel

	Session session.Config
	Lobby   lobby.Config

	TickInterval time.Duration

	// MaxFrames ends the match once this many frames are confirmed. Zero
	// plays until the context is cancelled or every other peer is gone.
	MaxFrames int

	// Input defaults to Idle.
	Input InputFunc

	// Saves, when set, receives the confirmed state when the match ends.
	Saves *savegame.Manager

	// Resume offers the newest save in Saves to the lobby.
	Resume bool

	// Journal, when set, records the match for offline replay.
	Journal *journal.Journal

	Logger  logger.Logger
	Metrics *metric.Registry
}

// Result describes a finished match.
type Result struct {
	MatchID domain.MatchID
	Roster  []domain.PeerID

	// Frame and Confirmed are session frames, counted from the start of
	// this run.
	Frame     domain.Frame
	Confirmed domain.Frame

	// BaseFrame is the frame of the resumed save, zero for a new game.
	BaseFrame domain.Frame

	Rollbacks int
	Desyncs   []domain.Desync

	// Kills counts kills in the confirmed end state, not counting those
	// carried in by a resumed save.
	Kills int

	// Save is set when the end state was saved.
	Save *savegame.Info
}

// Runner plays one match.
type Runner struct {
	cfg Config
}

// New validates the configuration.
func New(cfg Config) (*Runner, error) {
	if cfg.Channel == nil {
		return nil, domain.ErrInvalidConfig.WithDetails("match: channel is required")
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.Input == nil {
		cfg.Input = Idle
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metric.NewNop()
	}
	cfg.Session.InputSize = arena.InputSize
	if err := cfg.Session.Validate(); err != nil {
		return nil, err
	}
	cfg.Lobby.Logger = cfg.Logger
	cfg.Lobby.Metrics = cfg.Metrics

	return &Runner{cfg: cfg}, nil
}

// Run waits in the lobby until every peer is ready, then plays the match.
// Cancelling ctx during the match ends it normally: the result and the
// save are still produced.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	ctx = logger.WithLogger(ctx, r.cfg.Logger)
	if logger.PeerIDFromContext(ctx) == "" {
		ctx = logger.WithPeerID(ctx, string(r.cfg.Channel.LocalID()))
	}

	start, err := r.waitLobby(ctx)
	if err != nil {
		return nil, err
	}
	return r.play(ctx, start)
}

func matchLog(ctx context.Context) logger.Logger {
	return logger.L(ctx).With("component", "match")
}

func (r *Runner) waitLobby(ctx context.Context) (*lobby.Start, error) {
	log := matchLog(ctx)
	lb := lobby.New(r.cfg.Channel, r.cfg.Lobby)
	if r.cfg.Resume && r.cfg.Saves != nil {
		save, info, err := r.cfg.Saves.Load()
		switch {
		case err == nil && save.State != nil:
			lb.SetSave(save.Offer())
			log.Info("offering save", "save_id", info.ID, "frame", int(save.Frame))
		case err != nil && !errors.Is(err, domain.ErrSaveNotFound):
			log.Warn("load save failed", "error", err)
		}
	}
	lb.SetReady(true)

	ticker := time.NewTicker(r.cfg.TickInterval)
	defer ticker.Stop()
	for {
		if start, ok := lb.Poll(); ok {
			return start, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// newWorld builds the arena for the roster and restores the agreed save
// into it. Every peer restores the same save into the same roster.
func (r *Runner) newWorld(ctx context.Context, start *lobby.Start) (*arena.Arena, domain.Frame) {
	log := matchLog(ctx)
	world := arena.New(start.Roster)
	if start.Save == nil {
		return world, 0
	}
	if err := world.Restore(start.Save.State); err != nil {
		log.Warn("agreed save is unreadable, starting a new game", "owner", string(start.SaveOwner), "error", err)
		return arena.New(start.Roster), 0
	}
	log.Info("resuming save", "owner", string(start.SaveOwner), "frame", int(start.Save.Frame))
	return world, start.Save.Frame
}

func (r *Runner) play(ctx context.Context, start *lobby.Start) (*Result, error) {
	world, base := r.newWorld(ctx, start)
	baseKills := frags(world.Players())

	cfg := r.cfg.Session
	if cfg.MatchID == "" {
		id, err := domain.GenerateMatchID()
		if err != nil {
			return nil, err
		}
		cfg.MatchID = id
	}
	ctx = logger.WithMatchID(ctx, string(cfg.MatchID))
	log := matchLog(ctx)

	res := &Result{MatchID: cfg.MatchID, Roster: start.Roster, BaseFrame: base}
	world.OnEvent = func(ev arena.Event) {
		if ev.Kind == arena.EventKill {
			log.Debug("kill", "frame", int(ev.Frame), "player", string(ev.Player), "victim", string(ev.Victim))
		}
	}

	deps := session.Deps{
		Channel:    r.cfg.Channel,
		Simulation: world,
		Logger:     r.cfg.Logger,
		Metrics:    r.cfg.Metrics,
		LobbyEcho:  start.Final,
	}
	if r.cfg.Journal != nil {
		rec := r.cfg.Journal.Match(cfg.MatchID)
		initial, err := world.SerializeState()
		if err != nil {
			return nil, err
		}
		if err := rec.RecordInitial(initial); err != nil {
			log.Warn("journal initial state failed", "error", err)
		}
		deps.Journal = rec
	}

	sess, err := session.New(cfg, deps)
	if err != nil {
		return nil, err
	}
	for _, id := range start.Roster {
		if id == sess.LocalID() {
			continue
		}
		if err := sess.Join(id); err != nil {
			return nil, err
		}
	}
	collector := metric.NewCollector("", sess)
	if err := r.cfg.Metrics.Register(collector); err != nil {
		log.Warn("session collector not registered", "error", err)
	} else {
		defer r.cfg.Metrics.Unregister(collector)
	}
	log.Info("match started", "players", len(start.Roster), "local_handle", start.LocalHandle)

	runErr := r.loop(ctx, sess, start.LocalHandle, res)

	res.Frame = sess.Frame()
	res.Confirmed = sess.ConfirmedFrontier()
	cp, err := sess.ConfirmedCheckpoint()
	if err != nil {
		log.Error("confirmed checkpoint unavailable", "error", err)
		return res, errors.Join(runErr, err)
	}
	if kills, err := confirmedKills(start.Roster, cp.State); err != nil {
		log.Warn("count kills failed", "error", err)
	} else {
		res.Kills = kills - baseKills
	}
	if r.cfg.Saves != nil && runErr == nil {
		info, err := r.save(ctx, sess.MatchID(), base+cp.Frame, cp.State)
		if err != nil {
			log.Error("save failed", "error", err)
		} else {
			res.Save = info
		}
	}

	log.Info("match ended",
		"frame", int(res.Frame),
		"confirmed", int(res.Confirmed),
		"rollbacks", res.Rollbacks,
		"desyncs", len(res.Desyncs),
		"kills", res.Kills)
	return res, runErr
}

func (r *Runner) loop(ctx context.Context, sess *session.Session, handle int, res *Result) error {
	log := matchLog(ctx)
	ticker := time.NewTicker(r.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		result, err := sess.AdvanceFrame(r.cfg.Input(handle, sess.Frame()+1))
		if err != nil {
			return err
		}
		if result.Resimulated > 0 {
			res.Rollbacks++
		}
		for _, d := range sess.DesyncEvents() {
			log.Warn("desync", "frame", int(d.Frame), "peer", string(d.Peer), "local", d.Local.String(), "remote", d.Remote.String())
			res.Desyncs = append(res.Desyncs, d)
		}
		for _, ev := range sess.PeerEvents() {
			log.Info("peer "+ev.Kind.String(), "peer", string(ev.Peer), "frame", int(ev.Frame))
		}

		if r.cfg.MaxFrames > 0 && int(result.ConfirmedThrough) >= r.cfg.MaxFrames {
			return nil
		}
		if alone(sess) {
			log.Info("every other peer is gone")
			return nil
		}
	}
}

func alone(sess *session.Session) bool {
	for _, p := range sess.Peers() {
		if !p.Local && p.Active() {
			return false
		}
	}
	return true
}

// frags sums the kills credited to every player.
func frags(players []arena.Player) int {
	n := 0
	for _, p := range players {
		n += int(p.Frags)
	}
	return n
}

// confirmedKills counts kills in a confirmed state. Live kill events run on
// predicted input and may be undone by a rollback.
func confirmedKills(roster []domain.PeerID, state []byte) (int, error) {
	world := arena.New(roster)
	if err := world.Restore(state); err != nil {
		return 0, err
	}
	return frags(world.Players()), nil
}

func (r *Runner) save(ctx context.Context, id domain.MatchID, frame domain.Frame, state []byte) (*savegame.Info, error) {
	log := matchLog(ctx)
	info, err := r.cfg.Saves.Create(savegame.Save{
		MatchID: id,
		Frame:   frame,
		State:   state,
	})
	if err != nil {
		return nil, err
	}
	r.cfg.Metrics.RecordSave()
	if err := r.cfg.Saves.Prune(); err != nil {
		log.Warn("prune saves failed", "error", err)
	}
	log.Info("match saved", "save_id", info.ID, "frame", int(info.Frame))
	return info, nil
}
