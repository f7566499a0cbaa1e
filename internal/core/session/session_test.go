package session

import (
	"encoding/binary"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/yndnr/rollmesh-go/internal/core/domain"
	"github.com/yndnr/rollmesh-go/internal/protocol"
	"github.com/yndnr/rollmesh-go/internal/transport/memnet"
)

// ============================================================================
// Test simulation
// ============================================================================

// testSim folds every input into a running value. When divergeAt is set the
// instance writes a marker into the state of that one frame, which changes
// its digest without affecting later frames.
type testSim struct {
	frame domain.Frame
	value uint64
	noise byte

	divergeAt domain.Frame
	failAt    domain.Frame

	loads  []domain.Frame
	resims []domain.Frame

	// traced peer's input byte for every step of a frame, replays included.
	traced domain.PeerID
	trace  map[domain.Frame][]byte
}

func (m *testSim) SerializeState() ([]byte, error) {
	buf := make([]byte, 13)
	binary.LittleEndian.PutUint32(buf[0:], uint32(m.frame))
	binary.LittleEndian.PutUint64(buf[4:], m.value)
	buf[12] = m.noise
	return buf, nil
}

func (m *testSim) DeserializeState(state []byte) error {
	if len(state) != 13 {
		return errors.New("bad state length")
	}
	m.frame = domain.Frame(binary.LittleEndian.Uint32(state[0:]))
	m.value = binary.LittleEndian.Uint64(state[4:])
	m.noise = state[12]
	m.loads = append(m.loads, m.frame)
	return nil
}

func (m *testSim) Step(ctx domain.StepContext, inputs domain.InputSet) error {
	if m.failAt != 0 && ctx.Frame == m.failAt {
		return errors.New("simulation exploded")
	}
	if ctx.Resimulating {
		m.resims = append(m.resims, ctx.Frame)
	}
	if m.traced != "" {
		if in, ok := inputs.Get(m.traced); ok {
			if m.trace == nil {
				m.trace = make(map[domain.Frame][]byte)
			}
			m.trace[ctx.Frame] = append(m.trace[ctx.Frame], in.Bits[0])
		}
	}
	m.frame = ctx.Frame
	m.value = m.value*1099511628211 + uint64(ctx.Frame)
	for i, in := range inputs.Inputs {
		for _, b := range in.Bits {
			m.value = m.value*31 + uint64(b)*uint64(i+1)
		}
	}
	m.noise = 0
	if m.divergeAt != 0 && ctx.Frame == m.divergeAt {
		m.noise = 1
	}
	return nil
}

type script func(peer domain.PeerID, frame domain.Frame) byte

// groundTruth runs the simulation with every input known in advance.
func groundTruth(t *testing.T, peers []domain.PeerID, through domain.Frame, in script) uint64 {
	t.Helper()
	sorted := append([]domain.PeerID(nil), peers...)
	domain.SortPeerIDs(sorted)

	sim := &testSim{}
	for f := domain.Frame(1); f <= through; f++ {
		set := domain.InputSet{Frame: f}
		for _, p := range sorted {
			set.Inputs = append(set.Inputs, domain.PlayerInput{
				Peer:   p,
				Status: domain.InputConfirmed,
				Bits:   domain.Input{in(p, f)},
			})
		}
		if err := sim.Step(domain.StepContext{Frame: f}, set); err != nil {
			t.Fatal(err)
		}
	}
	return sim.value
}

// ============================================================================
// Harness
// ============================================================================

type harness struct {
	t     *testing.T
	net   *memnet.Network
	clock time.Time
	ids   []domain.PeerID
	in    script

	sessions map[domain.PeerID]*Session
	sims     map[domain.PeerID]*testSim
	desyncs  map[domain.PeerID][]domain.Desync
	results  map[domain.PeerID][]domain.FrameResult
}

func newHarness(t *testing.T, netCfg memnet.Config, cfg Config, in script, ids ...domain.PeerID) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		net:      memnet.New(netCfg),
		clock:    time.Unix(1700000000, 0),
		ids:      ids,
		in:       in,
		sessions: make(map[domain.PeerID]*Session),
		sims:     make(map[domain.PeerID]*testSim),
		desyncs:  make(map[domain.PeerID][]domain.Desync),
		results:  make(map[domain.PeerID][]domain.FrameResult),
	}
	for _, id := range ids {
		h.sims[id] = &testSim{}
		s, err := New(cfg, Deps{
			Channel:    h.net.Endpoint(id),
			Simulation: h.sims[id],
			Now:        func() time.Time { return h.clock },
		})
		if err != nil {
			t.Fatalf("New(%s) error = %v", id, err)
		}
		h.sessions[id] = s
	}
	for _, id := range ids {
		for _, other := range ids {
			if other == id {
				continue
			}
			if err := h.sessions[id].Join(other); err != nil {
				t.Fatalf("%s.Join(%s) error = %v", id, other, err)
			}
		}
	}
	return h
}

// step advances every session once, then delivers due packets.
func (h *harness) step() {
	h.t.Helper()
	for _, id := range h.ids {
		s := h.sessions[id]
		res, err := s.AdvanceFrame(domain.Input{h.in(id, s.Frame()+1)})
		if err != nil {
			h.t.Fatalf("%s.AdvanceFrame() error = %v", id, err)
		}
		h.results[id] = append(h.results[id], res)
		h.desyncs[id] = append(h.desyncs[id], s.DesyncEvents()...)
	}
	h.net.Tick()
	h.clock = h.clock.Add(16 * time.Millisecond)
}

// runUntilConfirmed steps until every frontier reaches frame.
func (h *harness) runUntilConfirmed(frame domain.Frame, maxSteps int) {
	h.t.Helper()
	for i := 0; i < maxSteps; i++ {
		done := true
		for _, s := range h.sessions {
			if s.ConfirmedFrontier() < frame {
				done = false
			}
		}
		if done {
			return
		}
		h.step()
	}
	for id, s := range h.sessions {
		h.t.Logf("%s: frame=%d frontier=%d", id, s.Frame(), s.ConfirmedFrontier())
	}
	h.t.Fatalf("frontier did not reach %d within %d steps", frame, maxSteps)
}

// checkConfirmedState compares each session's confirmed checkpoint with a
// run that knew every input up front.
func (h *harness) checkConfirmedState() {
	h.t.Helper()
	for _, id := range h.ids {
		cp, err := h.sessions[id].ConfirmedCheckpoint()
		if err != nil {
			h.t.Fatalf("%s.ConfirmedCheckpoint() error = %v", id, err)
		}
		got := &testSim{}
		if err := got.DeserializeState(cp.State); err != nil {
			h.t.Fatal(err)
		}
		if got.frame != cp.Frame {
			h.t.Errorf("%s: checkpoint frame %d holds state of frame %d", id, cp.Frame, got.frame)
		}
		if want := groundTruth(h.t, h.ids, cp.Frame, h.in); got.value != want {
			h.t.Errorf("%s: confirmed state at frame %d = %d, want %d", id, cp.Frame, got.value, want)
		}
	}
}

func quickConfig() Config {
	cfg := DefaultConfig()
	cfg.SyncRoundtrips = 0
	return cfg
}

// ============================================================================
// Tests
// ============================================================================

func TestNew_InvalidConfig(t *testing.T) {
	net := memnet.New(memnet.Config{})

	tests := []struct {
		name   string
		mutate func(*Config)
		deps   Deps
	}{
		{"zero input size", func(c *Config) { c.InputSize = 0 }, Deps{Channel: net.Endpoint("a"), Simulation: &testSim{}}},
		{"zero window", func(c *Config) { c.PredictionWindow = 0 }, Deps{Channel: net.Endpoint("a"), Simulation: &testSim{}}},
		{"bad policy", func(c *Config) { c.DesyncPolicy = "ignore" }, Deps{Channel: net.Endpoint("a"), Simulation: &testSim{}}},
		{"bad match id", func(c *Config) { c.MatchID = "match-1" }, Deps{Channel: net.Endpoint("a"), Simulation: &testSim{}}},
		{"missing channel", func(c *Config) {}, Deps{Simulation: &testSim{}}},
		{"missing simulation", func(c *Config) {}, Deps{Channel: net.Endpoint("a")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := New(cfg, tt.deps)
			if !errors.Is(err, domain.ErrInvalidConfig) {
				t.Errorf("New() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestSession_SoloAdvancesFreely(t *testing.T) {
	net := memnet.New(memnet.Config{})
	s, err := New(DefaultConfig(), Deps{Channel: net.Endpoint("a"), Simulation: &testSim{}})
	if err != nil {
		t.Fatal(err)
	}
	if !s.MatchID().Valid() {
		t.Errorf("MatchID() = %q, want a generated id", s.MatchID())
	}

	for i := 1; i <= 20; i++ {
		res, err := s.AdvanceFrame(domain.Input{1})
		if err != nil {
			t.Fatal(err)
		}
		if !res.Advanced() || res.Frame != domain.Frame(i) {
			t.Fatalf("step %d: result = %+v", i, res)
		}
		if res.ConfirmedThrough != res.Frame {
			t.Fatalf("step %d: ConfirmedThrough = %d, want %d", i, res.ConfirmedThrough, res.Frame)
		}
	}
	if snap := s.MetricsSnapshot(); snap.Checkpoints != 1 {
		t.Errorf("checkpoints retained = %d, want 1", snap.Checkpoints)
	}
}

func TestSession_InvalidInputSize(t *testing.T) {
	net := memnet.New(memnet.Config{})
	s, _ := New(DefaultConfig(), Deps{Channel: net.Endpoint("a"), Simulation: &testSim{}})

	_, err := s.AdvanceFrame(domain.Input{1, 2})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("AdvanceFrame() error = %v, want ErrInvalidInput", err)
	}
	if s.Err() != nil {
		t.Error("invalid input must not abort the session")
	}
	if res, err := s.AdvanceFrame(domain.Input{1}); err != nil || res.Frame != 1 {
		t.Errorf("AdvanceFrame() = %+v, %v", res, err)
	}
}

func TestSession_StallsAtPredictionWindow(t *testing.T) {
	net := memnet.New(memnet.Config{})
	net.Endpoint("b")

	cfg := quickConfig()
	cfg.DisconnectTimeout = 0
	sim := &testSim{}
	s, _ := New(cfg, Deps{Channel: net.Endpoint("a"), Simulation: sim})
	if err := s.Join("b"); err != nil {
		t.Fatal(err)
	}

	for i := 1; i <= cfg.PredictionWindow; i++ {
		res, err := s.AdvanceFrame(domain.Input{1})
		if err != nil || !res.Advanced() {
			t.Fatalf("step %d: %+v, %v", i, res, err)
		}
	}
	for i := 0; i < 3; i++ {
		res, err := s.AdvanceFrame(domain.Input{1})
		if err != nil {
			t.Fatal(err)
		}
		if res.Status != domain.FrameStalled || res.Reason != domain.StallPredictionWindow {
			t.Fatalf("result = %+v, want stalled on prediction window", res)
		}
		if res.Frame != domain.Frame(cfg.PredictionWindow) {
			t.Errorf("Frame = %d, want %d", res.Frame, cfg.PredictionWindow)
		}
	}
	if sim.frame != domain.Frame(cfg.PredictionWindow) {
		t.Errorf("simulation stepped to %d during stall", sim.frame)
	}
}

func TestSession_HandshakeStallsUntilSynchronized(t *testing.T) {
	in := func(domain.PeerID, domain.Frame) byte { return 0 }
	h := newHarness(t, memnet.Config{Latency: 1}, DefaultConfig(), in, "a", "b")

	h.step()
	for _, id := range h.ids {
		res := h.results[id][0]
		if res.Status != domain.FrameStalled || res.Reason != domain.StallSynchronizing {
			t.Fatalf("%s first result = %+v, want stalled synchronizing", id, res)
		}
	}

	h.runUntilConfirmed(5, 200)

	for _, id := range h.ids {
		events := h.sessions[id].PeerEvents()
		var kinds []domain.PeerEventKind
		for _, ev := range events {
			kinds = append(kinds, ev.Kind)
		}
		if len(kinds) != 2 || kinds[0] != domain.PeerEventJoined || kinds[1] != domain.PeerEventSynchronized {
			t.Errorf("%s peer events = %v, want joined then synchronized", id, kinds)
		}
		for _, p := range h.sessions[id].Peers() {
			if p.Status != domain.PeerSynchronized {
				t.Errorf("%s sees %s as %s", id, p.ID, p.Status)
			}
			if !p.Local && p.SyncRoundtrips != DefaultConfig().SyncRoundtrips {
				t.Errorf("%s: %s completed %d round-trips", id, p.ID, p.SyncRoundtrips)
			}
		}
	}
}

func TestSession_LateRemoteInputRollsBack(t *testing.T) {
	// b presses a button only at frame 5; everything else is neutral.
	in := func(p domain.PeerID, f domain.Frame) byte {
		if p == "b" && f == 5 {
			return 9
		}
		return 0
	}
	h := newHarness(t, memnet.Config{}, quickConfig(), in, "a", "b")

	// Hold back every b->a input run carrying frame 5 until a is at frame 8.
	h.net.SetFilter(func(from, to domain.PeerID, data []byte) memnet.Verdict {
		if from != "b" || to != "a" {
			return memnet.Verdict{}
		}
		msg, err := protocol.Decode(data)
		if err != nil || msg.Kind != protocol.KindInput {
			return memnet.Verdict{}
		}
		end := msg.Frame + domain.Frame(len(msg.Inputs))
		carries5 := msg.Frame <= 5 && end > 5
		return memnet.Verdict{Drop: carries5 && h.sessions["a"].Frame() < 8}
	})

	for i := 0; i < 9; i++ {
		h.step()
	}

	sim := h.sims["a"]
	if len(sim.loads) != 1 || sim.loads[0] != 4 {
		t.Fatalf("a loaded checkpoints %v, want [4]", sim.loads)
	}
	want := []domain.Frame{5, 6, 7, 8}
	if fmt.Sprint(sim.resims) != fmt.Sprint(want) {
		t.Errorf("a resimulated frames %v, want %v", sim.resims, want)
	}
	last := h.results["a"][8]
	if last.Resimulated != 4 || last.Frame != 9 {
		t.Errorf("a step 9 result = %+v, want 4 frames resimulated ending at 9", last)
	}
	if len(h.sims["b"].loads) != 0 {
		t.Errorf("b rolled back %v, want no rollback", h.sims["b"].loads)
	}

	h.net.SetFilter(nil)
	h.runUntilConfirmed(12, 50)
	h.checkConfirmedState()
}

func TestSession_ChecksumMismatchRaisesOneDesync(t *testing.T) {
	in := func(p domain.PeerID, f domain.Frame) byte { return byte(f) + byte(len(p)) }
	h := newHarness(t, memnet.Config{Latency: 1, Duplicate: 0.5, Seed: 3}, quickConfig(), in, "a", "b")
	h.sims["b"].divergeAt = 20

	h.runUntilConfirmed(35, 200)

	for _, tt := range []struct {
		self, other domain.PeerID
	}{
		{"a", "b"},
		{"b", "a"},
	} {
		got := h.desyncs[tt.self]
		if len(got) != 1 {
			t.Fatalf("%s desyncs = %v, want exactly one", tt.self, got)
		}
		if got[0].Frame != 20 || got[0].Peer != tt.other {
			t.Errorf("%s desync = %+v, want frame 20 with %s", tt.self, got[0], tt.other)
		}
		if got[0].Local == got[0].Remote {
			t.Errorf("%s desync digests should differ", tt.self)
		}
	}
}

func TestSession_DesyncAbortPolicy(t *testing.T) {
	in := func(domain.PeerID, domain.Frame) byte { return 1 }
	cfg := quickConfig()
	cfg.DesyncPolicy = DesyncAbort
	h := newHarness(t, memnet.Config{}, cfg, in, "a", "b")
	h.sims["b"].divergeAt = 10

	var err error
	for i := 0; i < 100 && err == nil; i++ {
		_, err = h.sessions["a"].AdvanceFrame(domain.Input{1})
		if err == nil {
			_, err = h.sessions["b"].AdvanceFrame(domain.Input{1})
		}
		h.net.Tick()
	}
	if !errors.Is(err, domain.ErrSessionAborted) || !errors.Is(err, domain.ErrDesyncDetected) {
		t.Fatalf("error = %v, want aborted by desync", err)
	}
}

func TestSession_AbortIsSticky(t *testing.T) {
	net := memnet.New(memnet.Config{})
	s, _ := New(DefaultConfig(), Deps{Channel: net.Endpoint("a"), Simulation: &testSim{failAt: 3}})

	for i := 0; i < 2; i++ {
		if _, err := s.AdvanceFrame(domain.Input{0}); err != nil {
			t.Fatal(err)
		}
	}
	_, err := s.AdvanceFrame(domain.Input{0})
	if !errors.Is(err, domain.ErrSessionAborted) || !errors.Is(err, domain.ErrSimulation) {
		t.Fatalf("AdvanceFrame() error = %v, want aborted by simulation failure", err)
	}
	if !domain.IsFatal(err) {
		t.Error("abort should be fatal")
	}
	if _, err := s.AdvanceFrame(domain.Input{0}); !errors.Is(err, domain.ErrSessionAborted) {
		t.Errorf("later AdvanceFrame() error = %v, want ErrSessionAborted", err)
	}
	if err := s.Join("z"); !errors.Is(err, domain.ErrSessionAborted) {
		t.Errorf("Join() after abort error = %v", err)
	}
}

func TestSession_TimeoutDisconnectsAndUnblocks(t *testing.T) {
	net := memnet.New(memnet.Config{})
	net.Endpoint("b")

	clock := time.Unix(1700000000, 0)
	cfg := quickConfig()
	cfg.DisconnectTimeout = 2 * time.Second
	s, _ := New(cfg, Deps{
		Channel:    net.Endpoint("a"),
		Simulation: &testSim{},
		Now:        func() time.Time { return clock },
	})
	if err := s.Join("b"); err != nil {
		t.Fatal(err)
	}

	var stalled bool
	for i := 0; i < 40; i++ {
		res, err := s.AdvanceFrame(domain.Input{1})
		if err != nil {
			t.Fatal(err)
		}
		if res.Status == domain.FrameStalled {
			stalled = true
		}
		clock = clock.Add(100 * time.Millisecond)
	}
	if !stalled {
		t.Fatal("session should stall while b is silent")
	}
	if s.Frame() <= domain.Frame(cfg.PredictionWindow) {
		t.Errorf("Frame() = %d, want progress after b timed out", s.Frame())
	}

	var disconnected bool
	for _, ev := range s.PeerEvents() {
		if ev.Kind == domain.PeerEventDisconnected && ev.Peer == "b" {
			disconnected = true
		}
	}
	if !disconnected {
		t.Error("missing disconnected event for b")
	}
	for _, p := range s.Peers() {
		if p.ID == "b" && p.Status != domain.PeerDisconnected {
			t.Errorf("b status = %s, want disconnected", p.Status)
		}
	}
	if s.ConfirmedFrontier() != s.Frame() {
		t.Errorf("frontier = %d, want %d once b no longer counts", s.ConfirmedFrontier(), s.Frame())
	}
}

func TestSession_JoinLeave(t *testing.T) {
	net := memnet.New(memnet.Config{})
	s, _ := New(quickConfig(), Deps{Channel: net.Endpoint("b"), Simulation: &testSim{}})

	if err := s.Join("b"); !errors.Is(err, domain.ErrPeerExists) {
		t.Errorf("Join(self) error = %v, want ErrPeerExists", err)
	}
	if err := s.Join("c"); err != nil {
		t.Fatal(err)
	}
	if err := s.Join("c"); !errors.Is(err, domain.ErrPeerExists) {
		t.Errorf("second Join error = %v, want ErrPeerExists", err)
	}
	if err := s.Join("a"); err != nil {
		t.Fatal(err)
	}

	peers := s.Peers()
	for i, want := range []domain.PeerID{"a", "b", "c"} {
		if peers[i].ID != want || peers[i].Handle != i {
			t.Errorf("peers[%d] = %s/%d, want %s/%d", i, peers[i].ID, peers[i].Handle, want, i)
		}
	}

	if err := s.Leave("zz"); !errors.Is(err, domain.ErrUnknownPeer) {
		t.Errorf("Leave(unknown) error = %v, want ErrUnknownPeer", err)
	}
	if err := s.Leave("a"); err != nil {
		t.Fatal(err)
	}
	if err := s.Leave("a"); err != nil {
		t.Errorf("second Leave error = %v", err)
	}
	if err := s.Join("a"); err != nil {
		t.Errorf("re-Join after Leave error = %v", err)
	}
	if err := s.JoinAt("d", 0); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("JoinAt(past) error = %v, want ErrInvalidInput", err)
	}

	var kinds []string
	for _, ev := range s.PeerEvents() {
		kinds = append(kinds, ev.Kind.String()+":"+string(ev.Peer))
	}
	want := "[joined:c synchronized:c joined:a synchronized:a left:a joined:a synchronized:a]"
	if fmt.Sprint(kinds) != want {
		t.Errorf("events = %v, want %s", kinds, want)
	}
}

func TestSession_LeaveUnblocksFrontier(t *testing.T) {
	in := func(domain.PeerID, domain.Frame) byte { return 2 }
	h := newHarness(t, memnet.Config{}, quickConfig(), in, "a", "b", "c")
	h.runUntilConfirmed(5, 50)

	// c goes silent; a and b drop it explicitly.
	h.net.Remove("c")
	h.ids = []domain.PeerID{"a", "b"}
	delete(h.sessions, "c")

	for _, id := range h.ids {
		if err := h.sessions[id].Leave("c"); err != nil {
			t.Fatal(err)
		}
	}
	h.runUntilConfirmed(30, 100)
}

func TestSession_JoinMidSessionUsesNeutralInput(t *testing.T) {
	net := memnet.New(memnet.Config{})
	net.Endpoint("b")
	s, _ := New(quickConfig(), Deps{Channel: net.Endpoint("a"), Simulation: &testSim{}})
	for i := 0; i < 5; i++ {
		_, _ = s.AdvanceFrame(domain.Input{1})
	}

	if err := s.Join("b"); err != nil {
		t.Fatal(err)
	}
	if got := s.ConfirmedFrontier(); got != 5 {
		t.Errorf("ConfirmedFrontier() after join = %d, want 5", got)
	}
	for _, p := range s.Peers() {
		if p.ID == "b" && (p.JoinFrame != 6 || p.LastConfirmed != 5) {
			t.Errorf("b record = %+v, want join frame 6 confirmed through 5", p)
		}
	}
}

func TestSession_RejoinKeepsHistoryForRollback(t *testing.T) {
	var pressAt domain.Frame
	in := func(p domain.PeerID, f domain.Frame) byte {
		switch {
		case p == "c":
			return 7
		case p == "b" && pressAt != 0 && f >= pressAt:
			return 9
		}
		return 0
	}
	h := newHarness(t, memnet.Config{}, quickConfig(), in, "a", "b", "c")
	h.sims["a"].traced = "c"
	h.runUntilConfirmed(3, 50)

	// c drops out; b's input stops reaching a, so a predicts b from here on.
	h.net.Remove("c")
	h.ids = []domain.PeerID{"a", "b"}
	delete(h.sessions, "c")
	for _, id := range h.ids {
		if err := h.sessions[id].Leave("c"); err != nil {
			t.Fatal(err)
		}
	}
	pressAt = h.sessions["b"].Frame() + 2
	h.net.SetFilter(func(from, to domain.PeerID, _ []byte) memnet.Verdict {
		return memnet.Verdict{Drop: from == "b" && to == "a"}
	})
	for i := 0; i < 4; i++ {
		h.step()
	}

	a := h.sessions["a"]
	rejoin := a.Frame() + 1
	if rejoin <= pressAt {
		t.Fatalf("a at frame %d, want past %d", a.Frame(), pressAt)
	}
	if err := a.Join("c"); err != nil {
		t.Fatalf("re-Join error = %v", err)
	}

	// b's late input contradicts a's prediction and rolls a back across
	// the frames c spent frozen.
	h.net.SetFilter(nil)
	for i := 0; i < 3; i++ {
		h.step()
	}

	sim := h.sims["a"]
	replayed := false
	for _, f := range sim.resims {
		if f >= pressAt && f < rejoin {
			replayed = true
		}
	}
	if !replayed {
		t.Fatalf("a resimulated %v, want frames in [%d, %d)", sim.resims, pressAt, rejoin)
	}
	for f := pressAt; f < rejoin; f++ {
		for i, b := range sim.trace[f] {
			if b != 7 {
				t.Errorf("frame %d step %d: c input = %02x, want 07", f, i, b)
			}
		}
	}
}

func TestSession_ConvergesUnderLossAndReordering(t *testing.T) {
	in := func(p domain.PeerID, f domain.Frame) byte {
		return byte(int(f)*3+len(p)*5) ^ p[0]
	}
	tests := []struct {
		name string
		net  memnet.Config
	}{
		{"latency", memnet.Config{Latency: 3}},
		{"jitter", memnet.Config{Latency: 1, Jitter: 4, Seed: 11}},
		{"loss and duplication", memnet.Config{Latency: 2, Jitter: 2, Loss: 0.2, Duplicate: 0.2, Seed: 7}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.net, DefaultConfig(), in, "a", "b", "c")
			h.runUntilConfirmed(60, 2000)
			h.checkConfirmedState()

			for _, id := range h.ids {
				if d := h.desyncs[id]; len(d) != 0 {
					t.Errorf("%s reported desyncs %v", id, d)
				}
			}
		})
	}
}

type recordingJournal struct {
	frames    []domain.Frame
	checksums []domain.Frame
}

func (j *recordingJournal) RecordInputs(in domain.InputSet) error {
	j.frames = append(j.frames, in.Frame)
	return nil
}

func (j *recordingJournal) RecordChecksum(rec domain.ChecksumRecord) error {
	j.checksums = append(j.checksums, rec.Frame)
	return nil
}

func TestSession_JournalsConfirmedFrames(t *testing.T) {
	net := memnet.New(memnet.Config{})
	j := &recordingJournal{}
	s, _ := New(DefaultConfig(), Deps{Channel: net.Endpoint("a"), Simulation: &testSim{}, Journal: j})

	for i := 0; i < 25; i++ {
		if _, err := s.AdvanceFrame(domain.Input{byte(i)}); err != nil {
			t.Fatal(err)
		}
	}
	if len(j.frames) != 25 {
		t.Fatalf("journaled %d frames, want 25", len(j.frames))
	}
	for i, f := range j.frames {
		if f != domain.Frame(i+1) {
			t.Fatalf("journal order %v", j.frames)
		}
	}
	if fmt.Sprint(j.checksums) != "[10 20]" {
		t.Errorf("journaled checksums %v, want [10 20]", j.checksums)
	}
}
