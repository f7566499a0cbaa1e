package inputsync

import (
	"errors"
	"testing"

	"github.com/yndnr/rollmesh-go/internal/core/domain"
)

func newTestSync(t *testing.T, local domain.PeerID, remotes ...domain.PeerID) *Synchronizer {
	t.Helper()
	s, err := New(Config{Local: local, InputSize: 1, Window: 8})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	for _, p := range remotes {
		if err := s.AddPeer(p, 1); err != nil {
			t.Fatalf("AddPeer(%s) error = %v", p, err)
		}
	}
	return s
}

func advanceLocal(t *testing.T, s *Synchronizer, through domain.Frame, bits byte) {
	t.Helper()
	for f := s.CurrentFrame() + 1; f <= through; f++ {
		if err := s.AddLocal(f, domain.Input{bits}); err != nil {
			t.Fatalf("AddLocal(%d) error = %v", f, err)
		}
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"empty local", Config{InputSize: 1, Window: 8}},
		{"zero input size", Config{Local: "a", Window: 8}},
		{"zero window", Config{Local: "a", InputSize: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); !errors.Is(err, domain.ErrInvalidConfig) {
				t.Errorf("New() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestSynchronizer_HandlesFollowSortedIDs(t *testing.T) {
	s := newTestSync(t, "bravo", "charlie", "alpha")

	want := []domain.PeerID{"alpha", "bravo", "charlie"}
	for i, id := range want {
		h, ok := s.Handle(id)
		if !ok || h != i {
			t.Errorf("Handle(%s) = %d, %v, want %d", id, h, ok, i)
		}
	}
	if _, ok := s.Handle("delta"); ok {
		t.Error("Handle(delta) should miss")
	}

	set := s.InputSet(1)
	for i, id := range want {
		if set.Inputs[i].Peer != id {
			t.Errorf("InputSet entry %d = %s, want %s", i, set.Inputs[i].Peer, id)
		}
	}
}

func TestSynchronizer_LocalInputConfirmed(t *testing.T) {
	s := newTestSync(t, "a", "b")
	if err := s.AddLocal(1, domain.Input{5}); err != nil {
		t.Fatal(err)
	}

	in, _ := s.InputSet(1).Get("a")
	if !in.Confirmed() || in.Bits[0] != 5 {
		t.Errorf("local entry = %+v, want confirmed 05", in)
	}
	if s.LastConfirmed("a") != 1 {
		t.Errorf("LastConfirmed(a) = %d, want 1", s.LastConfirmed("a"))
	}
}

func TestSynchronizer_AddLocalValidation(t *testing.T) {
	s := newTestSync(t, "a")
	if err := s.AddLocal(1, domain.Input{1, 2}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("wrong size error = %v, want ErrInvalidInput", err)
	}
	if err := s.AddLocal(2, domain.Input{1}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("gap error = %v, want ErrInvalidInput", err)
	}
}

func TestSynchronizer_Prediction(t *testing.T) {
	s := newTestSync(t, "a", "b")
	advanceLocal(t, s, 4, 0)

	// No confirmed input yet: neutral.
	in, _ := s.InputSet(1).Get("b")
	if in.Confirmed() || in.Bits[0] != 0 {
		t.Errorf("frame 1 = %+v, want predicted neutral", in)
	}

	s.AddRemote("b", 1, domain.Input{3})
	s.AddRemote("b", 2, domain.Input{7})

	// Frame 4 repeats the newest confirmed input older than it.
	in, _ = s.InputSet(4).Get("b")
	if in.Confirmed() || in.Bits[0] != 7 {
		t.Errorf("frame 4 = %+v, want predicted 07", in)
	}
	in, _ = s.InputSet(2).Get("b")
	if !in.Confirmed() || in.Bits[0] != 7 {
		t.Errorf("frame 2 = %+v, want confirmed 07", in)
	}
}

func TestSynchronizer_FirstArrivalWins(t *testing.T) {
	s := newTestSync(t, "a", "b")
	advanceLocal(t, s, 3, 0)

	if !s.AddRemote("b", 2, domain.Input{1}) {
		t.Fatal("first AddRemote should be accepted")
	}
	before := s.InputSet(2)

	if s.AddRemote("b", 2, domain.Input{1}) {
		t.Error("duplicate AddRemote should be discarded")
	}
	if s.AddRemote("b", 2, domain.Input{9}) {
		t.Error("conflicting duplicate should be discarded")
	}

	after := s.InputSet(2)
	if !before.Equal(after) {
		t.Errorf("input set changed by duplicate: %v -> %v", before, after)
	}
}

func TestSynchronizer_AddRemoteRejects(t *testing.T) {
	s := newTestSync(t, "a", "b")
	advanceLocal(t, s, 2, 0)

	tests := []struct {
		name  string
		peer  domain.PeerID
		frame domain.Frame
		in    domain.Input
	}{
		{"unknown peer", "z", 1, domain.Input{1}},
		{"local peer", "a", 1, domain.Input{1}},
		{"wrong size", "b", 1, domain.Input{1, 2}},
		{"frame zero", "b", 0, domain.Input{1}},
		{"beyond window", "b", 2 + 8 + 2, domain.Input{1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if s.AddRemote(tt.peer, tt.frame, tt.in) {
				t.Error("AddRemote() should be rejected")
			}
		})
	}

	if !s.AddRemote("b", 2+8+1, domain.Input{1}) {
		t.Error("frame at the window edge should be accepted")
	}
}

func TestSynchronizer_LastConfirmedContiguous(t *testing.T) {
	s := newTestSync(t, "a", "b")
	advanceLocal(t, s, 5, 0)

	s.AddRemote("b", 1, domain.Input{1})
	s.AddRemote("b", 3, domain.Input{1})
	if got := s.LastConfirmed("b"); got != 1 {
		t.Errorf("LastConfirmed with gap = %d, want 1", got)
	}
	s.AddRemote("b", 2, domain.Input{1})
	if got := s.LastConfirmed("b"); got != 3 {
		t.Errorf("LastConfirmed after fill = %d, want 3", got)
	}
	if got := s.ConfirmedFrontier(); got != 3 {
		t.Errorf("ConfirmedFrontier() = %d, want 3", got)
	}
}

func TestSynchronizer_Correction(t *testing.T) {
	s := newTestSync(t, "a", "b")
	advanceLocal(t, s, 6, 0)
	s.AddRemote("b", 1, domain.Input{2})

	// Hand out predictions for 2..6 (all repeat 02).
	for f := domain.Frame(2); f <= 6; f++ {
		s.InputSet(f)
	}

	// Matching confirmation: no correction.
	s.AddRemote("b", 2, domain.Input{2})
	if _, ok := s.Correction("b", 2); ok {
		t.Error("matching confirmation should not be a correction")
	}

	s.AddRemote("b", 4, domain.Input{8})
	s.AddRemote("b", 3, domain.Input{5})

	in, ok := s.Correction("b", 3)
	if !ok || in[0] != 5 {
		t.Errorf("Correction(b, 3) = %v, %v, want 05, true", in, ok)
	}
	if _, ok := s.Correction("b", 5); ok {
		t.Error("unconfirmed frame should not be a correction")
	}
	if got := s.FirstIncorrectFrame(); got != 3 {
		t.Errorf("FirstIncorrectFrame() = %d, want 3", got)
	}

	s.ResetPredictions(3)
	if got := s.FirstIncorrectFrame(); !got.IsNull() {
		t.Errorf("FirstIncorrectFrame() after reset = %d, want NullFrame", got)
	}
}

func TestSynchronizer_ResetPredictionsKeepsEarlierRecords(t *testing.T) {
	s := newTestSync(t, "a", "b")
	advanceLocal(t, s, 4, 0)
	for f := domain.Frame(1); f <= 4; f++ {
		s.InputSet(f)
	}

	// Frame 3 arrives before frame 2.
	s.AddRemote("b", 3, domain.Input{1})
	if got := s.FirstIncorrectFrame(); got != 3 {
		t.Fatalf("FirstIncorrectFrame() = %d, want 3", got)
	}
	s.ResetPredictions(3)

	// The prediction for frame 2 is still tracked.
	s.AddRemote("b", 2, domain.Input{4})
	if got := s.FirstIncorrectFrame(); got != 2 {
		t.Errorf("FirstIncorrectFrame() = %d, want 2", got)
	}
}

func TestSynchronizer_JoinFrameNeutral(t *testing.T) {
	s := newTestSync(t, "a")
	advanceLocal(t, s, 5, 1)

	if err := s.AddPeer("b", 6); err != nil {
		t.Fatal(err)
	}
	if got := s.LastConfirmed("b"); got != 5 {
		t.Errorf("LastConfirmed(b) = %d, want 5", got)
	}
	if got := s.ConfirmedFrontier(); got != 5 {
		t.Errorf("ConfirmedFrontier() = %d, want 5", got)
	}

	in, _ := s.InputSet(3).Get("b")
	if !in.Confirmed() || in.Bits[0] != 0 {
		t.Errorf("pre-join entry = %+v, want confirmed neutral", in)
	}
	if s.AddRemote("b", 4, domain.Input{1}) {
		t.Error("input before the join frame should be discarded")
	}
}

func TestSynchronizer_AddPeerExisting(t *testing.T) {
	s := newTestSync(t, "a", "b")
	if err := s.AddPeer("b", 1); !errors.Is(err, domain.ErrPeerExists) {
		t.Errorf("AddPeer(active) error = %v, want ErrPeerExists", err)
	}
	if err := s.AddPeer("a", 1); !errors.Is(err, domain.ErrPeerExists) {
		t.Errorf("AddPeer(local) error = %v, want ErrPeerExists", err)
	}

	advanceLocal(t, s, 3, 0)
	s.AddRemote("b", 1, domain.Input{9})
	if err := s.Freeze("b"); err != nil {
		t.Fatal(err)
	}
	if err := s.AddPeer("b", 4); err != nil {
		t.Fatalf("AddPeer(frozen) error = %v", err)
	}
	if s.Frozen("b") {
		t.Error("re-added peer should not be frozen")
	}
	if got := s.LastConfirmed("b"); got != 3 {
		t.Errorf("LastConfirmed(b) after re-add = %d, want 3", got)
	}
	if len(s.Roster()) != 2 {
		t.Errorf("Roster() = %v, want two peers", s.Roster())
	}
}

func TestSynchronizer_RejoinKeepsFrozenHistory(t *testing.T) {
	s := newTestSync(t, "a", "b", "c")
	for f := domain.Frame(1); f <= 3; f++ {
		s.AddRemote("c", f, domain.Input{7})
	}
	advanceLocal(t, s, 6, 0)

	type view struct {
		bits   byte
		status domain.InputStatus
	}
	look := func(f domain.Frame) view {
		in, _ := s.InputSet(f).Get("c")
		return view{in.Bits[0], in.Status}
	}

	if err := s.Freeze("c"); err != nil {
		t.Fatal(err)
	}
	before := make(map[domain.Frame]view)
	for f := domain.Frame(1); f <= 6; f++ {
		before[f] = look(f)
	}

	if err := s.AddPeer("c", 7); err != nil {
		t.Fatalf("AddPeer(frozen) error = %v", err)
	}
	for f := domain.Frame(1); f <= 6; f++ {
		if got := look(f); got != before[f] {
			t.Errorf("frame %d input for c = %+v after re-add, want %+v", f, got, before[f])
		}
	}
	if got := look(7); got.bits != 0 || got.status != domain.InputPredicted {
		t.Errorf("frame 7 input for c = %+v, want neutral prediction", got)
	}
	if !s.AddRemote("c", 7, domain.Input{3}) {
		t.Error("input at the new join frame should be accepted")
	}

	s.Discard(8)
	if got := look(8); got.bits != 3 {
		t.Errorf("frame 8 prediction for c after discard = %+v, want 03", got)
	}
}

func TestSynchronizer_Freeze(t *testing.T) {
	s := newTestSync(t, "a", "b", "c")
	advanceLocal(t, s, 6, 0)
	s.AddRemote("b", 1, domain.Input{4})
	s.AddRemote("b", 2, domain.Input{6})
	for f := domain.Frame(1); f <= 6; f++ {
		s.AddRemote("c", f, domain.Input{0})
	}

	if got := s.ConfirmedFrontier(); got != 2 {
		t.Fatalf("ConfirmedFrontier() = %d, want 2", got)
	}
	if err := s.Freeze("b"); err != nil {
		t.Fatal(err)
	}
	if got := s.ConfirmedFrontier(); got != 6 {
		t.Errorf("ConfirmedFrontier() after freeze = %d, want 6", got)
	}
	if s.AddRemote("b", 3, domain.Input{1}) {
		t.Error("frozen peer input should be discarded")
	}

	in, _ := s.InputSet(40).Get("b")
	if in.Bits[0] != 6 {
		t.Errorf("frozen prediction = %v, want 06", in.Bits)
	}
	if err := s.Freeze("z"); !errors.Is(err, domain.ErrUnknownPeer) {
		t.Errorf("Freeze(unknown) error = %v, want ErrUnknownPeer", err)
	}
}

func TestSynchronizer_PendingAndAck(t *testing.T) {
	s := newTestSync(t, "a", "b")
	advanceLocal(t, s, 3, 7)

	start, run := s.Pending("b")
	if start != 1 || len(run) != 3 {
		t.Fatalf("Pending() = %d, %d inputs, want 1, 3", start, len(run))
	}

	s.Ack("b", 2)
	start, run = s.Pending("b")
	if start != 3 || len(run) != 1 || run[0][0] != 7 {
		t.Errorf("Pending() after ack = %d, %v, want 3, [07]", start, run)
	}

	// Stale acks are ignored.
	s.Ack("b", 1)
	if got := s.Acked("b"); got != 2 {
		t.Errorf("Acked() = %d, want 2", got)
	}

	s.Ack("b", 3)
	if start, run := s.Pending("b"); !start.IsNull() || run != nil {
		t.Errorf("Pending() after full ack = %d, %v, want empty", start, run)
	}
}

func TestSynchronizer_PendingMaxRun(t *testing.T) {
	s, err := New(Config{Local: "a", InputSize: 1, Window: 8, MaxRun: 2})
	if err != nil {
		t.Fatal(err)
	}
	_ = s.AddPeer("b", 1)
	advanceLocal(t, s, 5, 1)

	start, run := s.Pending("b")
	if start != 1 || len(run) != 2 {
		t.Errorf("Pending() = %d, %d inputs, want 1, 2", start, len(run))
	}
}

func TestSynchronizer_Discard(t *testing.T) {
	s := newTestSync(t, "a", "b")
	advanceLocal(t, s, 6, 0)
	for f := domain.Frame(1); f <= 4; f++ {
		s.AddRemote("b", f, domain.Input{byte(f)})
	}

	s.Discard(4)
	if s.AddRemote("b", 3, domain.Input{1}) {
		t.Error("input below the discard point should be refused")
	}

	// Prediction still repeats the newest confirmed input.
	in, _ := s.InputSet(6).Get("b")
	if in.Bits[0] != 4 {
		t.Errorf("prediction after discard = %v, want 04", in.Bits)
	}
}
