package gossip

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/yndnr/rollmesh-go/internal/core/domain"
	"github.com/yndnr/rollmesh-go/internal/transport"
)

func startNode(t *testing.T, id domain.PeerID, room string, seeds ...string) *Node {
	t.Helper()
	n, err := New(Config{
		ID:       id,
		Room:     room,
		BindAddr: "127.0.0.1",
		BindPort: 0,
		Profile:  "local",
		Seeds:    seeds,
	})
	if err != nil {
		t.Fatalf("New(%s): %v", id, err)
	}
	t.Cleanup(func() { _ = n.Shutdown() })
	return n
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"empty id", Config{}},
		{"long id", Config{ID: domain.PeerID(bytes.Repeat([]byte("x"), MaxIDLength+1))}},
		{"bad profile", Config{ID: "a", Profile: "mars"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); !errors.Is(err, domain.ErrInvalidConfig) {
				t.Errorf("New error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestFrameCodec(t *testing.T) {
	frame := encodeFrame("alice", []byte{1, 2, 3})
	from, data, ok := decodeFrame(frame)
	if !ok || from != "alice" || !bytes.Equal(data, []byte{1, 2, 3}) {
		t.Errorf("decodeFrame = %q %v %v", from, data, ok)
	}

	for _, bad := range [][]byte{nil, {0}, {5, 'a', 'b'}} {
		if _, _, ok := decodeFrame(bad); ok {
			t.Errorf("decodeFrame(%v) accepted", bad)
		}
	}
}

func TestNode_ExchangesPackets(t *testing.T) {
	a := startNode(t, "alice", "room-1")
	b := startNode(t, "bob", "room-1", a.Addr())

	waitFor(t, "membership", func() bool {
		return len(a.Peers()) == 1 && len(b.Peers()) == 1
	})
	if got := a.Peers()[0]; got != "bob" {
		t.Errorf("a.Peers() = %v", a.Peers())
	}

	var joined bool
	for _, ev := range a.MembershipEvents() {
		if ev.Peer == "bob" && ev.Joined {
			joined = true
		}
	}
	if !joined {
		t.Error("expected a join event for bob")
	}

	if err := b.Send("alice", []byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	big := bytes.Repeat([]byte{0xAB}, 4*DefaultDatagramBudget)
	if err := b.Send("alice", big); err != nil {
		t.Fatalf("Send(big): %v", err)
	}

	var got []transport.Packet
	waitFor(t, "packets", func() bool {
		got = append(got, a.Receive()...)
		return len(got) >= 2
	})
	var small, large bool
	for _, p := range got {
		if p.From != "bob" {
			t.Errorf("packet from %q", p.From)
		}
		small = small || bytes.Equal(p.Data, []byte("hello"))
		large = large || bytes.Equal(p.Data, big)
	}
	if !small || !large {
		t.Errorf("received small=%v large=%v", small, large)
	}
}

func TestNode_IgnoresOtherRooms(t *testing.T) {
	a := startNode(t, "alice", "room-1")
	c := startNode(t, "carol", "room-2", a.Addr())
	b := startNode(t, "bob", "room-1", a.Addr())

	waitFor(t, "bob in alice's room", func() bool { return len(a.Peers()) == 1 })
	if a.Peers()[0] != "bob" {
		t.Errorf("a.Peers() = %v", a.Peers())
	}
	if len(c.Peers()) != 0 {
		t.Errorf("c.Peers() = %v, want none", c.Peers())
	}
	if err := c.Send("alice", []byte("x")); !errors.Is(err, ErrUnknownPeer) {
		t.Errorf("Send across rooms = %v, want ErrUnknownPeer", err)
	}
	_ = b
}

func TestNode_LeaveEmitsEvent(t *testing.T) {
	a := startNode(t, "alice", "")
	b, err := New(Config{ID: "bob", BindAddr: "127.0.0.1", Profile: "local", Seeds: []string{a.Addr()}})
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, "join", func() bool { return len(a.Peers()) == 1 })
	a.MembershipEvents()

	if err := b.Leave(time.Second); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	waitFor(t, "leave", func() bool { return len(a.Peers()) == 0 })

	events := a.MembershipEvents()
	if len(events) != 1 || events[0].Peer != "bob" || events[0].Joined {
		t.Errorf("events = %+v", events)
	}
}
