package relay

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/yndnr/rollmesh-go/internal/core/domain"
	"github.com/yndnr/rollmesh-go/internal/telemetry/metric"
	"github.com/yndnr/rollmesh-go/internal/transport"
)

func startRelay(t *testing.T, cfg ServerConfig) (*Server, *httptest.Server) {
	t.Helper()
	srv := NewServer(cfg)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return srv, ts
}

func dial(t *testing.T, ts *httptest.Server, room string, id domain.PeerID) *Client {
	t.Helper()
	c, err := Dial(context.Background(), ClientConfig{URL: ts.URL, Room: room, ID: id})
	if err != nil {
		t.Fatalf("Dial(%s): %v", id, err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestFrameCodec(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		ok   bool
	}{
		{"data", encodeFrame(frameData, "bob", []byte{1, 2}), true},
		{"joined", encodeFrame(frameJoined, "bob", nil), true},
		{"empty", nil, false},
		{"bad kind", []byte{9, 1, 'a'}, false},
		{"empty id", []byte{byte(frameData), 0}, false},
		{"truncated id", []byte{byte(frameData), 4, 'a'}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, _, ok := decodeFrame(tt.in)
			if ok != tt.ok {
				t.Errorf("decodeFrame ok = %v, want %v", ok, tt.ok)
			}
		})
	}

	kind, peer, payload, _ := decodeFrame(encodeFrame(frameData, "bob", []byte{1, 2}))
	if kind != frameData || peer != "bob" || !bytes.Equal(payload, []byte{1, 2}) {
		t.Errorf("round trip = %v %q %v", kind, peer, payload)
	}
}

func TestRoomURL(t *testing.T) {
	tests := []struct {
		base string
		want string
		err  bool
	}{
		{"ws://relay:7480", "ws://relay:7480/rooms/r%201?peer=alice", false},
		{"http://relay:7480/", "ws://relay:7480/rooms/r%201?peer=alice", false},
		{"https://relay/base", "wss://relay/base/rooms/r%201?peer=alice", false},
		{"ftp://relay", "", true},
	}
	for _, tt := range tests {
		got, err := RoomURL(tt.base, "r 1", "alice")
		if (err != nil) != tt.err {
			t.Errorf("RoomURL(%q) error = %v", tt.base, err)
			continue
		}
		if got != tt.want {
			t.Errorf("RoomURL(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}

func TestRelay_ForwardsWithinRoom(t *testing.T) {
	_, ts := startRelay(t, ServerConfig{})
	a := dial(t, ts, "room-1", "alice")
	b := dial(t, ts, "room-1", "bob")
	c := dial(t, ts, "room-2", "carol")

	waitFor(t, "membership", func() bool {
		return len(a.Peers()) == 1 && len(b.Peers()) == 1
	})
	if len(c.Peers()) != 0 {
		t.Errorf("carol sees %v", c.Peers())
	}

	if err := a.Send("bob", []byte("ping")); err != nil {
		t.Fatal(err)
	}
	var got []transport.Packet
	waitFor(t, "packet", func() bool {
		got = append(got, b.Receive()...)
		return len(got) == 1
	})
	if got[0].From != "alice" || string(got[0].Data) != "ping" {
		t.Errorf("packet = %+v", got[0])
	}

	// Cross-room sends are dropped by the relay.
	_ = c.Send("alice", []byte("x"))
	time.Sleep(50 * time.Millisecond)
	if p := a.Receive(); len(p) != 0 {
		t.Errorf("alice received %v across rooms", p)
	}
}

func TestRelay_MembershipEvents(t *testing.T) {
	srv, ts := startRelay(t, ServerConfig{})
	a := dial(t, ts, "room", "alice")
	b, err := Dial(context.Background(), ClientConfig{URL: ts.URL, Room: "room", ID: "bob"})
	if err != nil {
		t.Fatal(err)
	}

	waitFor(t, "join", func() bool { return len(a.Peers()) == 1 })
	if got := srv.Rooms()["room"]; got != 2 {
		t.Errorf("Rooms()[room] = %d", got)
	}

	if err := b.Close(); err != nil && !errors.Is(err, ErrClosed) {
		t.Logf("close: %v", err)
	}
	waitFor(t, "leave", func() bool { return len(a.Peers()) == 0 })

	events := a.MembershipEvents()
	if len(events) != 2 || !events[0].Joined || events[1].Joined || events[1].Peer != "bob" {
		t.Errorf("events = %+v", events)
	}
	if err := b.Send("alice", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Send after close = %v, want ErrClosed", err)
	}
}

func TestRelay_RejectsDuplicateID(t *testing.T) {
	_, ts := startRelay(t, ServerConfig{})
	dial(t, ts, "room", "alice")

	_, err := Dial(context.Background(), ClientConfig{URL: ts.URL, Room: "room", ID: "alice"})
	if err == nil {
		t.Fatal("expected duplicate peer id to be rejected")
	}
}

func TestRelay_RoomCapacity(t *testing.T) {
	_, ts := startRelay(t, ServerConfig{MaxRoomMembers: 1})
	dial(t, ts, "room", "alice")
	if _, err := Dial(context.Background(), ClientConfig{URL: ts.URL, Room: "room", ID: "bob"}); err == nil {
		t.Fatal("expected full room to reject bob")
	}
}

func TestRelay_RateLimitDrops(t *testing.T) {
	reg := metric.NewNop()
	_, ts := startRelay(t, ServerConfig{FrameRate: 1, FrameBurst: 2, Metrics: reg})
	a := dial(t, ts, "room", "alice")
	b := dial(t, ts, "room", "bob")
	waitFor(t, "join", func() bool { return len(a.Peers()) == 1 })

	for i := 0; i < 10; i++ {
		if err := a.Send("bob", []byte{byte(i)}); err != nil {
			t.Fatal(err)
		}
	}
	waitFor(t, "drops", func() bool {
		return droppedFrames(t, reg, dropRateLimited) >= 8
	})

	time.Sleep(50 * time.Millisecond)
	if got := len(b.Receive()); got > 2 {
		t.Errorf("bob received %d frames, want at most the burst", got)
	}
}

func TestRelay_BadRequest(t *testing.T) {
	_, ts := startRelay(t, ServerConfig{})
	resp, err := http.Get(ts.URL + "/rooms/room")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d", resp.StatusCode)
	}
}

func TestDial_Validation(t *testing.T) {
	if _, err := Dial(context.Background(), ClientConfig{URL: "ws://x", Room: "r"}); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Errorf("missing id: %v", err)
	}
	if _, err := Dial(context.Background(), ClientConfig{URL: "ws://x", ID: "a"}); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Errorf("missing room: %v", err)
	}
}

func droppedFrames(t *testing.T, reg *metric.Registry, reason string) float64 {
	t.Helper()
	families, err := reg.Gatherer().Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, mf := range families {
		if mf.GetName() != metric.DefaultNamespace+"_relay_dropped_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "reason" && l.GetValue() == reason {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestListRooms(t *testing.T) {
	_, ts := startRelay(t, ServerConfig{})
	dial(t, ts, "beta", "alice")
	dial(t, ts, "alpha", "bob")
	dial(t, ts, "beta", "carol")

	var rooms []RoomStatus
	waitFor(t, "room listing", func() bool {
		var err error
		rooms, err = ListRooms(context.Background(), nil, ts.URL)
		return err == nil && len(rooms) == 2 && rooms[1].Members == 2
	})
	if rooms[0] != (RoomStatus{Room: "alpha", Members: 1}) || rooms[1].Room != "beta" {
		t.Errorf("rooms = %+v", rooms)
	}

	if _, err := ListRooms(context.Background(), nil, "ftp://x"); err == nil {
		t.Error("expected unsupported scheme error")
	}
}
