// Package arena is a small deterministic shooter used to exercise the
// rollback core end to end.
//
// All positions are integer fixed point with 12 fractional bits. Every step
// is a pure function of the previous state and the input set, so two peers
// that feed the same inputs hold byte-identical states.
package arena

import (
	"fmt"

	"github.com/yndnr/rollmesh-go/internal/core/domain"
)

// Input bits.
const (
	InputUp byte = 1 << iota
	InputDown
	InputLeft
	InputRight
	InputFire
)

// InputSize is the encoded input length.
const InputSize = 1

const (
	// Scale is one world unit in fixed point.
	Scale = 1 << 12

	// DirectionScale is the length of a normalized direction.
	DirectionScale = 100

	MapSize      = 41 * Scale
	PlayerRadius = 5 * Scale / 10
	BulletRadius = 5 * Scale / 100
	PlayerSpeed  = 13 * Scale / 100
	BulletSpeed  = 35 * Scale / 100

	// mapLimit is the furthest a player may stray from the origin.
	mapLimit = (MapSize + 1) / 2

	// bulletLimit removes bullets that left the map.
	bulletLimit = mapLimit + Scale
)

// Vec is a fixed-point 2D vector.
type Vec struct {
	X, Y int32
}

// Player is one participant's avatar.
type Player struct {
	ID     domain.PeerID
	Pos    Vec
	Dir    Vec
	Ready  bool
	Alive  bool
	Frags  uint16
	Deaths uint16
}

// Bullet is a projectile in flight.
type Bullet struct {
	Pos   Vec
	Dir   Vec
	Owner uint8
}

// EventKind classifies gameplay events.
type EventKind uint8

const (
	EventFire EventKind = iota + 1
	EventKill
)

// Event is emitted for steps that are not resimulations.
type Event struct {
	Kind   EventKind
	Frame  domain.Frame
	Player domain.PeerID
	Victim domain.PeerID
}

// Arena implements domain.Simulation.
type Arena struct {
	players []Player
	bullets []Bullet

	// OnEvent, when set, receives gameplay events of live steps.
	OnEvent func(Event)
}

var _ domain.Simulation = (*Arena)(nil)

// New places one player per roster entry. Roster order is handle order.
func New(roster []domain.PeerID) *Arena {
	ids := append([]domain.PeerID(nil), roster...)
	domain.SortPeerIDs(ids)

	a := &Arena{players: make([]Player, len(ids))}
	for i, id := range ids {
		a.players[i] = Player{
			ID:    id,
			Pos:   Vec{X: int32(-8+2*i) * Scale},
			Dir:   Vec{X: -DirectionScale},
			Ready: true,
			Alive: true,
		}
	}
	return a
}

// Players returns a copy of the players in handle order.
func (a *Arena) Players() []Player {
	return append([]Player(nil), a.players...)
}

// Bullets returns a copy of the bullets in flight.
func (a *Arena) Bullets() []Bullet {
	return append([]Bullet(nil), a.bullets...)
}

// Step advances the world by one frame.
func (a *Arena) Step(ctx domain.StepContext, inputs domain.InputSet) error {
	bits, err := a.inputBits(inputs)
	if err != nil {
		return err
	}

	a.movePlayers(bits)
	a.reload(bits)
	a.fire(ctx, bits)
	a.moveBullets()
	a.kill(ctx)
	return nil
}

func (a *Arena) inputBits(inputs domain.InputSet) ([]byte, error) {
	bits := make([]byte, len(a.players))
	for i := range a.players {
		in, ok := inputs.Get(a.players[i].ID)
		if !ok {
			continue
		}
		if len(in.Bits) != InputSize {
			return nil, fmt.Errorf("arena: input for %s has %d bytes", a.players[i].ID, len(in.Bits))
		}
		bits[i] = in.Bits[0]
	}
	return bits, nil
}

func (a *Arena) movePlayers(bits []byte) {
	for i := range a.players {
		p := &a.players[i]
		if !p.Alive {
			continue
		}
		dir := Direction(bits[i])
		if dir == (Vec{}) {
			continue
		}
		p.Dir = dir
		p.Pos.X = clamp(p.Pos.X+dir.X*PlayerSpeed/DirectionScale, -mapLimit, mapLimit)
		p.Pos.Y = clamp(p.Pos.Y+dir.Y*PlayerSpeed/DirectionScale, -mapLimit, mapLimit)
	}
}

func (a *Arena) reload(bits []byte) {
	for i := range a.players {
		if bits[i]&InputFire == 0 {
			a.players[i].Ready = true
		}
	}
}

func (a *Arena) fire(ctx domain.StepContext, bits []byte) {
	for i := range a.players {
		p := &a.players[i]
		if !p.Alive || bits[i]&InputFire == 0 || !p.Ready {
			continue
		}
		offset := int32(BulletRadius + PlayerRadius)
		a.bullets = append(a.bullets, Bullet{
			Pos: Vec{
				X: p.Pos.X + p.Dir.X*offset/DirectionScale,
				Y: p.Pos.Y + p.Dir.Y*offset/DirectionScale,
			},
			Dir:   p.Dir,
			Owner: uint8(i),
		})
		p.Ready = false
		a.emit(ctx, Event{Kind: EventFire, Frame: ctx.Frame, Player: p.ID})
	}
}

func (a *Arena) moveBullets() {
	kept := a.bullets[:0]
	for _, b := range a.bullets {
		b.Pos.X += b.Dir.X * BulletSpeed / DirectionScale
		b.Pos.Y += b.Dir.Y * BulletSpeed / DirectionScale
		if abs(b.Pos.X) > bulletLimit || abs(b.Pos.Y) > bulletLimit {
			continue
		}
		kept = append(kept, b)
	}
	a.bullets = kept
}

func (a *Arena) kill(ctx domain.StepContext) {
	const reach = int64(PlayerRadius + BulletRadius)
	for i := range a.players {
		p := &a.players[i]
		if !p.Alive {
			continue
		}
		for _, b := range a.bullets {
			if int(b.Owner) == i {
				continue
			}
			dx := int64(p.Pos.X - b.Pos.X)
			dy := int64(p.Pos.Y - b.Pos.Y)
			if isqrt(dx*dx+dy*dy) < reach {
				p.Alive = false
				p.Deaths++
				var killer domain.PeerID
				if int(b.Owner) < len(a.players) {
					a.players[b.Owner].Frags++
					killer = a.players[b.Owner].ID
				}
				a.emit(ctx, Event{Kind: EventKill, Frame: ctx.Frame, Player: killer, Victim: p.ID})
				break
			}
		}
	}
}

func (a *Arena) emit(ctx domain.StepContext, ev Event) {
	if ctx.Resimulating || a.OnEvent == nil {
		return
	}
	a.OnEvent(ev)
}

// Direction converts input bits to a direction of length DirectionScale,
// or the zero vector when no direction is pressed.
func Direction(bits byte) Vec {
	var v Vec
	if bits&InputUp != 0 {
		v.Y += DirectionScale
	}
	if bits&InputDown != 0 {
		v.Y -= DirectionScale
	}
	if bits&InputRight != 0 {
		v.X += DirectionScale
	}
	if bits&InputLeft != 0 {
		v.X -= DirectionScale
	}
	if v == (Vec{}) {
		return v
	}
	norm := int32(isqrt(int64(v.X)*int64(v.X) + int64(v.Y)*int64(v.Y)))
	return Vec{X: v.X * DirectionScale / norm, Y: v.Y * DirectionScale / norm}
}

// isqrt returns floor(sqrt(n)) for n >= 0.
func isqrt(n int64) int64 {
	if n < 2 {
		return n
	}
	x := n
	y := (x + 1) / 2
	for y < x {
		x = y
		y = (x + n/x) / 2
	}
	return x
}

func clamp(v, lo, hi int32) int32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

// Restore loads a saved world into the current roster. Players are matched
// by ID; players missing from the save keep their starting position and
// saved players missing from the roster are dropped with their bullets.
func (a *Arena) Restore(state []byte) error {
	saved := &Arena{}
	if err := saved.DeserializeState(state); err != nil {
		return err
	}

	byID := make(map[domain.PeerID]Player, len(saved.players))
	for _, p := range saved.players {
		byID[p.ID] = p
	}
	handle := make(map[domain.PeerID]int, len(a.players))
	for i := range a.players {
		handle[a.players[i].ID] = i
		if p, ok := byID[a.players[i].ID]; ok {
			a.players[i] = p
		}
	}

	a.bullets = a.bullets[:0]
	for _, b := range saved.bullets {
		if int(b.Owner) >= len(saved.players) {
			continue
		}
		h, ok := handle[saved.players[b.Owner].ID]
		if !ok {
			continue
		}
		b.Owner = uint8(h)
		a.bullets = append(a.bullets, b)
	}
	return nil
}
