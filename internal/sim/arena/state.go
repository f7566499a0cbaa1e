package arena

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/yndnr/rollmesh-go/internal/core/domain"
)

// stateVersion prefixes every serialized state.
const stateVersion uint8 = 1

// ErrBadState is returned for states that cannot be decoded.
var ErrBadState = errors.New("arena: bad state")

type wirePlayer struct {
	PosX, PosY   int32
	DirX, DirY   int32
	Ready, Alive uint8
	Frags        uint16
	Deaths       uint16
}

type wireBullet struct {
	PosX, PosY int32
	DirX, DirY int32
	Owner      uint8
}

// SerializeState encodes the world little-endian in a fixed field order.
func (a *Arena) SerializeState() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(stateVersion)

	if err := binary.Write(&buf, binary.LittleEndian, uint16(len(a.players))); err != nil {
		return nil, err
	}
	for _, p := range a.players {
		if len(p.ID) > math.MaxUint16 {
			return nil, fmt.Errorf("arena: peer id too long")
		}
		_ = binary.Write(&buf, binary.LittleEndian, uint16(len(p.ID)))
		buf.WriteString(string(p.ID))
		_ = binary.Write(&buf, binary.LittleEndian, wirePlayer{
			PosX: p.Pos.X, PosY: p.Pos.Y,
			DirX: p.Dir.X, DirY: p.Dir.Y,
			Ready: boolByte(p.Ready), Alive: boolByte(p.Alive),
			Frags: p.Frags, Deaths: p.Deaths,
		})
	}

	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(a.bullets)))
	for _, b := range a.bullets {
		_ = binary.Write(&buf, binary.LittleEndian, wireBullet{
			PosX: b.Pos.X, PosY: b.Pos.Y,
			DirX: b.Dir.X, DirY: b.Dir.Y,
			Owner: b.Owner,
		})
	}
	return buf.Bytes(), nil
}

// DeserializeState replaces the world with a serialized one.
func (a *Arena) DeserializeState(state []byte) error {
	r := bytes.NewReader(state)

	version, err := r.ReadByte()
	if err != nil || version != stateVersion {
		return fmt.Errorf("%w: version", ErrBadState)
	}

	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return fmt.Errorf("%w: %v", ErrBadState, err)
	}
	players := make([]Player, 0, n)
	for i := 0; i < int(n); i++ {
		var idLen uint16
		if err := binary.Read(r, binary.LittleEndian, &idLen); err != nil {
			return fmt.Errorf("%w: %v", ErrBadState, err)
		}
		id := make([]byte, idLen)
		if _, err := io.ReadFull(r, id); err != nil {
			return fmt.Errorf("%w: %v", ErrBadState, err)
		}
		var wp wirePlayer
		if err := binary.Read(r, binary.LittleEndian, &wp); err != nil {
			return fmt.Errorf("%w: %v", ErrBadState, err)
		}
		players = append(players, Player{
			ID:     domain.PeerID(id),
			Pos:    Vec{X: wp.PosX, Y: wp.PosY},
			Dir:    Vec{X: wp.DirX, Y: wp.DirY},
			Ready:  wp.Ready != 0,
			Alive:  wp.Alive != 0,
			Frags:  wp.Frags,
			Deaths: wp.Deaths,
		})
	}

	var nb uint32
	if err := binary.Read(r, binary.LittleEndian, &nb); err != nil {
		return fmt.Errorf("%w: %v", ErrBadState, err)
	}
	if int64(nb)*int64(binary.Size(wireBullet{})) > int64(r.Len()) {
		return fmt.Errorf("%w: bullet count %d", ErrBadState, nb)
	}
	bullets := make([]Bullet, 0, nb)
	for i := uint32(0); i < nb; i++ {
		var wb wireBullet
		if err := binary.Read(r, binary.LittleEndian, &wb); err != nil {
			return fmt.Errorf("%w: %v", ErrBadState, err)
		}
		bullets = append(bullets, Bullet{
			Pos:   Vec{X: wb.PosX, Y: wb.PosY},
			Dir:   Vec{X: wb.DirX, Y: wb.DirY},
			Owner: wb.Owner,
		})
	}
	if r.Len() != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrBadState, r.Len())
	}

	a.players = players
	a.bullets = bullets
	return nil
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
