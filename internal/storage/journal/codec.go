package journal

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/yndnr/rollmesh-go/internal/core/domain"
)

// A journaled frame is a protobuf-compatible message holding one nested
// entry per peer in handle order.
const (
	fieldEntry     protowire.Number = 1
	fieldEntryPeer protowire.Number = 1
	fieldEntryBits protowire.Number = 2
)

func encodeInputSet(set domain.InputSet) []byte {
	var b []byte
	for _, in := range set.Inputs {
		var e []byte
		e = protowire.AppendTag(e, fieldEntryPeer, protowire.BytesType)
		e = protowire.AppendString(e, string(in.Peer))
		e = protowire.AppendTag(e, fieldEntryBits, protowire.BytesType)
		e = protowire.AppendBytes(e, in.Bits)

		b = protowire.AppendTag(b, fieldEntry, protowire.BytesType)
		b = protowire.AppendBytes(b, e)
	}
	return b
}

func decodeInputSet(f domain.Frame, data []byte) (domain.InputSet, error) {
	set := domain.InputSet{Frame: f}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return set, fmt.Errorf("journal: frame %d: %w", f, protowire.ParseError(n))
		}
		data = data[n:]
		if num != fieldEntry || typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return set, fmt.Errorf("journal: frame %d: %w", f, protowire.ParseError(n))
			}
			data = data[n:]
			continue
		}

		raw, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return set, fmt.Errorf("journal: frame %d: %w", f, protowire.ParseError(n))
		}
		data = data[n:]

		entry, err := decodeEntry(raw)
		if err != nil {
			return set, fmt.Errorf("journal: frame %d: %w", f, err)
		}
		set.Inputs = append(set.Inputs, entry)
	}
	return set, nil
}

func decodeEntry(data []byte) (domain.PlayerInput, error) {
	in := domain.PlayerInput{Status: domain.InputConfirmed, Bits: domain.Input{}}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return in, protowire.ParseError(n)
		}
		data = data[n:]

		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return in, protowire.ParseError(n)
			}
			data = data[n:]
			continue
		}
		v, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return in, protowire.ParseError(n)
		}
		data = data[n:]

		switch num {
		case fieldEntryPeer:
			in.Peer = domain.PeerID(v)
		case fieldEntryBits:
			in.Bits = append(domain.Input{}, v...)
		}
	}
	return in, nil
}
