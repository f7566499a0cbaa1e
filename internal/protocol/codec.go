package protocol

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/yndnr/rollmesh-go/internal/core/domain"
)

// Field numbers of Message.
const (
	fieldKind      protowire.Number = 1
	fieldFrame     protowire.Number = 2
	fieldAck       protowire.Number = 3
	fieldInput     protowire.Number = 4
	fieldDigest    protowire.Number = 5
	fieldNonce     protowire.Number = 6
	fieldTimestamp protowire.Number = 7
	fieldLobby     protowire.Number = 8
)

// Field numbers of LobbyState.
const (
	fieldLobbyName  protowire.Number = 1
	fieldLobbyReady protowire.Number = 2
	fieldLobbySave  protowire.Number = 3
)

// Field numbers of SaveOffer.
const (
	fieldSaveMatch   protowire.Number = 1
	fieldSaveFrame   protowire.Number = 2
	fieldSaveCreated protowire.Number = 3
	fieldSaveState   protowire.Number = 4
)

// MaxInputRun bounds the number of inputs accepted in one message.
const MaxInputRun = 256

// Encode serializes a message.
func Encode(m Message) ([]byte, error) {
	if !m.Kind.Valid() {
		return nil, domain.ErrUnsupportedKind.WithDetails(fmt.Sprintf("kind %d", m.Kind))
	}

	var b []byte
	b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Kind))

	if m.Frame != 0 {
		b = protowire.AppendTag(b, fieldFrame, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(m.Frame)))
	}
	if m.Ack != 0 {
		b = protowire.AppendTag(b, fieldAck, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(m.Ack)))
	}
	for _, in := range m.Inputs {
		b = protowire.AppendTag(b, fieldInput, protowire.BytesType)
		b = protowire.AppendBytes(b, in)
	}
	if m.Digest != (domain.Digest{}) {
		b = protowire.AppendTag(b, fieldDigest, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Digest[:])
	}
	if m.Nonce != 0 {
		b = protowire.AppendTag(b, fieldNonce, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.Nonce))
	}
	if m.Timestamp != 0 {
		b = protowire.AppendTag(b, fieldTimestamp, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(m.Timestamp))
	}
	if m.Lobby != nil {
		b = protowire.AppendTag(b, fieldLobby, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeLobby(m.Lobby))
	}
	return b, nil
}

func encodeLobby(l *LobbyState) []byte {
	var b []byte
	if l.Name != "" {
		b = protowire.AppendTag(b, fieldLobbyName, protowire.BytesType)
		b = protowire.AppendString(b, l.Name)
	}
	if l.Ready {
		b = protowire.AppendTag(b, fieldLobbyReady, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	if l.Save != nil {
		var s []byte
		s = protowire.AppendTag(s, fieldSaveMatch, protowire.BytesType)
		s = protowire.AppendString(s, l.Save.MatchID)
		s = protowire.AppendTag(s, fieldSaveFrame, protowire.VarintType)
		s = protowire.AppendVarint(s, protowire.EncodeZigZag(int64(l.Save.Frame)))
		s = protowire.AppendTag(s, fieldSaveCreated, protowire.VarintType)
		s = protowire.AppendVarint(s, protowire.EncodeZigZag(l.Save.CreatedAt))
		s = protowire.AppendTag(s, fieldSaveState, protowire.BytesType)
		s = protowire.AppendBytes(s, l.Save.State)

		b = protowire.AppendTag(b, fieldLobbySave, protowire.BytesType)
		b = protowire.AppendBytes(b, s)
	}
	return b
}

// Decode parses a message. Unknown fields are skipped; truncated or
// inconsistent data yields ErrMalformedMessage.
func Decode(data []byte) (Message, error) {
	var m Message
	err := walk(data, func(num protowire.Number, typ protowire.Type, v value) error {
		switch {
		case num == fieldKind && typ == protowire.VarintType:
			m.Kind = Kind(v.varint)
		case num == fieldFrame && typ == protowire.VarintType:
			m.Frame = domain.Frame(protowire.DecodeZigZag(v.varint))
		case num == fieldAck && typ == protowire.VarintType:
			m.Ack = domain.Frame(protowire.DecodeZigZag(v.varint))
		case num == fieldInput && typ == protowire.BytesType:
			if len(m.Inputs) >= MaxInputRun {
				return fmt.Errorf("input run longer than %d", MaxInputRun)
			}
			m.Inputs = append(m.Inputs, domain.Input(v.bytes).Clone())
		case num == fieldDigest && typ == protowire.BytesType:
			if len(v.bytes) != domain.DigestSize {
				return fmt.Errorf("digest length %d", len(v.bytes))
			}
			copy(m.Digest[:], v.bytes)
		case num == fieldNonce && typ == protowire.VarintType:
			m.Nonce = uint32(v.varint)
		case num == fieldTimestamp && typ == protowire.VarintType:
			m.Timestamp = protowire.DecodeZigZag(v.varint)
		case num == fieldLobby && typ == protowire.BytesType:
			lobby, err := decodeLobby(v.bytes)
			if err != nil {
				return err
			}
			m.Lobby = lobby
		}
		return nil
	})
	if err != nil {
		return Message{}, domain.ErrMalformedMessage.WithCause(err)
	}
	if !m.Kind.Valid() {
		return Message{}, domain.ErrUnsupportedKind.WithDetails(fmt.Sprintf("kind %d", m.Kind))
	}
	if m.Kind == KindLobby && m.Lobby == nil {
		m.Lobby = &LobbyState{}
	}
	return m, nil
}

func decodeLobby(data []byte) (*LobbyState, error) {
	l := &LobbyState{}
	err := walk(data, func(num protowire.Number, typ protowire.Type, v value) error {
		switch {
		case num == fieldLobbyName && typ == protowire.BytesType:
			l.Name = string(v.bytes)
		case num == fieldLobbyReady && typ == protowire.VarintType:
			l.Ready = protowire.DecodeBool(v.varint)
		case num == fieldLobbySave && typ == protowire.BytesType:
			save, err := decodeSave(v.bytes)
			if err != nil {
				return err
			}
			l.Save = save
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("lobby: %w", err)
	}
	return l, nil
}

func decodeSave(data []byte) (*SaveOffer, error) {
	s := &SaveOffer{}
	err := walk(data, func(num protowire.Number, typ protowire.Type, v value) error {
		switch {
		case num == fieldSaveMatch && typ == protowire.BytesType:
			s.MatchID = string(v.bytes)
		case num == fieldSaveFrame && typ == protowire.VarintType:
			s.Frame = domain.Frame(protowire.DecodeZigZag(v.varint))
		case num == fieldSaveCreated && typ == protowire.VarintType:
			s.CreatedAt = protowire.DecodeZigZag(v.varint)
		case num == fieldSaveState && typ == protowire.BytesType:
			s.State = append([]byte(nil), v.bytes...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("save: %w", err)
	}
	return s, nil
}

type value struct {
	varint uint64
	bytes  []byte
}

// walk visits every field of a protobuf-encoded buffer.
func walk(data []byte, visit func(protowire.Number, protowire.Type, value) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		var v value
		switch typ {
		case protowire.VarintType:
			v.varint, n = protowire.ConsumeVarint(data)
		case protowire.BytesType:
			v.bytes, n = protowire.ConsumeBytes(data)
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		if err := visit(num, typ, v); err != nil {
			return err
		}
	}
	return nil
}
