// Package protocol defines the messages peers exchange and their wire
// encoding.
//
// Messages are encoded as protobuf wire format with stable field numbers, so
// unknown fields from newer peers are skipped rather than rejected.
package protocol

import (
	"github.com/yndnr/rollmesh-go/internal/core/domain"
)

// Kind identifies a message type.
type Kind uint8

const (
	KindUnspecified Kind = iota
	// KindInput carries a run of local inputs and an ack.
	KindInput
	// KindChecksum carries a state digest for a confirmed frame.
	KindChecksum
	// KindSyncRequest starts a handshake round-trip.
	KindSyncRequest
	// KindSyncReply answers a SyncRequest with the same nonce.
	KindSyncReply
	// KindPing measures round-trip time.
	KindPing
	// KindPong answers a Ping with the same timestamp.
	KindPong
	// KindLobby carries pre-session lobby state.
	KindLobby
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindChecksum:
		return "checksum"
	case KindSyncRequest:
		return "sync_request"
	case KindSyncReply:
		return "sync_reply"
	case KindPing:
		return "ping"
	case KindPong:
		return "pong"
	case KindLobby:
		return "lobby"
	default:
		return "unspecified"
	}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k >= KindInput && k <= KindLobby
}

// Message is the envelope for every packet between peers.
// Fields not used by a kind are left at their zero value.
type Message struct {
	Kind Kind

	// Frame is the first frame of Inputs for KindInput and the checksummed
	// frame for KindChecksum.
	Frame domain.Frame

	// Ack is the sender's last confirmed frame of the recipient's input.
	Ack domain.Frame

	// Inputs is a contiguous run starting at Frame.
	Inputs []domain.Input

	Digest domain.Digest

	// Nonce pairs SyncRequest with SyncReply.
	Nonce uint32

	// Timestamp pairs Ping with Pong, in sender-local nanoseconds.
	Timestamp int64

	Lobby *LobbyState
}

// LobbyState is one peer's view of itself while waiting in the lobby.
type LobbyState struct {
	Name  string
	Ready bool
	Save  *SaveOffer
}

// SaveOffer advertises a saved game a peer can resume.
type SaveOffer struct {
	MatchID   string
	Frame     domain.Frame
	CreatedAt int64
	State     []byte
}

// NewInput builds an input message.
func NewInput(start domain.Frame, run []domain.Input, ack domain.Frame) Message {
	return Message{Kind: KindInput, Frame: start, Inputs: run, Ack: ack}
}

// NewChecksum builds a checksum message.
func NewChecksum(rec domain.ChecksumRecord) Message {
	return Message{Kind: KindChecksum, Frame: rec.Frame, Digest: rec.Digest}
}
