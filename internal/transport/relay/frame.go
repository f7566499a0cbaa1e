// Package relay implements the peer channel through a websocket relay
// room. Peers that cannot reach each other directly connect to the relay,
// which forwards datagrams between members of the same room and announces
// arrivals and departures.
//
// Every websocket message is one binary frame:
//
//	u8 kind | u8 id length | id | payload
//
// For data frames the id is the destination on the way in and the source
// on the way out. Join and leave frames carry the affected peer and no
// payload.
package relay

import (
	"github.com/yndnr/rollmesh-go/internal/core/domain"
)

type frameKind uint8

const (
	frameData frameKind = iota + 1
	frameJoined
	frameLeft
)

// MaxIDLength bounds peer IDs so the frame header fits in one byte.
const MaxIDLength = 255

func encodeFrame(kind frameKind, peer domain.PeerID, payload []byte) []byte {
	b := make([]byte, 0, 2+len(peer)+len(payload))
	b = append(b, byte(kind), byte(len(peer)))
	b = append(b, peer...)
	return append(b, payload...)
}

func decodeFrame(b []byte) (frameKind, domain.PeerID, []byte, bool) {
	if len(b) < 2 {
		return 0, "", nil, false
	}
	kind := frameKind(b[0])
	if kind < frameData || kind > frameLeft {
		return 0, "", nil, false
	}
	idLen := int(b[1])
	if idLen == 0 || len(b) < 2+idLen {
		return 0, "", nil, false
	}
	return kind, domain.PeerID(b[2 : 2+idLen]), b[2+idLen:], true
}
