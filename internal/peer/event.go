package peer

import "github.com/example/leech/internal/bitfield"

// EventKind identifies what happened on a peer connection.
type EventKind int

const (
	// EventHandshakeDone fires once, right before the peer's loops start.
	EventHandshakeDone EventKind = iota
	EventBitfield
	EventHave
	EventChoke
	EventUnchoke
	EventInterested
	EventNotInterested
	EventPiece
	EventRequest
	EventCancel
	// EventDisconnect fires exactly once per peer, from Run after both
	// loops have stopped, with Err set to the error that ended them. A
	// local close or context cancellation also surfaces as a non-nil Err.
	EventDisconnect
)

// Event is a single occurrence on a peer connection, delivered to the
// dispatcher's single event channel. The dispatcher is the only goroutine
// that reads scheduler/swarm state, so all cross-peer decisions happen
// there in response to these events rather than inside the peer's own
// goroutines.
type Event struct {
	Peer  *Peer
	Kind  EventKind
	Index int
	Begin int
	Data  []byte
	BF    bitfield.Bitfield
	Err   error
}
