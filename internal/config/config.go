// Package config holds the immutable configuration a download run is
// executed with.
package config

import (
	"crypto/rand"
	"fmt"
	"time"
)

// Config controls timeouts, peer limits, and identity for one torrent run.
// It is built once at startup and passed down through the engine; nothing
// in this program reads it from package-level globals or environment
// variables directly.
type Config struct {
	// ClientID is this client's 20-byte peer id, sent in every handshake.
	ClientID [20]byte

	// OutputDir is where downloaded files are written.
	OutputDir string

	// MinPeers is the minimum number of concurrently active peer
	// connections the swarm tries to maintain.
	MinPeers int

	// NumWant is the number of peers requested per tracker announce.
	NumWant int

	// ListenPort is advertised to the tracker as our listening port. This
	// client never accepts inbound connections (seeding is out of scope);
	// the value is announced for protocol compliance only.
	ListenPort uint16

	// DialTimeout bounds TCP connection establishment to a peer.
	DialTimeout time.Duration

	// ReadTimeout/WriteTimeout bound a single socket operation on an
	// active peer connection.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// KeepAliveIdle is how long a peer may go without sending us anything
	// before a KEEP-ALIVE is sent to it. The time is measured from the last
	// message received from the peer; messages we send do not reset it.
	KeepAliveIdle time.Duration

	// PeerInactivityLimit is how long a peer may go without sending
	// anything before it is evicted. The per-read deadline (ReadTimeout)
	// also evicts a silent peer, so the shorter of the two applies.
	PeerInactivityLimit time.Duration

	// MaxAnnounceBackoff is not read by the tracker client; its per-tracker
	// retry backoff is capped at a fixed 30 seconds.
	MaxAnnounceBackoff time.Duration
}

// Default returns sensible defaults for the fields a caller typically does
// not need to override.
func Default() Config {
	clientID, err := generateClientID()
	if err != nil {
		// crypto/rand failing is unrecoverable; there is no sane peer
		// identity to fall back to.
		panic(fmt.Sprintf("config: generate client id: %v", err))
	}

	return Config{
		ClientID:            clientID,
		MinPeers:            30,
		NumWant:             50,
		ListenPort:          6881,
		DialTimeout:         5 * time.Second,
		ReadTimeout:         30 * time.Second,
		WriteTimeout:        30 * time.Second,
		KeepAliveIdle:       60 * time.Second,
		PeerInactivityLimit: 120 * time.Second,
		MaxAnnounceBackoff:  45 * time.Minute,
	}
}

func generateClientID() ([20]byte, error) {
	var id [20]byte
	prefix := []byte("-LE0100-")
	copy(id[:], prefix)
	if _, err := rand.Read(id[len(prefix):]); err != nil {
		return [20]byte{}, err
	}
	return id, nil
}
