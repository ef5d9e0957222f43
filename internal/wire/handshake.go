package wire

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

const protocolString = "BitTorrent protocol"

// HandshakeLen is the fixed wire length of a handshake message.
const HandshakeLen = 1 + len(protocolString) + 8 + 20 + 20

// ErrShortHandshake is returned when the peer closes mid-handshake.
var ErrShortHandshake = errors.New("wire: short handshake read")

// ErrBadProtocol is returned when the protocol string does not match.
var ErrBadProtocol = errors.New("wire: unexpected protocol string")

// ErrInfoHashMismatch is returned when the peer's info hash does not match
// ours.
var ErrInfoHashMismatch = errors.New("wire: info hash mismatch")

// Handshake is the fixed 68-byte peer-wire handshake.
type Handshake struct {
	Reserved [8]byte
	InfoHash [20]byte
	PeerID   [20]byte
}

// NewHandshake builds the local handshake for the given torrent/peer
// identity.
func NewHandshake(infoHash, peerID [20]byte) Handshake {
	return Handshake{InfoHash: infoHash, PeerID: peerID}
}

// MarshalBinary encodes the handshake to its 68-byte wire form.
func (h Handshake) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, HandshakeLen)
	buf = append(buf, byte(len(protocolString)))
	buf = append(buf, protocolString...)
	buf = append(buf, h.Reserved[:]...)
	buf = append(buf, h.InfoHash[:]...)
	buf = append(buf, h.PeerID[:]...)
	return buf, nil
}

// UnmarshalBinary decodes a 68-byte handshake, validating the protocol
// string.
func (h *Handshake) UnmarshalBinary(b []byte) error {
	if len(b) != HandshakeLen {
		return fmt.Errorf("wire: handshake length %d, want %d", len(b), HandshakeLen)
	}
	if int(b[0]) != len(protocolString) {
		return ErrBadProtocol
	}
	if !bytes.Equal(b[1:1+len(protocolString)], []byte(protocolString)) {
		return ErrBadProtocol
	}
	off := 1 + len(protocolString)
	copy(h.Reserved[:], b[off:off+8])
	off += 8
	copy(h.InfoHash[:], b[off:off+20])
	off += 20
	copy(h.PeerID[:], b[off:off+20])
	return nil
}

// WriteTo writes the handshake to w.
func (h Handshake) WriteTo(w io.Writer) (int64, error) {
	b, _ := h.MarshalBinary()
	n, err := w.Write(b)
	return int64(n), err
}

// ReadFrom reads and decodes a handshake from r.
func (h *Handshake) ReadFrom(r io.Reader) (int64, error) {
	buf := make([]byte, HandshakeLen)
	n, err := io.ReadFull(r, buf)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return int64(n), ErrShortHandshake
		}
		return int64(n), err
	}
	return int64(n), h.UnmarshalBinary(buf)
}

// Exchange writes the local handshake to rw, reads the remote's, and
// validates the protocol string and (if verifyInfoHash) the info hash.
func Exchange(rw io.ReadWriter, local Handshake, verifyInfoHash bool) (remote Handshake, err error) {
	if _, err = local.WriteTo(rw); err != nil {
		return remote, fmt.Errorf("wire: write handshake: %w", err)
	}
	if _, err = remote.ReadFrom(rw); err != nil {
		return remote, fmt.Errorf("wire: read handshake: %w", err)
	}
	if verifyInfoHash && remote.InfoHash != local.InfoHash {
		return remote, ErrInfoHashMismatch
	}
	return remote, nil
}
