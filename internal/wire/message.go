package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MessageID identifies a peer-wire message. KeepAlive has no wire id of its
// own (a zero-length frame); MsgKeepAlive is a synthetic value used only in
// memory to distinguish "keep-alive" from "no message".
type MessageID int16

const (
	MsgKeepAlive     MessageID = -1
	MsgChoke         MessageID = 0
	MsgUnchoke       MessageID = 1
	MsgInterested    MessageID = 2
	MsgNotInterested MessageID = 3
	MsgHave          MessageID = 4
	MsgBitfield      MessageID = 5
	MsgRequest       MessageID = 6
	MsgPiece         MessageID = 7
	MsgCancel        MessageID = 8
	MsgPort          MessageID = 9
)

func (id MessageID) String() string {
	switch id {
	case MsgKeepAlive:
		return "keep-alive"
	case MsgChoke:
		return "choke"
	case MsgUnchoke:
		return "unchoke"
	case MsgInterested:
		return "interested"
	case MsgNotInterested:
		return "not-interested"
	case MsgHave:
		return "have"
	case MsgBitfield:
		return "bitfield"
	case MsgRequest:
		return "request"
	case MsgPiece:
		return "piece"
	case MsgCancel:
		return "cancel"
	case MsgPort:
		return "port"
	default:
		return fmt.Sprintf("unknown(%d)", id)
	}
}

// ErrClosedMidFrame indicates the stream closed before a full frame was
// read.
var ErrClosedMidFrame = errors.New("wire: connection closed mid-frame")

// maxFrameLen guards against a malicious/corrupt peer sending an
// unreasonably large length prefix (larger than any legitimate PIECE
// message could need).
const maxFrameLen = 1 << 20

// Message is a single peer-wire message. A nil *Message (or ID ==
// MsgKeepAlive) represents KEEP-ALIVE.
type Message struct {
	ID      MessageID
	Payload []byte
}

func KeepAlive() *Message { return &Message{ID: MsgKeepAlive} }

func Choke() *Message         { return &Message{ID: MsgChoke} }
func Unchoke() *Message       { return &Message{ID: MsgUnchoke} }
func Interested() *Message    { return &Message{ID: MsgInterested} }
func NotInterested() *Message { return &Message{ID: MsgNotInterested} }

func Have(index uint32) *Message {
	p := make([]byte, 4)
	binary.BigEndian.PutUint32(p, index)
	return &Message{ID: MsgHave, Payload: p}
}

func BitfieldMsg(bits []byte) *Message {
	p := make([]byte, len(bits))
	copy(p, bits)
	return &Message{ID: MsgBitfield, Payload: p}
}

func Request(index, begin, length uint32) *Message {
	p := make([]byte, 12)
	binary.BigEndian.PutUint32(p[0:4], index)
	binary.BigEndian.PutUint32(p[4:8], begin)
	binary.BigEndian.PutUint32(p[8:12], length)
	return &Message{ID: MsgRequest, Payload: p}
}

func Cancel(index, begin, length uint32) *Message {
	m := Request(index, begin, length)
	m.ID = MsgCancel
	return m
}

func Piece(index, begin uint32, block []byte) *Message {
	p := make([]byte, 8+len(block))
	binary.BigEndian.PutUint32(p[0:4], index)
	binary.BigEndian.PutUint32(p[4:8], begin)
	copy(p[8:], block)
	return &Message{ID: MsgPiece, Payload: p}
}

// ParseHave extracts the piece index from a HAVE payload.
func ParseHave(m *Message) (index uint32, ok bool) {
	if m == nil || m.ID != MsgHave || len(m.Payload) != 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(m.Payload), true
}

// ParseRequest extracts (index, begin, length) from a REQUEST/CANCEL
// payload.
func ParseRequest(m *Message) (index, begin, length uint32, ok bool) {
	if m == nil || len(m.Payload) != 12 {
		return 0, 0, 0, false
	}
	return binary.BigEndian.Uint32(m.Payload[0:4]),
		binary.BigEndian.Uint32(m.Payload[4:8]),
		binary.BigEndian.Uint32(m.Payload[8:12]), true
}

// ParsePiece extracts (index, begin, block) from a PIECE payload. The
// returned block aliases m.Payload.
func ParsePiece(m *Message) (index, begin uint32, block []byte, ok bool) {
	if m == nil || m.ID != MsgPiece || len(m.Payload) < 8 {
		return 0, 0, nil, false
	}
	return binary.BigEndian.Uint32(m.Payload[0:4]),
		binary.BigEndian.Uint32(m.Payload[4:8]),
		m.Payload[8:], true
}

// ValidatePayloadSize checks the payload length is legal for the message's
// ID, per the fixed layouts in the peer-wire protocol.
func (m *Message) ValidatePayloadSize(bitfieldBytes int) error {
	if m == nil {
		return nil
	}
	switch m.ID {
	case MsgChoke, MsgUnchoke, MsgInterested, MsgNotInterested:
		if len(m.Payload) != 0 {
			return fmt.Errorf("wire: %s: expected empty payload, got %d bytes", m.ID, len(m.Payload))
		}
	case MsgHave:
		if len(m.Payload) != 4 {
			return fmt.Errorf("wire: have: expected 4 bytes, got %d", len(m.Payload))
		}
	case MsgBitfield:
		if len(m.Payload) != bitfieldBytes {
			return fmt.Errorf("wire: bitfield: expected %d bytes, got %d", bitfieldBytes, len(m.Payload))
		}
	case MsgRequest, MsgCancel:
		if len(m.Payload) != 12 {
			return fmt.Errorf("wire: %s: expected 12 bytes, got %d", m.ID, len(m.Payload))
		}
	case MsgPiece:
		if len(m.Payload) < 8 {
			return fmt.Errorf("wire: piece: expected at least 8 bytes, got %d", len(m.Payload))
		}
	case MsgPort:
		if len(m.Payload) != 2 {
			return fmt.Errorf("wire: port: expected 2 bytes, got %d", len(m.Payload))
		}
	}
	return nil
}

// MarshalBinary frames the message as a length-prefixed byte slice. A nil
// receiver (or MsgKeepAlive) marshals to the 4 zero bytes of KEEP-ALIVE.
func (m *Message) MarshalBinary() ([]byte, error) {
	if m == nil || m.ID == MsgKeepAlive {
		return []byte{0, 0, 0, 0}, nil
	}

	length := uint32(1 + len(m.Payload))
	buf := make([]byte, 4+length)
	binary.BigEndian.PutUint32(buf[0:4], length)
	buf[4] = byte(m.ID)
	copy(buf[5:], m.Payload)
	return buf, nil
}

// UnmarshalBinary decodes a single complete frame (length prefix + body)
// from b.
func (m *Message) UnmarshalBinary(b []byte) error {
	if len(b) < 4 {
		return fmt.Errorf("wire: frame too short: %d bytes", len(b))
	}
	length := binary.BigEndian.Uint32(b[0:4])
	if length == 0 {
		m.ID = MsgKeepAlive
		m.Payload = nil
		return nil
	}
	if uint32(len(b)-4) != length {
		return fmt.Errorf("wire: frame length mismatch: declared %d, have %d", length, len(b)-4)
	}
	m.ID = MessageID(b[4])
	if length > 1 {
		m.Payload = append([]byte(nil), b[5:]...)
	} else {
		m.Payload = nil
	}
	return nil
}

// WriteMessage frames and writes m to w. A nil m writes KEEP-ALIVE.
func WriteMessage(w io.Writer, m *Message) error {
	b, _ := m.MarshalBinary()
	_, err := w.Write(b)
	return err
}

// ReadMessage reads and decodes one complete frame from r.
func ReadMessage(r io.Reader) (*Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrClosedMidFrame
		}
		return nil, err
	}

	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 {
		return KeepAlive(), nil
	}
	if length > maxFrameLen {
		return nil, fmt.Errorf("wire: frame length %d exceeds maximum", length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrClosedMidFrame
		}
		return nil, err
	}

	msg := &Message{ID: MessageID(body[0])}
	if length > 1 {
		msg.Payload = body[1:]
	}
	return msg, nil
}
